package storage

import (
	"sync"
	"sync/atomic"
)

// Snapshot is the PostgreSQL-style (xmin, xmax, xip) triple captured at
// transaction start, per spec.md §3.
type Snapshot struct {
	Self        uint64
	XminHorizon uint64          // lowest still-in-flight tx id at snapshot time
	XmaxHorizon uint64          // next tx id to be allocated at snapshot time
	InFlight    map[uint64]bool // tx ids in progress at snapshot time, excluding Self
}

// Visible reports whether a version with the given xmin/xmax headers
// is visible to this snapshot, per the predicate in spec.md §3.
func (s Snapshot) Visible(xmin, xmax uint64, clog *CLog) bool {
	// xmin 0 is reserved for rows migrated from a v2 checkpoint with no
	// recorded creator transaction (checkpoint.go) — treated as
	// committed forever regardless of what the CLOG holds for id 0,
	// since tx id 0 is never actually allocated by TxManager.Begin.
	committedRule := xmin == 0 || xmin == s.Self ||
		(xmin < s.XmaxHorizon && !s.InFlight[xmin] && clog.IsCommitted(xmin))
	if !committedRule {
		return false
	}
	if xmax == 0 {
		return true
	}
	if xmax == s.Self {
		// own delete: invisible to the deleting transaction itself.
		return false
	}
	notDeletedRule := xmax >= s.XmaxHorizon ||
		s.InFlight[xmax] ||
		!clog.IsCommitted(xmax)
	return notDeletedRule
}

// TxManager allocates monotonically-increasing tx ids, issues
// snapshots, and drives commit/rollback against a CLog. It also emits
// the corresponding WAL records when a WAL is attached (see AttachWAL).
type TxManager struct {
	mu        sync.Mutex
	nextTxID  atomic.Uint64
	clog      *CLog
	wal       *WAL
	inFlight  map[uint64]bool
}

// NewTxManager creates a manager whose counter starts at start (the
// caller is responsible for deriving start from CLOG union WAL per
// spec.md §6.5 — the manager itself never resets to 0).
func NewTxManager(clog *CLog, start uint64) *TxManager {
	if start == 0 {
		start = 1
	}
	tm := &TxManager{clog: clog, inFlight: make(map[uint64]bool)}
	tm.nextTxID.Store(start)
	return tm
}

// AttachWAL wires a WAL writer so Commit/Rollback emit durable records.
func (tm *TxManager) AttachWAL(w *WAL) { tm.wal = w }

// Begin allocates a new tx id, records in_progress in the CLOG,
// captures a snapshot, and registers the id as in-flight.
func (tm *TxManager) Begin() (uint64, Snapshot) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// tx id 0 is reserved to mean "no writer" (the xmax==0 sentinel), so
	// the counter must never be allowed to start at or return 0.
	txID := tm.nextTxID.Add(1) - 1
	if txID == 0 {
		txID = tm.nextTxID.Add(1) - 1
	}
	tm.clog.SetStatus(txID, TxInProgress)

	snap := Snapshot{
		Self:        txID,
		XminHorizon: tm.lowestInFlightLocked(txID),
		XmaxHorizon: txID,
		InFlight:    cloneInFlight(tm.inFlight),
	}
	tm.inFlight[txID] = true
	return txID, snap
}

func (tm *TxManager) lowestInFlightLocked(self uint64) uint64 {
	min := self
	for id := range tm.inFlight {
		if id < min {
			min = id
		}
	}
	return min
}

func cloneInFlight(m map[uint64]bool) map[uint64]bool {
	out := make(map[uint64]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Commit flips CLOG[txID] -> committed and, if a WAL is attached,
// writes a COMMIT_TX record. The tx id remains in CLOG forever
// afterward (needed by later readers for visibility tests).
func (tm *TxManager) Commit(txID uint64) error {
	if tm.wal != nil {
		if _, err := tm.wal.Append(Record{Type: RecCommitTx, TxID: txID}); err != nil {
			return err
		}
		if err := tm.wal.Flush(); err != nil {
			return err
		}
	}
	tm.clog.SetStatus(txID, TxCommitted)
	tm.mu.Lock()
	delete(tm.inFlight, txID)
	tm.mu.Unlock()
	return nil
}

// Rollback flips CLOG[txID] -> aborted and, if a WAL is attached,
// writes a ROLLBACK_TX record.
func (tm *TxManager) Rollback(txID uint64) error {
	if tm.wal != nil {
		if _, err := tm.wal.Append(Record{Type: RecRollbackTx, TxID: txID}); err != nil {
			return err
		}
		if err := tm.wal.Flush(); err != nil {
			return err
		}
	}
	tm.clog.SetStatus(txID, TxAborted)
	tm.mu.Lock()
	delete(tm.inFlight, txID)
	tm.mu.Unlock()
	return nil
}

// NextWillBe previews the id Begin would allocate next, for tests and
// diagnostics; it does not reserve the id.
func (tm *TxManager) NextWillBe() uint64 { return tm.nextTxID.Load() }
