package storage

import (
	"sort"
	"sync"
	"sync/atomic"
)

// RowVersion is one tuple header + payload in a version chain.
// xmax is a lock-free atomic word: first-writer-wins is enforced by a
// single compare-and-swap from 0 to the writer's tx id, per spec.md §3
// invariant 4.
type RowVersion struct {
	Xmin uint64
	Xmax atomic.Uint64
	Next *RowVersion
	Data Row
}

// casXmax attempts the first-writer-wins transition 0 -> txID.
func (v *RowVersion) casXmax(txID uint64) bool {
	return v.Xmax.CompareAndSwap(0, txID)
}

// chain holds the mutable head pointer for one row id. The head pointer
// itself is protected by Table.mu; xmax fields on individual versions
// are lock-free.
type chain struct {
	head *RowVersion
}

// Table is the version-chain store for one relation: schema, the
// row_id -> chain map, and the next_id allocator. version_chains and
// next_id share one short-critical-section mutex per spec.md §4.2; the
// xmax CAS on individual versions is lock-free so concurrent
// updates/deletes on different rows never contend on this lock.
type Table struct {
	Name    string
	Columns []Column

	mu      sync.Mutex
	chains  map[uint64]*chain
	nextID  uint64
}

func NewTable(name string, cols []Column) *Table {
	return &Table{
		Name:    name,
		Columns: cols,
		chains:  make(map[uint64]*chain),
		nextID:  1,
	}
}

func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Insert assigns a fresh row id and installs a new chain head with
// xmin=txID, xmax=0.
func (t *Table) Insert(values Row, txID uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	values.ID = id
	v := &RowVersion{Xmin: txID, Data: values.Clone()}
	t.chains[id] = &chain{head: v}
	return id
}

// ReserveNextID allocates the next row id without installing any chain
// for it, used by the executor's INSERT atomicity shell (spec.md §4.7
// step 2: "Reserve row_id... read-only") so the WAL intent record can
// name the row id before the chain is actually installed in step 4.
func (t *Table) ReserveNextID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// InsertWithID installs a version at a caller-chosen row id, used by
// WAL replay during recovery (spec.md §4.2, §4.8) and by the executor's
// INSERT shell for an id taken from ReserveNextID. It advances
// next_id to at least id+1 if not already past it.
func (t *Table) InsertWithID(id uint64, values Row, xmin, xmax uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	values.ID = id
	v := &RowVersion{Xmin: xmin, Data: values.Clone()}
	if xmax != 0 {
		v.Xmax.Store(xmax)
	}
	t.chains[id] = &chain{head: v}
	if id+1 > t.nextID {
		t.nextID = id + 1
	}
}

// bumpNextID advances next_id to at least id+1, used by recovery when
// replaying UPDATE/DELETE records that reference an id beyond the
// current counter (spec.md §4.8 step 3).
func (t *Table) bumpNextID(id uint64) {
	t.mu.Lock()
	if id+1 > t.nextID {
		t.nextID = id + 1
	}
	t.mu.Unlock()
}

func (t *Table) getChain(id uint64) (*chain, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chains[id]
	return c, ok
}

// Update performs the CAS-based update: read the current head, verify
// it is visible to the writer's own snapshot, CAS its xmax from 0 to
// txID, and on success prepend a new head built from the old head's
// data overlaid with the assignment.
func (t *Table) Update(rowID uint64, col string, value ColumnValue, txID uint64, snap Snapshot, clog *CLog) error {
	c, ok := t.getChain(rowID)
	if !ok {
		return ErrRowNotFound
	}

	t.mu.Lock()
	head := c.head
	t.mu.Unlock()
	if head == nil {
		return ErrRowNotFound
	}
	if !snap.Visible(head.Xmin, head.Xmax.Load(), clog) {
		return ErrRowNotFound
	}
	if !head.casXmax(txID) {
		return ErrSerializationFailure
	}

	newData := head.Data.With(col, value)
	newData.ID = rowID
	newHead := &RowVersion{Xmin: txID, Data: newData, Next: head}

	t.mu.Lock()
	c.head = newHead
	t.mu.Unlock()
	return nil
}

// UpdateMulti is the multi-column generalization of Update: it performs
// the same single CAS on the current head but overlays every column in
// sets at once, so a SQL `UPDATE ... SET a = x, b = y` produces exactly
// one new version instead of one per assigned column (spec.md §6.1
// allows multiple SET assignments per statement; §4.2's single-column
// Update describes the mechanism, this applies it to the whole
// assignment list in one CAS + one prepend).
func (t *Table) UpdateMulti(rowID uint64, sets map[string]ColumnValue, txID uint64, snap Snapshot, clog *CLog) error {
	c, ok := t.getChain(rowID)
	if !ok {
		return ErrRowNotFound
	}

	t.mu.Lock()
	head := c.head
	t.mu.Unlock()
	if head == nil {
		return ErrRowNotFound
	}
	if !snap.Visible(head.Xmin, head.Xmax.Load(), clog) {
		return ErrRowNotFound
	}
	if !head.casXmax(txID) {
		return ErrSerializationFailure
	}

	newData := head.Data.Clone()
	newData.ID = rowID
	for col, v := range sets {
		newData.Values[col] = v.Clone()
	}
	newHead := &RowVersion{Xmin: txID, Data: newData, Next: head}

	t.mu.Lock()
	c.head = newHead
	t.mu.Unlock()
	return nil
}

// Delete is identical to Update except no new version is prepended;
// the CAS on the head's xmax is the entire operation.
func (t *Table) Delete(rowID uint64, txID uint64, snap Snapshot, clog *CLog) error {
	c, ok := t.getChain(rowID)
	if !ok {
		return ErrRowNotFound
	}
	t.mu.Lock()
	head := c.head
	t.mu.Unlock()
	if head == nil {
		return ErrRowNotFound
	}
	if !snap.Visible(head.Xmin, head.Xmax.Load(), clog) {
		return ErrRowNotFound
	}
	if !head.casXmax(txID) {
		return ErrSerializationFailure
	}
	return nil
}

// PhysicalDelete removes the chain entirely. Used only by the rollback
// path of a just-completed INSERT that failed a later atomicity-shell
// step (spec.md §4.7 R1); never used by user DELETE.
func (t *Table) PhysicalDelete(rowID uint64) {
	t.mu.Lock()
	delete(t.chains, rowID)
	t.mu.Unlock()
}

// RemoveChainIfPresent drops a chain outright, used by recovery replay
// of DELETE_ROW records (spec.md §4.8 step 3).
func (t *Table) RemoveChainIfPresent(rowID uint64) {
	t.mu.Lock()
	delete(t.chains, rowID)
	t.mu.Unlock()
}

// HasChain reports whether row_id currently has any chain installed,
// regardless of visibility — used by idempotent WAL replay.
func (t *Table) HasChain(rowID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.chains[rowID]
	return ok
}

// Get walks the chain newest-to-oldest and returns the first version
// visible to snap, or (Row{}, false) if none is.
func (t *Table) Get(rowID uint64, snap Snapshot, clog *CLog) (Row, bool) {
	c, ok := t.getChain(rowID)
	if !ok {
		return Row{}, false
	}
	t.mu.Lock()
	v := c.head
	t.mu.Unlock()
	for v != nil {
		if snap.Visible(v.Xmin, v.Xmax.Load(), clog) {
			return v.Data, true
		}
		v = v.Next
	}
	return Row{}, false
}

// GetAllRowIDs returns every row id that currently has a chain
// (regardless of visibility) in ascending order — candidates for the
// executor to filter through the visibility oracle.
func (t *Table) GetAllRowIDs() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint64, 0, len(t.chains))
	for id := range t.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of chains whose visible tip is live to snap.
func (t *Table) Count(snap Snapshot, clog *CLog) int {
	n := 0
	for _, id := range t.GetAllRowIDs() {
		if _, ok := t.Get(id, snap, clog); ok {
			n++
		}
	}
	return n
}

// LiveVersionCount is the total number of chains currently installed,
// used by the WHERE-evaluation optimizer's ">= 100 live versions"
// index-selection threshold in spec.md §4.7; it deliberately counts
// chains rather than re-running full visibility for every row, since
// the threshold only needs to distinguish "small table" from "large
// table".
func (t *Table) LiveVersionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chains)
}

// Snapshot of all chain heads for checkpointing: newest-first per
// chain, preserving xmin/xmax (spec.md §4.8 "per-table file... all
// versions of all chains in newest-first order, preserving xmin/xmax").
type ChainDump struct {
	RowID    uint64
	Versions []VersionDump
}

type VersionDump struct {
	Xmin uint64
	Xmax uint64
	Data Row
}

func (t *Table) DumpChains() []ChainDump {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ChainDump, 0, len(t.chains))
	for id, c := range t.chains {
		cd := ChainDump{RowID: id}
		for v := c.head; v != nil; v = v.Next {
			cd.Versions = append(cd.Versions, VersionDump{
				Xmin: v.Xmin,
				Xmax: v.Xmax.Load(),
				Data: v.Data.Clone(),
			})
		}
		out = append(out, cd)
	}
	return out
}

// LoadChains installs chains from a checkpoint dump, wiring Next
// pointers in the same newest-first order they were recorded.
func (t *Table) LoadChains(dumps []ChainDump) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.chains = make(map[uint64]*chain, len(dumps))
	for _, cd := range dumps {
		var head, prev *RowVersion
		for _, vd := range cd.Versions {
			v := &RowVersion{Xmin: vd.Xmin, Data: vd.Data}
			v.Xmax.Store(vd.Xmax)
			if head == nil {
				head = v
			} else {
				prev.Next = v
			}
			prev = v
		}
		t.chains[cd.RowID] = &chain{head: head}
		if cd.RowID+1 > t.nextID {
			t.nextID = cd.RowID + 1
		}
	}
}

func (t *Table) NextID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextID
}
