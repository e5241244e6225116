package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// recover implements spec.md §4.8's recovery sequence:
//  1. load tables + CLOG from checkpoint (tolerating a missing CLOG),
//  2. scan WAL segments, first pass classifying each tx id as
//     committed/aborted/unknown from its latest COMMIT/ROLLBACK record,
//  3. second pass idempotently replaying committed tx records in LSN
//     order, advancing each table's next_id as it goes,
//  4. setting the tx manager's next id to max(seen tx id)+1,
//  5. rebuilding every HNSW graph by scanning every live row (the WAL
//     carries no HNSW records, so this runs on every recovery).
//
// It returns the count of recovered (committed, replayed) transactions.
func (db *DB) recover() (int, error) {
	if err := db.loadCheckpoint(); err != nil {
		return 0, err
	}

	var maxTxSeen uint64
	commitOf := make(map[uint64]bool) // txID -> true if committed by latest record
	decided := make(map[uint64]bool)  // txID -> has a terminal record at all
	var allRecords []Record

	readAll := func() error {
		rd, err := OpenReader(db.opts.WalDir)
		if err != nil {
			return err
		}
		defer rd.Close()
		for {
			rec, err := rd.ReadRecord()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			allRecords = append(allRecords, rec)
			if rec.TxID > maxTxSeen {
				maxTxSeen = rec.TxID
			}
			switch rec.Type {
			case RecCommitTx:
				commitOf[rec.TxID] = true
				decided[rec.TxID] = true
			case RecRollbackTx:
				commitOf[rec.TxID] = false
				decided[rec.TxID] = true
			}
		}
		return nil
	}
	if err := readAll(); err != nil {
		return 0, err
	}

	recoveredTx := make(map[uint64]bool)
	for _, rec := range allRecords {
		switch rec.Type {
		case RecInsertRow, RecUpdateRow, RecDeleteRow:
			if !decided[rec.TxID] || !commitOf[rec.TxID] {
				continue
			}
			if err := db.replayRecord(rec); err != nil {
				return 0, err
			}
			recoveredTx[rec.TxID] = true
		}
	}

	if err := db.clog.Load(filepath.Join(db.dataDir, "commitlog.zvdb")); err != nil {
		return 0, err
	}
	for txID, committed := range commitOf {
		if committed {
			db.clog.SetStatus(txID, TxCommitted)
		} else {
			db.clog.SetStatus(txID, TxAborted)
		}
	}

	nextTx := db.clog.MaxTxID() + 1
	if maxTxSeen+1 > nextTx {
		nextTx = maxTxSeen + 1
	}
	db.tx = NewTxManager(db.clog, nextTx)

	if err := db.rebuildAllHNSW(); err != nil {
		return 0, err
	}

	return len(recoveredTx), nil
}

func (db *DB) replayRecord(rec Record) error {
	db.mu.RLock()
	t, ok := db.tables[rec.TableName]
	db.mu.RUnlock()
	if !ok {
		return nil // table dropped since this record was written; nothing to replay.
	}

	switch rec.Type {
	case RecInsertRow:
		if t.HasChain(rec.RowID) {
			return nil // idempotent: already installed.
		}
		row, err := DecodeRow(rec.Data)
		if err != nil {
			return err
		}
		t.InsertWithID(rec.RowID, row, rec.TxID, 0)
	case RecDeleteRow:
		t.RemoveChainIfPresent(rec.RowID)
		t.bumpNextID(rec.RowID)
	case RecUpdateRow:
		p, err := DecodeUpdatePayload(rec.Data)
		if err != nil {
			return err
		}
		t.RemoveChainIfPresent(rec.RowID)
		t.InsertWithID(rec.RowID, p.New, rec.TxID, 0)
	}
	return nil
}

// loadCheckpoint loads every <table>.zvdb file present in dataDir
// (tolerating none) plus the CLOG (tolerating a missing file).
func (db *DB) loadCheckpoint() error {
	entries, err := os.ReadDir(db.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wrapErr(CodeOutOfMemory, "read data dir", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".zvdb") || name == "commitlog.zvdb" {
			continue
		}
		if err := db.loadTableFile(filepath.Join(db.dataDir, name)); err != nil {
			return err
		}
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "vectors_") && strings.HasSuffix(name, ".hnsw") {
			if err := db.loadHNSWFile(filepath.Join(db.dataDir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// rebuildAllHNSW scans every live row of every table and reinserts its
// embedding columns, compensating for the absence of HNSW records in
// the WAL (spec.md §4.8 step 5, §9 design note). It is also the point
// where a recovered vector's actual length is checked against the
// column's declared dimension: a disagreement here means a row
// recovered from the checkpoint or the WAL contradicts its table's
// schema, which spec.md §7 calls Fatal rather than tolerable. Loaded
// vectors_<D>.hnsw files are not checked here (loadHNSWFile checks
// them against their own file names).
func (db *DB) rebuildAllHNSW() error {
	db.mu.RLock()
	tables := make([]*Table, 0, len(db.tables))
	for _, t := range db.tables {
		tables = append(tables, t)
	}
	db.mu.RUnlock()

	byDim := make(map[int][]struct {
		Vector     []float32
		ExternalID uint64
	})

	snap := db.adminSnapshot()
	for _, t := range tables {
		for _, col := range t.Columns {
			if col.Type != ColEmbedding {
				continue
			}
			for _, id := range t.GetAllRowIDs() {
				row, ok := t.Get(id, snap, db.clog)
				if !ok {
					continue
				}
				v := row.Get(col.Name)
				if v.Kind != KindEmbedding {
					continue
				}
				if len(v.Embed) != col.Dim {
					return wrapErr(CodeTypeMismatch,
						"recovered embedding length disagrees with column "+t.Name+"."+col.Name+"'s declared dimension", nil)
				}
				byDim[col.Dim] = append(byDim[col.Dim], struct {
					Vector     []float32
					ExternalID uint64
				}{Vector: v.Embed, ExternalID: id})
			}
		}
	}

	// Any dimension bucket already present from a loaded vectors file
	// but not touched by a declared embedding column above is orphaned
	// (e.g. its owning table was dropped) rather than contradictory,
	// so it is left as-is instead of being rejected.
	db.mu.Lock()
	for dim, items := range byDim {
		h, ok := db.hnsw[dim]
		if !ok {
			h = NewHNSWIndex(dim, db.opts.HNSW)
			db.hnsw[dim] = h
		}
		db.mu.Unlock()
		h.Rebuild(items)
		db.mu.Lock()
	}
	db.mu.Unlock()
	return nil
}
