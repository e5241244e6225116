package storage

import (
	"bufio"
	"encoding/gob"
	"os"
	"testing"
)

func openTestDB(t *testing.T, dataDir string) *DB {
	t.Helper()
	db, err := OpenDB(dataDir, WithWalDir(dataDir+"/wal"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	return db
}

// TestCheckpointAndRecoverRoundTrip writes rows, checkpoints, closes,
// and reopens the same data directory, verifying the table's visible
// content survives the restart — spec.md §4.8's checkpoint/recover
// contract.
func TestCheckpointAndRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)

	if err := db.CreateTable("accounts", []Column{
		{Name: "id", Type: ColInt},
		{Name: "email", Type: ColText},
	}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tab, err := db.Table("accounts")
	if err != nil {
		t.Fatal(err)
	}

	txID, snap := db.TxManager().Begin()
	rowID := tab.Insert(Row{Values: map[string]ColumnValue{
		"id": Int(1), "email": Text("a@x"),
	}}, txID)
	if err := db.TxManager().Commit(txID); err != nil {
		t.Fatal(err)
	}
	_ = snap

	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2 := openTestDB(t, dir)
	defer db2.Close()

	tab2, err := db2.Table("accounts")
	if err != nil {
		t.Fatalf("reopened db missing table: %v", err)
	}
	readSnap := db2.adminSnapshot()
	row, ok := tab2.Get(rowID, readSnap, db2.CLog())
	if !ok {
		t.Fatal("row missing after checkpoint/recover round trip")
	}
	if row.Get("email").TextString() != "a@x" {
		t.Fatalf("email = %q, want a@x", row.Get("email").TextString())
	}
}

// TestRecoverReplaysUncheckpointedWAL covers the case where a checkpoint
// was taken, then a further committed transaction landed only in the
// WAL before the process stopped (no second checkpoint) — recovery
// must replay it from the WAL tail.
func TestRecoverReplaysUncheckpointedWAL(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)
	if err := db.CreateTable("accounts", []Column{
		{Name: "id", Type: ColInt},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	tab, _ := db.Table("accounts")
	txID, _ := db.TxManager().Begin()
	rowID := tab.ReserveNextID()
	row := Row{ID: rowID, Values: map[string]ColumnValue{"id": Int(42)}}
	if _, err := db.WAL().Append(Record{
		Type: RecInsertRow, TxID: txID, RowID: rowID, TableName: "accounts", Data: EncodeRow(row),
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.WAL().Flush(); err != nil {
		t.Fatal(err)
	}
	tab.InsertWithID(rowID, row, txID, 0)
	if err := db.TxManager().Commit(txID); err != nil {
		t.Fatal(err)
	}
	// No second checkpoint: the committed insert lives only in the WAL.
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2 := openTestDB(t, dir)
	defer db2.Close()
	tab2, err := db2.Table("accounts")
	if err != nil {
		t.Fatal(err)
	}
	snap := db2.adminSnapshot()
	if _, ok := tab2.Get(rowID, snap, db2.CLog()); !ok {
		t.Fatal("committed insert recorded only in the WAL tail was not replayed on recovery")
	}
}

// TestLoadTableFileAcceptsV2Format verifies a legacy v2 checkpoint
// file (flat rows, no version-chain metadata) loads as a single
// committed-forever version per row, per spec.md §4.8's migration note.
func TestLoadTableFileAcceptsV2Format(t *testing.T) {
	dir := t.TempDir()
	cols := []Column{{Name: "id", Type: ColInt}}
	tf := tableFileV2{
		Magic:   tableFileMagic,
		Version: 2,
		Name:    "legacy",
		Columns: cols,
		Rows: []Row{
			{ID: 1, Values: map[string]ColumnValue{"id": Int(7)}},
		},
	}
	path := dir + "/legacy.zvdb"
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(tf); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	db := &DB{
		dataDir: dir,
		tables:  make(map[string]*Table),
		opts:    defaultOptions(dir),
	}
	if err := db.loadTableFile(path); err != nil {
		t.Fatalf("loadTableFile(v2): %v", err)
	}
	tab, ok := db.tables["legacy"]
	if !ok {
		t.Fatal("v2 table was not registered")
	}
	snap := Snapshot{Self: ^uint64(0), XminHorizon: ^uint64(0), XmaxHorizon: ^uint64(0)}
	row, ok := tab.Get(1, snap, NewCLog())
	if !ok {
		t.Fatal("v2-migrated row not visible")
	}
	if row.Get("id").I != 7 {
		t.Fatalf("id = %d, want 7", row.Get("id").I)
	}
}

// TestLoadHNSWFileRejectsDimensionMismatch is spec.md §7's Fatal case:
// a vectors_<D>.hnsw file whose decoded content disagrees with the
// dimension encoded in its own name must abort recovery rather than be
// silently wired into db.hnsw under the wrong key.
func TestLoadHNSWFileRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := hnswPath(dir, 8)
	hf := hnswFile{
		Magic: hnswFileMagic,
		Dim:   16, // disagrees with the "8" encoded in the file name
		Items: []hnswFileItem{{ExternalID: 1, Vector: make([]float32, 16)}},
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(hf); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	db := &DB{dataDir: dir, tables: make(map[string]*Table), hnsw: make(map[int]*HNSWIndex), opts: defaultOptions(dir)}
	if err := db.loadHNSWFile(path); err == nil {
		t.Fatal("loadHNSWFile should reject a file/name dimension mismatch")
	}
}

// TestLoadHNSWFileRejectsVectorLengthMismatch covers the other half of
// the same Fatal case: the file's declared Dim matches its name, but an
// individual item's vector is a different length than that Dim.
func TestLoadHNSWFileRejectsVectorLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	path := hnswPath(dir, 8)
	hf := hnswFile{
		Magic: hnswFileMagic,
		Dim:   8,
		Items: []hnswFileItem{{ExternalID: 1, Vector: make([]float32, 4)}},
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(hf); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	db := &DB{dataDir: dir, tables: make(map[string]*Table), hnsw: make(map[int]*HNSWIndex), opts: defaultOptions(dir)}
	if err := db.loadHNSWFile(path); err == nil {
		t.Fatal("loadHNSWFile should reject an item vector whose length disagrees with the file's declared dimension")
	}
}

// TestRebuildAllHNSWRejectsRowDimensionMismatch covers the case where a
// recovered row's embedding length disagrees with its own column's
// declared Dim, independent of any vectors file.
func TestRebuildAllHNSWRejectsRowDimensionMismatch(t *testing.T) {
	tab := NewTable("docs", []Column{
		{Name: "id", Type: ColInt},
		{Name: "embed", Type: ColEmbedding, Dim: 8},
	})
	txID := uint64(1)
	tab.Insert(Row{Values: map[string]ColumnValue{
		"id":    Int(1),
		"embed": Embedding(make([]float32, 4)), // wrong length for Dim 8
	}}, txID)

	clog := NewCLog()
	clog.SetStatus(txID, TxCommitted)

	db := &DB{
		dataDir: "",
		tables:  map[string]*Table{"docs": tab},
		hnsw:    make(map[int]*HNSWIndex),
		opts:    defaultOptions(""),
		clog:    clog,
		tx:      NewTxManager(clog, txID+1),
	}
	if err := db.rebuildAllHNSW(); err == nil {
		t.Fatal("rebuildAllHNSW should reject a row embedding whose length disagrees with its column's declared Dim")
	}
}
