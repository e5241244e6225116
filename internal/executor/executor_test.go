package executor

import (
	"errors"
	"testing"

	"github.com/zvdb/zvdb/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.OpenDB(dir, storage.WithWalDir(dir+"/wal"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func usersTable(t *testing.T, db *storage.DB) {
	t.Helper()
	if err := db.CreateTable("users", []storage.Column{
		{Name: "id", Type: storage.ColInt},
		{Name: "email", Type: storage.ColText},
		{Name: "embedding", Type: storage.ColEmbedding, Dim: 3},
	}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
}

func TestInsertSelectRoundTrip(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)

	rowID, err := eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("a@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rows, err := eng.Select(nil, Query{Table: "users", Where: Cmp{Col: "id", Op: OpEq, Value: storage.Int(1)}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != rowID {
		t.Fatalf("Select returned %+v, want row %d", rows, rowID)
	}
}

// TestInsertRejectsWrongEmbeddingDimension is the supplemented
// dimension-check feature: an embedding of the wrong length must be
// rejected at INSERT rather than silently stored.
func TestInsertRejectsWrongEmbeddingDimension(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)

	_, err := eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("a@x"), "embedding": storage.Embedding([]float32{1, 0}),
	}})
	if err == nil {
		t.Fatal("expected an error for a mismatched embedding dimension")
	}
	var serr *storage.Error
	if !errors.As(err, &serr) || serr.Code != storage.CodeTypeMismatch {
		t.Fatalf("expected CodeTypeMismatch, got %v", err)
	}

	rows, err := eng.Select(nil, Query{Table: "users"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("a rejected insert must not leave a partial row behind, got %+v", rows)
	}
}

// TestInsertFaultInjectionUnwindsEverything is spec.md §8 scenario 8:
// a failure at any atomicity-shell checkpoint must leave the row
// absent from the table AND every index it would have touched — never
// a partial insert.
func TestInsertFaultInjectionUnwindsEverything(t *testing.T) {
	stages := []Stage{StageAfterWAL, StageAfterInsert, StageAfterHNSW, StageAfterBTree}
	for _, stage := range stages {
		stage := stage
		t.Run(string(stage), func(t *testing.T) {
			eng, db := newTestEngine(t)
			usersTable(t, db)
			if _, err := db.CreateIndex("idx_email", "users", "email"); err != nil {
				t.Fatalf("CreateIndex: %v", err)
			}

			eng.Fault = func(s Stage, table string, rowID uint64) error {
				if s == stage {
					return errors.New("injected failure")
				}
				return nil
			}

			_, err := eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
				"id": storage.Int(1), "email": storage.Text("a@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
			}})
			if err == nil {
				t.Fatal("expected the injected fault to surface as an error")
			}

			rows, err := eng.Select(nil, Query{Table: "users"})
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 0 {
				t.Fatalf("stage %s: row survived a failed insert: %+v", stage, rows)
			}

			idx, _ := db.Index("idx_email")
			if got := idx.Search(storage.Text("a@x")); len(got) != 0 {
				t.Fatalf("stage %s: B-tree index entry survived a failed insert: %v", stage, got)
			}
			if db.HasHNSWForDim(3) {
				if got := db.HNSWForDim(3).Len(); got != 0 {
					t.Fatalf("stage %s: HNSW node survived a failed insert: %d live nodes", stage, got)
				}
			}
		})
	}
}

func TestUpdateMatchingPredicate(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)
	eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("old@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}})

	n, err := eng.Update(nil, "users", map[string]storage.ColumnValue{"email": storage.Text("new@x")},
		Cmp{Col: "id", Op: OpEq, Value: storage.Int(1)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 1 {
		t.Fatalf("updated = %d, want 1", n)
	}

	rows, err := eng.Select(nil, Query{Table: "users"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Get("email").TextString() != "new@x" {
		t.Fatalf("rows after update = %+v", rows)
	}
}

func TestUpdateMaintainsBTreeIndex(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)
	rowID, _ := eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("old@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}})
	if _, err := db.CreateIndex("idx_email", "users", "email"); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Update(nil, "users", map[string]storage.ColumnValue{"email": storage.Text("new@x")},
		Cmp{Col: "id", Op: OpEq, Value: storage.Int(1)}); err != nil {
		t.Fatal(err)
	}

	idx, _ := db.Index("idx_email")
	if got := idx.Search(storage.Text("old@x")); len(got) != 0 {
		t.Fatalf("old index key still present after update: %v", got)
	}
	got := idx.Search(storage.Text("new@x"))
	if len(got) != 1 || got[0] != rowID {
		t.Fatalf("new index key = %v, want [%d]", got, rowID)
	}
}

func TestDeleteRemovesFromTableAndIndexesAndHNSW(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)
	rowID, _ := eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("a@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}})
	if _, err := db.CreateIndex("idx_email", "users", "email"); err != nil {
		t.Fatal(err)
	}

	n, err := eng.Delete(nil, "users", Cmp{Col: "id", Op: OpEq, Value: storage.Int(1)})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	rows, err := eng.Select(nil, Query{Table: "users"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("row survived delete: %+v", rows)
	}

	idx, _ := db.Index("idx_email")
	if got := idx.Search(storage.Text("a@x")); len(got) != 0 {
		t.Fatalf("B-tree entry survived delete: %v", got)
	}
	if db.HasHNSWForDim(3) {
		for _, r := range db.HNSWForDim(3).Search([]float32{1, 0, 0}, 10) {
			if r.ExternalID == rowID {
				t.Fatal("HNSW node survived delete — spec.md §9's supplemented fix should remove it")
			}
		}
	}
}

func TestExplicitTransactionRollbackUndoesInsert(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)

	tx, err := eng.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Insert(tx, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("a@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	rows, err := eng.Select(nil, Query{Table: "users"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("a rolled-back transaction's insert is still visible: %+v", rows)
	}
	_ = db
}

// TestSelectOrderBySimilarityRequiresExistingHNSW covers spec.md §9's
// Open Question: `SIMILARITY TO` against a dimension with no HNSW
// graph yet must error (InvalidSyntax), not lazily create an empty one.
func TestSelectOrderBySimilarityRequiresExistingHNSW(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)
	eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("a@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}})

	_, err := eng.Select(nil, Query{
		Table: "users",
		Order: Order{BySimilarity: true, QueryVector: []float32{0, 1, 0, 0}},
	})
	if err == nil {
		t.Fatal("expected an error when no HNSW graph exists for this dimension")
	}
	var serr *storage.Error
	if !errors.As(err, &serr) || serr.Code != storage.CodeInvalidSyntax {
		t.Fatalf("expected CodeInvalidSyntax, got %v", err)
	}
}

func TestSelectOrderBySimilarityRanksNearestFirst(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)
	eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("far"), "embedding": storage.Embedding([]float32{0, 1, 0}),
	}})
	eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(2), "email": storage.Text("near"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}})

	rows, err := eng.Select(nil, Query{
		Table: "users",
		Order: Order{BySimilarity: true, QueryVector: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 || rows[0].Get("email").TextString() != "near" {
		t.Fatalf("expected the closer vector first, got %+v", rows)
	}
}

// TestUpdateSerializationFailureDoesNotAbortOtherRows verifies the
// per-row swallow-and-continue contract: a concurrent writer that
// already holds one matched row's xmax must not stop the statement
// from updating the other matched rows.
func TestUpdateSerializationFailureDoesNotAbortOtherRows(t *testing.T) {
	eng, db := newTestEngine(t)
	usersTable(t, db)
	id1, _ := eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("a@x"), "embedding": storage.Embedding([]float32{1, 0, 0}),
	}})
	_, _ = eng.Insert(nil, "users", storage.Row{Values: map[string]storage.ColumnValue{
		"id": storage.Int(1), "email": storage.Text("b@x"), "embedding": storage.Embedding([]float32{0, 1, 0}),
	}})

	table, err := db.Table("users")
	if err != nil {
		t.Fatal(err)
	}
	blockerTx, blockerSnap := db.TxManager().Begin()
	if err := table.Delete(id1, blockerTx, blockerSnap, db.CLog()); err != nil {
		t.Fatalf("competing delete: %v", err)
	}
	defer db.TxManager().Commit(blockerTx)

	n, err := eng.Update(nil, "users", map[string]storage.ColumnValue{"email": storage.Text("updated@x")},
		Cmp{Col: "id", Op: OpEq, Value: storage.Int(1)})
	if err != nil {
		t.Fatalf("Update should succeed for the row not held by the competing tx: %v", err)
	}
	if n != 1 {
		t.Fatalf("updated = %d, want 1 (the row not racing with blockerTx)", n)
	}
}
