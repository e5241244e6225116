package storage

import (
	"sync"
	"testing"
)

func testTable() *Table {
	return NewTable("accounts", []Column{
		{Name: "id", Type: ColInt},
		{Name: "email", Type: ColText},
		{Name: "counter", Type: ColInt},
	})
}

// TestConcurrentDeleteFirstWriterWins is spec.md §8 scenario 1: insert
// row id=1 committed, then 100 concurrent deletes race to CAS its
// xmax. Exactly one must win.
func TestConcurrentDeleteFirstWriterWins(t *testing.T) {
	tab := testTable()
	clog := NewCLog()
	clog.SetStatus(1, TxCommitted)
	rowID := tab.Insert(Row{Values: map[string]ColumnValue{
		"id": Int(1), "email": Text("a@x"), "counter": Int(0),
	}}, 1)

	const n = 100
	var wg sync.WaitGroup
	oks := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txID := uint64(100 + i)
			clog.SetStatus(txID, TxCommitted)
			snap := Snapshot{Self: txID, XminHorizon: txID, XmaxHorizon: txID}
			err := tab.Delete(rowID, txID, snap, clog)
			oks[i] = err == nil
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range oks {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning delete, got %d", wins)
	}
}

// TestConcurrentUpdateFirstWriterWins is spec.md §8 scenario 2: 100
// threads race to update the same row's counter. Exactly one succeeds
// and the chain grows by exactly one version.
func TestConcurrentUpdateFirstWriterWins(t *testing.T) {
	tab := testTable()
	clog := NewCLog()
	clog.SetStatus(1, TxCommitted)
	rowID := tab.Insert(Row{Values: map[string]ColumnValue{
		"id": Int(1), "email": Text("a@x"), "counter": Int(0),
	}}, 1)

	const n = 100
	var wg sync.WaitGroup
	oks := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txID := uint64(200 + i)
			clog.SetStatus(txID, TxCommitted)
			snap := Snapshot{Self: txID, XminHorizon: txID, XmaxHorizon: txID}
			err := tab.Update(rowID, "counter", Int(int64(txID)), txID, snap, clog)
			oks[i] = err == nil
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range oks {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning update, got %d", wins)
	}

	c, ok := tab.getChain(rowID)
	if !ok {
		t.Fatal("chain vanished")
	}
	length := 0
	for v := c.head; v != nil; v = v.Next {
		length++
	}
	if length != 2 {
		t.Fatalf("expected chain length 2 (original + 1 winning update), got %d", length)
	}
}

// TestChainInvariantXmaxLinksToPredecessorXmin is spec.md §8 invariant
// 1: a non-head version's xmax equals the xmin of the version
// immediately newer than it.
func TestChainInvariantXmaxLinksToPredecessorXmin(t *testing.T) {
	tab := testTable()
	clog := NewCLog()
	clog.SetStatus(1, TxCommitted)
	clog.SetStatus(2, TxCommitted)
	clog.SetStatus(3, TxCommitted)
	rowID := tab.Insert(Row{Values: map[string]ColumnValue{
		"id": Int(1), "email": Text("a@x"), "counter": Int(0),
	}}, 1)

	snap2 := Snapshot{Self: 2, XminHorizon: 2, XmaxHorizon: 2}
	if err := tab.Update(rowID, "counter", Int(1), 2, snap2, clog); err != nil {
		t.Fatalf("update 1: %v", err)
	}
	snap3 := Snapshot{Self: 3, XminHorizon: 3, XmaxHorizon: 3}
	if err := tab.Update(rowID, "counter", Int(2), 3, snap3, clog); err != nil {
		t.Fatalf("update 2: %v", err)
	}

	c, _ := tab.getChain(rowID)
	v := c.head
	for v.Next != nil {
		if v.Next.Xmax.Load() != v.Xmin {
			t.Fatalf("predecessor xmax %d != successor xmin %d", v.Next.Xmax.Load(), v.Xmin)
		}
		v = v.Next
	}
}

// TestSnapshotIsolation is spec.md §8 scenario 3: T1 begins before T2
// inserts+commits; T1 must not see T2's row until a fresh snapshot is
// taken after T2 commits.
func TestSnapshotIsolation(t *testing.T) {
	tab := testTable()
	clog := NewCLog()
	tm := NewTxManager(clog, 1)

	t1, snap1 := tm.Begin()
	_ = t1

	t2, snap2 := tm.Begin()
	rowID := tab.Insert(Row{Values: map[string]ColumnValue{
		"id": Int(1), "email": Text("alice@x"), "counter": Int(0),
	}}, t2)
	if err := tm.Commit(t2); err != nil {
		t.Fatalf("commit t2: %v", err)
	}
	_ = snap2

	if _, ok := tab.Get(rowID, snap1, clog); ok {
		t.Fatal("T1's snapshot should not see a row inserted and committed after it began")
	}

	if err := tm.Commit(t1); err != nil {
		t.Fatalf("commit t1: %v", err)
	}

	t3, snap3 := tm.Begin()
	if _, ok := tab.Get(rowID, snap3, clog); !ok {
		t.Fatal("a snapshot taken after T2 commits should see the row")
	}
	_ = t3
}

// TestVisibilityMonotonicUnderLongLivedReader is spec.md §8 invariant 3
// (visibility is monotonic: any snapshot taken later than a commit sees
// it) exercised against a long-lived concurrent transaction, which is
// where XminHorizon/XmaxHorizon are easy to confuse: a reader's
// committed-by-S bound must be its own assigned id, not the lowest
// still-in-flight id at the time it began.
func TestVisibilityMonotonicUnderLongLivedReader(t *testing.T) {
	tab := testTable()
	clog := NewCLog()
	tm := NewTxManager(clog, 1)

	t1, _ := tm.Begin() // stays open across t2 and t3

	t2, _ := tm.Begin()
	rowID := tab.Insert(Row{Values: map[string]ColumnValue{
		"id": Int(1), "email": Text("alice@x"), "counter": Int(0),
	}}, t2)
	if err := tm.Commit(t2); err != nil {
		t.Fatalf("commit t2: %v", err)
	}

	t3, snap3 := tm.Begin() // t1 is still in-flight here
	if _, ok := tab.Get(rowID, snap3, clog); !ok {
		t.Fatal("t3 should see t2's row: t2 committed before t3 began, regardless of t1 still being open")
	}
	_ = t3

	if err := tm.Rollback(t1); err != nil {
		t.Fatalf("rollback t1: %v", err)
	}
}

// TestOwnDeleteInvisibleEarlierSnapshotVisible is spec.md §8 invariant 4: a
// transaction sees its own delete as gone, but a snapshot taken before
// that delete's tx committed still sees the row.
func TestOwnDeleteInvisibleEarlierSnapshotVisible(t *testing.T) {
	tab := testTable()
	clog := NewCLog()
	tm := NewTxManager(clog, 1)

	t1, _ := tm.Begin()
	rowID := tab.Insert(Row{Values: map[string]ColumnValue{
		"id": Int(1), "email": Text("x@y"), "counter": Int(0),
	}}, t1)
	if err := tm.Commit(t1); err != nil {
		t.Fatal(err)
	}

	readerTx, readerSnap := tm.Begin()

	t2, snap2 := tm.Begin()
	if err := tab.Delete(rowID, t2, snap2, clog); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := tab.Get(rowID, snap2, clog); ok {
		t.Fatal("deleting tx must not see its own deleted row")
	}
	if err := tm.Commit(t2); err != nil {
		t.Fatal(err)
	}

	if _, ok := tab.Get(rowID, readerSnap, clog); !ok {
		t.Fatal("a snapshot taken before the delete committed must still see the row")
	}
	tm.Commit(readerTx)
}
