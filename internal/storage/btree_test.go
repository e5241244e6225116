package storage

import (
	"reflect"
	"testing"
)

func TestBTreeInsertSearchDelete(t *testing.T) {
	idx := NewBTreeIndex("accounts", "counter")
	idx.Insert(Int(5), 1)
	idx.Insert(Int(5), 2)
	idx.Insert(Int(7), 3)

	got := idx.Search(Int(5))
	want := []uint64{1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Search(5) = %v, want %v", got, want)
	}

	if !idx.Delete(Int(5), 1) {
		t.Fatal("Delete should report removal occurred")
	}
	if idx.Delete(Int(5), 1) {
		t.Fatal("second Delete of the same key/row should be a no-op, not re-report removal")
	}

	got = idx.Search(Int(5))
	if !reflect.DeepEqual(got, []uint64{2}) {
		t.Fatalf("Search(5) after delete = %v, want [2]", got)
	}
}

func TestBTreeFindRange(t *testing.T) {
	idx := NewBTreeIndex("accounts", "counter")
	for i := int64(0); i < 10; i++ {
		idx.Insert(Int(i), uint64(i))
	}

	lo, hi := Int(3), Int(6)
	got := idx.FindRange(&lo, &hi, true, true)
	want := []uint64{3, 4, 5, 6}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindRange(3,6,incl,incl) = %v, want %v", got, want)
	}

	got = idx.FindRange(&lo, &hi, false, false)
	want = []uint64{4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindRange(3,6,excl,excl) = %v, want %v", got, want)
	}

	got = idx.FindRange(&lo, nil, true, false)
	want = []uint64{3, 4, 5, 6, 7, 8, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindRange(3,nil) = %v, want %v", got, want)
	}
}

func TestBTreeSearchMissingKeyReturnsNil(t *testing.T) {
	idx := NewBTreeIndex("accounts", "counter")
	idx.Insert(Int(1), 1)
	if got := idx.Search(Int(99)); got != nil {
		t.Fatalf("Search on absent key = %v, want nil", got)
	}
}
