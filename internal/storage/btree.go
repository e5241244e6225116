package storage

import (
	"sort"
	"sync"
)

// BTreeIndex is an ordered ColumnValue -> set-of-row-ids structure with
// range scans, per spec.md §4.3. The specification does not prescribe
// a branching factor ("any balanced ordered map suffices"); this is a
// sorted-slice-of-buckets implementation — simpler than the teacher's
// disk-paged B+Tree (internal/storage/pager/btree.go), which is built
// for page-level persistence this in-memory secondary index does not
// need. Visibility filtering is deliberately NOT done here: the
// executor applies the Visibility Oracle to the candidate row ids this
// index returns.
type BTreeIndex struct {
	mu      sync.RWMutex
	Table   string
	Column  string
	entries []bucket // kept sorted by Key
}

type bucket struct {
	Key  ColumnValue
	Rows map[uint64]bool
}

func NewBTreeIndex(table, column string) *BTreeIndex {
	return &BTreeIndex{Table: table, Column: column}
}

func (idx *BTreeIndex) find(key ColumnValue) (int, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		cmp, err := Compare(idx.entries[i].Key, key)
		if err != nil {
			return false
		}
		return cmp >= 0
	})
	if i < len(idx.entries) {
		if cmp, err := Compare(idx.entries[i].Key, key); err == nil && cmp == 0 {
			return i, true
		}
	}
	return i, false
}

// Insert adds row_id under key, creating the bucket if absent.
func (idx *BTreeIndex) Insert(key ColumnValue, rowID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i, exact := idx.find(key)
	if exact {
		idx.entries[i].Rows[rowID] = true
		return
	}
	b := bucket{Key: key.Clone(), Rows: map[uint64]bool{rowID: true}}
	idx.entries = append(idx.entries, bucket{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = b
}

// Delete removes row_id from key's bucket, reporting whether a removal
// occurred (idempotent, per spec.md §4.3).
func (idx *BTreeIndex) Delete(key ColumnValue, rowID uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i, exact := idx.find(key)
	if !exact {
		return false
	}
	if !idx.entries[i].Rows[rowID] {
		return false
	}
	delete(idx.entries[i].Rows, rowID)
	if len(idx.entries[i].Rows) == 0 {
		idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	}
	return true
}

// Search returns the row ids stored under key, sorted for determinism.
func (idx *BTreeIndex) Search(key ColumnValue) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i, exact := idx.find(key)
	if !exact {
		return nil
	}
	return sortedKeys(idx.entries[i].Rows)
}

// FindRange returns row ids whose key falls within [lo, hi] (bounds
// optionally inclusive/exclusive, or unbounded when lo/hi is nil),
// ordered by key, then by ascending row id within a key.
func (idx *BTreeIndex) FindRange(lo, hi *ColumnValue, loInclusive, hiInclusive bool) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []uint64
	for _, b := range idx.entries {
		if lo != nil {
			cmp, err := Compare(b.Key, *lo)
			if err != nil {
				continue
			}
			if cmp < 0 || (cmp == 0 && !loInclusive) {
				continue
			}
		}
		if hi != nil {
			cmp, err := Compare(b.Key, *hi)
			if err != nil {
				continue
			}
			if cmp > 0 || (cmp == 0 && !hiInclusive) {
				continue
			}
		}
		out = append(out, sortedKeys(b.Rows)...)
	}
	return out
}

func sortedKeys(m map[uint64]bool) []uint64 {
	out := make([]uint64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
