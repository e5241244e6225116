package executor

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	"github.com/zvdb/zvdb/internal/storage"
)

// indexThreshold is the live-version count below which a full scan
// beats an index probe, per spec.md §4.7: "the table has >= 100 live
// versions (below that threshold a full scan wins)".
const indexThreshold = 100

// candidateRowIDs implements the WHERE-evaluation optimizer of
// spec.md §4.7: it picks a B-tree index when pred is exactly col = v,
// col <cmp> v, or col BETWEEN lo AND hi on an indexed column and the
// table is large enough to benefit, otherwise it falls back to
// table.GetAllRowIDs(). Either way the returned ids are unfiltered
// candidates — the caller still must run each through the visibility
// oracle (this package never skips that step).
func (e *Engine) candidateRowIDs(table *storage.Table, snap storage.Snapshot, pred Predicate) ([]uint64, error) {
	if table.LiveVersionCount() >= indexThreshold {
		if col, isRange, op, lo, hi, loInc, hiInc, ok := indexableTerm(pred); ok {
			for _, idx := range e.db.IndexesOnTable(table.Name) {
				if idx.Column != col {
					continue
				}
				if isRange {
					return idx.FindRange(&lo, &hi, loInc, hiInc), nil
				}
				switch op {
				case OpEq:
					return idx.Search(lo), nil
				case OpGe:
					return idx.FindRange(&lo, nil, true, false), nil
				case OpGt:
					return idx.FindRange(&lo, nil, false, false), nil
				case OpLe:
					return idx.FindRange(nil, &lo, false, true), nil
				case OpLt:
					return idx.FindRange(nil, &lo, false, false), nil
				}
			}
		}
	}
	return table.GetAllRowIDs(), nil
}

// Order describes a SELECT's ORDER BY clause: at most one of ByColumn,
// BySimilarity, or Vibes is set, per spec.md §6.1's grammar
// (`ORDER BY col [ASC|DESC] | SIMILARITY TO "s" | VIBES`).
type Order struct {
	ByColumn string
	Desc     bool

	BySimilarity bool
	QueryVector  []float32

	Vibes bool
}

// Query is a single-table SELECT's storage-facing parameters. JOINs,
// GROUP BY, and aggregate projection are the query planner's operators
// (spec.md §1 Non-goals: "deliberately out of scope"); this package
// only does what touches the storage contracts directly — visibility,
// index probes, and similarity ranking.
type Query struct {
	Table  string
	Where  Predicate
	Order  Order
	Limit  int // 0 means unlimited
	Offset int
}

// Select runs a single-table query against tx's snapshot (or an
// implicit auto-commit snapshot if tx is nil), returning the rows
// visible to that snapshot and matching Where, ordered and paginated
// per Order/Limit/Offset.
func (e *Engine) Select(tx *Tx, q Query) ([]storage.Row, error) {
	t, autoCommit, err := e.resolveTx(tx)
	if err != nil {
		return nil, err
	}
	rows, err := e.selectLocked(t, q)
	return rows, finish(t, autoCommit, err)
}

func (e *Engine) selectLocked(t *Tx, q Query) ([]storage.Row, error) {
	table, err := e.db.Table(q.Table)
	if err != nil {
		return nil, err
	}
	pred := q.Where
	if pred == nil {
		pred = True{}
	}

	candidates, err := e.candidateRowIDs(table, t.snap, pred)
	if err != nil {
		return nil, err
	}

	clog := e.db.CLog()
	var rows []storage.Row
	for _, id := range candidates {
		row, ok := table.Get(id, t.snap, clog)
		if !ok {
			continue
		}
		match, err := pred.Eval(row)
		if err != nil {
			return nil, err
		}
		if match {
			rows = append(rows, row)
		}
	}

	switch {
	case q.Order.BySimilarity:
		if !e.db.HasHNSWForDim(len(q.Order.QueryVector)) {
			return nil, &storage.Error{Code: storage.CodeInvalidSyntax, Msg: "no HNSW index for this embedding dimension"}
		}
		rows = e.orderBySimilarity(rows, q.Order.QueryVector)
	case q.Order.Vibes:
		rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	case q.Order.ByColumn != "":
		sort.SliceStable(rows, func(i, j int) bool {
			cmp, err := storage.Compare(rows[i].Get(q.Order.ByColumn), rows[j].Get(q.Order.ByColumn))
			if err != nil {
				return false
			}
			if q.Order.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			return nil, nil
		}
		rows = rows[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(rows) {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// orderBySimilarity ranks rows by HNSW distance to query, for columns
// of the matching dimension. Ties / rows the HNSW graph doesn't cover
// (e.g. inserted after the last rebuild under a prior bug) fall back
// to the tail, keeping the result a strict superset-safe ordering
// rather than silently dropping rows.
func (e *Engine) orderBySimilarity(rows []storage.Row, query []float32) []storage.Row {
	h := e.db.HNSWForDim(len(query))
	ranked := h.Search(query, len(rows))
	rank := make(map[uint64]int, len(ranked))
	for i, r := range ranked {
		rank[r.ExternalID] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ri, iok := rank[rows[i].ID]
		rj, jok := rank[rows[j].ID]
		if iok && jok {
			return ri < rj
		}
		return iok && !jok
	})
	return rows
}

// MockQueryVector deterministically hashes text into a unit-ish vector
// of dimension dim, standing in for the real embedding model per
// spec.md §1: "a hash-based 'mock' query vector generator for
// `SIMILARITY TO \"text\"` which the implementer MAY replace". Same
// text always yields the same vector within one process.
func MockQueryVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		off := (i * 4) % (len(sum) - 4)
		bits := binary.LittleEndian.Uint32(sum[off : off+4])
		// map into about [-1, 1] (plus an index-dependent offset of at
		// most 0.006) without ever landing on exactly zero for
		// every component, so the mock vector's norm is never zero.
		out[i] = float32(int32(bits))/float32(math.MaxInt32) + float32(i%7)*1e-3
	}
	return out
}
