// Package executor implements spec.md §4.7's atomicity shell: the
// per-statement choreography that ties the transaction manager, WAL,
// table version chains, B-tree indexes, and HNSW index together so
// that INSERT/UPDATE/DELETE leave no partially-applied state visible,
// and the WHERE-evaluation / index-selection path SELECT uses to
// consume those same storage contracts. SQL tokenizing/parsing stays
// an external collaborator (spec.md §1): callers build a Predicate and
// a Query value directly, the way a parser's code generator would.
package executor

import "github.com/zvdb/zvdb/internal/storage"

// CmpOp is a WHERE comparison operator.
type CmpOp uint8

const (
	OpEq CmpOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Predicate is a boolean expression over one row, evaluated by the
// executor after candidate row ids have been produced by a table scan
// or an index probe (spec.md §4.3: "visibility filtering is not done
// inside the B-tree"; the same separation applies to predicate
// evaluation generally — indexes narrow candidates, Predicate.Eval
// decides membership).
type Predicate interface {
	Eval(row storage.Row) (bool, error)
}

// True always matches, used for statements with no WHERE clause.
type True struct{}

func (True) Eval(storage.Row) (bool, error) { return true, nil }

// Cmp compares column Col against Value using Op.
type Cmp struct {
	Col   string
	Op    CmpOp
	Value storage.ColumnValue
}

func (c Cmp) Eval(row storage.Row) (bool, error) {
	v := row.Get(c.Col)
	if v.IsNull() || c.Value.IsNull() {
		return false, nil
	}
	cmp, err := storage.Compare(v, c.Value)
	if err != nil {
		if c.Op == OpEq {
			return false, nil
		}
		if c.Op == OpNe {
			return true, nil
		}
		return false, err
	}
	switch c.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGe:
		return cmp >= 0, nil
	}
	return false, nil
}

// Between matches Lo <= Col <= Hi (inclusive both ends, per SQL BETWEEN).
type Between struct {
	Col    string
	Lo, Hi storage.ColumnValue
}

func (b Between) Eval(row storage.Row) (bool, error) {
	v := row.Get(b.Col)
	if v.IsNull() {
		return false, nil
	}
	lo, err := storage.Compare(v, b.Lo)
	if err != nil {
		return false, nil
	}
	hi, err := storage.Compare(v, b.Hi)
	if err != nil {
		return false, nil
	}
	return lo >= 0 && hi <= 0, nil
}

// And is a conjunction of sub-predicates.
type And []Predicate

func (a And) Eval(row storage.Row) (bool, error) {
	for _, p := range a {
		ok, err := p.Eval(row)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Or is a disjunction of sub-predicates.
type Or []Predicate

func (o Or) Eval(row storage.Row) (bool, error) {
	for _, p := range o {
		ok, err := p.Eval(row)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Not negates a sub-predicate.
type Not struct{ Inner Predicate }

func (n Not) Eval(row storage.Row) (bool, error) {
	ok, err := n.Inner.Eval(row)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// indexableTerm reports the single (col, op, value) term usable for a
// B-tree probe when pred is exactly that term at the top level, per
// spec.md §4.7: "the executor picks a B-tree when the predicate is
// col = v, col <cmp> v, or col BETWEEN lo AND hi". Conjunctions and
// disjunctions of multiple terms fall back to a full scan — the
// specification does not require multi-column index intersection.
func indexableTerm(pred Predicate) (col string, isRange bool, op CmpOp, lo, hi storage.ColumnValue, loInc, hiInc bool, ok bool) {
	switch p := pred.(type) {
	case Cmp:
		return p.Col, false, p.Op, p.Value, storage.ColumnValue{}, false, false, true
	case Between:
		return p.Col, true, 0, p.Lo, p.Hi, true, true, true
	default:
		return "", false, 0, storage.ColumnValue{}, storage.ColumnValue{}, false, false, false
	}
}
