package storage

// ColType names the declared type of a column, distinct from Kind (the
// runtime tag of a stored value) so that e.g. an embedding column can
// carry its fixed dimension alongside the type name.
type ColType uint8

const (
	ColInt ColType = iota
	ColFloat
	ColText
	ColBool
	ColEmbedding
)

func (t ColType) String() string {
	switch t {
	case ColInt:
		return "int"
	case ColFloat:
		return "float"
	case ColText:
		return "text"
	case ColBool:
		return "bool"
	case ColEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// Column is one declared column of a table: name, declared type, and
// (for embedding columns) the fixed dimension enforced at INSERT time.
type Column struct {
	Name string
	Type ColType
	Dim  int // only meaningful when Type == ColEmbedding
}

// Row is the ordered mapping column-name -> value materialized for one
// version. RowID is the externally stable identifier indexes reference.
type Row struct {
	ID     uint64
	Values map[string]ColumnValue
}

// Get returns the value for a column, or Null if the row has no entry.
func (r Row) Get(col string) ColumnValue {
	if v, ok := r.Values[col]; ok {
		return v
	}
	return Null()
}

// Clone deep-copies the row so version chains and indexes never alias
// a caller-supplied map or its ColumnValue buffers.
func (r Row) Clone() Row {
	out := Row{ID: r.ID, Values: make(map[string]ColumnValue, len(r.Values))}
	for k, v := range r.Values {
		out.Values[k] = v.Clone()
	}
	return out
}

// With returns a copy of r with col overridden to v — used by UPDATE to
// build the new head version's payload from the old head overlaid with
// the column assignment.
func (r Row) With(col string, v ColumnValue) Row {
	out := r.Clone()
	out.Values[col] = v.Clone()
	return out
}
