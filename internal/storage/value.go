package storage

import (
	"bytes"
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"
)

// Kind tags the variant held by a ColumnValue.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindText
	KindEmbedding
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// ColumnValue is the tagged scalar value stored in a row. Text and
// embedding buffers are owned by the ColumnValue (copied in, copied
// out) so that index structures and version chains never alias a
// caller's slice.
type ColumnValue struct {
	Kind  Kind
	I     int64
	F     float64
	B     bool
	Text  []byte
	Embed []float32
}

func Null() ColumnValue { return ColumnValue{Kind: KindNull} }

func Int(v int64) ColumnValue { return ColumnValue{Kind: KindInt, I: v} }

func Float(v float64) ColumnValue { return ColumnValue{Kind: KindFloat, F: v} }

func Bool(v bool) ColumnValue { return ColumnValue{Kind: KindBool, B: v} }

func Text(v string) ColumnValue {
	buf := make([]byte, len(v))
	copy(buf, v)
	return ColumnValue{Kind: KindText, Text: buf}
}

// Embedding copies v so the caller's slice may be reused or mutated afterward.
func Embedding(v []float32) ColumnValue {
	buf := make([]float32, len(v))
	copy(buf, v)
	return ColumnValue{Kind: KindEmbedding, Embed: buf}
}

func (v ColumnValue) IsNull() bool { return v.Kind == KindNull }

func (v ColumnValue) TextString() string { return string(v.Text) }

// Clone returns a deep copy so no two rows ever share a backing buffer.
func (v ColumnValue) Clone() ColumnValue {
	out := v
	if v.Text != nil {
		out.Text = append([]byte(nil), v.Text...)
	}
	if v.Embed != nil {
		out.Embed = append([]float32(nil), v.Embed...)
	}
	return out
}

func (v ColumnValue) asFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// Compare orders two ColumnValues per spec.md §3: numerics compare
// numerically with int/float promotion, text compares lexicographically
// (after NFC normalization so visually-identical strings in different
// unicode normal forms sort and equal consistently), bool compares
// false < true, and embeddings/null have no defined order for WHERE —
// callers must reject or treat as always-false before calling Compare
// on an embedding or null operand.
func Compare(a, b ColumnValue) (int, error) {
	if a.Kind == KindNull || b.Kind == KindNull {
		return 0, wrapErr(CodeTypeMismatch, "null has no defined ordering", nil)
	}
	if a.Kind == KindEmbedding || b.Kind == KindEmbedding {
		return 0, wrapErr(CodeTypeMismatch, "embedding equality/ordering is undefined in WHERE", nil)
	}

	af, aNum := a.asFloat()
	bf, bNum := b.asFloat()
	if aNum && bNum {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	if a.Kind == KindText && b.Kind == KindText {
		an := norm.NFC.Bytes(a.Text)
		bn := norm.NFC.Bytes(b.Text)
		return bytes.Compare(an, bn), nil
	}

	if a.Kind == KindBool && b.Kind == KindBool {
		switch {
		case a.B == b.B:
			return 0, nil
		case !a.B && b.B:
			return -1, nil
		default:
			return 1, nil
		}
	}

	return 0, wrapErr(CodeTypeMismatch, fmt.Sprintf("cannot compare %s and %s", a.Kind, b.Kind), nil)
}

// Equal reports whether a and b compare equal, treating incomparable
// kinds (null, embedding, or cross-kind non-numeric) as unequal rather
// than erroring — used by equality predicates where a type mismatch
// should simply fail to match instead of aborting the scan.
func Equal(a, b ColumnValue) bool {
	cmp, err := Compare(a, b)
	return err == nil && cmp == 0
}

// CosineDistance is 1 - cosine similarity clamped to [0, 2]; if either
// vector has zero norm, distance is defined as 1 (neither identical nor
// maximally opposite).
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	d := 1 - sim
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return d
}
