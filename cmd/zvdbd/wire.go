package main

import (
	"fmt"

	"github.com/zvdb/zvdb/internal/executor"
	"github.com/zvdb/zvdb/internal/storage"
)

// wireValue is a self-describing JSON value (encoding/json collapses
// every number to float64, so a bare map[string]any round-trip can't
// distinguish int from float or recover an embedding's kind); Kind
// disambiguates explicitly instead of guessing from JSON shape.
type wireValue struct {
	Kind  string    `json:"kind"`
	I     int64     `json:"i,omitempty"`
	F     float64   `json:"f,omitempty"`
	B     bool      `json:"b,omitempty"`
	Text  string    `json:"text,omitempty"`
	Embed []float32 `json:"embed,omitempty"`
}

func decodeValue(wv wireValue) (storage.ColumnValue, error) {
	switch wv.Kind {
	case "", "null":
		return storage.Null(), nil
	case "int":
		return storage.Int(wv.I), nil
	case "float":
		return storage.Float(wv.F), nil
	case "bool":
		return storage.Bool(wv.B), nil
	case "text":
		return storage.Text(wv.Text), nil
	case "embedding":
		return storage.Embedding(wv.Embed), nil
	default:
		return storage.ColumnValue{}, fmt.Errorf("unknown wire value kind %q", wv.Kind)
	}
}

func encodeValue(v storage.ColumnValue) wireValue {
	switch v.Kind {
	case storage.KindInt:
		return wireValue{Kind: "int", I: v.I}
	case storage.KindFloat:
		return wireValue{Kind: "float", F: v.F}
	case storage.KindBool:
		return wireValue{Kind: "bool", B: v.B}
	case storage.KindText:
		return wireValue{Kind: "text", Text: v.TextString()}
	case storage.KindEmbedding:
		return wireValue{Kind: "embedding", Embed: v.Embed}
	default:
		return wireValue{Kind: "null"}
	}
}

// wireTerm is one WHERE term; a request's Where is an implicit AND of
// these (the same single-term-or-conjunction shape cmd/zvdb's parser
// produces — see command.go's parseWhere).
type wireTerm struct {
	Col   string    `json:"col"`
	Op    string    `json:"op"`
	Value wireValue `json:"value"`
}

var opByName = map[string]executor.CmpOp{
	"eq": executor.OpEq, "ne": executor.OpNe,
	"lt": executor.OpLt, "le": executor.OpLe,
	"gt": executor.OpGt, "ge": executor.OpGe,
}

func decodeWhere(terms []wireTerm) (executor.Predicate, error) {
	if len(terms) == 0 {
		return executor.True{}, nil
	}
	var and executor.And
	for _, t := range terms {
		op, ok := opByName[t.Op]
		if !ok {
			return nil, fmt.Errorf("unknown where op %q", t.Op)
		}
		val, err := decodeValue(t.Value)
		if err != nil {
			return nil, err
		}
		and = append(and, executor.Cmp{Col: t.Col, Op: op, Value: val})
	}
	if len(and) == 1 {
		return and[0], nil
	}
	return and, nil
}

func decodeRow(wire map[string]wireValue) (storage.Row, error) {
	row := storage.Row{Values: make(map[string]storage.ColumnValue, len(wire))}
	for k, wv := range wire {
		v, err := decodeValue(wv)
		if err != nil {
			return storage.Row{}, err
		}
		row.Values[k] = v
	}
	return row, nil
}

func decodeValues(wire map[string]wireValue) (map[string]storage.ColumnValue, error) {
	out := make(map[string]storage.ColumnValue, len(wire))
	for k, wv := range wire {
		v, err := decodeValue(wv)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func rowToJSON(r storage.Row) map[string]any {
	out := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		out[k] = encodeValue(v)
	}
	return out
}

func decodePredicate(terms []wireTerm) (executor.Predicate, error) { return decodeWhere(terms) }

func decodeQuery(req *queryRequest) (executor.Query, error) {
	pred, err := decodeWhere(req.Where)
	if err != nil {
		return executor.Query{}, err
	}
	q := executor.Query{Table: req.Table, Where: pred, Limit: req.Limit, Offset: req.Offset}
	switch {
	case req.OrderBySimilarityText != "":
		q.Order.BySimilarity = true
		q.Order.QueryVector = executor.MockQueryVector(req.OrderBySimilarityText, req.OrderBySimilarityDim)
	case req.Vibes:
		q.Order.Vibes = true
	case req.OrderByColumn != "":
		q.Order.ByColumn = req.OrderByColumn
		q.Order.Desc = req.OrderDesc
	}
	return q, nil
}

func errUnknownOp(op string) error { return fmt.Errorf("unknown exec op %q", op) }

// execRequest/execResponse/queryRequest/queryResponse are the JSON
// bodies carried by the jsonCodec-registered gRPC RPCs.
type execRequest struct {
	Op    string               `json:"op"`
	Table string               `json:"table"`
	Row   map[string]wireValue `json:"row,omitempty"`
	Set   map[string]wireValue `json:"set,omitempty"`
	Where []wireTerm           `json:"where,omitempty"`
}

type execResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	RowsAffected int64  `json:"rows_affected,omitempty"`
	Duration     string `json:"duration"`
}

type queryRequest struct {
	Table                 string     `json:"table"`
	Where                 []wireTerm `json:"where,omitempty"`
	OrderByColumn         string     `json:"order_by_column,omitempty"`
	OrderDesc             bool       `json:"order_desc,omitempty"`
	OrderBySimilarityText string     `json:"order_by_similarity_text,omitempty"`
	OrderBySimilarityDim  int        `json:"order_by_similarity_dim,omitempty"`
	Vibes                 bool       `json:"vibes,omitempty"`
	Limit                 int        `json:"limit,omitempty"`
	Offset                int        `json:"offset,omitempty"`
}

type queryResponse struct {
	Rows     []map[string]any `json:"rows"`
	Count    int              `json:"count"`
	Error    string           `json:"error,omitempty"`
	Duration string           `json:"duration"`
}
