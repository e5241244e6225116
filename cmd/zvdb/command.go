package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zvdb/zvdb/internal/executor"
	"github.com/zvdb/zvdb/internal/storage"
)

// This file is a line-oriented command reader, not a SQL parser: the
// executor package's Non-goal (spec.md §1) is SQL tokenizing/parsing,
// so the REPL speaks a small verb+clause grammar that maps directly
// onto the same Query/Predicate/Row values a real parser's code
// generator would build:
//
//	CREATE TABLE t (col type[,col type]...)
//	CREATE INDEX name ON table(column)
//	INSERT INTO t (col=val, col=val, ...)
//	SELECT FROM t [WHERE col op val [AND col op val ...]]
//	       [ORDER BY col [DESC] | ORDER BY SIMILARITY TO "text" DIM n] [LIMIT n] [OFFSET n]
//	UPDATE t SET col=val[,col=val] [WHERE ...]
//	DELETE FROM t [WHERE ...]
//	BEGIN / COMMIT / ROLLBACK
//
// Types: int, float, text, bool, embedding(N). Values: quoted strings,
// numeric literals, true/false, [v1,v2,...] for embeddings.
type command struct {
	verb   string
	rest   string
	tokens []string
}

func parseCommand(line string) command {
	fields := splitTopLevel(line)
	if len(fields) == 0 {
		return command{}
	}
	return command{verb: strings.ToUpper(fields[0]), rest: line, tokens: fields}
}

// splitTopLevel splits on whitespace but keeps quoted strings,
// parenthesized groups, and bracketed embedding literals intact.
func splitTopLevel(s string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case inQuote:
			cur.WriteRune(r)
		case r == '(' || r == '[':
			depth++
			cur.WriteRune(r)
		case r == ')' || r == ']':
			depth--
			cur.WriteRune(r)
		case r == ' ' && depth == 0:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func parseColType(s string) (storage.ColType, int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "embedding(") && strings.HasSuffix(s, ")") {
		dimStr := s[len("embedding(") : len(s)-1]
		dim, err := strconv.Atoi(dimStr)
		if err != nil {
			return 0, 0, fmt.Errorf("bad embedding dimension %q: %w", dimStr, err)
		}
		return storage.ColEmbedding, dim, nil
	}
	switch strings.ToLower(s) {
	case "int":
		return storage.ColInt, 0, nil
	case "float":
		return storage.ColFloat, 0, nil
	case "text":
		return storage.ColText, 0, nil
	case "bool":
		return storage.ColBool, 0, nil
	}
	return 0, 0, fmt.Errorf("unknown column type %q", s)
}

// parseValue parses a single literal into a ColumnValue: "quoted text",
// true/false, [v1,v2,...] embeddings, or a numeric literal (int unless
// it contains '.' or an exponent).
func parseValue(s string) (storage.ColumnValue, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2:
		return storage.Text(s[1 : len(s)-1]), nil
	case s == "true":
		return storage.Bool(true), nil
	case s == "false":
		return storage.Bool(false), nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		inner := s[1 : len(s)-1]
		var vec []float32
		if strings.TrimSpace(inner) != "" {
			for _, part := range strings.Split(inner, ",") {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
				if err != nil {
					return storage.ColumnValue{}, fmt.Errorf("bad embedding component %q: %w", part, err)
				}
				vec = append(vec, float32(f))
			}
		}
		return storage.Embedding(vec), nil
	case strings.ContainsAny(s, ".eE") && !strings.Contains(s, `"`):
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return storage.Float(f), nil
		}
		fallthrough
	default:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return storage.ColumnValue{}, fmt.Errorf("bad literal %q: %w", s, err)
		}
		return storage.Int(i), nil
	}
}

func parseCmpOp(s string) (executor.CmpOp, bool) {
	switch s {
	case "=":
		return executor.OpEq, true
	case "!=", "<>":
		return executor.OpNe, true
	case "<":
		return executor.OpLt, true
	case "<=":
		return executor.OpLe, true
	case ">":
		return executor.OpGt, true
	case ">=":
		return executor.OpGe, true
	}
	return 0, false
}

// parseWhere consumes tokens starting at a "col" token, an op token,
// a value token, repeated with "AND" separators, building an And of
// Cmp predicates (the executor's indexableTerm only recognizes a
// single top-level term for index use, so a WHERE with two or more AND
// terms is always served by a full scan; a single term is returned as
// a bare Cmp so it stays index-eligible).
func parseWhere(tokens []string) (executor.Predicate, error) {
	if len(tokens) == 0 {
		return executor.True{}, nil
	}
	var terms executor.And
	i := 0
	for i < len(tokens) {
		if i+2 >= len(tokens) {
			return nil, fmt.Errorf("malformed WHERE clause near %q", strings.Join(tokens[i:], " "))
		}
		col := tokens[i]
		op, ok := parseCmpOp(tokens[i+1])
		if !ok {
			return nil, fmt.Errorf("unknown comparison operator %q", tokens[i+1])
		}
		val, err := parseValue(tokens[i+2])
		if err != nil {
			return nil, err
		}
		terms = append(terms, executor.Cmp{Col: col, Op: op, Value: val})
		i += 3
		if i < len(tokens) {
			if strings.ToUpper(tokens[i]) != "AND" {
				return nil, fmt.Errorf("expected AND, got %q", tokens[i])
			}
			i++
		}
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return terms, nil
}
