// Command zvdb is a line-oriented REPL over a single zvdb database,
// adapted from the teacher's cmd/tinysql/main.go scan-loop shape but
// trimmed to this spec's single-node, single-process scope (no peer
// federation, no SQL parser — see command.go's grammar note).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/zvdb/zvdb/internal/config"
	"github.com/zvdb/zvdb/internal/executor"
	"github.com/zvdb/zvdb/internal/storage"
)

func main() {
	dataDir := flag.String("data", "./zvdb-data", "data directory (checkpoints, WAL segments, instance id)")
	configPath := flag.String("config", "", "optional YAML config file (see internal/config for shape)")
	flag.Parse()

	var opts []storage.Option
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
		if cfg.DataDir != "" {
			*dataDir = cfg.DataDir
		}
		opts = cfg.Options()
	}

	db, err := storage.OpenDB(*dataDir, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open error:", err)
		os.Exit(1)
	}
	defer db.Close()

	eng := executor.New(db)
	runREPL(eng, db)
}

func runREPL(eng *executor.Engine, db *storage.DB) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	interactive := false
	if fi, err := os.Stdin.Stat(); err == nil {
		interactive = (fi.Mode() & os.ModeCharDevice) != 0
	}
	if interactive {
		fmt.Println("zvdb REPL. Statements end with ';'. '.help' for help.")
	}

	var tx *executor.Tx
	var buf strings.Builder
	for {
		if interactive {
			if tx != nil {
				fmt.Print("zvdb(tx)> ")
			} else {
				fmt.Print("zvdb> ")
			}
		}
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if handleMeta(db, line) {
				continue
			}
		}
		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString(" ")
			continue
		}
		stmt := strings.TrimSuffix(strings.TrimSpace(buf.String()), ";")
		buf.Reset()

		if err := execStatement(eng, &tx, stmt); err != nil {
			fmt.Println("ERR:", err)
		}
	}
}

func handleMeta(db *storage.DB, line string) bool {
	switch line {
	case ".help":
		fmt.Println(`.meta:
  .help        show this help
  .tables      list tables
  .checkpoint  force a checkpoint now
  .quit        exit`)
		return true
	case ".tables":
		for _, n := range db.TableNames() {
			fmt.Println(n)
		}
		return true
	case ".checkpoint":
		if err := db.Checkpoint(); err != nil {
			fmt.Println("ERR:", err)
		} else {
			fmt.Println("(ok)")
		}
		return true
	case ".quit":
		os.Exit(0)
	}
	return false
}

// execStatement dispatches one ';'-terminated statement, threading an
// explicit transaction across BEGIN/COMMIT/ROLLBACK the way a real
// driver's connection state would.
func execStatement(eng *executor.Engine, tx **executor.Tx, stmt string) error {
	cmd := parseCommand(stmt)
	switch cmd.verb {
	case "BEGIN":
		t, err := eng.Begin()
		if err != nil {
			return err
		}
		*tx = t
		return nil
	case "COMMIT":
		if *tx == nil {
			return fmt.Errorf("no active transaction")
		}
		err := (*tx).Commit()
		*tx = nil
		return err
	case "ROLLBACK":
		if *tx == nil {
			return fmt.Errorf("no active transaction")
		}
		err := (*tx).Rollback()
		*tx = nil
		return err
	case "CREATE":
		return execCreate(eng.DB(), cmd)
	case "INSERT":
		return execInsert(eng, *tx, cmd)
	case "SELECT":
		return execSelect(eng, *tx, cmd)
	case "UPDATE":
		return execUpdate(eng, *tx, cmd)
	case "DELETE":
		return execDelete(eng, *tx, cmd)
	case "":
		return nil
	default:
		return fmt.Errorf("unknown statement %q", cmd.verb)
	}
}

func execCreate(db *storage.DB, cmd command) error {
	toks := cmd.tokens
	if len(toks) < 2 {
		return fmt.Errorf("malformed CREATE statement")
	}
	switch strings.ToUpper(toks[1]) {
	case "TABLE":
		if len(toks) < 4 {
			return fmt.Errorf("usage: CREATE TABLE name (col type, ...)")
		}
		name := toks[2]
		paren := strings.Join(toks[3:], " ")
		paren = strings.TrimSpace(paren)
		if !strings.HasPrefix(paren, "(") || !strings.HasSuffix(paren, ")") {
			return fmt.Errorf("expected parenthesized column list")
		}
		paren = paren[1 : len(paren)-1]
		var cols []storage.Column
		for _, part := range strings.Split(paren, ",") {
			fields := strings.Fields(strings.TrimSpace(part))
			if len(fields) != 2 {
				return fmt.Errorf("malformed column definition %q", part)
			}
			ct, dim, err := parseColType(fields[1])
			if err != nil {
				return err
			}
			cols = append(cols, storage.Column{Name: fields[0], Type: ct, Dim: dim})
		}
		return db.CreateTable(name, cols)
	case "INDEX":
		if len(toks) < 5 || strings.ToUpper(toks[3]) != "ON" {
			return fmt.Errorf("usage: CREATE INDEX name ON table(column)")
		}
		idxName := toks[2]
		rest := toks[4]
		open := strings.Index(rest, "(")
		if open < 0 || !strings.HasSuffix(rest, ")") {
			return fmt.Errorf("usage: CREATE INDEX name ON table(column)")
		}
		table := rest[:open]
		column := rest[open+1 : len(rest)-1]
		_, err := db.CreateIndex(idxName, table, column)
		return err
	}
	return fmt.Errorf("unknown CREATE form %q", toks[1])
}

// execInsert parses `INSERT INTO table (col=val, col=val, ...)`.
func execInsert(eng *executor.Engine, tx *executor.Tx, cmd command) error {
	toks := cmd.tokens
	if len(toks) < 3 || strings.ToUpper(toks[1]) != "INTO" {
		return fmt.Errorf("usage: INSERT INTO table (col=val, ...)")
	}
	table := toks[2]
	paren := strings.Join(toks[3:], " ")
	paren = strings.TrimSpace(paren)
	if !strings.HasPrefix(paren, "(") || !strings.HasSuffix(paren, ")") {
		return fmt.Errorf("expected parenthesized assignment list")
	}
	paren = paren[1 : len(paren)-1]
	row := storage.Row{Values: map[string]storage.ColumnValue{}}
	for _, part := range splitTopLevel(strings.ReplaceAll(paren, ",", " , ")) {
		if part == "," {
			continue
		}
		eq := strings.Index(part, "=")
		if eq < 0 {
			return fmt.Errorf("malformed assignment %q", part)
		}
		col := part[:eq]
		val, err := parseValue(part[eq+1:])
		if err != nil {
			return err
		}
		row.Values[col] = val
	}
	id, err := eng.Insert(tx, table, row)
	if err != nil {
		return err
	}
	fmt.Printf("inserted row id=%d\n", id)
	return nil
}

func execSelect(eng *executor.Engine, tx *executor.Tx, cmd command) error {
	toks := cmd.tokens
	if len(toks) < 3 || strings.ToUpper(toks[1]) != "FROM" {
		return fmt.Errorf("usage: SELECT FROM table [WHERE ...] [ORDER BY ...] [LIMIT n] [OFFSET n]")
	}
	q := executor.Query{Table: toks[2]}
	i := 3
	for i < len(toks) {
		switch strings.ToUpper(toks[i]) {
		case "WHERE":
			j := i + 1
			for j < len(toks) && !isClauseStart(toks[j]) {
				j++
			}
			pred, err := parseWhere(toks[i+1 : j])
			if err != nil {
				return err
			}
			q.Where = pred
			i = j
		case "ORDER":
			if i+2 >= len(toks) || strings.ToUpper(toks[i+1]) != "BY" {
				return fmt.Errorf("expected ORDER BY")
			}
			if strings.ToUpper(toks[i+2]) == "SIMILARITY" {
				if i+6 >= len(toks) || strings.ToUpper(toks[i+3]) != "TO" || strings.ToUpper(toks[i+5]) != "DIM" {
					return fmt.Errorf("usage: ORDER BY SIMILARITY TO \"text\" DIM n")
				}
				text := strings.Trim(toks[i+4], `"`)
				dim, err := strconv.Atoi(toks[i+6])
				if err != nil {
					return fmt.Errorf("bad DIM %q: %w", toks[i+6], err)
				}
				q.Order.BySimilarity = true
				q.Order.QueryVector = executor.MockQueryVector(text, dim)
				i += 7
			} else if strings.ToUpper(toks[i+2]) == "VIBES" {
				q.Order.Vibes = true
				i += 3
			} else {
				q.Order.ByColumn = toks[i+2]
				i += 3
				if i < len(toks) && strings.ToUpper(toks[i]) == "DESC" {
					q.Order.Desc = true
					i++
				} else if i < len(toks) && strings.ToUpper(toks[i]) == "ASC" {
					i++
				}
			}
		case "LIMIT":
			n, err := strconv.Atoi(toks[i+1])
			if err != nil {
				return fmt.Errorf("bad LIMIT %q: %w", toks[i+1], err)
			}
			q.Limit = n
			i += 2
		case "OFFSET":
			n, err := strconv.Atoi(toks[i+1])
			if err != nil {
				return fmt.Errorf("bad OFFSET %q: %w", toks[i+1], err)
			}
			q.Offset = n
			i += 2
		default:
			return fmt.Errorf("unexpected token %q in SELECT", toks[i])
		}
	}

	rows, err := eng.Select(tx, q)
	if err != nil {
		return err
	}
	printRows(eng.DB(), q.Table, rows)
	return nil
}

func isClauseStart(tok string) bool {
	switch strings.ToUpper(tok) {
	case "ORDER", "LIMIT", "OFFSET":
		return true
	}
	return false
}

func execUpdate(eng *executor.Engine, tx *executor.Tx, cmd command) error {
	toks := cmd.tokens
	if len(toks) < 4 || strings.ToUpper(toks[2]) != "SET" {
		return fmt.Errorf("usage: UPDATE table SET col=val[,col=val] [WHERE ...]")
	}
	table := toks[1]
	i := 3
	sets := map[string]storage.ColumnValue{}
	for i < len(toks) && strings.ToUpper(toks[i]) != "WHERE" {
		for _, assign := range strings.Split(toks[i], ",") {
			assign = strings.TrimSpace(assign)
			if assign == "" {
				continue
			}
			eq := strings.Index(assign, "=")
			if eq < 0 {
				return fmt.Errorf("malformed assignment %q", assign)
			}
			val, err := parseValue(assign[eq+1:])
			if err != nil {
				return err
			}
			sets[assign[:eq]] = val
		}
		i++
	}
	var pred executor.Predicate = executor.True{}
	if i < len(toks) && strings.ToUpper(toks[i]) == "WHERE" {
		p, err := parseWhere(toks[i+1:])
		if err != nil {
			return err
		}
		pred = p
	}
	n, err := eng.Update(tx, table, sets, pred)
	if err != nil {
		return err
	}
	fmt.Printf("updated %d row(s)\n", n)
	return nil
}

func execDelete(eng *executor.Engine, tx *executor.Tx, cmd command) error {
	toks := cmd.tokens
	if len(toks) < 3 || strings.ToUpper(toks[1]) != "FROM" {
		return fmt.Errorf("usage: DELETE FROM table [WHERE ...]")
	}
	table := toks[2]
	var pred executor.Predicate = executor.True{}
	if len(toks) > 3 {
		if strings.ToUpper(toks[3]) != "WHERE" {
			return fmt.Errorf("expected WHERE")
		}
		p, err := parseWhere(toks[4:])
		if err != nil {
			return err
		}
		pred = p
	}
	n, err := eng.Delete(tx, table, pred)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d row(s)\n", n)
	return nil
}

// printRows renders rows in the teacher REPL's aligned-column style via
// text/tabwriter rather than hand-rolled width padding.
func printRows(db *storage.DB, tableName string, rows []storage.Row) {
	if len(rows) == 0 {
		fmt.Println("(0 rows)")
		return
	}
	table, err := db.Table(tableName)
	if err != nil {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	names := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		names[i] = c.Name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, row := range rows {
		cells := make([]string, len(names))
		for i, n := range names {
			cells[i] = cellString(row.Get(n))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Printf("(%d row(s))\n", len(rows))
}

func cellString(v storage.ColumnValue) string {
	switch v.Kind {
	case storage.KindNull:
		return "NULL"
	case storage.KindInt:
		return strconv.FormatInt(v.I, 10)
	case storage.KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case storage.KindBool:
		return strconv.FormatBool(v.B)
	case storage.KindText:
		return v.TextString()
	case storage.KindEmbedding:
		return fmt.Sprintf("<embedding[%d]>", len(v.Embed))
	default:
		return ""
	}
}
