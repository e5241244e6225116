package storage

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Options configures a DB, following the teacher's functional-option
// constructor idiom (db.go's OpenDB(path, mode, opts...)).
type Options struct {
	WalDir      string
	SegmentSize int64
	HNSW        HNSWParams
	Logger      *log.Logger

	// CheckpointCron, if non-empty, schedules a periodic checkpoint
	// job through MaintenanceScheduler as soon as OpenDB returns
	// (spec.md §9 supplemented feature: scheduled checkpointing).
	CheckpointCron string
}

type Option func(*Options)

func WithWalDir(dir string) Option { return func(o *Options) { o.WalDir = dir } }

func WithSegmentSize(n int64) Option { return func(o *Options) { o.SegmentSize = n } }

func WithHNSWParams(p HNSWParams) Option { return func(o *Options) { o.HNSW = p } }

func WithLogger(l *log.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithCheckpointCron schedules a periodic checkpoint at the given
// robfig/cron/v3 standard five-field expression (e.g. "*/15 * * * *"
// for every 15 minutes), started automatically when OpenDB returns.
func WithCheckpointCron(expr string) Option { return func(o *Options) { o.CheckpointCron = expr } }

func defaultOptions(dataDir string) Options {
	return Options{
		WalDir:      filepath.Join(dataDir, "wal"),
		SegmentSize: defaultSegmentSize,
		HNSW:        DefaultHNSWParams(),
		Logger:      log.New(os.Stderr, "zvdb: ", log.LstdFlags),
	}
}

// DB is the top-level handle tying together the transaction manager,
// tables, secondary indexes, WAL, and checkpoint/recovery machinery.
type DB struct {
	InstanceID uuid.UUID

	mu             sync.RWMutex
	dataDir        string
	opts           Options
	tables         map[string]*Table
	btreeIndexes   map[string]*BTreeIndex   // index name -> index
	indexesByTable map[string][]*BTreeIndex // table name -> indexes on it
	hnsw           map[int]*HNSWIndex       // embedding dimension -> graph

	clog *CLog
	tx   *TxManager
	wal  *WAL

	catalog   *CatalogManager
	scheduler *MaintenanceScheduler

	log *log.Logger
}

// OpenDB opens (or creates) a database rooted at dataDir, running the
// recovery sequence of spec.md §4.8 if a checkpoint or WAL tail exists.
func OpenDB(dataDir string, opts ...Option) (*DB, error) {
	o := defaultOptions(dataDir)
	for _, fn := range opts {
		fn(&o)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, wrapErr(CodeOutOfMemory, "mkdir data dir", err)
	}

	db := &DB{
		InstanceID:     loadOrCreateInstanceID(dataDir),
		dataDir:        dataDir,
		opts:           o,
		tables:         make(map[string]*Table),
		btreeIndexes:   make(map[string]*BTreeIndex),
		indexesByTable: make(map[string][]*BTreeIndex),
		hnsw:           make(map[int]*HNSWIndex),
		clog:           NewCLog(),
		catalog:        NewCatalogManager(),
		log:            o.Logger,
	}

	recovered, err := db.recover()
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		db.log.Printf("instance %s: recovered %d transactions from wal", db.InstanceID, recovered)
	}

	wal, err := OpenWAL(o.WalDir, o.SegmentSize, db.clog.MaxTxID()+1)
	if err != nil {
		return nil, err
	}
	db.wal = wal
	db.tx.AttachWAL(wal)

	db.scheduler = NewMaintenanceScheduler(db)
	if o.CheckpointCron != "" {
		if err := db.scheduler.ScheduleCheckpoint(o.CheckpointCron); err != nil {
			return nil, wrapErr(CodeInvalidSyntax, "schedule checkpoint cron", err)
		}
		db.scheduler.Start()
	}
	return db, nil
}

// Scheduler returns the maintenance scheduler so callers may register
// additional jobs (e.g. ScheduleHNSWRebuild) and start it explicitly
// when CheckpointCron was left unset.
func (db *DB) Scheduler() *MaintenanceScheduler { return db.scheduler }

// CreateTable registers a new, empty table.
func (db *DB) CreateTable(name string, cols []Column) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[name]; ok {
		return wrapErr(CodeInvalidSyntax, "table already exists: "+name, nil)
	}
	db.tables[name] = NewTable(name, cols)
	db.catalog.RegisterTable("main", name, cols)
	return nil
}

func (db *DB) Table(name string) (*Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

func (db *DB) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[name]; !ok {
		return ErrTableNotFound
	}
	delete(db.tables, name)
	for idxName, idx := range db.btreeIndexes {
		if idx.Table == name {
			delete(db.btreeIndexes, idxName)
		}
	}
	delete(db.indexesByTable, name)
	return nil
}

// CreateIndex builds (or registers) a B-tree secondary index on
// table.column, naming it indexName.
func (db *DB) CreateIndex(indexName, table, column string) (*BTreeIndex, error) {
	db.mu.Lock()
	t, ok := db.tables[table]
	if !ok {
		db.mu.Unlock()
		return nil, ErrTableNotFound
	}
	if _, ok := db.btreeIndexes[indexName]; ok {
		db.mu.Unlock()
		return nil, ErrIndexAlreadyExists
	}
	idx := NewBTreeIndex(table, column)
	db.btreeIndexes[indexName] = idx
	db.indexesByTable[table] = append(db.indexesByTable[table], idx)
	db.mu.Unlock()

	snap := db.adminSnapshot()
	for _, id := range t.GetAllRowIDs() {
		row, ok := t.Get(id, snap, db.clog)
		if !ok {
			continue
		}
		idx.Insert(row.Get(column), id)
	}
	return idx, nil
}

// adminSnapshot is a pseudo-snapshot that sees every committed version
// as of "now" regardless of in-flight writers — used by maintenance
// operations (CreateIndex backfill, HNSW rebuild) that need to walk
// the whole table rather than one transaction's consistent view.
func (db *DB) adminSnapshot() Snapshot {
	max := ^uint64(0)
	return Snapshot{Self: max, XminHorizon: max, XmaxHorizon: max, InFlight: nil}
}

func (db *DB) DropIndex(indexName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	idx, ok := db.btreeIndexes[indexName]
	if !ok {
		return ErrIndexNotFound
	}
	delete(db.btreeIndexes, indexName)
	list := db.indexesByTable[idx.Table]
	for i, e := range list {
		if e == idx {
			db.indexesByTable[idx.Table] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (db *DB) Index(indexName string) (*BTreeIndex, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	idx, ok := db.btreeIndexes[indexName]
	return idx, ok
}

func (db *DB) IndexesOnTable(table string) []*BTreeIndex {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]*BTreeIndex(nil), db.indexesByTable[table]...)
}

// HNSWForDim returns the graph for embedding dimension d, creating it
// on first use (the executor's INSERT, UPDATE and DELETE paths all call
// it) — a bare lookup (HasHNSWForDim) is used
// by the `SIMILARITY TO` path, which errors rather than auto-creating,
// per spec.md §9's Open Question.
func (db *DB) HNSWForDim(d int) *HNSWIndex {
	db.mu.Lock()
	defer db.mu.Unlock()
	h, ok := db.hnsw[d]
	if !ok {
		h = NewHNSWIndex(d, db.opts.HNSW)
		db.hnsw[d] = h
	}
	return h
}

func (db *DB) HasHNSWForDim(d int) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.hnsw[d]
	return ok
}

func (db *DB) TxManager() *TxManager { return db.tx }
func (db *DB) CLog() *CLog           { return db.clog }
func (db *DB) WAL() *WAL             { return db.wal }
func (db *DB) Catalog() *CatalogManager {
	if db.catalog == nil {
		db.catalog = NewCatalogManager()
	}
	return db.catalog
}

func (db *DB) TableNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]string, 0, len(db.tables))
	for n := range db.tables {
		out = append(out, n)
	}
	return out
}

// DumpCatalogJSON renders the system catalog (tables, columns, views,
// functions, scheduled jobs) plus this instance's id as a JSON debug
// introspection dump, via JSONMarshal/normalizeForJSON.
func (db *DB) DumpCatalogJSON() ([]byte, error) {
	cat := db.Catalog()
	dump := map[string]any{
		"instance_id": db.InstanceID,
		"tables":      cat.GetTables(),
		"columns":     cat.GetAllColumns(),
		"views":       cat.GetViews(),
		"functions":   cat.GetFunctions(),
		"jobs":        cat.ListJobs(),
	}
	return JSONMarshal(dump)
}

// Close flushes and closes the WAL and stops the maintenance scheduler.
func (db *DB) Close() error {
	if db.scheduler != nil {
		db.scheduler.Stop()
	}
	if db.wal != nil {
		return db.wal.Close()
	}
	return nil
}
