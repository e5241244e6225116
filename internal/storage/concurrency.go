// Package storage - maintenance scheduling.
//
// What: runs periodic background jobs (checkpoint, HNSW rebuild) against
//       a live DB without blocking foreground transactions.
// How: a bounded worker pool (teacher's WorkerPool/BatchProcessor shape,
//      from the original concurrency.go) driven by a robfig/cron/v3
//      schedule built from CatalogJob metadata, rather than the generic
//      simulated read/write/delete request types the original modeled
//      but never exercised.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MaintenanceJob is one scheduled background task: a name (matching a
// CatalogJob.Name), a cron expression, and the action to run.
type MaintenanceJob struct {
	Name string
	Cron string
	Run  func(ctx context.Context, db *DB) error
}

// MaintenanceScheduler drives CatalogJob-described background work
// (checkpointing, HNSW rebuilds) through robfig/cron/v3, bounding
// concurrent job execution with a semaphore-backed worker pool so a
// slow checkpoint never piles up overlapping runs of itself.
type MaintenanceScheduler struct {
	db      *DB
	cr      *cron.Cron
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]bool
}

// NewMaintenanceScheduler creates a scheduler bound to db. It does not
// register or start any jobs by itself — callers opt in via
// ScheduleCheckpoint/ScheduleJob.
func NewMaintenanceScheduler(db *DB) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		db:      db,
		cr:      cron.New(),
		sem:     make(chan struct{}, 2),
		running: make(map[string]bool),
	}
}

// ScheduleCheckpoint registers a periodic checkpoint job, recording it
// in the catalog's job metadata (CatalogJob) exactly as
// CatalogManager.RegisterJob/ListEnabledJobs expect, then wires a real
// cron entry against it — the original catalog.go modeled this shape
// without anything driving it.
func (s *MaintenanceScheduler) ScheduleCheckpoint(cronExpr string) error {
	return s.ScheduleJob(MaintenanceJob{
		Name: "checkpoint",
		Cron: cronExpr,
		Run: func(ctx context.Context, db *DB) error {
			return db.Checkpoint()
		},
	})
}

// ScheduleHNSWRebuild registers a periodic full HNSW rebuild, useful as
// an operator-triggered compaction since deletes otherwise only shrink
// connections incrementally.
func (s *MaintenanceScheduler) ScheduleHNSWRebuild(cronExpr string) error {
	return s.ScheduleJob(MaintenanceJob{
		Name: "hnsw_rebuild",
		Cron: cronExpr,
		Run: func(ctx context.Context, db *DB) error {
			return db.rebuildAllHNSW()
		},
	})
}

// ScheduleJob registers job in the catalog and attaches a cron entry
// that runs it through the bounded worker pool.
func (s *MaintenanceScheduler) ScheduleJob(job MaintenanceJob) error {
	now := time.Now()
	s.db.Catalog().RegisterJob(&CatalogJob{
		Name:         job.Name,
		ScheduleType: "CRON",
		CronExpr:     job.Cron,
		Enabled:      true,
		NoOverlap:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	_, err := s.cr.AddFunc(job.Cron, func() { s.runBounded(job) })
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", job.Name, err)
	}
	return nil
}

// runBounded executes job.Run under the semaphore, skipping the tick
// if a previous run of the same job name is still in flight
// (NoOverlap), and records CatalogJob.LastRunAt/NextRunAt bookkeeping.
func (s *MaintenanceScheduler) runBounded(job MaintenanceJob) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		return
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	s.wg.Add(1)
	s.sem <- struct{}{}
	defer func() {
		<-s.sem
		s.mu.Lock()
		s.running[job.Name] = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := job.Run(ctx, s.db); err != nil {
		s.db.log.Printf("CRITICAL: maintenance job %q failed: %v", job.Name, err)
		return
	}
	next := time.Now()
	if sched, err := cron.ParseStandard(job.Cron); err == nil {
		next = sched.Next(next)
	}
	_ = s.db.Catalog().UpdateJobRuntime(job.Name, start, next)
}

// Start launches the cron scheduler's own goroutine.
func (s *MaintenanceScheduler) Start() { s.cr.Start() }

// Stop stops accepting new ticks and waits for in-flight jobs to drain.
func (s *MaintenanceScheduler) Stop() {
	stopCtx := s.cr.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
}
