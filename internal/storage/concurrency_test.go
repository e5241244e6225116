package storage

import (
	"testing"
	"time"
)

// TestMaintenanceSchedulerRunsCheckpoint exercises the cron-driven
// checkpoint path end to end: a job firing every second must actually
// invoke db.Checkpoint() and update the catalog's job bookkeeping.
func TestMaintenanceSchedulerRunsCheckpoint(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenDB(dir, WithWalDir(dir+"/wal"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	if err := db.CreateTable("t", []Column{{Name: "id", Type: ColInt}}); err != nil {
		t.Fatal(err)
	}

	sched := db.Scheduler()
	if sched == nil {
		t.Fatal("Scheduler() returned nil")
	}
	if err := sched.ScheduleCheckpoint("@every 200ms"); err != nil {
		t.Fatalf("ScheduleCheckpoint: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := db.Catalog().GetJob("checkpoint")
		if err == nil && job.LastRunAt != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("scheduled checkpoint job never ran within the deadline")
}

func TestCatalogRegisterAndListTables(t *testing.T) {
	cat := NewCatalogManager()
	cols := []Column{{Name: "id", Type: ColInt}, {Name: "name", Type: ColText}}
	if err := cat.RegisterTable("main", "widgets", cols); err != nil {
		t.Fatal(err)
	}
	tables := cat.GetTables()
	if len(tables) != 1 || tables[0].Name != "widgets" {
		t.Fatalf("GetTables() = %+v, want one table named widgets", tables)
	}
	gotCols := cat.GetColumns("main", "widgets")
	if len(gotCols) != 2 {
		t.Fatalf("GetColumns = %+v, want 2 entries", gotCols)
	}
}

func TestCatalogJobLifecycle(t *testing.T) {
	cat := NewCatalogManager()
	if err := cat.RegisterJob(&CatalogJob{Name: "nightly", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.GetJob("missing"); err == nil {
		t.Fatal("expected error for unregistered job")
	}
	jobs := cat.ListEnabledJobs()
	if len(jobs) != 1 {
		t.Fatalf("ListEnabledJobs = %d, want 1", len(jobs))
	}
	if err := cat.DeleteJob("nightly"); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.GetJob("nightly"); err == nil {
		t.Fatal("job should be gone after DeleteJob")
	}
}
