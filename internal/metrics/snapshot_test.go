package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotWriterWritesCurrentAndHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewSnapshotWriter(dir, Counts{
		Connections: func() int { return 3 },
		Terminals:   func() int { return 1 },
		Tenants:     func() int { return 7 },
	}, time.Minute)
	w.now = func() time.Time {
		return time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	}

	w.collect()

	snap := ReadCurrent(dir)
	if snap == nil {
		t.Fatal("no current snapshot written")
	}
	if snap.Connections != 3 || snap.Terminals != 1 || snap.Tenants != 7 {
		t.Errorf("snapshot counts = %+v", snap)
	}
	if snap.Goroutines <= 0 {
		t.Error("goroutine count missing")
	}

	hourly := filepath.Join(dir, "metrics", "system-hourly", "2026-04-02T09.json")
	if _, err := os.Stat(hourly); err != nil {
		t.Errorf("hourly rollup missing: %v", err)
	}
}

func TestReadCurrentMissing(t *testing.T) {
	if snap := ReadCurrent(t.TempDir()); snap != nil {
		t.Errorf("ReadCurrent on empty dir = %+v", snap)
	}
}
