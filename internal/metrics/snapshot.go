package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
)

// Snapshot is the periodically persisted system view consumed by the control
// plane status endpoint.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	SysBytes       uint64 `json:"sysBytes"`
	NumGC          uint32 `json:"numGc"`

	Connections int `json:"connections"`
	Terminals   int `json:"terminals"`
	Tenants     int `json:"tenants"`
}

// Counts supplies the gateway-level gauges the snapshot embeds. Each func may
// be nil.
type Counts struct {
	Connections func() int
	Terminals   func() int
	Tenants     func() int
}

// SnapshotWriter persists a system snapshot every interval to
// {stateDir}/metrics/system-current.json, with one rollup file per hour under
// metrics/system-hourly/.
type SnapshotWriter struct {
	stateDir string
	counts   Counts
	interval time.Duration
	stopCh   chan struct{}

	// now is injectable for tests.
	now func() time.Time
}

// NewSnapshotWriter builds a writer; interval defaults to one minute.
func NewSnapshotWriter(stateDir string, counts Counts, interval time.Duration) *SnapshotWriter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SnapshotWriter{
		stateDir: stateDir,
		counts:   counts,
		interval: interval,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start begins collecting. The first snapshot is written immediately.
func (w *SnapshotWriter) Start() {
	go func() {
		w.collect()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.collect()
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop halts the writer.
func (w *SnapshotWriter) Stop() {
	close(w.stopCh)
}

func (w *SnapshotWriter) take() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := Snapshot{
		Timestamp:      w.now().UTC(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		SysBytes:       mem.Sys,
		NumGC:          mem.NumGC,
	}
	if w.counts.Connections != nil {
		snap.Connections = w.counts.Connections()
	}
	if w.counts.Terminals != nil {
		snap.Terminals = w.counts.Terminals()
	}
	if w.counts.Tenants != nil {
		snap.Tenants = w.counts.Tenants()
	}
	return snap
}

func (w *SnapshotWriter) collect() {
	snap := w.take()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode system snapshot")
		return
	}

	dir := filepath.Join(w.stateDir, "metrics")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Warn().Err(err).Msg("failed to create metrics dir")
		return
	}

	current := filepath.Join(dir, "system-current.json")
	tmp := current + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err == nil {
		_ = os.Rename(tmp, current)
	} else {
		log.Warn().Err(err).Msg("failed to write system snapshot")
	}

	// Hourly rollup: the last snapshot written in each hour wins.
	hourlyDir := filepath.Join(dir, "system-hourly")
	if err := os.MkdirAll(hourlyDir, 0o700); err != nil {
		return
	}
	hourly := filepath.Join(hourlyDir, snap.Timestamp.Format("2006-01-02T15")+".json")
	if err := os.WriteFile(hourly, data, 0o600); err != nil {
		log.Warn().Err(err).Msg("failed to write hourly snapshot")
	}
}

// ReadCurrent loads the most recent snapshot, or nil when none exists.
func ReadCurrent(stateDir string) *Snapshot {
	data, err := os.ReadFile(filepath.Join(stateDir, "metrics", "system-current.json"))
	if err != nil {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	return &snap
}
