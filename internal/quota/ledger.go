package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Ledger persists per-tenant usage snapshots and rate-limit state under
// {stateDir}/tenants/{tenantId}/usage/. Locks are sharded by tenant id so
// unrelated tenants never serialize on each other.
type Ledger struct {
	stateDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	diskMu    sync.Mutex
	diskCache map[string]diskCacheEntry

	// now is injectable for tests.
	now func() time.Time
}

// NewLedger returns a ledger rooted at the given state directory.
func NewLedger(stateDir string) *Ledger {
	return &Ledger{
		stateDir:  stateDir,
		locks:     make(map[string]*sync.Mutex),
		diskCache: make(map[string]diskCacheEntry),
		now:       time.Now,
	}
}

// SetClock replaces the ledger's time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Period formats a time as the ledger's period label, YYYY-MM in UTC.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (l *Ledger) lockFor(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[tenantID] = m
	}
	return m
}

func (l *Ledger) tenantDir(tenantID string) string {
	return filepath.Join(l.stateDir, "tenants", tenantID)
}

func (l *Ledger) usageDir(tenantID string) string {
	return filepath.Join(l.tenantDir(tenantID), "usage")
}

func (l *Ledger) currentPath(tenantID string) string {
	return filepath.Join(l.usageDir(tenantID), "current.json")
}

func (l *Ledger) archivePath(tenantID, period string) string {
	return filepath.Join(l.usageDir(tenantID), period+".json")
}

func freshSnapshot(period string, now time.Time) *UsageSnapshot {
	return &UsageSnapshot{Period: period, UpdatedAt: now}
}

// loadUsageLocked reads the current snapshot, rolling it over when the
// stored period is not the current month: the old snapshot is archived under
// its own period label and a zeroed snapshot takes its place.
func (l *Ledger) loadUsageLocked(tenantID string) (*UsageSnapshot, error) {
	now := l.now().UTC()
	period := Period(now)

	data, err := os.ReadFile(l.currentPath(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return freshSnapshot(period, now), nil
		}
		return nil, fmt.Errorf("failed to read usage snapshot: %w", err)
	}

	snap := &UsageSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("usage snapshot unparseable, resetting")
		return freshSnapshot(period, now), nil
	}

	if snap.Period != period {
		if snap.Period != "" {
			if err := writeJSONFile(l.archivePath(tenantID, snap.Period), snap); err != nil {
				return nil, fmt.Errorf("failed to archive usage period %s: %w", snap.Period, err)
			}
		}
		snap = freshSnapshot(period, now)
		if err := writeJSONFile(l.currentPath(tenantID), snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (l *Ledger) saveUsageLocked(tenantID string, snap *UsageSnapshot) error {
	snap.UpdatedAt = l.now().UTC()
	return writeJSONFile(l.currentPath(tenantID), snap)
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create usage dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

// LoadUsage returns the tenant's current-period snapshot, performing the
// month rollover when due.
func (l *Ledger) LoadUsage(tenantID string) (*UsageSnapshot, error) {
	lock := l.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return l.loadUsageLocked(tenantID)
}

// TokenUsage is one accounting increment from an agent run.
type TokenUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostCents        int64
	Messages         int64
}

// UpdateTokenUsage adds token and cost counters to the current snapshot.
func (l *Ledger) UpdateTokenUsage(tenantID string, u TokenUsage) error {
	lock := l.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := l.loadUsageLocked(tenantID)
	if err != nil {
		return err
	}
	snap.InputTokens += u.InputTokens
	snap.OutputTokens += u.OutputTokens
	snap.CacheReadTokens += u.CacheReadTokens
	snap.CacheWriteTokens += u.CacheWriteTokens
	snap.TotalTokens = snap.InputTokens + snap.OutputTokens + snap.CacheReadTokens + snap.CacheWriteTokens
	snap.CostCents += u.CostCents
	snap.MessageCount += u.Messages
	return l.saveUsageLocked(tenantID, snap)
}

// UpdateSessionCount adjusts the active session gauge. Positive deltas also
// bump the lifetime session counter; activeSessions never goes below zero.
func (l *Ledger) UpdateSessionCount(tenantID string, delta int) error {
	lock := l.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := l.loadUsageLocked(tenantID)
	if err != nil {
		return err
	}
	snap.ActiveSessions += delta
	if snap.ActiveSessions < 0 {
		snap.ActiveSessions = 0
	}
	if delta > 0 {
		snap.TotalSessions += int64(delta)
	}
	return l.saveUsageLocked(tenantID, snap)
}

// UpdateSandboxUsage accumulates sandbox CPU time and tracks peak memory.
func (l *Ledger) UpdateSandboxUsage(tenantID string, cpuSeconds float64, memoryBytes int64) error {
	lock := l.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := l.loadUsageLocked(tenantID)
	if err != nil {
		return err
	}
	snap.SandboxCPUSeconds += cpuSeconds
	if memoryBytes > snap.SandboxPeakMemoryBytes {
		snap.SandboxPeakMemoryBytes = memoryBytes
	}
	return l.saveUsageLocked(tenantID, snap)
}

// History returns archived snapshots, newest period first.
func (l *Ledger) History(tenantID string) ([]*UsageSnapshot, error) {
	entries, err := os.ReadDir(l.usageDir(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list usage history: %w", err)
	}

	var periods []string
	for _, e := range entries {
		name := e.Name()
		if name == "current.json" || name == "rate-limits.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		periods = append(periods, strings.TrimSuffix(name, ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))

	var out []*UsageSnapshot
	for _, p := range periods {
		data, err := os.ReadFile(l.archivePath(tenantID, p))
		if err != nil {
			log.Warn().Err(err).Str("tenantId", tenantID).Str("period", p).Msg("failed to read archived usage")
			continue
		}
		snap := &UsageSnapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}
