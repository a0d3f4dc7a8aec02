package quota

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func i64(v int64) *int64 { return &v }
func iv(v int) *int      { return &v }

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLedger(dir), dir
}

func TestLoadUsageFreshTenant(t *testing.T) {
	l, _ := newTestLedger(t)
	snap, err := l.LoadUsage("demo")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Period != Period(time.Now()) {
		t.Errorf("Period = %q", snap.Period)
	}
	if snap.TotalTokens != 0 || snap.TotalRequests != 0 {
		t.Errorf("fresh snapshot not zeroed: %+v", snap)
	}
}

func TestUpdateTokenUsageInvariant(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.UpdateTokenUsage("demo", TokenUsage{
		InputTokens: 100, OutputTokens: 40, CacheReadTokens: 10, CacheWriteTokens: 5,
		CostCents: 3, Messages: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.UpdateTokenUsage("demo", TokenUsage{InputTokens: 1}); err != nil {
		t.Fatal(err)
	}

	snap, err := l.LoadUsage("demo")
	if err != nil {
		t.Fatal(err)
	}
	want := snap.InputTokens + snap.OutputTokens + snap.CacheReadTokens + snap.CacheWriteTokens
	if snap.TotalTokens != want {
		t.Errorf("TotalTokens = %d, want %d", snap.TotalTokens, want)
	}
	if snap.TotalTokens != 156 {
		t.Errorf("TotalTokens = %d, want 156", snap.TotalTokens)
	}
	if snap.CostCents != 3 || snap.MessageCount != 2 {
		t.Errorf("cost/messages = %d/%d", snap.CostCents, snap.MessageCount)
	}
}

func TestMonthRolloverArchivesOldSnapshot(t *testing.T) {
	l, dir := newTestLedger(t)

	january := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return january })

	if err := l.UpdateTokenUsage("demo", TokenUsage{InputTokens: 500, OutputTokens: 100}); err != nil {
		t.Fatal(err)
	}

	// Cross the month boundary.
	february := time.Date(2026, 2, 1, 0, 0, 1, 0, time.UTC)
	l.SetClock(func() time.Time { return february })

	snap, err := l.LoadUsage("demo")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Period != "2026-02" {
		t.Errorf("Period = %q, want 2026-02", snap.Period)
	}
	if snap.TotalTokens != 0 {
		t.Errorf("rolled-over snapshot not zeroed: TotalTokens = %d", snap.TotalTokens)
	}

	// Old snapshot archived under its period label.
	data, err := os.ReadFile(filepath.Join(dir, "tenants", "demo", "usage", "2026-01.json"))
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	archived := &UsageSnapshot{}
	if err := json.Unmarshal(data, archived); err != nil {
		t.Fatal(err)
	}
	if archived.Period != "2026-01" || archived.TotalTokens != 600 {
		t.Errorf("archived snapshot = %+v", archived)
	}

	hist, err := l.History("demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Period != "2026-01" {
		t.Errorf("History = %+v", hist)
	}
}

func TestSessionCountClampedAtZero(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.UpdateSessionCount("demo", 2); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdateSessionCount("demo", -5); err != nil {
		t.Fatal(err)
	}
	snap, _ := l.LoadUsage("demo")
	if snap.ActiveSessions != 0 {
		t.Errorf("ActiveSessions = %d, want 0", snap.ActiveSessions)
	}
	if snap.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", snap.TotalSessions)
	}
}

func TestSandboxUsagePeakMemory(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.UpdateSandboxUsage("demo", 1.5, 2048); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdateSandboxUsage("demo", 0.5, 1024); err != nil {
		t.Fatal(err)
	}
	snap, _ := l.LoadUsage("demo")
	if snap.SandboxCPUSeconds != 2.0 {
		t.Errorf("SandboxCPUSeconds = %v", snap.SandboxCPUSeconds)
	}
	if snap.SandboxPeakMemoryBytes != 2048 {
		t.Errorf("SandboxPeakMemoryBytes = %d, want 2048 (peak, not last)", snap.SandboxPeakMemoryBytes)
	}
}

func TestRefreshDiskUsage(t *testing.T) {
	l, dir := newTestLedger(t)
	ws := filepath.Join(dir, "tenants", "demo", "workspace")
	if err := os.MkdirAll(ws, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "file.bin"), make([]byte, 4096), 0o600); err != nil {
		t.Fatal(err)
	}

	usage, err := l.RefreshDiskUsage("demo", false)
	if err != nil {
		t.Fatal(err)
	}
	if usage.WorkspaceBytes != 4096 {
		t.Errorf("WorkspaceBytes = %d, want 4096", usage.WorkspaceBytes)
	}
	if usage.TotalBytes < 4096 {
		t.Errorf("TotalBytes = %d, want >= 4096", usage.TotalBytes)
	}

	// Grow the workspace; a cached read must not see it, a forced one must.
	if err := os.WriteFile(filepath.Join(ws, "more.bin"), make([]byte, 1024), 0o600); err != nil {
		t.Fatal(err)
	}
	cached, err := l.RefreshDiskUsage("demo", false)
	if err != nil {
		t.Fatal(err)
	}
	if cached.WorkspaceBytes != 4096 {
		t.Errorf("cached WorkspaceBytes = %d, want 4096", cached.WorkspaceBytes)
	}
	forced, err := l.RefreshDiskUsage("demo", true)
	if err != nil {
		t.Fatal(err)
	}
	if forced.WorkspaceBytes != 5120 {
		t.Errorf("forced WorkspaceBytes = %d, want 5120", forced.WorkspaceBytes)
	}
}

func TestPercentUsedUnclamped(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.UpdateTokenUsage("demo", TokenUsage{InputTokens: 1500}); err != nil {
		t.Fatal(err)
	}
	pct, err := l.PercentUsed("demo", &Quotas{MonthlyTokens: i64(1000)})
	if err != nil {
		t.Fatal(err)
	}
	if pct["tokens"] != 150 {
		t.Errorf("tokens pct = %v, want 150 (no clamping)", pct["tokens"])
	}
}
