package quota

import (
	"testing"
	"time"
)

func TestCheckAndRecordRequestMinuteWindow(t *testing.T) {
	l, _ := newTestLedger(t)
	quotas := &Quotas{RequestsPerMinute: iv(3)}

	for i := 0; i < 3; i++ {
		d := l.CheckAndRecordRequest("demo", quotas)
		if !d.Allowed {
			t.Fatalf("request %d denied: %+v", i, d)
		}
	}

	d := l.CheckAndRecordRequest("demo", quotas)
	if d.Allowed {
		t.Fatal("4th request within the minute should be denied")
	}
	if d.Reason != DenyRateLimited {
		t.Errorf("Reason = %q, want rate_limited", d.Reason)
	}
	if d.RetryAfterMs <= 0 {
		t.Errorf("RetryAfterMs = %d, want > 0", d.RetryAfterMs)
	}
}

func TestRateWindowSlides(t *testing.T) {
	l, _ := newTestLedger(t)
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	now := base
	l.SetClock(func() time.Time { return now })

	quotas := &Quotas{RequestsPerMinute: iv(2)}
	for i := 0; i < 2; i++ {
		if d := l.CheckAndRecordRequest("demo", quotas); !d.Allowed {
			t.Fatalf("seed request denied: %+v", d)
		}
	}
	if d := l.CheckAndRecordRequest("demo", quotas); d.Allowed {
		t.Fatal("window full, should deny")
	}

	// 61 seconds later the window has drained.
	now = base.Add(61 * time.Second)
	if d := l.CheckAndRecordRequest("demo", quotas); !d.Allowed {
		t.Fatalf("request after window drain denied: %+v", d)
	}
}

func TestHourWindowIndependentOfMinute(t *testing.T) {
	l, _ := newTestLedger(t)
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	now := base
	l.SetClock(func() time.Time { return now })

	quotas := &Quotas{RequestsPerHour: iv(3)}
	for i := 0; i < 3; i++ {
		if d := l.CheckAndRecordRequest("demo", quotas); !d.Allowed {
			t.Fatalf("seed request denied: %+v", d)
		}
		now = now.Add(2 * time.Minute)
	}
	// Minute window is clear but hour window is full.
	if d := l.CheckAndRecordRequest("demo", quotas); d.Allowed {
		t.Fatal("hour window full, should deny")
	}
}

func TestCheckQuotaBeforeRequestPriority(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.UpdateTokenUsage("demo", TokenUsage{InputTokens: 1000, CostCents: 500}); err != nil {
		t.Fatal(err)
	}

	// Tokens are checked before cost even when both are exhausted.
	d := l.CheckQuotaBeforeRequest("demo", &Quotas{
		MonthlyTokens:    i64(100),
		MonthlyCostCents: i64(100),
	})
	if d.Allowed || d.Reason != DenyQuotaExceeded {
		t.Errorf("decision = %+v, want quota_exceeded", d)
	}

	// Cost alone.
	d = l.CheckQuotaBeforeRequest("demo", &Quotas{MonthlyCostCents: i64(100)})
	if d.Allowed || d.Reason != DenyQuotaExceeded {
		t.Errorf("decision = %+v, want quota_exceeded on cost", d)
	}
}

func TestCheckQuotaSessionsExceeded(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.UpdateSessionCount("demo", 3); err != nil {
		t.Fatal(err)
	}
	d := l.CheckQuotaBeforeRequest("demo", &Quotas{ConcurrentSessions: iv(3)})
	if d.Allowed || d.Reason != DenySessionsExceeded {
		t.Errorf("decision = %+v, want sessions_exceeded", d)
	}
}

func TestCheckQuotaSoftLimitWarning(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.UpdateTokenUsage("demo", TokenUsage{InputTokens: 900}); err != nil {
		t.Fatal(err)
	}
	d := l.CheckQuotaBeforeRequest("demo", &Quotas{
		MonthlyTokens:     i64(1000),
		MonthlyTokensSoft: i64(800),
	})
	if !d.Allowed {
		t.Fatalf("soft limit should not deny: %+v", d)
	}
	if d.Warning == "" {
		t.Error("expected a soft-limit warning on the allowed decision")
	}
}

func TestEvaluateQuotaDoesNotRecord(t *testing.T) {
	l, _ := newTestLedger(t)
	quotas := &Quotas{RequestsPerMinute: iv(1), MonthlyTokens: i64(1000)}

	// Repeated cap evaluations leave the rate windows and request counters
	// untouched.
	for i := 0; i < 3; i++ {
		if d := l.EvaluateQuota("demo", quotas); !d.Allowed {
			t.Fatalf("evaluation %d denied: %+v", i, d)
		}
	}

	snap, err := l.LoadUsage("demo")
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalRequests != 0 {
		t.Errorf("TotalRequests = %d after evaluations, want 0", snap.TotalRequests)
	}
	if d := l.CheckAndRecordRequest("demo", quotas); !d.Allowed {
		t.Fatalf("first real request denied after evaluations: %+v", d)
	}
}

func TestEvaluateQuotaDeniesOnExhaustedCap(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.UpdateTokenUsage("demo", TokenUsage{InputTokens: 50}); err != nil {
		t.Fatal(err)
	}
	d := l.EvaluateQuota("demo", &Quotas{MonthlyTokens: i64(10)})
	if d.Allowed || d.Reason != DenyQuotaExceeded {
		t.Errorf("decision = %+v, want quota_exceeded", d)
	}
}

func TestNilQuotasUnlimited(t *testing.T) {
	l, _ := newTestLedger(t)
	for i := 0; i < 50; i++ {
		if d := l.CheckQuotaBeforeRequest("demo", nil); !d.Allowed {
			t.Fatalf("request %d denied with nil quotas: %+v", i, d)
		}
	}
}
