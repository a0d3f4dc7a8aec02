package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

func (l *Ledger) ratePath(tenantID string) string {
	return filepath.Join(l.usageDir(tenantID), "rate-limits.json")
}

func (l *Ledger) loadRateLocked(tenantID string) *RateLimitState {
	state := &RateLimitState{}
	data, err := os.ReadFile(l.ratePath(tenantID))
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, state); err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("rate-limit state unparseable, resetting")
		return &RateLimitState{}
	}
	return state
}

// prune drops timestamps that have left their windows. Called on every
// access before any check.
func (s *RateLimitState) prune(now time.Time) {
	s.LastMinute = pruneWindow(s.LastMinute, now, time.Minute)
	s.LastHour = pruneWindow(s.LastHour, now, time.Hour)
}

func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// retryAfter computes how long until the oldest timestamp in a full window
// expires, the hint attached to rate_limited denials.
func retryAfter(ts []time.Time, now time.Time, window time.Duration) time.Duration {
	if len(ts) == 0 {
		return time.Second
	}
	d := ts[0].Add(window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

// CheckAndRecordRequest enforces the per-minute and per-hour request
// windows. On an allowed request the timestamp is appended, the state is
// persisted and the usage snapshot's request counters are refreshed.
func (l *Ledger) CheckAndRecordRequest(tenantID string, quotas *Quotas) Decision {
	lock := l.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	now := l.now().UTC()
	state := l.loadRateLocked(tenantID)
	state.prune(now)

	if quotas != nil {
		if quotas.RequestsPerMinute != nil && len(state.LastMinute) >= *quotas.RequestsPerMinute {
			wait := retryAfter(state.LastMinute, now, time.Minute)
			return Decision{
				Reason:       DenyRateLimited,
				Message:      fmt.Sprintf("rate limit exceeded: %d requests/minute", *quotas.RequestsPerMinute),
				RetryAfterMs: wait.Milliseconds(),
			}
		}
		if quotas.RequestsPerHour != nil && len(state.LastHour) >= *quotas.RequestsPerHour {
			wait := retryAfter(state.LastHour, now, time.Hour)
			return Decision{
				Reason:       DenyRateLimited,
				Message:      fmt.Sprintf("rate limit exceeded: %d requests/hour", *quotas.RequestsPerHour),
				RetryAfterMs: wait.Milliseconds(),
			}
		}
	}

	state.LastMinute = append(state.LastMinute, now)
	state.LastHour = append(state.LastHour, now)
	if err := writeJSONFile(l.ratePath(tenantID), state); err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("failed to persist rate-limit state")
	}

	snap, err := l.loadUsageLocked(tenantID)
	if err == nil {
		snap.TotalRequests++
		snap.RequestsThisMinute = len(state.LastMinute)
		snap.RequestsThisHour = len(state.LastHour)
		if err := l.saveUsageLocked(tenantID, snap); err != nil {
			log.Warn().Err(err).Str("tenantId", tenantID).Msg("failed to persist request counters")
		}
	}

	return Decision{Allowed: true}
}

// CheckQuotaBeforeRequest runs the full pre-request gate: the rate windows
// first, then cumulative caps in priority order tokens, cost, disk,
// concurrent sessions. Soft-limit crossings attach a warning to an allowed
// decision.
func (l *Ledger) CheckQuotaBeforeRequest(tenantID string, quotas *Quotas) Decision {
	decision := l.CheckAndRecordRequest(tenantID, quotas)
	if !decision.Allowed {
		return decision
	}
	capDecision := l.EvaluateQuota(tenantID, quotas)
	if !capDecision.Allowed {
		return capDecision
	}
	decision.Warning = capDecision.Warning
	return decision
}

// EvaluateQuota checks the cumulative caps without recording a request or
// touching the rate windows. Status surfaces poll this; the request gate
// composes it with CheckAndRecordRequest.
func (l *Ledger) EvaluateQuota(tenantID string, quotas *Quotas) Decision {
	decision := Decision{Allowed: true}
	if quotas == nil {
		return decision
	}

	snap, err := l.LoadUsage(tenantID)
	if err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("failed to load usage for quota check")
		return decision
	}

	if quotas.MonthlyTokens != nil && snap.TotalTokens >= *quotas.MonthlyTokens {
		return Decision{
			Reason:  DenyQuotaExceeded,
			Message: fmt.Sprintf("monthly token quota exhausted (%d of %d)", snap.TotalTokens, *quotas.MonthlyTokens),
		}
	}
	if quotas.MonthlyCostCents != nil && snap.CostCents >= *quotas.MonthlyCostCents {
		return Decision{
			Reason:  DenyQuotaExceeded,
			Message: fmt.Sprintf("monthly cost quota exhausted (%d of %d cents)", snap.CostCents, *quotas.MonthlyCostCents),
		}
	}
	if quotas.DiskBytes != nil && snap.Disk.TotalBytes >= *quotas.DiskBytes {
		return Decision{
			Reason:  DenyDiskFull,
			Message: fmt.Sprintf("disk quota exhausted (%d of %d bytes)", snap.Disk.TotalBytes, *quotas.DiskBytes),
		}
	}
	if quotas.ConcurrentSessions != nil && snap.ActiveSessions >= *quotas.ConcurrentSessions {
		return Decision{
			Reason:  DenySessionsExceeded,
			Message: fmt.Sprintf("concurrent session limit reached (%d)", *quotas.ConcurrentSessions),
		}
	}

	if quotas.MonthlyTokensSoft != nil && snap.TotalTokens >= *quotas.MonthlyTokensSoft {
		decision.Warning = fmt.Sprintf("approaching monthly token quota: %d used", snap.TotalTokens)
	} else if quotas.MonthlyCostCentsSoft != nil && snap.CostCents >= *quotas.MonthlyCostCentsSoft {
		decision.Warning = fmt.Sprintf("approaching monthly cost quota: %d cents used", snap.CostCents)
	}

	return decision
}

// PercentUsed reports percent-of-cap per quota dimension. Values may exceed
// 100 when a limit is already breached; callers distinguish "over" from
// "approaching" and nothing here clamps.
func (l *Ledger) PercentUsed(tenantID string, quotas *Quotas) (map[string]float64, error) {
	snap, err := l.LoadUsage(tenantID)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	if quotas == nil {
		return out, nil
	}
	if quotas.MonthlyTokens != nil && *quotas.MonthlyTokens > 0 {
		out["tokens"] = float64(snap.TotalTokens) / float64(*quotas.MonthlyTokens) * 100
	}
	if quotas.MonthlyCostCents != nil && *quotas.MonthlyCostCents > 0 {
		out["cost"] = float64(snap.CostCents) / float64(*quotas.MonthlyCostCents) * 100
	}
	if quotas.DiskBytes != nil && *quotas.DiskBytes > 0 {
		out["disk"] = float64(snap.Disk.TotalBytes) / float64(*quotas.DiskBytes) * 100
	}
	if quotas.ConcurrentSessions != nil && *quotas.ConcurrentSessions > 0 {
		out["sessions"] = float64(snap.ActiveSessions) / float64(*quotas.ConcurrentSessions) * 100
	}
	return out, nil
}
