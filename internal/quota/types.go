// Package quota tracks per-tenant, per-period usage counters, sliding-window
// rate limits and quota cap enforcement. All counters are keyed by tenant and
// by calendar month (UTC, "YYYY-MM"). State is persisted under the tenant's
// usage directory: current.json for the live snapshot, {YYYY-MM}.json for
// archived months, rate-limits.json for the rate windows.
package quota

import "time"

// Quotas are the optional caps attached to a tenant record. A nil field
// means unlimited.
type Quotas struct {
	// Monthly token caps. Soft limits produce warnings, hard limits deny.
	MonthlyTokens     *int64 `json:"monthlyTokens,omitempty"`
	MonthlyTokensSoft *int64 `json:"monthlyTokensSoft,omitempty"`

	// Monthly cost caps in cents.
	MonthlyCostCents     *int64 `json:"monthlyCostCents,omitempty"`
	MonthlyCostCentsSoft *int64 `json:"monthlyCostCentsSoft,omitempty"`

	DiskBytes          *int64 `json:"diskBytes,omitempty"`
	ConcurrentSessions *int   `json:"concurrentSessions,omitempty"`

	RequestsPerMinute *int `json:"requestsPerMinute,omitempty"`
	RequestsPerHour   *int `json:"requestsPerHour,omitempty"`

	// Sandbox resource caps, passed through to the PTY spawner.
	SandboxCPUPercent  *int   `json:"sandboxCpuPercent,omitempty"`
	SandboxMemoryBytes *int64 `json:"sandboxMemoryBytes,omitempty"`
	SandboxDiskBytes   *int64 `json:"sandboxDiskBytes,omitempty"`
	SandboxPids        *int   `json:"sandboxPids,omitempty"`
}

// DiskUsage decomposes a tenant's on-disk footprint.
type DiskUsage struct {
	TotalBytes     int64 `json:"totalBytes"`
	WorkspaceBytes int64 `json:"workspaceBytes"`
	AgentDataBytes int64 `json:"agentDataBytes"`
	MemoryBytes    int64 `json:"memoryBytes"`
}

// UsageSnapshot is the per-tenant usage ledger for one calendar month.
type UsageSnapshot struct {
	Period string `json:"period"` // YYYY-MM, UTC

	InputTokens      int64 `json:"inputTokens"`
	OutputTokens     int64 `json:"outputTokens"`
	CacheReadTokens  int64 `json:"cacheReadTokens"`
	CacheWriteTokens int64 `json:"cacheWriteTokens"`
	TotalTokens      int64 `json:"totalTokens"`

	CostCents int64 `json:"costCents"`

	Disk DiskUsage `json:"disk"`

	ActiveSessions int   `json:"activeSessions"`
	TotalSessions  int64 `json:"totalSessions"`
	MessageCount   int64 `json:"messageCount"`

	TotalRequests      int64 `json:"totalRequests"`
	RequestsThisMinute int   `json:"requestsThisMinute"`
	RequestsThisHour   int   `json:"requestsThisHour"`

	SandboxCPUSeconds      float64 `json:"sandboxCpuSeconds"`
	SandboxPeakMemoryBytes int64   `json:"sandboxPeakMemoryBytes"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// RateLimitState holds the two bounded sliding windows of request
// timestamps. Entries older than the window are dropped on each access
// before any check.
type RateLimitState struct {
	LastMinute []time.Time `json:"lastMinute"`
	LastHour   []time.Time `json:"lastHour"`
}

// DenyReason enumerates why a request was rejected by quota enforcement.
type DenyReason string

const (
	DenyQuotaExceeded    DenyReason = "quota_exceeded"
	DenyRateLimited      DenyReason = "rate_limited"
	DenyDiskFull         DenyReason = "disk_full"
	DenySessionsExceeded DenyReason = "sessions_exceeded"
)

// Decision is the outcome of a pre-request quota check.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
	Message string     `json:"message,omitempty"`

	// Warning is set on allowed results that crossed a soft limit.
	Warning string `json:"warning,omitempty"`

	// RetryAfterMs accompanies rate_limited denials.
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
}
