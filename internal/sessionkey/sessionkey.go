// Package sessionkey implements the tenant session-key namespace.
//
// Every logical session owned by a tenant is addressed by a key of the form
// "tenant:{tenantId}:agent:{agentId}:{rest}". Keys without the "tenant:"
// prefix belong to the operator namespace ("agent:{agentId}:{rest}"). The
// functions here are pure; callers are responsible for persisting or routing
// the resulting keys.
package sessionkey

import (
	"errors"
	"regexp"
	"strings"
)

const (
	// TenantPrefix marks a key as owned by a tenant.
	TenantPrefix = "tenant:"

	agentSegment = "agent:"

	// DefaultMainKey is used when the caller does not name a sub-session.
	DefaultMainKey = "main"

	maxAgentIDLen = 64
)

// ErrTenantMismatch is returned when a tenant-prefixed key names a tenant
// other than the authenticated one.
var ErrTenantMismatch = errors.New("session key does not match authenticated tenant")

var invalidAgentChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// NormalizeAgentID maps an arbitrary agent identifier into the id alphabet:
// lowercased, invalid runs collapsed to "-", clipped to 64 characters. An
// identifier that normalizes to nothing falls back to "main".
func NormalizeAgentID(agentID string) string {
	id := strings.ToLower(strings.TrimSpace(agentID))
	id = invalidAgentChars.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")
	if len(id) > maxAgentIDLen {
		id = id[:maxAgentIDLen]
		id = strings.TrimRight(id, "-")
	}
	if id == "" {
		return DefaultMainKey
	}
	return id
}

// BuildTenantKey returns the canonical tenant session key
// "tenant:{tenantId}:agent:{agentId}:{mainKey}". The tenant id is lowercased
// and the agent id normalized; an empty mainKey becomes "main".
func BuildTenantKey(tenantID, agentID, mainKey string) string {
	if mainKey == "" {
		mainKey = DefaultMainKey
	}
	var b strings.Builder
	b.WriteString(TenantPrefix)
	b.WriteString(strings.ToLower(tenantID))
	b.WriteByte(':')
	b.WriteString(agentSegment)
	b.WriteString(NormalizeAgentID(agentID))
	b.WriteByte(':')
	b.WriteString(mainKey)
	return b.String()
}

// BuildCronKey returns the session key for a cron-initiated run,
// "tenant:{tenantId}:cron:{jobId}". Cron runs live in their own namespace so
// they never collide with user sessions.
func BuildCronKey(tenantID, jobID string) string {
	return TenantPrefix + strings.ToLower(tenantID) + ":cron:" + jobID
}

// Parsed is the decomposition of a tenant session key.
type Parsed struct {
	TenantID string
	AgentID  string
	Rest     string
}

// Parse splits a canonical tenant session key. It returns false when the key
// lacks the "tenant:" prefix or the interior "agent:{id}:" segment.
func Parse(key string) (Parsed, bool) {
	rest, ok := strings.CutPrefix(key, TenantPrefix)
	if !ok {
		return Parsed{}, false
	}
	tenantID, rest, ok := strings.Cut(rest, ":")
	if !ok || tenantID == "" {
		return Parsed{}, false
	}
	rest, ok = strings.CutPrefix(rest, agentSegment)
	if !ok {
		return Parsed{}, false
	}
	agentID, rest, ok := strings.Cut(rest, ":")
	if !ok || agentID == "" {
		return Parsed{}, false
	}
	return Parsed{TenantID: tenantID, AgentID: agentID, Rest: rest}, true
}

// OwnerTenant returns the tenant id of a tenant-prefixed key, or "" for keys
// in the operator namespace.
func OwnerTenant(key string) string {
	rest, ok := strings.CutPrefix(key, TenantPrefix)
	if !ok {
		return ""
	}
	tenantID, _, _ := strings.Cut(rest, ":")
	return tenantID
}

// ScopeToTenant forces a session key into the authenticated tenant's
// namespace. With an empty tenantID the key passes through unchanged. A key
// already carrying the tenant's own prefix is returned as-is; a key carrying
// a different tenant prefix is rejected with ErrTenantMismatch. Any other
// key gains the "tenant:{tenantId}:" prefix. The operation is idempotent.
func ScopeToTenant(key, tenantID string) (string, error) {
	if tenantID == "" {
		return key, nil
	}
	if owner := OwnerTenant(key); owner != "" {
		if owner != tenantID {
			return "", ErrTenantMismatch
		}
		return key, nil
	}
	return TenantPrefix + tenantID + ":" + key, nil
}
