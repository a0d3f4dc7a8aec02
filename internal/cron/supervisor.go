package cron

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/tenant"
)

// EventSink is the connection registry surface the supervisor needs: global
// fan-out for the operator scheduler, tenant-scoped fan-out for tenant
// schedulers.
type EventSink interface {
	Broadcast(event string, payload any, dropIfSlow bool)
	BroadcastToTenant(tenantID, event string, payload any, dropIfSlow bool)
}

// globalEvents adapts the sink so the global scheduler broadcasts to every
// connection.
type globalEvents struct {
	sink EventSink
}

func (g globalEvents) BroadcastToTenant(_, event string, payload any, dropIfSlow bool) {
	g.sink.Broadcast(event, payload, dropIfSlow)
}

// tenantEvents narrows the sink to the Broadcaster shape.
type tenantEvents struct {
	sink EventSink
}

func (t tenantEvents) BroadcastToTenant(tenantID, event string, payload any, dropIfSlow bool) {
	t.sink.BroadcastToTenant(tenantID, event, payload, dropIfSlow)
}

// Supervisor owns the global scheduler and the per-tenant scheduler map.
// Tenant schedulers are created on first use and live until the tenant is
// removed; they are never stopped for merely having zero jobs.
type Supervisor struct {
	tenants *tenant.Registry
	deps    Deps
	sink    EventSink

	// enabled gates whether newly ensured schedulers start immediately.
	enabled bool

	mu        sync.Mutex
	global    *TenantScheduler
	perTenant map[string]*TenantScheduler
}

// NewSupervisor builds a supervisor. Nothing starts until StartAll or the
// first EnsureTenant with scheduling enabled.
func NewSupervisor(tenants *tenant.Registry, sink EventSink, deps Deps, enabled bool) *Supervisor {
	s := &Supervisor{
		tenants:   tenants,
		deps:      deps,
		sink:      sink,
		enabled:   enabled,
		perTenant: make(map[string]*TenantScheduler),
	}
	globalDeps := deps
	globalDeps.Events = globalEvents{sink: sink}
	s.global = NewTenantScheduler("", tenants.StateDir(), globalDeps)
	return s
}

// GetGlobal returns the global scheduler.
func (s *Supervisor) GetGlobal() *TenantScheduler {
	return s.global
}

// GetTenant returns a tenant's scheduler, or nil when none exists yet.
func (s *Supervisor) GetTenant(tenantID string) *TenantScheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perTenant[tenantID]
}

// EnsureTenant returns the tenant's scheduler, constructing it on first call.
// When scheduling is enabled the new scheduler starts immediately; otherwise
// it is created stopped.
func (s *Supervisor) EnsureTenant(tenantID string) *TenantScheduler {
	s.mu.Lock()
	sched, exists := s.perTenant[tenantID]
	if !exists {
		deps := s.deps
		deps.Events = tenantEvents{sink: s.sink}
		sched = NewTenantScheduler(tenantID, s.tenants.TenantDir(tenantID), deps)
		s.perTenant[tenantID] = sched
	}
	enabled := s.enabled
	s.mu.Unlock()

	if !exists && enabled {
		sched.Start()
	}
	return sched
}

// Remove stops and drops a tenant's scheduler. Called when the tenant is
// disabled or deleted.
func (s *Supervisor) Remove(tenantID string) {
	s.mu.Lock()
	sched, exists := s.perTenant[tenantID]
	delete(s.perTenant, tenantID)
	s.mu.Unlock()

	if exists {
		sched.Stop()
	}
}

// StartAll starts the global scheduler, then constructs and starts a
// scheduler for every non-disabled tenant that has stored jobs.
func (s *Supervisor) StartAll() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()

	s.global.Start()

	for _, tenantID := range s.tenants.List() {
		entry := s.tenants.Get(tenantID)
		if entry == nil || entry.Disabled {
			continue
		}
		if NewStore(s.tenants.TenantDir(tenantID)).Len() == 0 {
			continue
		}
		s.EnsureTenant(tenantID).Start()
	}
	log.Info().Int("tenantSchedulers", s.count()).Msg("schedulers started")
}

// StopAll stops the global scheduler and every tenant scheduler.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.enabled = false
	scheds := make([]*TenantScheduler, 0, len(s.perTenant))
	for _, sched := range s.perTenant {
		scheds = append(scheds, sched)
	}
	s.mu.Unlock()

	s.global.Stop()
	for _, sched := range scheds {
		sched.Stop()
	}
}

func (s *Supervisor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.perTenant)
}
