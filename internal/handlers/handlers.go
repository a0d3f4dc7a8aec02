package handlers

import (
	"time"

	"github.com/princevash/openclaw-mt/internal/backup"
	"github.com/princevash/openclaw-mt/internal/config"
	"github.com/princevash/openclaw-mt/internal/cron"
	"github.com/princevash/openclaw-mt/internal/gateway"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
	"github.com/princevash/openclaw-mt/internal/terminal"
)

// Deps are the subsystems the method handlers operate on.
type Deps struct {
	Config      *config.Config
	Tenants     *tenant.Registry
	Ledger      *quota.Ledger
	Connections *gateway.Registry
	Terminals   *terminal.Manager
	Scheduler   *cron.Supervisor
	Backups     *backup.Orchestrator

	Version   string
	StartedAt time.Time
}

// RegisterAll installs every RPC method on the dispatcher.
func RegisterAll(d *rpc.Dispatcher, deps Deps) {
	registerHealth(d, deps)
	registerTenantMethods(d, deps)
	registerConfigMethods(d, deps)
	registerAgentMethods(d, deps)
	registerSessionMethods(d, deps)
	registerSkillMethods(d, deps)
	registerChannelMethods(d, deps)
	registerVoiceWakeMethods(d, deps)
	registerPairingMethods(d, deps)

	terminal.RegisterMethods(d, deps.Terminals)
	cron.RegisterMethods(d, deps.Scheduler)
}

// evictTenant tears down a tenant's live resources: open connections, PTYs
// and scheduler. Called on disable, delete and remove.
func evictTenant(deps Deps, tenantID string) {
	if deps.Connections != nil {
		deps.Connections.EvictTenant(tenantID)
	}
	if deps.Terminals != nil {
		deps.Terminals.CloseAllTenantTerminals(tenantID)
	}
	if deps.Scheduler != nil {
		deps.Scheduler.Remove(tenantID)
	}
}

// resolveTenantID picks the tenant a tenants.* call operates on: the
// caller's own for tenant connections, an explicit param for operators.
func resolveTenantID(req *rpc.Request, param string) (string, *rpc.Error) {
	if req.Tenant != nil {
		// Tenant connections may only act on themselves; an explicit foreign
		// id is rejected rather than silently rescoped.
		if param != "" && param != req.Tenant.TenantID {
			return "", rpc.Unauthorized("cannot act on another tenant")
		}
		return req.Tenant.TenantID, nil
	}
	if param == "" {
		return "", rpc.InvalidRequest("tenantId is required")
	}
	return param, nil
}
