package rpc

import (
	"strings"
	"testing"
)

func operatorCaller(scopes ...string) Caller {
	return Caller{ConnID: "c1", Role: RoleOperator, Scopes: scopes}
}

func tenantCaller(tenantID string, scopes ...string) Caller {
	c := operatorCaller(scopes...)
	c.TenantID = tenantID
	return c
}

func TestAuthorizeTenantAllowList(t *testing.T) {
	caller := tenantCaller("tenant-a", ScopeRead, ScopeWrite)

	// Methods outside the allow-list are rejected with INVALID_REQUEST even
	// though the connection holds read+write scopes.
	for _, method := range []string{"wizard.start", "status", "sessions.delete", "approvals.set", "daemon.restart"} {
		err := Authorize(method, caller)
		if err == nil {
			t.Fatalf("Authorize(%q, tenant) allowed", method)
		}
		if err.Code != CodeInvalidRequest {
			t.Errorf("Authorize(%q) code = %s, want INVALID_REQUEST", method, err.Code)
		}
		if !strings.Contains(err.Message, "not available for tenant token") {
			t.Errorf("Authorize(%q) message = %q", method, err.Message)
		}
	}

	// Allow-listed methods pass for the same caller.
	for _, method := range []string{"health", "terminal.spawn", "tenants.get", "cron.run", "config.patch", "sessions.list"} {
		if err := Authorize(method, caller); err != nil {
			t.Errorf("Authorize(%q, tenant) = %v, want ok", method, err)
		}
	}
}

func TestAuthorizeTenantAllowListBeatsAdminScope(t *testing.T) {
	// Even an admin-scoped tenant connection stays confined.
	caller := tenantCaller("tenant-a", ScopeAdmin, ScopeRead, ScopeWrite)
	err := Authorize("wizard.start", caller)
	if err == nil || err.Code != CodeInvalidRequest {
		t.Errorf("admin-scoped tenant calling wizard.start: %v", err)
	}
	if err := Authorize("terminal.spawn", caller); err != nil {
		t.Errorf("admin-scoped tenant on allow-listed method: %v", err)
	}
}

func TestAuthorizeNodeRole(t *testing.T) {
	node := Caller{ConnID: "n1", Role: RoleNode}
	if err := Authorize("node.heartbeat", node); err != nil {
		t.Errorf("node.heartbeat for node role: %v", err)
	}
	if err := Authorize("health", node); err != nil {
		t.Errorf("health for node role: %v", err)
	}
	if err := Authorize("terminal.spawn", node); err == nil || err.Code != CodeUnauthorized {
		t.Errorf("terminal.spawn for node role: %v", err)
	}
}

func TestAuthorizeRequiresExplicitOperatorRole(t *testing.T) {
	// Admin scope without a role fails closed.
	caller := Caller{ConnID: "c1", Scopes: []string{ScopeAdmin}}
	if err := Authorize("health", caller); err == nil || err.Code != CodeUnauthorized {
		t.Errorf("roleless caller: %v", err)
	}
}

func TestAuthorizeScopes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		caller Caller
		wantOK bool
	}{
		{"read method with read scope", "sessions.list", operatorCaller(ScopeRead), true},
		{"read method with write scope", "sessions.list", operatorCaller(ScopeWrite), true},
		{"read method with no scope", "sessions.list", operatorCaller(), false},
		{"write method with read scope", "agents.create", operatorCaller(ScopeRead), false},
		{"write method with write scope", "agents.create", operatorCaller(ScopeWrite), true},
		{"approvals without scope", "approvals.set", operatorCaller(ScopeWrite), false},
		{"approvals with scope", "approvals.set", operatorCaller(ScopeApprovals, ScopeWrite), true},
		{"pairing without scope", "device.pair.request", operatorCaller(ScopeWrite), false},
		{"pairing with scope", "device.pair.request", operatorCaller(ScopePairing, ScopeWrite), true},
		{"admin-only prefix with write scope", "wizard.start", operatorCaller(ScopeWrite), false},
		{"admin-only prefix with admin scope", "wizard.start", operatorCaller(ScopeAdmin), true},
		{"tenants.create requires admin", "tenants.create", operatorCaller(ScopeWrite), false},
		{"tenants.create with admin", "tenants.create", operatorCaller(ScopeAdmin), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.method, tt.caller)
			if (err == nil) != tt.wantOK {
				t.Errorf("Authorize(%q) = %v, wantOK=%v", tt.method, err, tt.wantOK)
			}
		})
	}
}
