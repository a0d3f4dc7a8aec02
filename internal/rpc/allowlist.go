package rpc

import "strings"

// tenantAllowedMethods is the fixed set of methods a tenant-authenticated
// connection may invoke. Anything outside this set is rejected for tenant
// callers no matter which scopes the connection holds.
var tenantAllowedMethods = map[string]struct{}{
	"health": {},

	// Full terminal surface; ownership is enforced inside the PTY manager.
	"terminal.spawn":  {},
	"terminal.write":  {},
	"terminal.resize": {},
	"terminal.close":  {},
	"terminal.list":   {},

	// Tenant self-management subset.
	"tenants.get":           {},
	"tenants.rotate":        {},
	"tenants.backup":        {},
	"tenants.backups.list":  {},
	"tenants.restore":       {},
	"tenants.delete":        {},
	"tenants.usage":         {},
	"tenants.quota.status":  {},
	"tenants.usage.history": {},

	"config.get":    {},
	"config.set":    {},
	"config.patch":  {},
	"config.schema": {},

	"agents.list":   {},
	"agents.get":    {},
	"agents.create": {},
	"agents.update": {},
	"agents.delete": {},

	// Sessions are list/preview only; no session mutation over tenant tokens.
	"sessions.list":    {},
	"sessions.preview": {},

	"cron.list":   {},
	"cron.get":    {},
	"cron.add":    {},
	"cron.update": {},
	"cron.remove": {},
	"cron.run":    {},
	"cron.runs":   {},

	"skills.list":   {},
	"skills.get":    {},
	"skills.add":    {},
	"skills.update": {},
	"skills.remove": {},

	"channels.start":  {},
	"channels.stop":   {},
	"channels.logout": {},
	"channels.status": {},

	"voicewake.get": {},
	"voicewake.set": {},

	"device.pair.request": {},
	"device.pair.verify":  {},
	"node.pair.request":   {},
	"node.pair.verify":    {},
}

// TenantAllowed reports whether a method is callable over a tenant token.
func TenantAllowed(method string) bool {
	_, ok := tenantAllowedMethods[method]
	return ok
}

// nodeMethods is the set callable by node-role connections.
var nodeMethods = map[string]struct{}{
	"health":            {},
	"node.heartbeat":    {},
	"node.event":        {},
	"node.pair.request": {},
	"node.pair.verify":  {},
}

// approvalMethods require the approvals scope.
var approvalMethods = map[string]struct{}{
	"approvals.get":     {},
	"approvals.set":     {},
	"approvals.resolve": {},
}

// pairingMethods require the pairing scope.
var pairingMethods = map[string]struct{}{
	"device.pair.request": {},
	"device.pair.verify":  {},
	"device.pair.list":    {},
	"device.pair.revoke":  {},
	"node.pair.request":   {},
	"node.pair.verify":    {},
}

// adminOnlyPrefixes always require the admin scope, even for callers holding
// the write scope.
var adminOnlyPrefixes = []string{
	"wizard.",
	"daemon.",
	"system.",
	"tenants.create",
	"tenants.list",
	"tenants.remove",
	"tenants.update",
}

func requiresAdmin(method string) bool {
	for _, p := range adminOnlyPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// readOnlySuffixes classify a method as a read; everything else is treated
// as a write.
var readOnlySuffixes = []string{
	".list",
	".get",
	".status",
	".preview",
	".schema",
	".history",
}

func isReadMethod(method string) bool {
	if method == "health" || method == "status" {
		return true
	}
	for _, s := range readOnlySuffixes {
		if strings.HasSuffix(method, s) {
			return true
		}
	}
	return false
}
