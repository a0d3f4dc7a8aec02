package rpc

// Authorize gates one method call against the connection's identity. Checks
// run in a fixed order; the tenant allow-list check is the load-bearing
// isolation rail and runs before any scope evaluation.
func Authorize(method string, caller Caller) *Error {
	// 1. Node connections may only call the node set.
	if caller.Role == RoleNode {
		if _, ok := nodeMethods[method]; !ok {
			return Unauthorized("method not available for node role")
		}
		return nil
	}

	// 2. Anything else must declare the operator role explicitly. An admin
	// scope without a role does not count.
	if caller.Role != RoleOperator {
		return Unauthorized("connection has no operator role")
	}

	// 3. Tenant-authenticated connections are confined to the allow-list
	// regardless of scopes.
	if caller.IsTenant() && !TenantAllowed(method) {
		return InvalidRequest("method not available for tenant token")
	}

	// 4. Admin scope short-circuits the remaining scope checks.
	if caller.IsAdmin() {
		return nil
	}

	// 5. Scoped method families.
	if _, ok := approvalMethods[method]; ok && !caller.HasScope(ScopeApprovals) {
		return Unauthorized("approvals scope required")
	}
	if _, ok := pairingMethods[method]; ok && !caller.HasScope(ScopePairing) {
		return Unauthorized("pairing scope required")
	}

	// 6. Read methods accept read or write scope; writes require write.
	if isReadMethod(method) {
		if !caller.HasScope(ScopeRead) && !caller.HasScope(ScopeWrite) {
			return Unauthorized("read scope required")
		}
	} else if !caller.HasScope(ScopeWrite) {
		return Unauthorized("write scope required")
	}

	// 7. Some method families are admin-only no matter the scopes held.
	if requiresAdmin(method) {
		return Unauthorized("admin scope required")
	}

	return nil
}
