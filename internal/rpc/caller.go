package rpc

// Role is the declared role of a connection from the connect handshake.
type Role string

const (
	RoleOperator Role = "operator"
	RoleNode     Role = "node"
)

// Scope names granted at the connect handshake.
const (
	ScopeAdmin     = "admin"
	ScopeRead      = "operator.read"
	ScopeWrite     = "operator.write"
	ScopeApprovals = "operator.approvals"
	ScopePairing   = "operator.pairing"
)

// Caller is the authenticated identity of one connection as seen by the
// authorizer and handlers. A non-empty TenantID marks a tenant-authenticated
// connection regardless of scopes.
type Caller struct {
	ConnID   string
	TenantID string
	SourceIP string
	Role     Role
	Scopes   []string
}

// HasScope reports whether the caller holds a scope.
func (c Caller) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the caller holds the admin scope.
func (c Caller) IsAdmin() bool {
	return c.HasScope(ScopeAdmin)
}

// IsTenant reports whether the connection is tenant-authenticated.
func (c Caller) IsTenant() bool {
	return c.TenantID != ""
}
