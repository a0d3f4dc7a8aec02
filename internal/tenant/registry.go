// Package tenant owns the tenant registry: the single-file JSON document
// holding every tenant record, token generation and constant-time
// validation, and the per-tenant state directory tree.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/quota"
)

var (
	// ErrInvalidTenantID indicates the id fails the tenant id pattern
	ErrInvalidTenantID = errors.New("invalid tenant id (expected ^[a-z0-9][a-z0-9_-]{0,31}$)")

	// ErrTenantExists indicates a create collided with an existing record
	ErrTenantExists = errors.New("tenant already exists")

	// ErrTenantNotFound indicates the tenant id is not in the registry
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidToken indicates a malformed tenant token
	ErrInvalidToken = errors.New("invalid tenant token")
)

const registryVersion = 1

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidateID checks a tenant id against the id pattern.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidTenantID
	}
	return nil
}

// Entry is one tenant record as persisted in tenants.json.
type Entry struct {
	ID          string        `json:"id"`
	TokenHash   string        `json:"tokenHash"`
	DisplayName string        `json:"displayName,omitempty"`
	Disabled    bool          `json:"disabled,omitempty"`
	Quotas      *quota.Quotas `json:"quotas,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastSeenAt  time.Time     `json:"lastSeenAt,omitempty"`
}

// Context is the resolved identity attached to a validated tenant token.
type Context struct {
	TenantID string
	StateDir string
	Quotas   *quota.Quotas
}

type registryFile struct {
	Version int               `json:"version"`
	Tenants map[string]*Entry `json:"tenants"`
}

// Registry persists tenant records to {stateDir}/tenants.json. All mutations
// load, modify and save under a single writer lock; the file is written with
// owner-only permissions.
type Registry struct {
	stateDir string

	mu sync.Mutex
}

// NewRegistry returns a registry rooted at the given state directory.
func NewRegistry(stateDir string) *Registry {
	return &Registry{stateDir: stateDir}
}

// StateDir returns the configured state directory root.
func (r *Registry) StateDir() string {
	return r.stateDir
}

// TenantDir returns the state subtree for one tenant.
func (r *Registry) TenantDir(tenantID string) string {
	return filepath.Join(r.stateDir, "tenants", tenantID)
}

func (r *Registry) registryPath() string {
	return filepath.Join(r.stateDir, "tenants.json")
}

// load reads the registry document. A missing or unparseable file is treated
// as an empty registry so first-run installs bootstrap cleanly.
func (r *Registry) load() *registryFile {
	doc := &registryFile{Version: registryVersion, Tenants: map[string]*Entry{}}
	data, err := os.ReadFile(r.registryPath())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read tenant registry, starting empty")
		}
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		log.Warn().Err(err).Msg("tenant registry unparseable, starting empty")
		return &registryFile{Version: registryVersion, Tenants: map[string]*Entry{}}
	}
	if doc.Tenants == nil {
		doc.Tenants = map[string]*Entry{}
	}
	return doc
}

// save writes the registry document with mode 0600 via temp-file rename.
func (r *Registry) save(doc *registryFile) error {
	doc.Version = registryVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tenant registry: %w", err)
	}
	if err := os.MkdirAll(r.stateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp := r.registryPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write tenant registry: %w", err)
	}
	if err := os.Rename(tmp, r.registryPath()); err != nil {
		return fmt.Errorf("failed to replace tenant registry: %w", err)
	}
	return nil
}

// tenantSubdirs is the state tree created for every tenant.
var tenantSubdirs = []string{
	"workspace",
	"agents",
	"memory",
	"plugins",
	"sandboxes",
	"credentials",
	"cron",
	"usage",
}

// CreateOptions are the optional attributes accepted at create.
type CreateOptions struct {
	DisplayName string
}

// Create registers a new tenant and returns the plaintext token, the only
// time it is ever available.
func (r *Registry) Create(tenantID string, opts CreateOptions) (string, *Entry, error) {
	if err := ValidateID(tenantID); err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	if _, exists := doc.Tenants[tenantID]; exists {
		return "", nil, ErrTenantExists
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", nil, err
	}

	entry := &Entry{
		ID:          tenantID,
		TokenHash:   HashSecret(secret),
		DisplayName: opts.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}
	doc.Tenants[tenantID] = entry

	if err := r.save(doc); err != nil {
		return "", nil, err
	}

	// Initialize the tenant's state tree.
	dir := r.TenantDir(tenantID)
	for _, sub := range tenantSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return "", nil, fmt.Errorf("failed to create tenant state dir: %w", err)
		}
	}

	log.Info().Str("tenantId", tenantID).Msg("tenant created")
	return BuildToken(tenantID, secret), entry, nil
}

// RemoveOptions control tenant removal.
type RemoveOptions struct {
	// DeleteData removes the tenant's entire state subtree.
	DeleteData bool
}

// Remove deletes a tenant record and, optionally, its data.
func (r *Registry) Remove(tenantID string, opts RemoveOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	if _, exists := doc.Tenants[tenantID]; !exists {
		return ErrTenantNotFound
	}
	delete(doc.Tenants, tenantID)
	if err := r.save(doc); err != nil {
		return err
	}

	if opts.DeleteData {
		if err := os.RemoveAll(r.TenantDir(tenantID)); err != nil {
			return fmt.Errorf("failed to delete tenant data: %w", err)
		}
	}

	log.Info().Str("tenantId", tenantID).Bool("deleteData", opts.DeleteData).Msg("tenant removed")
	return nil
}

// Rotate replaces the tenant's secret and returns the new plaintext token.
func (r *Registry) Rotate(tenantID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	entry, exists := doc.Tenants[tenantID]
	if !exists {
		return "", ErrTenantNotFound
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	entry.TokenHash = HashSecret(secret)

	if err := r.save(doc); err != nil {
		return "", err
	}

	log.Info().Str("tenantId", tenantID).Msg("tenant token rotated")
	return BuildToken(tenantID, secret), nil
}

// UpdateParams are the selectively-applied mutable fields of a tenant. A nil
// field is left untouched.
type UpdateParams struct {
	DisplayName *string       `json:"displayName,omitempty"`
	Disabled    *bool         `json:"disabled,omitempty"`
	Quotas      *quota.Quotas `json:"quotas,omitempty"`
}

// Update applies a selective field write to a tenant record.
func (r *Registry) Update(tenantID string, params UpdateParams) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	entry, exists := doc.Tenants[tenantID]
	if !exists {
		return nil, ErrTenantNotFound
	}

	if params.DisplayName != nil {
		entry.DisplayName = *params.DisplayName
	}
	if params.Disabled != nil {
		entry.Disabled = *params.Disabled
	}
	if params.Quotas != nil {
		entry.Quotas = params.Quotas
	}

	if err := r.save(doc); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns one tenant record, or nil when absent.
func (r *Registry) Get(tenantID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load().Tenants[tenantID]
}

// List returns all tenant ids, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	ids := make([]string, 0, len(doc.Tenants))
	for id := range doc.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateToken resolves a wire token to a tenant context. It fails on
// malformed tokens, unknown or disabled tenants, and on secret mismatch
// (checked in constant time). On success the tenant's lastSeenAt is
// refreshed.
func (r *Registry) ValidateToken(token string) (*Context, bool) {
	tenantID, secret, err := ParseToken(token)
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	entry, exists := doc.Tenants[tenantID]
	if !exists || entry.Disabled {
		// Burn a hash anyway so presence of the tenant id is not
		// observable through response timing.
		VerifySecret(secret, HashSecret(""))
		return nil, false
	}

	if !VerifySecret(secret, entry.TokenHash) {
		return nil, false
	}

	entry.LastSeenAt = time.Now().UTC()
	if err := r.save(doc); err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("failed to persist lastSeenAt")
	}

	return &Context{
		TenantID: tenantID,
		StateDir: r.TenantDir(tenantID),
		Quotas:   entry.Quotas,
	}, true
}
