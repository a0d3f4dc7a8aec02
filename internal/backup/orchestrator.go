package backup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/tenant"
)

// archiveVersion is stamped into object metadata so future format changes
// can be detected at restore time.
const archiveVersion = "1"

// ErrNoStateDir indicates the tenant exists but has no state directory to
// archive.
var ErrNoStateDir = errors.New("tenant state directory does not exist")

// Orchestrator moves tenant state between disk and the object store.
type Orchestrator struct {
	tenants *tenant.Registry
	store   ObjectStore
	prefix  string

	// now is injectable for tests.
	now func() time.Time
}

// NewOrchestrator wires the backup pipeline.
func NewOrchestrator(tenants *tenant.Registry, store ObjectStore, prefix string) *Orchestrator {
	if prefix == "" {
		prefix = "backups"
	}
	return &Orchestrator{
		tenants: tenants,
		store:   store,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (o *Orchestrator) tenantPrefix(tenantID string) string {
	return o.prefix + "/" + tenantID + "/"
}

func (o *Orchestrator) defaultKey(tenantID string) string {
	stamp := o.now().UTC().Format("2006-01-02T15-04-05Z")
	return fmt.Sprintf("%s/%s/%s-%s.tar.gz", o.prefix, tenantID, tenantID, stamp)
}

// Backup archives a tenant's state directory and uploads it. Returns the
// object key.
func (o *Orchestrator) Backup(tenantID string) (string, error) {
	if o.tenants.Get(tenantID) == nil {
		return "", tenant.ErrTenantNotFound
	}
	dir := o.tenants.TenantDir(tenantID)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", ErrNoStateDir
	}

	var buf bytes.Buffer
	if err := WriteArchive(dir, &buf); err != nil {
		return "", err
	}

	key := o.defaultKey(tenantID)
	metadata := map[string]string{
		"tenant-id": tenantID,
		"timestamp": o.now().UTC().Format(time.RFC3339),
		"version":   archiveVersion,
	}
	if err := o.store.Put(key, buf.Bytes(), metadata); err != nil {
		return "", err
	}

	log.Info().Str("tenantId", tenantID).Str("key", key).Int("bytes", buf.Len()).Msg("backup uploaded")
	return key, nil
}

// RestoreOptions control restore behavior.
type RestoreOptions struct {
	// CreateIfMissing registers the tenant when absent. Only the control
	// plane and admin callers set this.
	CreateIfMissing bool
}

// Restore downloads a snapshot and replaces the tenant's state directory
// contents with it.
func (o *Orchestrator) Restore(tenantID, key string, opts RestoreOptions) error {
	if o.tenants.Get(tenantID) == nil {
		if !opts.CreateIfMissing {
			return tenant.ErrTenantNotFound
		}
		if _, _, err := o.tenants.Create(tenantID, tenant.CreateOptions{}); err != nil {
			return err
		}
	}

	data, err := o.store.Get(key)
	if err != nil {
		return err
	}

	dir := o.tenants.TenantDir(tenantID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := clearDir(dir); err != nil {
		return fmt.Errorf("failed to clear state dir: %w", err)
	}
	if err := ExtractArchive(bytes.NewReader(data), dir); err != nil {
		return err
	}

	log.Info().Str("tenantId", tenantID).Str("key", key).Msg("backup restored")
	return nil
}

// ListBackups returns a tenant's snapshots sorted newest-first.
func (o *Orchestrator) ListBackups(tenantID string) ([]ObjectInfo, error) {
	infos, err := o.store.List(o.tenantPrefix(tenantID))
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, k int) bool {
		if infos[i].LastModified.Equal(infos[k].LastModified) {
			return infos[i].Key > infos[k].Key
		}
		return infos[i].LastModified.After(infos[k].LastModified)
	})
	return infos, nil
}

// DeleteBackup removes one snapshot.
func (o *Orchestrator) DeleteBackup(key string) error {
	return o.store.Delete(key)
}

// Prune deletes the oldest snapshots beyond keepCount. Returns the number
// deleted.
func (o *Orchestrator) Prune(tenantID string, keepCount int) (int, error) {
	if keepCount < 0 {
		keepCount = 0
	}
	infos, err := o.ListBackups(tenantID)
	if err != nil {
		return 0, err
	}
	if len(infos) <= keepCount {
		return 0, nil
	}

	var deleted int
	for _, info := range infos[keepCount:] {
		if err := o.store.Delete(info.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	log.Info().Str("tenantId", tenantID).Int("deleted", deleted).Msg("backups pruned")
	return deleted, nil
}
