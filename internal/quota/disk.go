package quota

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// diskCacheTTL bounds how often the recursive size walk runs per tenant.
// The walk is slow by design and never sits on a request hot path; it only
// runs when an admin or the tenant asks for a refresh.
const diskCacheTTL = 30 * time.Second

type diskCacheEntry struct {
	usage DiskUsage
	at    time.Time
}

// RefreshDiskUsage recomputes the tenant's disk footprint with a native
// recursive walk, updates the usage snapshot, and returns the result.
// Results are cached for 30 seconds unless force is set.
func (l *Ledger) RefreshDiskUsage(tenantID string, force bool) (DiskUsage, error) {
	l.diskMu.Lock()
	if entry, ok := l.diskCache[tenantID]; ok && !force && l.now().Sub(entry.at) < diskCacheTTL {
		l.diskMu.Unlock()
		return entry.usage, nil
	}
	l.diskMu.Unlock()

	dir := l.tenantDir(tenantID)
	usage := DiskUsage{
		TotalBytes:     dirSize(dir),
		WorkspaceBytes: dirSize(filepath.Join(dir, "workspace")),
		AgentDataBytes: dirSize(filepath.Join(dir, "agents")),
		MemoryBytes:    dirSize(filepath.Join(dir, "memory")),
	}

	l.diskMu.Lock()
	l.diskCache[tenantID] = diskCacheEntry{usage: usage, at: l.now()}
	l.diskMu.Unlock()

	lock := l.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()
	snap, err := l.loadUsageLocked(tenantID)
	if err != nil {
		return usage, err
	}
	snap.Disk = usage
	return usage, l.saveUsageLocked(tenantID, snap)
}

// dirSize sums regular file sizes under root. Unreadable entries are
// skipped; a missing root counts as zero.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fs.SkipDir
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
