package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/princevash/openclaw-mt/internal/tenant"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	tree := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.Mode().IsRegular() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestArchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "workspace", "notes.md"), "hello")
	writeFile(t, filepath.Join(src, "agents", "main", "config.json"), `{"model":"x"}`)
	writeFile(t, filepath.Join(src, "cron", "jobs.json"), "{}")

	var buf bytes.Buffer
	if err := WriteArchive(src, &buf); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	if err := ExtractArchive(bytes.NewReader(buf.Bytes()), dst); err != nil {
		t.Fatal(err)
	}

	got, want := readTree(t, dst), readTree(t, src)
	if len(got) != len(want) {
		t.Fatalf("extracted %d files, want %d", len(got), len(want))
	}
	for path, content := range want {
		if got[path] != content {
			t.Errorf("file %s = %q, want %q", path, got[path], content)
		}
	}
}

// hostileArchive builds a gzipped tar containing benign entries alongside a
// traversal entry and an escaping symlink.
func hostileArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	add := func(hdr *tar.Header, body string) {
		hdr.Format = tar.FormatPAX
		if body != "" {
			hdr.Size = int64(len(body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if body != "" {
			if _, err := tw.Write([]byte(body)); err != nil {
				t.Fatal(err)
			}
		}
	}

	add(&tar.Header{Name: "safe.txt", Typeflag: tar.TypeReg, Mode: 0o644}, "fine")
	add(&tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0o644}, "evil")
	add(&tar.Header{Name: "/abs.txt", Typeflag: tar.TypeReg, Mode: 0o644}, "evil")
	add(&tar.Header{Name: "inner", Typeflag: tar.TypeSymlink, Linkname: "../../escape", Mode: 0o777}, "")
	add(&tar.Header{Name: "nested/ok.txt", Typeflag: tar.TypeReg, Mode: 0o644}, "also fine")

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractBlocksPathTraversal(t *testing.T) {
	parent := t.TempDir()
	target := filepath.Join(parent, "state")
	if err := os.MkdirAll(target, 0o700); err != nil {
		t.Fatal(err)
	}

	if err := ExtractArchive(bytes.NewReader(hostileArchive(t)), target); err != nil {
		t.Fatalf("restore failed outright: %v", err)
	}

	// Benign entries landed.
	tree := readTree(t, target)
	if tree["safe.txt"] != "fine" || tree["nested/ok.txt"] != "also fine" {
		t.Errorf("benign entries missing: %v", tree)
	}

	// Nothing escaped the target directory.
	if _, err := os.Lstat(filepath.Join(parent, "escape.txt")); !os.IsNotExist(err) {
		t.Error("traversal entry escaped the target dir")
	}
	if _, err := os.Lstat(filepath.Join(target, "inner")); !os.IsNotExist(err) {
		t.Error("escaping symlink was created")
	}
	if _, err := os.Lstat(filepath.Join(target, "abs.txt")); !os.IsNotExist(err) {
		t.Error("absolute-path entry was created")
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *tenant.Registry, *MemoryStore) {
	t.Helper()
	tenants := tenant.NewRegistry(t.TempDir())
	store := NewMemoryStore()
	return NewOrchestrator(tenants, store, "backups"), tenants, store
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	o, tenants, _ := newTestOrchestrator(t)
	if _, _, err := tenants.Create("acme", tenant.CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	dir := tenants.TenantDir("acme")
	writeFile(t, filepath.Join(dir, "workspace", "doc.txt"), "v1")

	key, err := o.Backup("acme")
	if err != nil {
		t.Fatal(err)
	}
	before := readTree(t, dir)

	// Mutate, then restore the snapshot.
	writeFile(t, filepath.Join(dir, "workspace", "doc.txt"), "v2")
	writeFile(t, filepath.Join(dir, "workspace", "junk.txt"), "junk")
	if err := o.Restore("acme", key, RestoreOptions{}); err != nil {
		t.Fatal(err)
	}

	after := readTree(t, dir)
	if len(after) != len(before) {
		t.Fatalf("restored %d files, want %d", len(after), len(before))
	}
	for path, content := range before {
		if after[path] != content {
			t.Errorf("file %s = %q, want %q", path, after[path], content)
		}
	}
}

func TestBackupUnknownTenant(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	if _, err := o.Backup("ghost"); err != tenant.ErrTenantNotFound {
		t.Errorf("Backup = %v, want ErrTenantNotFound", err)
	}
}

func TestRestoreCreateIfMissing(t *testing.T) {
	o, tenants, store := newTestOrchestrator(t)

	// Seed a snapshot without a registered tenant.
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "workspace", "doc.txt"), "imported")
	var buf bytes.Buffer
	if err := WriteArchive(src, &buf); err != nil {
		t.Fatal(err)
	}
	if err := store.Put("backups/ghost/ghost-x.tar.gz", buf.Bytes(), nil); err != nil {
		t.Fatal(err)
	}

	if err := o.Restore("ghost", "backups/ghost/ghost-x.tar.gz", RestoreOptions{}); err != tenant.ErrTenantNotFound {
		t.Fatalf("restore without create = %v, want ErrTenantNotFound", err)
	}
	if err := o.Restore("ghost", "backups/ghost/ghost-x.tar.gz", RestoreOptions{CreateIfMissing: true}); err != nil {
		t.Fatal(err)
	}
	if tenants.Get("ghost") == nil {
		t.Error("tenant not created by restore")
	}
	tree := readTree(t, tenants.TenantDir("ghost"))
	if tree["workspace/doc.txt"] != "imported" {
		t.Errorf("restored tree = %v", tree)
	}
}

func TestListBackupsNewestFirstAndPrune(t *testing.T) {
	o, tenants, _ := newTestOrchestrator(t)
	if _, _, err := tenants.Create("acme", tenant.CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(tenants.TenantDir("acme"), "workspace", "f.txt"), "x")

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	var keys []string
	for i := 0; i < 4; i++ {
		stamp := base.Add(time.Duration(i) * time.Hour)
		o.now = func() time.Time { return stamp }
		key, err := o.Backup("acme")
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, key)
	}

	infos, err := o.ListBackups("acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 4 {
		t.Fatalf("listed %d backups, want 4", len(infos))
	}
	if infos[0].Key != keys[3] || infos[3].Key != keys[0] {
		t.Errorf("not newest-first: %+v", infos)
	}

	deleted, err := o.Prune("acme", 2)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("pruned %d, want 2", deleted)
	}
	infos, _ = o.ListBackups("acme")
	if len(infos) != 2 || infos[0].Key != keys[3] || infos[1].Key != keys[2] {
		t.Errorf("survivors = %+v, want two newest", infos)
	}
}
