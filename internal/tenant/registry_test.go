package tenant

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(t.TempDir())
}

func TestCreateAndValidate(t *testing.T) {
	r := newTestRegistry(t)

	token, entry, err := r.Create("demo", CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if entry.ID != "demo" {
		t.Errorf("entry.ID = %q", entry.ID)
	}

	// Token wire shape: tenant:demo:{base64url secret}
	if !regexp.MustCompile(`^tenant:demo:[A-Za-z0-9_-]{32,}$`).MatchString(token) {
		t.Errorf("token %q does not match expected pattern", token)
	}

	ids := r.List()
	if len(ids) != 1 || ids[0] != "demo" {
		t.Errorf("List() = %v, want [demo]", ids)
	}

	ctx, ok := r.ValidateToken(token)
	if !ok {
		t.Fatal("ValidateToken rejected a freshly created token")
	}
	if ctx.TenantID != "demo" {
		t.Errorf("ctx.TenantID = %q", ctx.TenantID)
	}
	if !strings.HasSuffix(ctx.StateDir, filepath.Join("tenants", "demo")) {
		t.Errorf("ctx.StateDir = %q, want .../tenants/demo", ctx.StateDir)
	}

	// State tree initialized.
	for _, sub := range []string{"workspace", "agents", "memory", "credentials"} {
		if _, err := os.Stat(filepath.Join(ctx.StateDir, sub)); err != nil {
			t.Errorf("missing tenant subdir %s: %v", sub, err)
		}
	}
}

func TestRegistryFileMode(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Create("demo", CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(r.StateDir(), "tenants.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("tenants.json mode = %o, want 0600", perm)
	}
}

func TestCreateRejectsInvalidIDs(t *testing.T) {
	r := newTestRegistry(t)
	for _, id := range []string{"", "Demo", "-demo", "_demo", "demo tenant", "a/b", strings.Repeat("a", 33)} {
		if _, _, err := r.Create(id, CreateOptions{}); !errors.Is(err, ErrInvalidTenantID) {
			t.Errorf("Create(%q) err = %v, want ErrInvalidTenantID", id, err)
		}
	}
	// Boundary: 32 chars is valid.
	if _, _, err := r.Create(strings.Repeat("a", 32), CreateOptions{}); err != nil {
		t.Errorf("Create(32-char id) failed: %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Create("demo", CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Create("demo", CreateOptions{}); !errors.Is(err, ErrTenantExists) {
		t.Errorf("duplicate Create err = %v, want ErrTenantExists", err)
	}
}

func TestValidateTokenRejectsTamperedSecret(t *testing.T) {
	r := newTestRegistry(t)
	token, _, err := r.Create("demo", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Flip one byte in the secret portion.
	b := []byte(token)
	last := len(b) - 1
	if b[last] == 'A' {
		b[last] = 'B'
	} else {
		b[last] = 'A'
	}
	if _, ok := r.ValidateToken(string(b)); ok {
		t.Error("ValidateToken accepted a tampered secret")
	}
}

func TestValidateTokenRejectsMalformed(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Create("demo", CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	for _, tok := range []string{"", "demo", "tenant:demo", "tenant:demo:", "tenant:Demo:secret", "operator:demo:secret"} {
		if _, ok := r.ValidateToken(tok); ok {
			t.Errorf("ValidateToken(%q) unexpectedly succeeded", tok)
		}
	}
}

func TestValidateTokenDisabledTenant(t *testing.T) {
	r := newTestRegistry(t)
	token, _, err := r.Create("demo", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	disabled := true
	if _, err := r.Update("demo", UpdateParams{Disabled: &disabled}); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.ValidateToken(token); ok {
		t.Error("ValidateToken accepted a disabled tenant")
	}
}

func TestRotateInvalidatesOldToken(t *testing.T) {
	r := newTestRegistry(t)
	oldToken, _, err := r.Create("demo", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	newToken, err := r.Rotate("demo")
	if err != nil {
		t.Fatal(err)
	}
	if newToken == oldToken {
		t.Error("Rotate returned the old token")
	}
	if _, ok := r.ValidateToken(oldToken); ok {
		t.Error("old token still valid after rotate")
	}
	if _, ok := r.ValidateToken(newToken); !ok {
		t.Error("new token invalid after rotate")
	}
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Create("demo", CreateOptions{}); err != nil {
		t.Fatal(err)
	}

	dir := r.TenantDir("demo")
	if err := os.WriteFile(filepath.Join(dir, "workspace", "file.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := r.Remove("missing", RemoveOptions{}); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("Remove(missing) err = %v, want ErrTenantNotFound", err)
	}

	if err := r.Remove("demo", RemoveOptions{DeleteData: true}); err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 0 {
		t.Error("registry not empty after remove")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("tenant data not deleted with DeleteData")
	}
}

func TestUpdateSelectiveFields(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.Create("demo", CreateOptions{DisplayName: "Demo"}); err != nil {
		t.Fatal(err)
	}

	name := "Demo Two"
	entry, err := r.Update("demo", UpdateParams{DisplayName: &name})
	if err != nil {
		t.Fatal(err)
	}
	if entry.DisplayName != "Demo Two" {
		t.Errorf("DisplayName = %q", entry.DisplayName)
	}
	if entry.Disabled {
		t.Error("Disabled flipped by unrelated update")
	}
}

func TestMissingRegistryFileBootstrapsEmpty(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "does-not-exist-yet"))
	if ids := r.List(); len(ids) != 0 {
		t.Errorf("List() on fresh state = %v", ids)
	}
	if e := r.Get("anything"); e != nil {
		t.Errorf("Get() on fresh state = %+v", e)
	}
}
