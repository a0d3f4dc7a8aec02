package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/princevash/openclaw-mt/internal/agent"
	"github.com/princevash/openclaw-mt/internal/backup"
	"github.com/princevash/openclaw-mt/internal/config"
	"github.com/princevash/openclaw-mt/internal/cron"
	"github.com/princevash/openclaw-mt/internal/gateway"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
	"github.com/princevash/openclaw-mt/internal/terminal"
)

type fakeClient struct {
	caller rpc.Caller
}

func (f *fakeClient) Caller() rpc.Caller { return f.caller }
func (f *fakeClient) Send(frame any, dropIfSlow bool) bool {
	return true
}

type harness struct {
	deps       Deps
	dispatcher *rpc.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	stateDir := t.TempDir()
	tenants := tenant.NewRegistry(stateDir)
	ledger := quota.NewLedger(stateDir)
	connections := gateway.NewRegistry()
	sup := cron.NewSupervisor(tenants, connections, cron.Deps{Runner: agent.NopRunner{}}, false)

	deps := Deps{
		Config:      &config.Config{StateDir: stateDir},
		Tenants:     tenants,
		Ledger:      ledger,
		Connections: connections,
		Terminals:   terminal.NewManager(terminal.LocalSpawner{}, connections),
		Scheduler:   sup,
		Backups:     backup.NewOrchestrator(tenants, backup.NewMemoryStore(), "backups"),
		Version:     "test",
		StartedAt:   time.Now(),
	}

	d := rpc.NewDispatcher(ledger)
	RegisterAll(d, deps)
	return &harness{deps: deps, dispatcher: d}
}

// createTenant registers a tenant and returns its resolved context.
func (h *harness) createTenant(t *testing.T, id string) *tenant.Context {
	t.Helper()
	token, _, err := h.deps.Tenants.Create(id, tenant.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := h.deps.Tenants.ValidateToken(token)
	if !ok {
		t.Fatal("fresh token failed validation")
	}
	return tc
}

func tenantCaller(tenantID string) rpc.Caller {
	return rpc.Caller{
		ConnID:   "conn-" + tenantID,
		TenantID: tenantID,
		Role:     rpc.RoleOperator,
		Scopes:   []string{rpc.ScopeRead, rpc.ScopeWrite, rpc.ScopePairing},
	}
}

func adminCaller() rpc.Caller {
	return rpc.Caller{ConnID: "conn-admin", Role: rpc.RoleOperator, Scopes: []string{rpc.ScopeAdmin}}
}

// call dispatches a method and decodes the ok payload into out.
func (h *harness) call(t *testing.T, caller rpc.Caller, tc *tenant.Context, method, params string, out any) rpc.ResponseFrame {
	t.Helper()
	frame := rpc.RequestFrame{ID: json.RawMessage(`1`), Method: method}
	if params != "" {
		frame.Params = json.RawMessage(params)
	}
	resp := h.dispatcher.Dispatch(context.Background(), frame, &fakeClient{caller: caller}, tc)
	if resp.OK && out != nil {
		data, err := json.Marshal(resp.Payload)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func TestTenantsGetSelf(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")

	var view map[string]any
	resp := h.call(t, tenantCaller("acme"), tc, "tenants.get", "", &view)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if view["id"] != "acme" {
		t.Errorf("view = %v", view)
	}
	if _, leaked := view["tokenHash"]; leaked {
		t.Error("token hash leaked through tenants.get")
	}
}

func TestTenantsGetForeignIDRejected(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	h.createTenant(t, "rival")

	resp := h.call(t, tenantCaller("acme"), tc, "tenants.get", `{"tenantId":"rival"}`, nil)
	if resp.OK || resp.Error.Code != rpc.CodeUnauthorized {
		t.Errorf("resp = %+v", resp)
	}
}

func TestTenantsRotateReturnsWorkingToken(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")

	var out struct {
		Token string `json:"token"`
	}
	resp := h.call(t, tenantCaller("acme"), tc, "tenants.rotate", "", &out)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if _, ok := h.deps.Tenants.ValidateToken(out.Token); !ok {
		t.Error("rotated token does not validate")
	}
}

func TestTenantsUsageAndQuotaStatus(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	resp := h.call(t, caller, tc, "tenants.usage", "", nil)
	if !resp.OK {
		t.Fatalf("usage resp = %+v", resp)
	}

	var status struct {
		Decision struct {
			Allowed bool `json:"allowed"`
		} `json:"decision"`
		PercentUsed map[string]float64 `json:"percentUsed"`
	}
	resp = h.call(t, caller, tc, "tenants.quota.status", "", &status)
	if !resp.OK {
		t.Fatalf("quota.status resp = %+v", resp)
	}
	if !status.Decision.Allowed {
		t.Errorf("fresh tenant denied: %+v", status)
	}
}

func TestQuotaStatusDoesNotConsumeRateBudget(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	one := 1
	if _, err := h.deps.Tenants.Update("acme", tenant.UpdateParams{
		Quotas: &quota.Quotas{RequestsPerMinute: &one},
	}); err != nil {
		t.Fatal(err)
	}

	// Polling status repeatedly must not burn the single request the tenant
	// has per minute.
	for i := 0; i < 5; i++ {
		var status struct {
			Decision struct {
				Allowed bool `json:"allowed"`
			} `json:"decision"`
		}
		resp := h.call(t, caller, tc, "tenants.quota.status", "", &status)
		if !resp.OK {
			t.Fatalf("poll %d: resp = %+v", i, resp)
		}
		if !status.Decision.Allowed {
			t.Fatalf("poll %d denied: %+v", i, status)
		}
	}

	snap, err := h.deps.Ledger.LoadUsage("acme")
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalRequests != 0 {
		t.Errorf("TotalRequests = %d after status polls, want 0", snap.TotalRequests)
	}
	if d := h.deps.Ledger.CheckAndRecordRequest("acme", &quota.Quotas{RequestsPerMinute: &one}); !d.Allowed {
		t.Fatalf("real request denied after status polls: %+v", d)
	}
}

func TestTenantBackupRestoreFlow(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	doc := filepath.Join(tc.StateDir, "workspace", "doc.txt")
	if err := os.WriteFile(doc, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}

	var backupOut struct {
		Key string `json:"key"`
	}
	resp := h.call(t, caller, tc, "tenants.backup", "", &backupOut)
	if !resp.OK || backupOut.Key == "" {
		t.Fatalf("backup resp = %+v", resp)
	}

	var listOut struct {
		Backups []backup.ObjectInfo `json:"backups"`
	}
	resp = h.call(t, caller, tc, "tenants.backups.list", "", &listOut)
	if !resp.OK || len(listOut.Backups) != 1 {
		t.Fatalf("backups.list resp = %+v payload = %+v", resp, listOut)
	}

	if err := os.WriteFile(doc, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	resp = h.call(t, caller, tc, "tenants.restore", `{"key":"`+backupOut.Key+`"}`, nil)
	if !resp.OK {
		t.Fatalf("restore resp = %+v", resp)
	}
	data, err := os.ReadFile(doc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Errorf("restored content = %q, want v1", data)
	}
}

func TestAdminTenantLifecycle(t *testing.T) {
	h := newHarness(t)

	var created struct {
		Token  string `json:"token"`
		Tenant struct {
			ID string `json:"id"`
		} `json:"tenant"`
	}
	resp := h.call(t, adminCaller(), nil, "tenants.create", `{"tenantId":"acme","displayName":"Acme"}`, &created)
	if !resp.OK || created.Token == "" || created.Tenant.ID != "acme" {
		t.Fatalf("create resp = %+v payload = %+v", resp, created)
	}

	var listed struct {
		Tenants []map[string]any `json:"tenants"`
	}
	resp = h.call(t, adminCaller(), nil, "tenants.list", "", &listed)
	if !resp.OK || len(listed.Tenants) != 1 {
		t.Fatalf("list resp = %+v", resp)
	}

	resp = h.call(t, adminCaller(), nil, "tenants.remove", `{"tenantId":"acme","deleteData":true}`, nil)
	if !resp.OK {
		t.Fatalf("remove resp = %+v", resp)
	}
	if h.deps.Tenants.Get("acme") != nil {
		t.Error("tenant survived remove")
	}
}

func TestTenantsUpdateDisableEvictsConnections(t *testing.T) {
	h := newHarness(t)
	h.createTenant(t, "acme")

	evicted := false
	// A live connection for the tenant; eviction closes it.
	c := gateway.NewInProcessClient("conn-1", tenantCaller("acme"))
	c.OnClose(func(*gateway.Client) { evicted = true })
	h.deps.Connections.AddClient(c)

	resp := h.call(t, adminCaller(), nil, "tenants.update", `{"tenantId":"acme","disabled":true}`, nil)
	if !resp.OK {
		t.Fatalf("update resp = %+v", resp)
	}
	if !evicted {
		t.Error("disable did not evict the tenant's connection")
	}
}

func TestConfigSetPatchGet(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	resp := h.call(t, caller, tc, "config.set", `{"config":{"defaultAgentId":"helper"}}`, nil)
	if !resp.OK {
		t.Fatalf("set resp = %+v", resp)
	}

	resp = h.call(t, caller, tc, "config.patch", `{"patch":{"env":{"TZ":"UTC"}}}`, nil)
	if !resp.OK {
		t.Fatalf("patch resp = %+v", resp)
	}

	var got struct {
		Config map[string]any `json:"config"`
	}
	resp = h.call(t, caller, tc, "config.get", "", &got)
	if !resp.OK {
		t.Fatalf("get resp = %+v", resp)
	}
	if got.Config["defaultAgentId"] != "helper" {
		t.Errorf("config = %v", got.Config)
	}
	env, _ := got.Config["env"].(map[string]any)
	if env["TZ"] != "UTC" {
		t.Errorf("patched env = %v", env)
	}
}

func TestConfigWritesTenantOverlayFile(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")

	resp := h.call(t, tenantCaller("acme"), tc, "config.set", `{"config":{"defaultAgentId":"helper"}}`, nil)
	if !resp.OK {
		t.Fatalf("set resp = %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(tc.StateDir, "openclaw.json")); err != nil {
		t.Errorf("tenant overlay not at openclaw.json: %v", err)
	}

	// The operator path edits the shared runtime document, not a tenant file.
	resp = h.call(t, adminCaller(), nil, "config.set", `{"config":{"defaultAgentId":"ops"}}`, nil)
	if !resp.OK {
		t.Fatalf("operator set resp = %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(h.deps.Config.StateDir, "runtime-config.json")); err != nil {
		t.Errorf("runtime document not at runtime-config.json: %v", err)
	}
}

func TestConfigSetRejectsUnknownKeys(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")

	resp := h.call(t, tenantCaller("acme"), tc, "config.set", `{"config":{"notAKey":1}}`, nil)
	if resp.OK || resp.Error.Code != rpc.CodeInvalidRequest {
		t.Errorf("resp = %+v", resp)
	}
}

func TestConfigPatchNullDeletesKey(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	h.call(t, caller, tc, "config.set", `{"config":{"defaultAgentId":"helper"}}`, nil)
	resp := h.call(t, caller, tc, "config.patch", `{"patch":{"defaultAgentId":null}}`, nil)
	if !resp.OK {
		t.Fatalf("patch resp = %+v", resp)
	}

	var got struct {
		Config map[string]any `json:"config"`
	}
	h.call(t, caller, tc, "config.get", "", &got)
	if _, present := got.Config["defaultAgentId"]; present {
		t.Errorf("null patch did not delete key: %v", got.Config)
	}
}

func TestAgentsCRUD(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	resp := h.call(t, caller, tc, "agents.create", `{"agentId":"Helper Bot","model":"m1"}`, nil)
	if !resp.OK {
		t.Fatalf("create resp = %+v", resp)
	}

	// The id is normalized; the original spelling resolves to the same agent.
	var got struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	}
	resp = h.call(t, caller, tc, "agents.get", `{"agentId":"helper-bot"}`, &got)
	if !resp.OK || got.ID != "helper-bot" || got.Model != "m1" {
		t.Fatalf("get resp = %+v payload = %+v", resp, got)
	}

	resp = h.call(t, caller, tc, "agents.update", `{"agentId":"helper-bot","model":"m2"}`, &got)
	if !resp.OK || got.Model != "m2" {
		t.Fatalf("update resp = %+v payload = %+v", resp, got)
	}

	var listed struct {
		Agents []agentRecord `json:"agents"`
	}
	resp = h.call(t, caller, tc, "agents.list", "", &listed)
	if !resp.OK || len(listed.Agents) != 1 {
		t.Fatalf("list resp = %+v", resp)
	}

	resp = h.call(t, caller, tc, "agents.delete", `{"agentId":"helper-bot"}`, nil)
	if !resp.OK {
		t.Fatalf("delete resp = %+v", resp)
	}
	resp = h.call(t, caller, tc, "agents.get", `{"agentId":"helper-bot"}`, nil)
	if resp.OK || resp.Error.Code != rpc.CodeNotFound {
		t.Errorf("get after delete = %+v", resp)
	}
}

func TestSkillsCRUD(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	resp := h.call(t, caller, tc, "skills.add", `{"skillId":"summarize","name":"Summarize"}`, nil)
	if !resp.OK {
		t.Fatalf("add resp = %+v", resp)
	}
	resp = h.call(t, caller, tc, "skills.add", `{"skillId":"summarize"}`, nil)
	if resp.OK {
		t.Error("duplicate skill accepted")
	}

	resp = h.call(t, caller, tc, "skills.update", `{"skillId":"summarize","disabled":true}`, nil)
	if !resp.OK {
		t.Fatalf("update resp = %+v", resp)
	}

	var listed struct {
		Skills []skillRecord `json:"skills"`
	}
	resp = h.call(t, caller, tc, "skills.list", "", &listed)
	if !resp.OK || len(listed.Skills) != 1 || !listed.Skills[0].Disabled {
		t.Fatalf("list = %+v", listed)
	}

	resp = h.call(t, caller, tc, "skills.remove", `{"skillId":"summarize"}`, nil)
	if !resp.OK {
		t.Fatalf("remove resp = %+v", resp)
	}
}

func TestChannelsLifecycle(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	resp := h.call(t, caller, tc, "channels.start", `{"channel":"slack"}`, nil)
	if !resp.OK {
		t.Fatalf("start resp = %+v", resp)
	}

	var status struct {
		Channels map[string]channelState `json:"channels"`
	}
	resp = h.call(t, caller, tc, "channels.status", "", &status)
	if !resp.OK || !status.Channels["slack"].Running {
		t.Fatalf("status = %+v", status)
	}

	resp = h.call(t, caller, tc, "channels.stop", `{"channel":"slack"}`, nil)
	if !resp.OK {
		t.Fatalf("stop resp = %+v", resp)
	}
	h.call(t, caller, tc, "channels.status", "", &status)
	if status.Channels["slack"].Running {
		t.Error("channel still running after stop")
	}
}

func TestVoiceWakeRoundTrip(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	resp := h.call(t, caller, tc, "voicewake.set", `{"enabled":true,"phrase":"hey claw"}`, nil)
	if !resp.OK {
		t.Fatalf("set resp = %+v", resp)
	}

	var got voiceWakeSettings
	resp = h.call(t, caller, tc, "voicewake.get", "", &got)
	if !resp.OK || !got.Enabled || got.Phrase != "hey claw" {
		t.Fatalf("get = %+v", got)
	}
}

func TestSessionsListScopedToTenant(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	h.createTenant(t, "rival")

	index := map[string]sessionMeta{
		"tenant:acme:agent:main:main":  {MessageCount: 4, LastActivityAt: time.Now()},
		"tenant:rival:agent:main:main": {MessageCount: 9, LastActivityAt: time.Now()},
	}
	if err := writeJSONFile(filepath.Join(h.deps.Config.StateDir, "sessions", "index.json"), index); err != nil {
		t.Fatal(err)
	}

	var listed struct {
		Sessions []sessionMeta `json:"sessions"`
	}
	resp := h.call(t, tenantCaller("acme"), tc, "sessions.list", "", &listed)
	if !resp.OK || len(listed.Sessions) != 1 {
		t.Fatalf("list = %+v", listed)
	}
	if listed.Sessions[0].SessionKey != "tenant:acme:agent:main:main" {
		t.Errorf("leaked foreign session: %+v", listed.Sessions)
	}

	// Operators see everything.
	resp = h.call(t, adminCaller(), nil, "sessions.list", "", &listed)
	if !resp.OK || len(listed.Sessions) != 2 {
		t.Errorf("admin list = %+v", listed)
	}
}

func TestSessionsPreviewForeignKeyRejected(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")

	resp := h.call(t, tenantCaller("acme"), tc, "sessions.preview",
		`{"sessionKey":"tenant:rival:agent:main:main"}`, nil)
	if resp.OK || resp.Error.Code != rpc.CodeUnauthorized {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSessionsPreviewScopesBareKey(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")

	dir := filepath.Join(h.deps.Config.StateDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	lines := `{"role":"user","content":"hi"}
{"role":"assistant","content":"hello"}
`
	if err := os.WriteFile(filepath.Join(dir, "tenant_acme_agent_main_main.jsonl"), []byte(lines), 0o600); err != nil {
		t.Fatal(err)
	}

	var out struct {
		SessionKey string            `json:"sessionKey"`
		Messages   []transcriptEntry `json:"messages"`
	}
	resp := h.call(t, tenantCaller("acme"), tc, "sessions.preview", `{"sessionKey":"agent:main:main"}`, &out)
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if out.SessionKey != "tenant:acme:agent:main:main" || len(out.Messages) != 2 {
		t.Errorf("preview = %+v", out)
	}
}

func TestPairingRequestVerify(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")
	caller := tenantCaller("acme")

	var issued struct {
		Code string `json:"code"`
	}
	resp := h.call(t, caller, tc, "device.pair.request", `{"label":"phone"}`, &issued)
	if !resp.OK || issued.Code == "" {
		t.Fatalf("request resp = %+v", resp)
	}

	var verified struct {
		Paired   bool   `json:"paired"`
		DeviceID string `json:"deviceId"`
	}
	resp = h.call(t, caller, tc, "device.pair.verify", `{"code":"`+issued.Code+`"}`, &verified)
	if !resp.OK || !verified.Paired || verified.DeviceID == "" {
		t.Fatalf("verify resp = %+v payload = %+v", resp, verified)
	}

	resp = h.call(t, caller, tc, "device.pair.verify", `{"code":"bogus"}`, nil)
	if resp.OK || resp.Error.Code != rpc.CodeNotPaired {
		t.Errorf("bogus code resp = %+v", resp)
	}
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t)
	tc := h.createTenant(t, "acme")

	resp := h.call(t, tenantCaller("acme"), tc, "health", "", nil)
	if !resp.OK {
		t.Fatalf("health resp = %+v", resp)
	}

	// Tenant tokens cannot reach status (S2); operators can.
	resp = h.call(t, tenantCaller("acme"), tc, "status", "", nil)
	if resp.OK || resp.Error.Code != rpc.CodeInvalidRequest {
		t.Errorf("tenant status resp = %+v", resp)
	}
	resp = h.call(t, adminCaller(), nil, "status", "", nil)
	if !resp.OK {
		t.Errorf("operator status resp = %+v", resp)
	}
}
