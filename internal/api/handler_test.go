package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
	"github.com/bionixus/leadpilot-sub000/internal/queue"
	"github.com/bionixus/leadpilot-sub000/internal/rules"
	"github.com/bionixus/leadpilot-sub000/internal/store"
	"github.com/bionixus/leadpilot-sub000/internal/task"
)

type fakeManager struct {
	mu      sync.Mutex
	running map[string]bool
}

func (f *fakeManager) StartAgent(_ context.Context, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[orgID] = true
	return nil
}

func (f *fakeManager) StopAgent(_ context.Context, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, orgID)
	return nil
}

func (f *fakeManager) Running(orgID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[orgID]
}

type fakeConfigs struct {
	mu   sync.Mutex
	cfgs map[string]*agent.Config
}

func (f *fakeConfigs) GetConfig(_ context.Context, orgID string) (*agent.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfgs[orgID], nil
}

func (f *fakeConfigs) SaveConfig(_ context.Context, c *agent.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = "cfg-" + c.OrgID
	}
	f.cfgs[c.OrgID] = c
	return nil
}

type fakeRules struct {
	mu   sync.Mutex
	list []*rules.Rule
	next int
}

func (f *fakeRules) SaveRule(_ context.Context, r *rules.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == "" {
		f.next++
		r.ID = fmt.Sprintf("rule-%d", f.next)
	}
	f.list = append(f.list, r)
	return nil
}

func (f *fakeRules) ListRules(_ context.Context, orgID string) ([]*rules.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*rules.Rule
	for _, r := range f.list {
		if r.OrgID == orgID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) DeleteRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.list {
		if r.ID == id {
			f.list = append(f.list[:i], f.list[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeLogs struct{ entries []*task.LogEntry }

func (f *fakeLogs) ListLogs(_ context.Context, orgID, taskID string, _ int) ([]*task.LogEntry, error) {
	var out []*task.LogEntry
	for _, e := range f.entries {
		if e.OrgID != orgID {
			continue
		}
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type fakeProviders struct {
	mu   sync.Mutex
	rows []*store.ProviderRow
	next int
}

func (f *fakeProviders) SaveProvider(_ context.Context, p *store.ProviderRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	p.ID = fmt.Sprintf("prov-%d", f.next)
	cp := *p
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeProviders) ListProviders(_ context.Context, orgID string) ([]*store.ProviderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.ProviderRow
	for _, p := range f.rows {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProviders) DeleteProvider(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.rows {
		if p.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeProviders) SetDefaultProvider(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.OrgID == orgID {
			p.IsDefault = p.ID == id
		}
	}
	return nil
}

// newTestHandler creates a Handler wired with in-memory deps (no Postgres/Redis).
func newTestHandler(t *testing.T) (*Handler, *queue.Memory, http.Handler) {
	t.Helper()
	q := queue.NewMemory()
	h := NewHandler(
		q,
		&fakeManager{running: map[string]bool{}},
		&fakeConfigs{cfgs: map[string]*agent.Config{}},
		&fakeRules{},
		&fakeLogs{},
		&fakeProviders{},
		zap.NewNop(),
	)
	return h, q, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestAgentLifecycle(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// An org with no config gets the default one back.
	resp := getJSON(t, ts, "/api/orgs/org1/agent")
	if resp.StatusCode != 200 {
		t.Fatalf("get agent: expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Config  agent.Config `json:"config"`
		Running bool         `json:"running"`
	}
	decodeJSON(t, resp, &body)
	if body.Config.OrgID != "org1" || body.Running {
		t.Errorf("expected default idle config, got %+v running=%v", body.Config, body.Running)
	}

	// Start, then verify running.
	resp = postJSON(t, ts, "/api/orgs/org1/agent/start", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/orgs/org1/agent")
	decodeJSON(t, resp, &body)
	if !body.Running {
		t.Error("expected running after start")
	}

	// Stop.
	resp = postJSON(t, ts, "/api/orgs/org1/agent/stop", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("stop: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/orgs/org1/agent")
	decodeJSON(t, resp, &body)
	if body.Running {
		t.Error("expected not running after stop")
	}
}

func TestUpdateConfigPreservesLifecycle(t *testing.T) {
	h, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	seed := agent.DefaultConfig("org1")
	seed.Enabled = true
	seed.Status = agent.StatusRunning
	h.configs.SaveConfig(context.Background(), seed)

	resp := putJSON(t, ts, "/api/orgs/org1/agent/config", map[string]interface{}{
		"model":       "gpt-4o",
		"temperature": 0.2,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("update config: expected 200, got %d", resp.StatusCode)
	}
	var cfg agent.Config
	decodeJSON(t, resp, &cfg)
	if cfg.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", cfg.Model)
	}
	if !cfg.Enabled || cfg.Status != agent.StatusRunning {
		t.Errorf("settings update must not touch lifecycle fields, got enabled=%v status=%s", cfg.Enabled, cfg.Status)
	}
}

func putJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("PUT", ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	return resp
}

func TestTaskEndpoints(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Enqueue with a typed payload.
	resp := postJSON(t, ts, "/api/orgs/org1/tasks", map[string]interface{}{
		"type":     "send_message",
		"priority": 5,
		"lead_id":  "lead-1",
		"payload":  map[string]interface{}{"lead_id": "lead-1", "channel": "email", "body": "hi"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("enqueue: expected 201, got %d", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)
	id := created["id"]
	if id == "" {
		t.Fatal("expected non-empty task id")
	}

	// Unknown type is rejected.
	resp = postJSON(t, ts, "/api/orgs/org1/tasks", map[string]string{"type": "launch_rockets"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for unknown type, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Get it back.
	resp = getJSON(t, ts, "/api/orgs/org1/tasks/"+id)
	if resp.StatusCode != 200 {
		t.Fatalf("get task: expected 200, got %d", resp.StatusCode)
	}
	var got task.Task
	decodeJSON(t, resp, &got)
	if got.Type != task.TypeSendMessage || got.Status != task.StatusPending {
		t.Errorf("got type=%s status=%s", got.Type, got.Status)
	}

	// Another org cannot see it.
	resp = getJSON(t, ts, "/api/orgs/org2/tasks/"+id)
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 across orgs, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List with status filter.
	resp = getJSON(t, ts, "/api/orgs/org1/tasks?status=pending")
	var tasks []task.Task
	decodeJSON(t, resp, &tasks)
	if len(tasks) != 1 {
		t.Errorf("expected 1 pending task, got %d", len(tasks))
	}

	// Cancel.
	resp = postJSON(t, ts, "/api/orgs/org1/tasks/"+id+"/cancel", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/orgs/org1/tasks/"+id)
	decodeJSON(t, resp, &got)
	if got.Status != task.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}

func TestApprovalEndpoints(t *testing.T) {
	_, q, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()
	ctx := context.Background()

	park := func() string {
		id, err := q.Enqueue(ctx, &task.Task{OrgID: "org1", Type: task.TypeSendMessage})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := q.ClaimNext(ctx, "org1"); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := q.MarkAwaitingApproval(ctx, id, "send_email", nil); err != nil {
			t.Fatalf("park: %v", err)
		}
		return id
	}

	// Approve requires an approver.
	id := park()
	resp := postJSON(t, ts, "/api/orgs/org1/tasks/"+id+"/approve", map[string]string{})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 without approver, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/orgs/org1/tasks/"+id+"/approve", map[string]string{"approver": "alice"})
	if resp.StatusCode != 200 {
		t.Fatalf("approve: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	got, _ := q.Get(ctx, id)
	if got.Status != task.StatusPending || got.ApprovedBy != "alice" {
		t.Errorf("got status=%s approved_by=%q", got.Status, got.ApprovedBy)
	}

	// Approving a task that is not awaiting approval conflicts.
	resp = postJSON(t, ts, "/api/orgs/org1/tasks/"+id+"/approve", map[string]string{"approver": "alice"})
	if resp.StatusCode != 409 {
		t.Errorf("expected 409 for bad transition, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Reject cancels with a reason.
	id = park()
	resp = postJSON(t, ts, "/api/orgs/org1/tasks/"+id+"/reject",
		map[string]string{"approver": "bob", "reason": "wrong lead"})
	if resp.StatusCode != 200 {
		t.Fatalf("reject: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	got, _ = q.Get(ctx, id)
	if got.Status != task.StatusCancelled || got.RejectionReason != "wrong lead" {
		t.Errorf("got status=%s reason=%q", got.Status, got.RejectionReason)
	}
}

func TestRuleCRUD(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Validation.
	resp := postJSON(t, ts, "/api/orgs/org1/rules", map[string]string{"kind": "filter"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing name, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/orgs/org1/rules", map[string]interface{}{
		"name": "no weekends", "kind": "filter", "priority": 10, "enabled": true,
		"condition": map[string]interface{}{
			"field": "task.type", "operator": "equals", "value": "send_message",
		},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create rule: expected 201, got %d", resp.StatusCode)
	}
	var rule rules.Rule
	decodeJSON(t, resp, &rule)
	if rule.ID == "" || rule.OrgID != "org1" {
		t.Errorf("got rule %+v", rule)
	}

	resp = getJSON(t, ts, "/api/orgs/org1/rules")
	var list []rules.Rule
	decodeJSON(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(list))
	}

	resp = deleteReq(t, ts, "/api/orgs/org1/rules/"+rule.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("delete rule: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/orgs/org1/rules")
	decodeJSON(t, resp, &list)
	if len(list) != 0 {
		t.Errorf("expected 0 rules after delete, got %d", len(list))
	}
}

func TestLogsEndpoint(t *testing.T) {
	h, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	h.logs.(*fakeLogs).entries = []*task.LogEntry{
		{ID: "e1", OrgID: "org1", TaskID: "t1", Kind: task.LogDecision, Message: "send_email"},
		{ID: "e2", OrgID: "org1", TaskID: "t2", Kind: task.LogAction, Message: "send_email"},
		{ID: "e3", OrgID: "org2", TaskID: "t3", Kind: task.LogError, Message: "boom"},
	}

	resp := getJSON(t, ts, "/api/orgs/org1/logs")
	var entries []task.LogEntry
	decodeJSON(t, resp, &entries)
	if len(entries) != 2 {
		t.Errorf("expected 2 entries for org1, got %d", len(entries))
	}

	resp = getJSON(t, ts, "/api/orgs/org1/logs?task_id=t1")
	decodeJSON(t, resp, &entries)
	if len(entries) != 1 || entries[0].ID != "e1" {
		t.Errorf("expected only t1's entry, got %+v", entries)
	}
}

func TestProviderEndpoints(t *testing.T) {
	_, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Validation — key is required.
	resp := postJSON(t, ts, "/api/orgs/org1/providers", map[string]string{"name": "main", "type": "openai"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 without api_key, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/orgs/org1/providers", map[string]string{
		"name": "main", "type": "openai", "api_key": "sk-test",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("add provider: expected 201, got %d", resp.StatusCode)
	}
	var prov store.ProviderRow
	decodeJSON(t, resp, &prov)
	if prov.APIKey != "" {
		t.Error("api key must not be echoed back")
	}
	if prov.ID == "" {
		t.Fatal("expected provider id")
	}

	// List never exposes keys.
	resp = getJSON(t, ts, "/api/orgs/org1/providers")
	var provs []store.ProviderRow
	decodeJSON(t, resp, &provs)
	if len(provs) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(provs))
	}
	if provs[0].APIKey != "" {
		t.Error("api key leaked in list")
	}

	// Set default, then delete.
	resp = postJSON(t, ts, "/api/orgs/org1/providers/"+prov.ID+"/default", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("set default: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/orgs/org1/providers")
	decodeJSON(t, resp, &provs)
	if !provs[0].IsDefault {
		t.Error("expected provider to be default")
	}

	resp = deleteReq(t, ts, "/api/orgs/org1/providers/"+prov.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("delete provider: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/orgs/org1/providers")
	decodeJSON(t, resp, &provs)
	if len(provs) != 0 {
		t.Errorf("expected 0 providers after delete, got %d", len(provs))
	}
}

func TestEnqueueApprovalDefaults(t *testing.T) {
	h, q, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()
	ctx := context.Background()

	cfg := agent.DefaultConfig("org1")
	cfg.RequireApprovalFor = []string{"send_message"}
	h.configs.SaveConfig(ctx, cfg)

	taskID := func(resp *http.Response) string {
		t.Helper()
		if resp.StatusCode != 201 {
			t.Fatalf("enqueue failed: %d", resp.StatusCode)
		}
		var body map[string]string
		decodeJSON(t, resp, &body)
		return body["id"]
	}

	// No flag: the approval set decides.
	id := taskID(postJSON(t, ts, "/api/orgs/org1/tasks", map[string]any{
		"type": "send_message", "payload": map[string]any{"lead_id": "l1", "channel": "email"},
	}))
	got, _ := q.Get(ctx, id)
	if !got.RequiresApproval {
		t.Error("send_message should default to approval-required for this org")
	}

	// Type outside the set defaults to no approval.
	id = taskID(postJSON(t, ts, "/api/orgs/org1/tasks", map[string]any{
		"type": "report", "payload": map[string]any{"period": "daily"},
	}))
	got, _ = q.Get(ctx, id)
	if got.RequiresApproval {
		t.Error("report should not default to approval-required")
	}

	// An explicit flag beats the default either way.
	id = taskID(postJSON(t, ts, "/api/orgs/org1/tasks", map[string]any{
		"type": "send_message", "requires_approval": false,
		"payload": map[string]any{"lead_id": "l1", "channel": "email"},
	}))
	got, _ = q.Get(ctx, id)
	if got.RequiresApproval {
		t.Error("explicit requires_approval=false ignored")
	}

	id = taskID(postJSON(t, ts, "/api/orgs/org1/tasks", map[string]any{
		"type": "report", "requires_approval": true,
		"payload": map[string]any{"period": "daily"},
	}))
	got, _ = q.Get(ctx, id)
	if !got.RequiresApproval {
		t.Error("explicit requires_approval=true ignored")
	}
}
