//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("LEADPILOT_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const smokeOrg = "smoke-test-org"

func call(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, raw
}

func TestAgentLifecycle(t *testing.T) {
	status, raw := call(t, "GET", "/api/orgs/"+smokeOrg+"/agent", nil)
	if status != http.StatusOK {
		t.Fatalf("get agent: status %d: %s", status, raw)
	}

	status, raw = call(t, "POST", "/api/orgs/"+smokeOrg+"/agent/start", nil)
	if status != http.StatusOK {
		t.Fatalf("start agent: status %d: %s", status, raw)
	}

	status, raw = call(t, "GET", "/api/orgs/"+smokeOrg+"/agent", nil)
	if status != http.StatusOK {
		t.Fatalf("get agent: status %d: %s", status, raw)
	}
	var body struct {
		Running bool `json:"running"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal: %v (body: %s)", err, raw)
	}
	if !body.Running {
		t.Error("expected agent running after start")
	}

	status, raw = call(t, "POST", "/api/orgs/"+smokeOrg+"/agent/stop", nil)
	if status != http.StatusOK {
		t.Fatalf("stop agent: status %d: %s", status, raw)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	status, raw := call(t, "POST", "/api/orgs/"+smokeOrg+"/tasks", map[string]any{
		"type":     "report",
		"priority": 1,
		"payload":  map[string]any{"period": "daily"},
	})
	if status != http.StatusCreated {
		t.Fatalf("enqueue: status %d: %s", status, raw)
	}
	var created map[string]string
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("unmarshal: %v (body: %s)", err, raw)
	}
	id := created["id"]
	if id == "" {
		t.Fatal("expected non-empty task id")
	}

	status, raw = call(t, "GET", "/api/orgs/"+smokeOrg+"/tasks/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("get task: status %d: %s", status, raw)
	}

	status, raw = call(t, "POST", "/api/orgs/"+smokeOrg+"/tasks/"+id+"/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("cancel task: status %d: %s", status, raw)
	}
}

func TestRuleRoundTrip(t *testing.T) {
	status, raw := call(t, "POST", "/api/orgs/"+smokeOrg+"/rules", map[string]any{
		"name": "smoke filter", "kind": "filter", "priority": 1, "enabled": false,
		"condition": map[string]any{
			"field": "task.type", "operator": "equals", "value": "report",
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("create rule: status %d: %s", status, raw)
	}
	var rule struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &rule); err != nil {
		t.Fatalf("unmarshal: %v (body: %s)", err, raw)
	}

	status, raw = call(t, "GET", "/api/orgs/"+smokeOrg+"/rules", nil)
	if status != http.StatusOK {
		t.Fatalf("list rules: status %d: %s", status, raw)
	}

	status, raw = call(t, "DELETE", "/api/orgs/"+smokeOrg+"/rules/"+rule.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("delete rule: status %d: %s", status, raw)
	}
}

func TestLogsEndpoint(t *testing.T) {
	status, raw := call(t, "GET", "/api/orgs/"+smokeOrg+"/logs", nil)
	if status != http.StatusOK {
		t.Fatalf("list logs: status %d: %s", status, raw)
	}
}
