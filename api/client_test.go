package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/weavel-fastllm/fastllm/store"
)

func TestPullProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pull_project" {
			t.Errorf("Expected path /pull_project, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("project_uuid"); got != "proj-1" {
			t.Errorf("Expected project_uuid proj-1, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Expected bearer auth, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"modules": [{"uuid": "m-1", "name": "summarizer"}],
			"versions": [{"uuid": "v-1", "module_uuid": "m-1", "status": "candidate", "model": "gpt-4o-mini"}],
			"prompts": [{"version_uuid": "v-1", "role": "user", "step": 1, "content": "Summarize: {text}"}],
			"run_logs": []
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", "proj-1", nil)
	client.SetHTTPClient(server.Client())

	snapshot, err := client.PullProject(context.Background())
	if err != nil {
		t.Fatalf("PullProject failed: %v", err)
	}

	if len(snapshot.Modules) != 1 || snapshot.Modules[0].Name != "summarizer" {
		t.Errorf("Unexpected modules: %+v", snapshot.Modules)
	}
	if len(snapshot.Versions) != 1 || snapshot.Versions[0].Status != store.StatusCandidate {
		t.Errorf("Unexpected versions: %+v", snapshot.Versions)
	}
	if len(snapshot.Prompts) != 1 || snapshot.Prompts[0].Step != 1 {
		t.Errorf("Unexpected prompts: %+v", snapshot.Prompts)
	}
	if len(snapshot.RunLogs) != 0 {
		t.Errorf("Expected no run logs, got %+v", snapshot.RunLogs)
	}
}

func TestGetChangelog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_changelog" {
			t.Errorf("Expected path /get_changelog, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("local_project_version"); got != "1.2.0" {
			t.Errorf("Expected local_project_version 1.2.0, got %q", got)
		}
		if levels := q["levels"]; len(levels) != 2 || levels[0] != "1" || levels[1] != "2" {
			t.Errorf("Expected levels [1 2], got %v", levels)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"level": 1, "previous_version": "1.2.0", "logs": [
				{"subject": "module", "action": "ADD", "identifiers": ["m-2"]}
			]},
			{"level": 2, "previous_version": "2.0.0", "logs": [
				{"subject": "module_version", "action": "ADD", "identifiers": ["v-7"]}
			]}
		]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", "proj-1", nil)
	client.SetHTTPClient(server.Client())

	entries, err := client.GetChangelog(context.Background(), "1.2.0", []int{1, 2})
	if err != nil {
		t.Fatalf("GetChangelog failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != 1 || entries[0].Logs[0].Subject != SubjectModule {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].Logs[0].Action != ActionAdd || entries[1].Logs[0].Identifiers[0] != "v-7" {
		t.Errorf("Unexpected second entry: %+v", entries[1])
	}
}

func TestPushLocalModules(t *testing.T) {
	var received struct {
		ProjectUUID string          `json:"project_uuid"`
		Modules     []*store.Module `json:"modules"`
	}
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Expected JSON content type, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", "proj-1", nil)
	client.SetHTTPClient(server.Client())

	modules := []*store.Module{
		{ID: "m-local", Name: "local_only", UsedInLocalSource: true},
	}
	if err := client.PushLocalModules(context.Background(), modules); err != nil {
		t.Fatalf("PushLocalModules failed: %v", err)
	}

	if received.ProjectUUID != "proj-1" {
		t.Errorf("Expected project_uuid proj-1, got %q", received.ProjectUUID)
	}
	if len(received.Modules) != 1 || received.Modules[0].Name != "local_only" {
		t.Errorf("Unexpected modules payload: %+v", received.Modules)
	}

	// Nothing to push means no request at all.
	if err := client.PushLocalModules(context.Background(), nil); err != nil {
		t.Fatalf("PushLocalModules with empty set failed: %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("Expected 1 request total, got %d", got)
	}
}

func TestUpdateSamples(t *testing.T) {
	var received struct {
		ProjectUUID string          `json:"project_uuid"`
		Samples     []*store.Sample `json:"samples"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/update_samples" {
			t.Errorf("Expected path /update_samples, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", "proj-1", nil)
	client.SetHTTPClient(server.Client())

	samples := []*store.Sample{
		{Name: "demo", Content: map[string]any{"text": "sample text"}},
	}
	if err := client.UpdateSamples(context.Background(), samples); err != nil {
		t.Fatalf("UpdateSamples failed: %v", err)
	}

	if len(received.Samples) != 1 || received.Samples[0].Name != "demo" {
		t.Errorf("Unexpected samples payload: %+v", received.Samples)
	}
}

func TestDo_RetriesOn5xx(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "backend restarting")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"modules": [], "versions": [], "prompts": [], "run_logs": []}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", "proj-1", nil)
	client.SetHTTPClient(server.Client())

	if _, err := client.PullProject(context.Background()); err != nil {
		t.Fatalf("Expected retry to recover, got: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("Expected 2 requests, got %d", got)
	}
}

func TestDo_FailsImmediatelyOn4xx(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "bad token")
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-token", "proj-1", nil)
	client.SetHTTPClient(server.Client())

	_, err := client.PullProject(context.Background())
	if err == nil {
		t.Fatal("Expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("Expected status in error, got: %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("Expected no retries on 4xx, got %d requests", got)
	}
}
