package run_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/llm"
	"github.com/weavel-fastllm/fastllm/registry"
	"github.com/weavel-fastllm/fastllm/run"
	"github.com/weavel-fastllm/fastllm/store"
	"github.com/weavel-fastllm/fastllm/store/testutil"
)

// fakeClient replays scripted chunks and records each request it serves.
type fakeClient struct {
	chunks []llm.StreamChunk
	err    error

	mu       sync.Mutex
	calls    int
	requests []llm.Request
}

func (f *fakeClient) Stream(ctx context.Context, req llm.Request, out chan<- llm.StreamChunk) error {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, c := range f.chunks {
		out <- c
	}
	return f.err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return llm.Request{}
	}
	return f.requests[len(f.requests)-1]
}

func textChunk(text string) llm.StreamChunk {
	return llm.StreamChunk{Text: text}
}

func doneChunk() llm.StreamChunk {
	return llm.StreamChunk{Done: true}
}

func setupExecutor(t *testing.T, client llm.Client) (*run.Executor, *store.Store, *registry.Registry) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t), nil)
	return run.New(st, client, nil), st, registry.New()
}

// declareModule registers a two-step summarizer in both the registry and the
// store, the state a reconciled manifest leaves behind.
func declareModule(t *testing.T, st *store.Store, reg *registry.Registry, name string) *registry.Module {
	t.Helper()
	mod := &registry.Module{
		Name:  name,
		Model: "gpt-4o-mini",
		Prompts: []registry.Prompt{
			{Role: "system", Step: 1, Content: "You summarize text."},
			{Role: "user", Step: 2, Content: "Summarize: {text}"},
		},
	}
	if err := reg.Register(mod); err != nil {
		t.Fatalf("failed to register module: %v", err)
	}
	err := st.CreateModule(&store.Module{
		ID:                uuid.NewString(),
		Name:              name,
		UsedInLocalSource: true,
	})
	if err != nil {
		t.Fatalf("failed to create module row: %v", err)
	}
	return mod
}

func collectEvents(t *testing.T, events <-chan run.Event) []run.Event {
	t.Helper()
	var got []run.Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one event")
	}
	return got
}

// requireSingleTerminal asserts the last event is the only terminal one and
// returns it.
func requireSingleTerminal(t *testing.T, events []run.Event) run.Event {
	t.Helper()
	for i, ev := range events[:len(events)-1] {
		if ev.Terminal() {
			t.Fatalf("event %d is terminal %q before end of stream", i, ev.Kind)
		}
	}
	last := events[len(events)-1]
	if !last.Terminal() {
		t.Fatalf("expected terminal last event, got %q", last.Kind)
	}
	return last
}

func TestExecute_StreamsRawInOrder(t *testing.T) {
	client := &fakeClient{chunks: []llm.StreamChunk{textChunk("Hel"), textChunk("lo"), doneChunk()}}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "summarizer")

	var versionID string
	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName: "summarizer",
		Inputs:     map[string]any{"text": "a long article"},
		OnVersionCreated: func(id string, inputs map[string]any) {
			versionID = id
		},
	})
	got := collectEvents(t, events)

	last := requireSingleTerminal(t, got)
	if last.Kind != run.KindCompleted {
		t.Fatalf("expected completed, got %q (%s)", last.Kind, last.Error)
	}

	var raw string
	for _, ev := range got {
		if ev.Kind == run.KindRaw {
			raw += ev.Text
		}
	}
	if raw != "Hello" {
		t.Errorf("expected raw output %q, got %q", "Hello", raw)
	}

	logs, err := st.ListRunLogsByVersion(versionID)
	if err != nil {
		t.Fatalf("failed to list run logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 run log, got %d", len(logs))
	}
	if logs[0].RawOutput != "Hello" {
		t.Errorf("expected persisted raw output %q, got %q", "Hello", logs[0].RawOutput)
	}
	if logs[0].Error != nil {
		t.Errorf("expected nil error on successful run, got %q", *logs[0].Error)
	}
}

func TestExecute_ParsedOutputConcatenates(t *testing.T) {
	client := &fakeClient{chunks: []llm.StreamChunk{
		textChunk("[[name]]Al"),
		textChunk("ice[[/name]]"),
		doneChunk(),
	}}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "extractor")

	var versionID string
	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName:   "extractor",
		Inputs:       map[string]any{"text": "Alice went home"},
		ParsingMode:  "double_square_bracket",
		OutputFields: []string{"name"},
		OnVersionCreated: func(id string, inputs map[string]any) {
			versionID = id
		},
	})
	got := collectEvents(t, events)

	last := requireSingleTerminal(t, got)
	if last.Kind != run.KindCompleted {
		t.Fatalf("expected completed, got %q (%s)", last.Kind, last.Error)
	}

	parsed := map[string]string{}
	for _, ev := range got {
		if ev.Kind == run.KindParsed {
			parsed[ev.Parsed.Key] += ev.Parsed.Value
		}
	}
	if parsed["name"] != "Alice" {
		t.Errorf("expected parsed name %q, got %q", "Alice", parsed["name"])
	}

	logs, err := st.ListRunLogsByVersion(versionID)
	if err != nil {
		t.Fatalf("failed to list run logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 run log, got %d", len(logs))
	}
	if logs[0].ParsedOutputs["name"] != "Alice" {
		t.Errorf("expected persisted parsed name %q, got %q", "Alice", logs[0].ParsedOutputs["name"])
	}
}

func TestExecute_MissingInputFieldFails(t *testing.T) {
	client := &fakeClient{chunks: []llm.StreamChunk{doneChunk()}}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "summarizer")

	var versionID string
	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName: "summarizer",
		Inputs:     map[string]any{"wrong_key": "value"},
		OnVersionCreated: func(id string, inputs map[string]any) {
			versionID = id
		},
	})
	got := collectEvents(t, events)

	last := requireSingleTerminal(t, got)
	if last.Kind != run.KindFailed {
		t.Fatalf("expected failed, got %q", last.Kind)
	}
	if !strings.Contains(last.Error, "text") {
		t.Errorf("expected error to name the missing field, got %q", last.Error)
	}
	if client.callCount() != 0 {
		t.Errorf("expected no provider call, got %d", client.callCount())
	}

	// The failure is still recorded against the version created for the run.
	logs, err := st.ListRunLogsByVersion(versionID)
	if err != nil {
		t.Fatalf("failed to list run logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 run log, got %d", len(logs))
	}
	if logs[0].Error == nil || *logs[0].Error == "" {
		t.Error("expected run log to carry the failure text")
	}
}

func TestExecute_VersionCreatedBeforeProviderCall(t *testing.T) {
	client := &fakeClient{chunks: []llm.StreamChunk{textChunk("ok"), doneChunk()}}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "summarizer")

	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName:    "summarizer",
		Inputs:        map[string]any{"text": "short"},
		FromVersionID: "",
		OnVersionCreated: func(id string, inputs map[string]any) {
			if client.callCount() != 0 {
				t.Error("provider was called before the version callback")
			}
			v, err := st.GetVersion(id)
			if err != nil {
				t.Fatalf("version not persisted at callback time: %v", err)
			}
			if v.Status != store.StatusBroken {
				t.Errorf("expected new version status %q, got %q", store.StatusBroken, v.Status)
			}
			prompts, err := st.ListPromptsByVersion(id)
			if err != nil {
				t.Fatalf("failed to list prompts: %v", err)
			}
			if len(prompts) != 2 {
				t.Errorf("expected 2 prompts persisted at callback time, got %d", len(prompts))
			}
		},
	})
	collectEvents(t, events)

	if client.callCount() != 1 {
		t.Fatalf("expected 1 provider call, got %d", client.callCount())
	}
	req := client.lastRequest()
	if req.Model != "gpt-4o-mini" {
		t.Errorf("expected declaration model, got %q", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[1].Content != "Summarize: short" {
		t.Errorf("unexpected rendered messages: %+v", req.Messages)
	}
}

func TestExecute_ProviderErrorFails(t *testing.T) {
	client := &fakeClient{
		chunks: []llm.StreamChunk{textChunk("partial")},
		err:    errors.WrapProvider(errors.New("connection reset"), "stream interrupted"),
	}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "summarizer")

	var versionID string
	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName: "summarizer",
		Inputs:     map[string]any{"text": "short"},
		OnVersionCreated: func(id string, inputs map[string]any) {
			versionID = id
		},
	})
	got := collectEvents(t, events)

	last := requireSingleTerminal(t, got)
	if last.Kind != run.KindFailed {
		t.Fatalf("expected failed, got %q", last.Kind)
	}
	if last.Error == "" {
		t.Error("expected failure detail")
	}

	logs, err := st.ListRunLogsByVersion(versionID)
	if err != nil {
		t.Fatalf("failed to list run logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 run log, got %d", len(logs))
	}
	if logs[0].RawOutput != "partial" {
		t.Errorf("expected partial output persisted, got %q", logs[0].RawOutput)
	}
	if logs[0].Error == nil {
		t.Error("expected run log to carry the failure text")
	}
}

func TestExecute_UnknownModule(t *testing.T) {
	client := &fakeClient{}
	ex, _, reg := setupExecutor(t, client)

	events := ex.Execute(context.Background(), reg, run.Request{ModuleName: "ghost"})
	got := collectEvents(t, events)

	if len(got) != 1 {
		t.Fatalf("expected single failure event, got %d events", len(got))
	}
	if got[0].Kind != run.KindFailed {
		t.Fatalf("expected failed, got %q", got[0].Kind)
	}
	if !strings.Contains(got[0].Error, "unknown module") {
		t.Errorf("expected unknown module error, got %q", got[0].Error)
	}
	if client.callCount() != 0 {
		t.Errorf("expected no provider call, got %d", client.callCount())
	}
}

func TestExecute_ResolvesSampleByName(t *testing.T) {
	client := &fakeClient{chunks: []llm.StreamChunk{textChunk("ok"), doneChunk()}}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "summarizer")

	err := st.UpsertSample(&store.Sample{
		Name:    "demo",
		Content: map[string]any{"text": "sampled article"},
	})
	if err != nil {
		t.Fatalf("failed to upsert sample: %v", err)
	}

	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName: "summarizer",
		SampleName: "demo",
	})
	got := collectEvents(t, events)

	last := requireSingleTerminal(t, got)
	if last.Kind != run.KindCompleted {
		t.Fatalf("expected completed, got %q (%s)", last.Kind, last.Error)
	}
	req := client.lastRequest()
	if len(req.Messages) != 2 || req.Messages[1].Content != "Summarize: sampled article" {
		t.Errorf("expected sample inputs rendered into prompt, got %+v", req.Messages)
	}
}

func TestExecute_UnknownSample(t *testing.T) {
	client := &fakeClient{}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "summarizer")

	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName: "summarizer",
		SampleName: "ghost",
	})
	got := collectEvents(t, events)

	last := requireSingleTerminal(t, got)
	if last.Kind != run.KindFailed {
		t.Fatalf("expected failed, got %q", last.Kind)
	}
	if !strings.Contains(last.Error, "unknown sample") {
		t.Errorf("expected unknown sample error, got %q", last.Error)
	}
	if client.callCount() != 0 {
		t.Errorf("expected no provider call, got %d", client.callCount())
	}
}

func TestExecute_ExistingVersionSkipsCreation(t *testing.T) {
	client := &fakeClient{chunks: []llm.StreamChunk{textChunk("ok"), doneChunk()}}
	ex, st, reg := setupExecutor(t, client)
	declareModule(t, st, reg, "summarizer")

	mod, err := st.GetModuleByName("summarizer")
	if err != nil {
		t.Fatalf("failed to load module: %v", err)
	}
	versionID := uuid.NewString()
	err = st.CreateVersion(&store.Version{
		ID:       versionID,
		ModuleID: mod.ID,
		Status:   store.StatusWorking,
		Model:    "gpt-4o",
	})
	if err != nil {
		t.Fatalf("failed to create version: %v", err)
	}

	events := ex.Execute(context.Background(), reg, run.Request{
		ModuleName: "summarizer",
		VersionID:  versionID,
		Inputs:     map[string]any{"text": "short"},
		Model:      "gpt-4o",
		Prompts: []store.Prompt{
			{Role: "user", Step: 1, Content: "Summarize: {text}"},
		},
		OnVersionCreated: func(id string, inputs map[string]any) {
			t.Error("version callback fired for an existing version")
		},
	})
	collectEvents(t, events)

	ids, err := st.ListVersionIDs()
	if err != nil {
		t.Fatalf("failed to list version ids: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected no new version rows, got %d total", len(ids))
	}

	logs, err := st.ListRunLogsByVersion(versionID)
	if err != nil {
		t.Fatalf("failed to list run logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected run log attached to the existing version, got %d", len(logs))
	}
}
