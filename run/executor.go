// Package run executes prompt modules against an LLM provider, streaming
// events to the caller and persisting one run log per execution. Nothing
// escapes the executor boundary: every run ends in exactly one terminal
// event, however it went.
package run

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weavel-fastllm/fastllm/db"
	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/llm"
	"github.com/weavel-fastllm/fastllm/parse"
	"github.com/weavel-fastllm/fastllm/registry"
	"github.com/weavel-fastllm/fastllm/store"
)

// Request describes one run.
type Request struct {
	ModuleName    string
	SampleName    string         // resolved via the store when set
	Inputs        map[string]any // literal inputs when no sample name given
	VersionID     string         // empty means create a new version first
	FromVersionID string
	Prompts       []store.Prompt // wire prompts; falls back to the declaration
	Model         string         // falls back to the declaration model
	ParsingMode   string
	OutputFields  []string

	// OnVersionCreated fires after a new version and its prompts land in
	// the store, before any provider call, so the peer can track the run
	// against a real identifier.
	OnVersionCreated func(versionID string, inputs map[string]any)
}

// Executor runs modules. Safe for concurrent use; each run owns its own
// accumulation state.
type Executor struct {
	store  *store.Store
	client llm.Client
	logger *zap.SugaredLogger
}

// New creates an executor over a store and a provider client.
func New(st *store.Store, client llm.Client, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		store:  st,
		client: client,
		logger: logger,
	}
}

// Execute starts the run and returns its event channel. The channel carries
// raw/parsed deltas in provider order and closes after one terminal event.
func (e *Executor) Execute(ctx context.Context, reg *registry.Registry, req Request) <-chan Event {
	out := make(chan Event, 16)
	go e.run(ctx, reg, req, out)
	return out
}

// runState accumulates one run's output for the final run log row.
type runState struct {
	versionID string
	inputs    map[string]any
	raw       string
	parsed    map[string]string
}

func (e *Executor) run(ctx context.Context, reg *registry.Registry, req Request, out chan<- Event) {
	defer close(out)

	state := &runState{versionID: req.VersionID}

	fail := func(err error) {
		e.persistLog(state, err)
		if e.logger != nil {
			e.logger.Errorw("Run failed", "module", req.ModuleName, "error", err)
		}
		out <- Event{Kind: KindFailed, Error: err.Error()}
	}

	mod, ok := reg.Get(req.ModuleName)
	if !ok {
		fail(errors.NewUnknownModuleError(req.ModuleName))
		return
	}

	inputs, err := e.resolveInputs(req)
	if err != nil {
		fail(err)
		return
	}
	state.inputs = inputs

	prompts := req.Prompts
	if len(prompts) == 0 {
		for _, p := range mod.Prompts {
			prompts = append(prompts, store.Prompt{Role: p.Role, Step: p.Step, Content: p.Content})
		}
	}
	model := req.Model
	if model == "" {
		model = mod.Model
	}
	parsingMode := req.ParsingMode
	if parsingMode == "" {
		parsingMode = mod.ParsingMode
	}
	outputFields := req.OutputFields
	if len(outputFields) == 0 {
		outputFields = mod.OutputFields
	}

	if state.versionID == "" {
		versionID, err := e.createVersion(req, prompts, model, parsingMode, outputFields)
		if err != nil {
			fail(err)
			return
		}
		state.versionID = versionID
		if req.OnVersionCreated != nil {
			req.OnVersionCreated(versionID, inputs)
		}
	}

	messages, err := renderMessages(prompts, inputs)
	if err != nil {
		fail(err)
		return
	}

	client := e.client
	if parsingMode != "" {
		client, err = llm.NewParsingStream(e.client, parse.Mode(parsingMode))
		if err != nil {
			fail(err)
			return
		}
	}

	if err := e.stream(ctx, client, llm.Request{Model: model, Messages: messages}, state, out); err != nil {
		fail(err)
		return
	}

	e.persistLog(state, nil)
	out <- Event{Kind: KindCompleted}
}

func (e *Executor) resolveInputs(req Request) (map[string]any, error) {
	if req.SampleName == "" {
		return req.Inputs, nil
	}
	sample, err := e.store.GetSample(req.SampleName)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, errors.NewUnknownSampleError(req.SampleName)
		}
		return nil, err
	}
	return sample.Content, nil
}

// createVersion inserts the new version and its prompts. Status starts
// broken; a later successful run upgrades it through the status task.
func (e *Executor) createVersion(req Request, prompts []store.Prompt, model, parsingMode string, outputFields []string) (string, error) {
	mod, err := e.store.GetModuleByName(req.ModuleName)
	if err != nil {
		return "", err
	}

	v := &store.Version{
		ID:           uuid.NewString(),
		ModuleID:     mod.ID,
		Status:       store.StatusBroken,
		Model:        model,
		OutputFields: outputFields,
	}
	if req.FromVersionID != "" {
		from := req.FromVersionID
		v.FromID = &from
	}
	if parsingMode != "" {
		pm := parsingMode
		v.ParsingMode = &pm
	}
	if err := e.store.CreateVersion(v); err != nil {
		return "", err
	}

	for _, p := range prompts {
		p := p
		p.VersionID = v.ID
		if err := e.store.CreatePrompt(&p); err != nil {
			return "", err
		}
	}

	if e.logger != nil {
		e.logger.Debugw("Created version for run",
			"module", req.ModuleName, "version_id", v.ID, "from", req.FromVersionID)
	}
	return v.ID, nil
}

// renderMessages formats prompt templates against inputs. With no inputs the
// templates pass through verbatim.
func renderMessages(prompts []store.Prompt, inputs map[string]any) ([]llm.Message, error) {
	messages := make([]llm.Message, 0, len(prompts))
	for _, p := range prompts {
		content := p.Content
		if inputs != nil {
			rendered, err := Render(p.Content, inputs)
			if err != nil {
				return nil, err
			}
			content = rendered
		}
		messages = append(messages, llm.Message{Role: p.Role, Content: content})
	}
	return messages, nil
}

// stream consumes provider chunks, accumulating raw and parsed output and
// relaying each delta in order.
func (e *Executor) stream(ctx context.Context, client llm.Client, req llm.Request, state *runState, out chan<- Event) error {
	chunks := make(chan llm.StreamChunk, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(chunks)
		errc <- client.Stream(ctx, req, chunks)
	}()

	for chunk := range chunks {
		switch {
		case chunk.Done:
		case chunk.Parsed != nil:
			if state.parsed == nil {
				state.parsed = make(map[string]string)
			}
			state.parsed[chunk.Parsed.Key] += chunk.Parsed.Value
			out <- Event{Kind: KindParsed, Parsed: chunk.Parsed}
		case chunk.Text != "":
			state.raw += chunk.Text
			out <- Event{Kind: KindRaw, Text: chunk.Text}
		}
	}
	return <-errc
}

// persistLog writes the run log row. Skipped when no version exists to hang
// it on, which only happens for failures before version resolution.
func (e *Executor) persistLog(state *runState, runErr error) {
	if state.versionID == "" {
		return
	}

	r := &store.RunLog{
		VersionID:     state.versionID,
		Inputs:        state.inputs,
		RawOutput:     state.raw,
		ParsedOutputs: state.parsed,
	}
	if runErr != nil {
		msg := runErr.Error()
		r.Error = &msg
	}
	if err := e.store.CreateRunLog(r); err != nil && e.logger != nil {
		if db.IsDatabaseClosed(err) {
			// Shutdown closed the handle under a streaming run.
			e.logger.Debugw("Run log dropped during shutdown", "version_id", state.versionID)
			return
		}
		e.logger.Errorw("Failed to persist run log",
			"version_id", state.versionID, "error", err)
	}
}
