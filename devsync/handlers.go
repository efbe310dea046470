package devsync

import (
	"context"

	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/run"
	"github.com/weavel-fastllm/fastllm/store"
)

func (c *Channel) handleListModules(task *Task) error {
	modules, err := c.store.ListLocalModules()
	if err != nil {
		return err
	}
	if modules == nil {
		modules = []*store.Module{}
	}
	return c.reply(task, map[string]any{"modules": modules})
}

func (c *Channel) handleListVersions(task *Task) error {
	if task.ModuleUUID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "module_uuid is required")
	}
	versions, err := c.store.ListVersionsByModule(task.ModuleUUID)
	if err != nil {
		return err
	}
	if versions == nil {
		versions = []*store.Version{}
	}
	return c.reply(task, map[string]any{"versions": versions})
}

func (c *Channel) handleListSamples(task *Task) error {
	samples, err := c.store.ListSamples()
	if err != nil {
		return err
	}
	if samples == nil {
		samples = []*store.Sample{}
	}
	return c.reply(task, map[string]any{"samples": samples})
}

func (c *Channel) handleGetPrompts(task *Task) error {
	if task.VersionUUID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "version_uuid is required")
	}
	prompts, err := c.store.ListPromptsByVersion(task.VersionUUID)
	if err != nil {
		return err
	}
	if prompts == nil {
		prompts = []*store.Prompt{}
	}
	return c.reply(task, map[string]any{"prompts": prompts})
}

func (c *Channel) handleGetRunLogs(task *Task) error {
	if task.VersionUUID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "version_uuid is required")
	}
	logs, err := c.store.ListRunLogsByVersion(task.VersionUUID)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []*store.RunLog{}
	}
	return c.reply(task, map[string]any{"run_logs": logs})
}

func (c *Channel) handleChangeVersionStatus(task *Task) error {
	if task.VersionUUID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "version_uuid is required")
	}
	status := store.VersionStatus(task.Status)
	if !status.Valid() {
		return errors.Wrapf(errors.ErrInvalidInput, "unknown version status %q", task.Status)
	}
	if err := c.store.UpdateVersionStatus(task.VersionUUID, status); err != nil {
		return err
	}
	return c.reply(task, map[string]any{"success": true})
}

func (c *Channel) handleGetVersionToSave(task *Task) error {
	if task.VersionUUID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "version_uuid is required")
	}
	v, err := c.store.GetVersion(task.VersionUUID)
	if err != nil {
		return err
	}
	prompts, err := c.store.ListPromptsByVersion(v.ID)
	if err != nil {
		return err
	}
	if prompts == nil {
		prompts = []*store.Prompt{}
	}
	return c.reply(task, map[string]any{"version": v, "prompts": prompts})
}

func (c *Channel) handleGetVersionsToSave(task *Task) error {
	versions, err := c.store.ListCandidatesToSave()
	if err != nil {
		return err
	}
	if versions == nil {
		versions = []*store.Version{}
	}

	prompts := []*store.Prompt{}
	for _, v := range versions {
		vp, err := c.store.ListPromptsByVersion(v.ID)
		if err != nil {
			return err
		}
		prompts = append(prompts, vp...)
	}
	return c.reply(task, map[string]any{"versions": versions, "prompts": prompts})
}

func (c *Channel) handleUpdateCandidates(task *Task) error {
	if len(task.Candidates) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "candidates is required")
	}
	for _, ref := range task.Candidates {
		if err := c.store.SetCandidateID(ref.UUID, ref.CandidateVersionID); err != nil {
			return err
		}
	}
	c.logger.Infow("Marked candidate versions saved", "count", len(task.Candidates))
	return c.reply(task, map[string]any{"success": true})
}

// handleRun executes one module run, relaying every event as a result
// frame. Run failures are failed frames, not error replies; the returned
// error stays nil so the dispatcher does not double-report.
func (c *Channel) handleRun(ctx context.Context, task *Task) error {
	req := c.buildRunRequest(task, MsgUpdateResultRun, "")
	for ev := range c.executor.Execute(ctx, c.snapshot(), req) {
		c.relayEvent(task, MsgUpdateResultRun, "", ev)
	}
	return nil
}

// handleEval runs the module once per stored sample, streaming eval result
// frames tagged with the sample name. The first run's created version is
// reused by the rest, so an eval produces one version no matter how many
// samples exist.
func (c *Channel) handleEval(ctx context.Context, task *Task) error {
	samples, err := c.store.ListSamples()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return errors.NewNotFoundError("no samples declared to evaluate")
	}

	versionID := task.VersionUUID
	for _, sample := range samples {
		req := c.buildRunRequest(task, MsgUpdateResultEval, sample.Name)
		req.SampleName = sample.Name
		req.Inputs = nil
		req.VersionID = versionID

		notify := req.OnVersionCreated
		req.OnVersionCreated = func(id string, inputs map[string]any) {
			versionID = id
			notify(id, inputs)
		}

		for ev := range c.executor.Execute(ctx, c.snapshot(), req) {
			c.relayEvent(task, MsgUpdateResultEval, sample.Name, ev)
		}
	}
	return nil
}

// buildRunRequest maps the task payload onto an executor request. The
// version-created notification goes out before any provider call so the
// gateway can track the run against a real identifier.
func (c *Channel) buildRunRequest(task *Task, kind, sampleName string) run.Request {
	return run.Request{
		ModuleName:    task.ModuleName,
		SampleName:    task.SampleName,
		Inputs:        task.Inputs,
		VersionID:     task.VersionUUID,
		FromVersionID: task.FromUUID,
		Prompts:       task.Prompts,
		Model:         task.Model,
		ParsingMode:   task.ParsingType,
		OutputFields:  task.OutputKeys,
		OnVersionCreated: func(versionID string, inputs map[string]any) {
			if inputs == nil {
				inputs = map[string]any{}
			}
			frame := map[string]any{
				"type":         kind,
				"version_uuid": versionID,
				"status":       "running",
				"inputs":       inputs,
			}
			if sampleName != "" {
				frame["sample_name"] = sampleName
			}
			if err := c.reply(task, frame); err != nil {
				c.logger.Debugw("Dropped version notification", "error", err)
			}
		},
	}
}

// relayEvent converts one run event into a result frame. A running frame
// carries exactly one of raw_output or parsed_outputs; the terminal frame
// carries only the status, plus the log on failure. Send failures are
// swallowed: the run finishes and persists locally regardless.
func (c *Channel) relayEvent(task *Task, kind, sampleName string, ev run.Event) {
	frame := map[string]any{"type": kind}
	switch ev.Kind {
	case run.KindRaw:
		frame["status"] = "running"
		frame["raw_output"] = ev.Text
	case run.KindParsed:
		frame["status"] = "running"
		frame["parsed_outputs"] = map[string]string{ev.Parsed.Key: ev.Parsed.Value}
	case run.KindCompleted:
		frame["status"] = "completed"
	case run.KindFailed:
		frame["status"] = "failed"
		frame["log"] = ev.Error
	}
	if sampleName != "" {
		frame["sample_name"] = sampleName
	}

	if err := c.reply(task, frame); err != nil {
		c.logger.Debugw("Dropped result frame after connection loss",
			"status", frame["status"])
	}
}
