// Package reconcile replays remote changelog entries against the local
// store and settles local-source bookkeeping afterwards: usage flags,
// purely-local module pushes, and sample declarations.
//
// Entries apply oldest first because later entries may reference
// identifiers created by earlier ones. A failing log skips only itself;
// the rest of the batch still applies.
package reconcile

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weavel-fastllm/fastllm/api"
	"github.com/weavel-fastllm/fastllm/conf"
	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/store"
)

// backend is the push surface the reconciler needs. Nil means offline:
// local state still settles, pushes are skipped.
type backend interface {
	PushLocalModules(ctx context.Context, modules []*store.Module) error
	UpdateSamples(ctx context.Context, samples []*store.Sample) error
}

// Input is one reconciliation pass: the remote state to replay and the
// local name lists from before and after the reload.
type Input struct {
	Entries  []api.ChangelogEntry
	Snapshot *api.Snapshot
	OldNames []string
	NewNames []string
	Samples  []*store.Sample
}

// Reconciler merges remote changelog state into the local store.
type Reconciler struct {
	store   *store.Store
	backend backend
	cfg     *conf.Config
	logger  *zap.SugaredLogger
}

// New creates a reconciler. The backend may be nil for offline use.
func New(st *store.Store, b backend, cfg *conf.Config, logger *zap.SugaredLogger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reconciler{
		store:   st,
		backend: b,
		cfg:     cfg,
		logger:  logger,
	}
}

// Apply replays the changelog entries in order, bumps the project version
// per entry, then settles usage flags, purely-local modules, and samples.
func (r *Reconciler) Apply(ctx context.Context, in Input) error {
	for _, entry := range in.Entries {
		for _, log := range entry.Logs {
			if err := r.applyLog(entry.Level, log, in.Snapshot, in.NewNames); err != nil {
				r.logger.Warnw("Changelog log skipped",
					"subject", log.Subject,
					"action", log.Action,
					"identifiers", log.Identifiers,
					"error", err)
			}
		}

		next, err := nextVersion(entry.PreviousVersion, entry.Level)
		if err != nil {
			r.logger.Warnw("Skipping project version bump",
				"previous", entry.PreviousVersion,
				"level", entry.Level,
				"error", err)
			continue
		}
		if err := r.cfg.SaveProjectVersion(next); err != nil {
			return errors.Wrap(err, "failed to persist project version")
		}
		r.logger.Debugw("Project version bumped",
			"previous", entry.PreviousVersion, "current", next)
	}

	return r.settle(ctx, in)
}

func (r *Reconciler) applyLog(level int, log api.ChangelogLog, snapshot *api.Snapshot, newNames []string) error {
	if log.Action != api.ActionAdd {
		// DEL/CHG/FIX are reserved by the backend; accepted, no local effect.
		r.logger.Debugw("Ignoring reserved changelog action",
			"subject", log.Subject, "action", log.Action)
		return nil
	}
	if snapshot == nil {
		return errors.Wrap(errors.ErrInvalidInput, "changelog entries need a project snapshot to resolve against")
	}

	switch log.Subject {
	case api.SubjectModule:
		return r.applyModuleAdd(snapshot, log.Identifiers, newNames)
	case api.SubjectModuleVersion:
		return r.applyVersionAdd(snapshot, log.Identifiers)
	default:
		r.logger.Debugw("Ignoring unknown changelog subject",
			"subject", log.Subject, "level", level)
		return nil
	}
}

// applyModuleAdd inserts remote modules not yet known locally. A module
// already present under a different local identifier is unified by
// rewriting the local identifier to the remote one; the rewrite cascades
// through referencing rows.
func (r *Reconciler) applyModuleAdd(snapshot *api.Snapshot, identifiers, newNames []string) error {
	for _, id := range identifiers {
		remote := findModule(snapshot, id)
		if remote == nil {
			r.logger.Warnw("Changelog references module absent from snapshot", "uuid", id)
			continue
		}

		local, err := r.store.GetModuleByName(remote.Name)
		switch {
		case errors.IsNotFoundError(err):
			m := &store.Module{
				ID:                remote.ID,
				Name:              remote.Name,
				UsedInLocalSource: containsName(newNames, remote.Name),
				IsDeployed:        true,
			}
			if err := r.store.CreateModule(m); err != nil {
				return errors.Wrapf(err, "failed to insert remote module %s", remote.Name)
			}
			r.logger.Debugw("Inserted remote module",
				"name", remote.Name, "uuid", remote.ID, "used", m.UsedInLocalSource)

		case err != nil:
			return err

		case local.ID != remote.ID:
			if err := r.store.RemapModuleID(local.ID, remote.ID); err != nil {
				return errors.Wrapf(err, "failed to unify module %s", remote.Name)
			}
			r.logger.Infow("Unified module identifier",
				"name", remote.Name, "local", local.ID, "remote", remote.ID)
		}
	}
	return nil
}

// applyVersionAdd bulk-inserts versions the store does not have yet, with
// their prompts and run logs, as one transaction. Already-present
// identifiers are dropped first so replaying an entry is idempotent.
func (r *Reconciler) applyVersionAdd(snapshot *api.Snapshot, identifiers []string) error {
	existingIDs, err := r.store.ListVersionIDs()
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(existingIDs))
	for _, id := range existingIDs {
		existing[id] = true
	}

	missing := make(map[string]bool)
	for _, id := range identifiers {
		if !existing[id] {
			missing[id] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var versions []*store.Version
	for _, v := range snapshot.Versions {
		if missing[v.ID] {
			v := *v
			v.Status = store.StatusCandidate
			versions = append(versions, &v)
		}
	}
	var prompts []*store.Prompt
	for _, p := range snapshot.Prompts {
		if missing[p.VersionID] {
			prompts = append(prompts, p)
		}
	}
	var runLogs []*store.RunLog
	for _, l := range snapshot.RunLogs {
		if missing[l.VersionID] {
			runLogs = append(runLogs, l)
		}
	}

	if err := r.store.BulkInsertVersionGroup(versions, prompts, runLogs); err != nil {
		return errors.Wrap(err, "failed to insert version group")
	}
	r.logger.Debugw("Inserted remote versions",
		"versions", len(versions), "prompts", len(prompts), "run_logs", len(runLogs))
	return nil
}

// settle runs the after-batch steps: usage flags by name-set difference,
// purely-local module creation and push, and sample sync.
func (r *Reconciler) settle(ctx context.Context, in Input) error {
	removed := nameDifference(in.OldNames, in.NewNames)
	if err := r.store.SetUsageByNames(removed, false); err != nil {
		return errors.Wrap(err, "failed to clear usage flags")
	}
	added := nameDifference(in.NewNames, in.OldNames)
	if err := r.store.SetUsageByNames(added, true); err != nil {
		return errors.Wrap(err, "failed to set usage flags")
	}

	if err := r.pushLocalModules(ctx, in.NewNames); err != nil {
		return err
	}

	if err := r.store.SyncSamples(in.Samples); err != nil {
		return errors.Wrap(err, "failed to sync samples")
	}
	if r.backend != nil {
		if err := r.backend.UpdateSamples(ctx, in.Samples); err != nil {
			r.logger.Warnw("Failed to push samples to backend", "error", err)
		}
	}

	return nil
}

// pushLocalModules inserts modules that exist only in local source and
// reports them to the backend. Push failures are logged, not fatal: the
// local rows are authoritative for this session either way.
func (r *Reconciler) pushLocalModules(ctx context.Context, newNames []string) error {
	known, err := r.store.ListModules()
	if err != nil {
		return errors.Wrap(err, "failed to list modules")
	}
	knownNames := make(map[string]bool, len(known))
	for _, m := range known {
		knownNames[m.Name] = true
	}

	var created []*store.Module
	for _, name := range newNames {
		if knownNames[name] {
			continue
		}
		m := &store.Module{
			ID:                uuid.NewString(),
			Name:              name,
			UsedInLocalSource: true,
			IsDeployed:        false,
		}
		if err := r.store.CreateModule(m); err != nil {
			return errors.Wrapf(err, "failed to create local module %s", name)
		}
		created = append(created, m)
		r.logger.Debugw("Created purely-local module", "name", name, "uuid", m.ID)
	}

	if len(created) > 0 && r.backend != nil {
		if err := r.backend.PushLocalModules(ctx, created); err != nil {
			r.logger.Warnw("Failed to push local modules to backend",
				"count", len(created), "error", err)
		}
	}
	return nil
}

// nextVersion bumps a semantic version for a changelog level: 1 is a major
// bump, 2 a minor, anything else a patch.
func nextVersion(previous string, level int) (string, error) {
	v, err := semver.NewVersion(previous)
	if err != nil {
		return "", errors.Wrapf(err, "invalid project version %q", previous)
	}

	var next semver.Version
	switch level {
	case 1:
		next = v.IncMajor()
	case 2:
		next = v.IncMinor()
	default:
		next = v.IncPatch()
	}
	return next.String(), nil
}

func findModule(snapshot *api.Snapshot, id string) *store.Module {
	for _, m := range snapshot.Modules {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// nameDifference returns the names in a that are not in b.
func nameDifference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, name := range b {
		inB[name] = true
	}
	var diff []string
	for _, name := range a {
		if !inB[name] {
			diff = append(diff, name)
		}
	}
	return diff
}
