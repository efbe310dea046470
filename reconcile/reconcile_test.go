package reconcile_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavel-fastllm/fastllm/api"
	"github.com/weavel-fastllm/fastllm/conf"
	"github.com/weavel-fastllm/fastllm/reconcile"
	"github.com/weavel-fastllm/fastllm/store"
	"github.com/weavel-fastllm/fastllm/store/testutil"
)

type fakeBackend struct {
	mu      sync.Mutex
	pushed  [][]*store.Module
	samples [][]*store.Sample
}

func (f *fakeBackend) PushLocalModules(_ context.Context, modules []*store.Module) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, modules)
	return nil
}

func (f *fakeBackend) UpdateSamples(_ context.Context, samples []*store.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, samples)
	return nil
}

func setupReconciler(t *testing.T) (*reconcile.Reconciler, *store.Store, *conf.Config, *fakeBackend) {
	t.Helper()

	st := store.New(testutil.SetupTestDB(t), nil)
	cfg, err := conf.Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	b := &fakeBackend{}
	return reconcile.New(st, b, cfg, nil), st, cfg, b
}

func moduleAddEntry(level int, previous string, ids ...string) api.ChangelogEntry {
	return api.ChangelogEntry{
		Level:           level,
		PreviousVersion: previous,
		Logs: []api.ChangelogLog{
			{Subject: api.SubjectModule, Action: api.ActionAdd, Identifiers: ids},
		},
	}
}

func versionAddEntry(level int, previous string, ids ...string) api.ChangelogEntry {
	return api.ChangelogEntry{
		Level:           level,
		PreviousVersion: previous,
		Logs: []api.ChangelogLog{
			{Subject: api.SubjectModuleVersion, Action: api.ActionAdd, Identifiers: ids},
		},
	}
}

func TestApply_ModuleAddInsertsFromSnapshot(t *testing.T) {
	r, st, cfg, _ := setupReconciler(t)

	snapshot := &api.Snapshot{
		Modules: []*store.Module{
			{ID: "m-1", Name: "summarizer"},
			{ID: "m-2", Name: "classifier"},
		},
	}

	err := r.Apply(context.Background(), reconcile.Input{
		Entries:  []api.ChangelogEntry{moduleAddEntry(2, "0.1.0", "m-1", "m-2")},
		Snapshot: snapshot,
		NewNames: []string{"summarizer"},
	})
	require.NoError(t, err)

	summarizer, err := st.GetModuleByName("summarizer")
	require.NoError(t, err)
	assert.Equal(t, "m-1", summarizer.ID)
	assert.True(t, summarizer.UsedInLocalSource)
	assert.True(t, summarizer.IsDeployed)

	classifier, err := st.GetModuleByName("classifier")
	require.NoError(t, err)
	assert.Equal(t, "m-2", classifier.ID)
	assert.False(t, classifier.UsedInLocalSource, "module absent from local source should not be marked used")
	assert.True(t, classifier.IsDeployed)

	assert.Equal(t, "0.2.0", cfg.DevBranch.ProjectVersion)
}

func TestApply_ModuleAddUnifiesIdentifiers(t *testing.T) {
	r, st, _, _ := setupReconciler(t)

	require.NoError(t, st.CreateModule(&store.Module{
		ID: "local-1", Name: "summarizer", UsedInLocalSource: true,
	}))
	require.NoError(t, st.CreateVersion(&store.Version{
		ID: "v-1", ModuleID: "local-1", Status: store.StatusWorking, Model: "gpt-4o-mini",
	}))
	require.NoError(t, st.CreatePrompt(&store.Prompt{
		VersionID: "v-1", Role: "system", Step: 1, Content: "You summarize text.",
	}))

	snapshot := &api.Snapshot{
		Modules: []*store.Module{{ID: "remote-1", Name: "summarizer"}},
	}

	err := r.Apply(context.Background(), reconcile.Input{
		Entries:  []api.ChangelogEntry{moduleAddEntry(3, "0.0.1", "remote-1")},
		Snapshot: snapshot,
		OldNames: []string{"summarizer"},
		NewNames: []string{"summarizer"},
	})
	require.NoError(t, err)

	modules, err := st.ListModules()
	require.NoError(t, err)
	require.Len(t, modules, 1, "collision must unify, not duplicate")
	assert.Equal(t, "remote-1", modules[0].ID)

	versions, err := st.ListVersionsByModule("remote-1")
	require.NoError(t, err)
	require.Len(t, versions, 1, "versions must follow the rewritten identifier")
	assert.Equal(t, "v-1", versions[0].ID)
}

func TestApply_ConflictSkipsLogButContinuesBatch(t *testing.T) {
	r, st, cfg, _ := setupReconciler(t)

	// remote-1 already names a different local row, so the unification of
	// summarizer cannot apply.
	require.NoError(t, st.CreateModule(&store.Module{ID: "local-1", Name: "summarizer"}))
	require.NoError(t, st.CreateModule(&store.Module{ID: "remote-1", Name: "classifier"}))

	snapshot := &api.Snapshot{
		Modules: []*store.Module{
			{ID: "remote-1", Name: "summarizer"},
			{ID: "m-9", Name: "extractor"},
		},
	}

	err := r.Apply(context.Background(), reconcile.Input{
		Entries: []api.ChangelogEntry{
			moduleAddEntry(3, "0.0.0", "remote-1"),
			moduleAddEntry(3, "0.0.1", "m-9"),
		},
		Snapshot: snapshot,
		NewNames: []string{"summarizer", "classifier", "extractor"},
	})
	require.NoError(t, err)

	summarizer, err := st.GetModuleByName("summarizer")
	require.NoError(t, err)
	assert.Equal(t, "local-1", summarizer.ID, "conflicting unification must leave the local row untouched")

	classifier, err := st.GetModuleByName("classifier")
	require.NoError(t, err)
	assert.Equal(t, "remote-1", classifier.ID)

	extractor, err := st.GetModuleByName("extractor")
	require.NoError(t, err)
	assert.Equal(t, "m-9", extractor.ID, "entries after the conflict must still apply")

	assert.Equal(t, "0.0.2", cfg.DevBranch.ProjectVersion, "version bumps must survive a conflicting entry")
}

func TestApply_VersionAddIsIdempotent(t *testing.T) {
	r, st, _, _ := setupReconciler(t)

	require.NoError(t, st.CreateModule(&store.Module{ID: "m-1", Name: "summarizer"}))

	runErr := "model overloaded"
	snapshot := &api.Snapshot{
		Versions: []*store.Version{
			{ID: "v-1", ModuleID: "m-1", Status: store.StatusBroken, Model: "gpt-4o-mini"},
		},
		Prompts: []*store.Prompt{
			{VersionID: "v-1", Role: "system", Step: 1, Content: "You summarize text."},
		},
		RunLogs: []*store.RunLog{
			{VersionID: "v-1", RawOutput: "partial", Error: &runErr},
		},
	}

	input := reconcile.Input{
		Entries:  []api.ChangelogEntry{versionAddEntry(3, "0.0.1", "v-1")},
		Snapshot: snapshot,
		NewNames: []string{"summarizer"},
	}

	require.NoError(t, r.Apply(context.Background(), input))
	require.NoError(t, r.Apply(context.Background(), input))

	ids, err := st.ListVersionIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"v-1"}, ids, "replaying the same entry must not duplicate the version")

	v, err := st.GetVersion("v-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusCandidate, v.Status, "pulled versions always arrive as candidates")

	prompts, err := st.ListPromptsByVersion("v-1")
	require.NoError(t, err)
	assert.Len(t, prompts, 1)

	logs, err := st.ListRunLogsByVersion("v-1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestApply_VersionGroupIsTransactional(t *testing.T) {
	r, st, _, _ := setupReconciler(t)

	// The version references a module that was never inserted, so the group
	// insert fails and nothing from it may persist.
	snapshot := &api.Snapshot{
		Versions: []*store.Version{
			{ID: "v-void", ModuleID: "m-missing", Status: store.StatusBroken, Model: "gpt-4o"},
		},
		Prompts: []*store.Prompt{
			{VersionID: "v-void", Role: "user", Step: 1, Content: "{text}"},
		},
	}

	err := r.Apply(context.Background(), reconcile.Input{
		Entries:  []api.ChangelogEntry{versionAddEntry(3, "0.0.1", "v-void")},
		Snapshot: snapshot,
	})
	require.NoError(t, err, "a failing group skips its log, not the batch")

	ids, err := st.ListVersionIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	prompts, err := st.ListPromptsByVersion("v-void")
	require.NoError(t, err)
	assert.Empty(t, prompts)
}

func TestApply_BumpsProjectVersionPerLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    int
		previous string
		want     string
	}{
		{"major", 1, "1.2.3", "2.0.0"},
		{"minor", 2, "1.2.3", "1.3.0"},
		{"patch", 3, "1.2.3", "1.2.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, cfg, _ := setupReconciler(t)

			entry := api.ChangelogEntry{Level: tt.level, PreviousVersion: tt.previous}
			err := r.Apply(context.Background(), reconcile.Input{
				Entries:  []api.ChangelogEntry{entry},
				Snapshot: &api.Snapshot{},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.DevBranch.ProjectVersion)

			// The bump must survive a restart.
			reloaded, err := conf.Load(cfg.Path())
			require.NoError(t, err)
			assert.Equal(t, tt.want, reloaded.DevBranch.ProjectVersion)
		})
	}
}

func TestApply_InvalidPreviousVersionSkipsBump(t *testing.T) {
	r, _, cfg, _ := setupReconciler(t)

	err := r.Apply(context.Background(), reconcile.Input{
		Entries:  []api.ChangelogEntry{{Level: 3, PreviousVersion: "not-a-version"}},
		Snapshot: &api.Snapshot{},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", cfg.DevBranch.ProjectVersion)
}

func TestApply_TogglesUsageBySetDifference(t *testing.T) {
	r, st, _, b := setupReconciler(t)

	require.NoError(t, st.CreateModule(&store.Module{
		ID: "m-a", Name: "alpha", UsedInLocalSource: true, IsDeployed: true,
	}))
	require.NoError(t, st.CreateModule(&store.Module{
		ID: "m-b", Name: "beta", UsedInLocalSource: true, IsDeployed: true,
	}))

	err := r.Apply(context.Background(), reconcile.Input{
		Snapshot: &api.Snapshot{},
		OldNames: []string{"alpha", "beta"},
		NewNames: []string{"beta", "gamma"},
	})
	require.NoError(t, err)

	alpha, err := st.GetModuleByName("alpha")
	require.NoError(t, err)
	assert.False(t, alpha.UsedInLocalSource, "removed from source, row kept")

	beta, err := st.GetModuleByName("beta")
	require.NoError(t, err)
	assert.True(t, beta.UsedInLocalSource)

	gamma, err := st.GetModuleByName("gamma")
	require.NoError(t, err)
	assert.True(t, gamma.UsedInLocalSource)
	assert.False(t, gamma.IsDeployed, "purely-local modules start undeployed")

	require.Len(t, b.pushed, 1)
	require.Len(t, b.pushed[0], 1)
	assert.Equal(t, "gamma", b.pushed[0][0].Name)
}

func TestApply_SyncsSamples(t *testing.T) {
	r, st, _, b := setupReconciler(t)

	require.NoError(t, st.UpsertSample(&store.Sample{
		Name: "stale", Content: map[string]any{"text": "old"},
	}))

	declared := []*store.Sample{
		{Name: "short_article", Content: map[string]any{"text": "hello"}},
	}

	err := r.Apply(context.Background(), reconcile.Input{
		Snapshot: &api.Snapshot{},
		Samples:  declared,
	})
	require.NoError(t, err)

	samples, err := st.ListSamples()
	require.NoError(t, err)
	require.Len(t, samples, 1, "undeclared samples are removed")
	assert.Equal(t, "short_article", samples[0].Name)

	require.Len(t, b.samples, 1)
	require.Len(t, b.samples[0], 1)
	assert.Equal(t, "short_article", b.samples[0][0].Name)
}

func TestApply_IgnoresReservedActions(t *testing.T) {
	r, st, cfg, _ := setupReconciler(t)

	snapshot := &api.Snapshot{
		Modules: []*store.Module{{ID: "m-1", Name: "summarizer"}},
	}

	err := r.Apply(context.Background(), reconcile.Input{
		Entries: []api.ChangelogEntry{{
			Level:           3,
			PreviousVersion: "0.0.0",
			Logs: []api.ChangelogLog{
				{Subject: api.SubjectModule, Action: api.ActionDelete, Identifiers: []string{"m-1"}},
				{Subject: api.SubjectModuleVersion, Action: api.ActionChange, Identifiers: []string{"v-1"}},
			},
		}},
		Snapshot: snapshot,
	})
	require.NoError(t, err)

	modules, err := st.ListModules()
	require.NoError(t, err)
	assert.Empty(t, modules, "reserved actions have no local effect")
	assert.Equal(t, "0.0.1", cfg.DevBranch.ProjectVersion, "the entry still counts for the version bump")
}

func TestApply_OfflineSkipsBackendPushes(t *testing.T) {
	st := store.New(testutil.SetupTestDB(t), nil)
	cfg, err := conf.Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	r := reconcile.New(st, nil, cfg, nil)

	err = r.Apply(context.Background(), reconcile.Input{
		Snapshot: &api.Snapshot{},
		NewNames: []string{"summarizer"},
		Samples: []*store.Sample{
			{Name: "short", Content: map[string]any{"text": "hi"}},
		},
	})
	require.NoError(t, err)

	m, err := st.GetModuleByName("summarizer")
	require.NoError(t, err)
	assert.True(t, m.UsedInLocalSource)
}
