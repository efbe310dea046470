package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weavel-fastllm/fastllm/api"
	"github.com/weavel-fastllm/fastllm/conf"
	"github.com/weavel-fastllm/fastllm/db"
	"github.com/weavel-fastllm/fastllm/devsync"
	"github.com/weavel-fastllm/fastllm/errors"
	"github.com/weavel-fastllm/fastllm/llm"
	"github.com/weavel-fastllm/fastllm/logger"
	"github.com/weavel-fastllm/fastllm/manifest"
	"github.com/weavel-fastllm/fastllm/reconcile"
	"github.com/weavel-fastllm/fastllm/registry"
	"github.com/weavel-fastllm/fastllm/run"
	"github.com/weavel-fastllm/fastllm/store"
	"github.com/weavel-fastllm/fastllm/watcher"
)

// DevCmd runs the local development engine.
var DevCmd = &cobra.Command{
	Use:   "dev",
	Short: "Start the development engine",
	Long: `Start the development engine: watch the manifest for changes, keep the
local cache reconciled with the remote project, and serve run requests from
the platform over the sync channel.

The engine connects when project credentials are configured and runs fully
offline otherwise; local reloads and the run executor work either way.`,
	RunE: runDev,
}

var (
	devManifestPath string
	devDBPath       string
	devOffline      bool
)

func init() {
	DevCmd.Flags().StringVar(&devManifestPath, "manifest", "", "Manifest path (overrides config)")
	DevCmd.Flags().StringVar(&devDBPath, "db-path", "", "Custom database path (overrides config)")
	DevCmd.Flags().BoolVar(&devOffline, "offline", false, "Run without connecting to the backend")
}

// engine is the wired development loop. reload is its only moving part; the
// rest is fixed at startup.
type engine struct {
	cfg     *conf.Config
	rec     *reconcile.Reconciler
	backend *api.Client
	channel *devsync.Channel
	watch   *watcher.Watcher
	log     *zap.SugaredLogger

	manifestPath string
	oldNames     []string
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := conf.Load(rootConfigPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 && cfg.Dev.LogVerbose {
		if err := logger.Initialize(true, false); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
	}
	log := logger.Logger

	branch := cfg.DevBranch.Name
	if branch == "" {
		branch = conf.DetectBranch(".")
	}
	if !cfg.DevBranch.Initialized || cfg.DevBranch.Name != branch {
		if err := cfg.SaveBranchInit(branch); err != nil {
			return errors.Wrap(err, "failed to record dev branch")
		}
	}

	manifestPath := devManifestPath
	if manifestPath == "" {
		manifestPath = cfg.Dev.ManifestPath
	}
	dbPath := devDBPath
	if dbPath == "" {
		dbPath = cfg.Dev.DBPath
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, conf.DefaultDirPermissions); err != nil {
			return errors.Wrap(err, "failed to create database directory")
		}
	}

	database, err := db.OpenWithMigrations(dbPath, log)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()
	st := store.New(database, log)

	client, err := llm.New(llm.Options{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	if err != nil {
		return err
	}
	executor := run.New(st, client, log)

	online := !devOffline && cfg.Project.UUID != "" && cfg.Project.APIKey != ""
	var backend *api.Client
	var rec *reconcile.Reconciler
	if online {
		backend = api.NewClient(cfg.Project.APIBaseURL, cfg.Project.APIKey, cfg.Project.UUID, log)
		rec = reconcile.New(st, backend, cfg, log)
	} else {
		rec = reconcile.New(st, nil, cfg, log)
	}

	dial := devsync.GatewayDialer(cfg.Project.APIBaseURL, cfg.Project.APIKey, cfg.Project.UUID, branch)
	channel := devsync.New(dial, st, executor, registry.New(), log)
	channel.SetOnlineHook(func(connected bool) {
		if err := cfg.SaveOnline(connected); err != nil {
			log.Warnw("Failed to record connection state", "error", err)
		}
	})
	channel.SetFatalHook(func(err error) {
		pterm.Error.Printf("Gateway connection lost for good: %v\n", err)
	})

	w, err := watcher.New(log)
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer w.Stop()
	conf.SetOwnWriteMarker(w.MarkOwnWrite)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := &engine{
		cfg:          cfg,
		rec:          rec,
		backend:      backend,
		channel:      channel,
		watch:        w,
		log:          log,
		manifestPath: manifestPath,
	}

	// First load happens before watching starts so the channel never serves
	// from an empty registry.
	if err := eng.reload(ctx); err != nil {
		return errors.Wrap(err, "initial load failed")
	}
	w.OnReload(func() error { return eng.reload(ctx) })
	w.Start()

	gateway := ""
	if online {
		gateway = cfg.Project.APIBaseURL
	}
	printStartupBanner(branch, manifestPath, dbPath, gateway)

	errChan := make(chan error, 1)
	if online {
		go func() { errChan <- channel.Run(ctx) }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "sync channel stopped")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")
		cancel()

		if online {
			select {
			case <-errChan:
			case <-sigChan:
				pterm.Warning.Println("\nForce shutdown - exiting immediately")
				os.Exit(1)
			case <-time.After(5 * time.Second):
				log.Warnw("Sync channel did not stop in time")
			}
		}
		pterm.Success.Println("Engine stopped")
		return nil
	}
}

// reload parses the manifest, reconciles the store against the remote
// project, and swaps the fresh registry into the sync channel. Runs once at
// startup and then on the watcher's goroutine after every debounced change.
// Remote fetch failures degrade the pass to local-only; the next change
// retries against the backend.
func (e *engine) reload(ctx context.Context) error {
	m, err := manifest.Load(e.manifestPath)
	if err != nil {
		return errors.WrapReload(err, "manifest load failed")
	}
	newNames := m.Registry.Names()

	in := reconcile.Input{
		OldNames: e.oldNames,
		NewNames: newNames,
		Samples:  declaredSamples(m.Registry),
	}
	if e.backend != nil {
		snapshot, err := e.backend.PullProject(ctx)
		if err != nil {
			e.log.Warnw("Project pull failed, reconciling local-only", "error", err)
		} else {
			in.Snapshot = snapshot
			entries, err := e.backend.GetChangelog(ctx, e.cfg.DevBranch.ProjectVersion, []int{1, 2})
			if err != nil {
				e.log.Warnw("Changelog fetch failed, reconciling local-only", "error", err)
			} else {
				in.Entries = entries
			}
		}
	}

	if err := e.rec.Apply(ctx, in); err != nil {
		return err
	}

	e.channel.SwapRegistry(m.Registry)
	e.oldNames = newNames

	if err := e.watch.SetPaths(m.Files); err != nil {
		e.log.Warnw("Failed to update watch set", "error", err)
	}
	e.log.Infow("Reloaded modules", "modules", len(newNames), "files", len(m.Files))
	return nil
}

// declaredSamples converts the manifest's sample declarations into store
// rows, sorted for deterministic sync order.
func declaredSamples(reg *registry.Registry) []*store.Sample {
	declared := reg.Samples()
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	samples := make([]*store.Sample, 0, len(names))
	for _, name := range names {
		samples = append(samples, &store.Sample{Name: name, Content: declared[name]})
	}
	return samples
}
