// Command dioptra-worker provisions plugins, creates a tracked run, and
// executes dioptra-run in a supervised child process so the run can be
// stopped from the tracking service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dioptra-labs/dioptra-go/internal/platform/env"
	"github.com/dioptra-labs/dioptra-go/internal/platform/objectstore"
	"github.com/dioptra-labs/dioptra-go/internal/platform/postgres"
	"github.com/dioptra-labs/dioptra-go/internal/plugins/provision"
	"github.com/dioptra-labs/dioptra-go/internal/supervisor"
	"github.com/dioptra-labs/dioptra-go/internal/tracking"
)

type workerConfig struct {
	PluginDir        string
	PluginsURI       provision.S3URI
	CustomPluginsURI *provision.S3URI
	RunnerBin        string
	PollInterval     time.Duration
}

func configFromEnv() (workerConfig, error) {
	pluginDir, err := env.RequiredString("DIOPTRA_PLUGIN_DIR")
	if err != nil {
		return workerConfig{}, err
	}
	rawPlugins, err := env.RequiredString("DIOPTRA_PLUGINS_S3_URI")
	if err != nil {
		return workerConfig{}, err
	}
	pluginsURI, err := provision.ParseS3URI(rawPlugins)
	if err != nil {
		return workerConfig{}, err
	}

	cfg := workerConfig{
		PluginDir:  pluginDir,
		PluginsURI: pluginsURI,
		RunnerBin:  env.String("DIOPTRA_RUNNER_BIN", "dioptra-run"),
	}

	if raw := env.String("DIOPTRA_CUSTOM_PLUGINS_S3_URI", ""); raw != "" {
		uri, err := provision.ParseS3URI(raw)
		if err != nil {
			return workerConfig{}, err
		}
		cfg.CustomPluginsURI = &uri
	}

	cfg.PollInterval, err = env.Duration("DIOPTRA_STOP_POLL_INTERVAL", supervisor.DefaultPollInterval)
	if err != nil {
		return workerConfig{}, err
	}
	if cfg.PollInterval <= 0 {
		return workerConfig{}, fmt.Errorf("DIOPTRA_STOP_POLL_INTERVAL must be positive")
	}
	return cfg, nil
}

type options struct {
	params   []string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "dioptra-worker FILE",
		Short:         "Provision plugins and execute an experiment under supervision",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.params, "parameter", "P", nil,
		"global parameter as name=value, forwarded to dioptra-run; repeatable")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info",
		"log level forwarded to dioptra-run")
	return cmd
}

func runWorker(ctx context.Context, file string, opts *options) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("invalid worker configuration", "error", err)
		return err
	}

	if err := provisionPlugins(ctx, logger, cfg); err != nil {
		logger.Error("plugin provisioning failed", "error", err)
		return err
	}

	store, closeStore, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("tracking store unavailable", "error", err)
		return err
	}
	defer closeStore()

	run, err := store.CreateRun(ctx, experimentName(file))
	if err != nil {
		logger.Error("cannot create tracked run", "error", err)
		return err
	}
	logger.Info("created run", "run_id", run.ID, "experiment", run.Experiment)

	child := exec.Command(cfg.RunnerBin, childArgs(file, run.ID, opts)...)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Env = os.Environ()

	sup := &supervisor.Supervisor{
		PollInterval: cfg.PollInterval,
		ShouldStop:   tracking.ShouldStop(store, run.ID),
		Logger:       logger.With("run_id", run.ID),
	}
	stopped, err := sup.Run(ctx, child)

	// The child records its own terminal status; the parent only writes
	// one when the child was interrupted or died without reporting.
	switch {
	case stopped:
		if updateErr := store.UpdateStatus(context.WithoutCancel(ctx), run.ID, tracking.StatusStopped); updateErr != nil {
			logger.Warn("cannot record stopped status", "run_id", run.ID, "error", updateErr)
		}
		logger.Info("run stopped", "run_id", run.ID)
		return nil
	case err != nil:
		if updateErr := store.UpdateStatus(ctx, run.ID, tracking.StatusFailed); updateErr != nil {
			logger.Warn("cannot record failed status", "run_id", run.ID, "error", updateErr)
		}
		logger.Error("run failed", "run_id", run.ID, "error", err)
		return err
	default:
		logger.Info("run finished", "run_id", run.ID)
		return nil
	}
}

func provisionPlugins(ctx context.Context, logger *slog.Logger, cfg workerConfig) error {
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return err
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return err
	}
	minioStore, err := provision.NewMinioStore(client)
	if err != nil {
		return err
	}

	uris := []provision.S3URI{cfg.PluginsURI}
	if cfg.CustomPluginsURI != nil {
		uris = append(uris, *cfg.CustomPluginsURI)
	}

	prov := &provision.Provisioner{Store: minioStore, Logger: logger}
	logger.Info("provisioning plugins", "dir", cfg.PluginDir, "trees", len(uris))
	return prov.Sync(ctx, cfg.PluginDir, uris...)
}

func openStore(ctx context.Context, logger *slog.Logger) (tracking.Store, func(), error) {
	if os.Getenv("DATABASE_URL") == "" {
		logger.Warn("DATABASE_URL not set, runs cannot be stopped externally")
		return tracking.NewMemoryStore(), func() {}, nil
	}
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, err
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return tracking.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

func childArgs(file, runID string, opts *options) []string {
	args := []string{file, "--run-id", runID, "--log-level", opts.logLevel}
	for _, p := range opts.params {
		args = append(args, "-P", p)
	}
	return args
}

func experimentName(file string) string {
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}
