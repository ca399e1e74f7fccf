// Command dioptra-run executes one declarative experiment description.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dioptra-labs/dioptra-go/internal/engine"
	"github.com/dioptra-labs/dioptra-go/internal/experiment"
	"github.com/dioptra-labs/dioptra-go/internal/experiment/schema"
	"github.com/dioptra-labs/dioptra-go/internal/platform/postgres"
	"github.com/dioptra-labs/dioptra-go/internal/plugins/builtins"
	"github.com/dioptra-labs/dioptra-go/internal/plugins/registry"
	"github.com/dioptra-labs/dioptra-go/internal/supervisor"
	"github.com/dioptra-labs/dioptra-go/internal/tracking"
)

type options struct {
	params   []string
	logLevel string
	runID    string
	noRun    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "dioptra-run FILE",
		Short:         "Run a declarative experiment description",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.params, "parameter", "P", nil,
		"global parameter as name=value (value is YAML-evaluated; bare name means true); repeatable")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info",
		"log level: all, debug, info, warning, error, critical")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "attach to an existing tracked run")
	cmd.Flags().BoolVar(&opts.noRun, "no-run", false, "do not record the execution in the tracking service")
	cmd.MarkFlagsMutuallyExclusive("run-id", "no-run")
	return cmd
}

func run(ctx context.Context, file string, opts *options) error {
	level, err := parseLogLevel(opts.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	params, err := parseParameterAssignments(opts.params)
	if err != nil {
		logger.Error("invalid parameter assignment", "error", err)
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		logger.Error("cannot read experiment description", "file", file, "error", err)
		return err
	}
	doc, err := experiment.ParseDocument(data)
	if err != nil {
		logger.Error("cannot parse experiment description", "file", file, "error", err)
		return err
	}

	if issues := schema.ValidateAll(doc); len(issues) > 0 {
		for _, issue := range issues {
			logger.Error("validation issue", "kind", issue.Kind, "message", issue.Message)
		}
		return fmt.Errorf("experiment description has %d validation issues", len(issues))
	}

	store, closeStore, err := openStore(ctx, logger, opts)
	if err != nil {
		logger.Error("tracking store unavailable", "error", err)
		return err
	}
	defer closeStore()

	runID := opts.runID
	if runID == "" {
		created, err := store.CreateRun(ctx, experimentName(file))
		if err != nil {
			logger.Error("cannot create tracked run", "error", err)
			return err
		}
		runID = created.ID
	} else if _, err := store.GetRun(ctx, runID); err != nil {
		logger.Error("unknown run id", "run_id", runID, "error", err)
		return err
	}
	logger.Info("starting run", "run_id", runID, "file", file)

	reg := registry.Default()
	builtins.Register(reg)

	stop := &engine.StopFlag{}
	uninstall := supervisor.NotifyStop(stop)
	defer uninstall()

	runner := &engine.Runner{
		Dispatcher: reg,
		Recorder:   tracking.NewRecorder(store, runID),
		Logger:     logger.With("run_id", runID),
		Stop:       stop,
	}
	result, err := runner.Run(ctx, doc, params)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidDescription) {
			for _, issue := range result.Issues {
				logger.Error("validation issue", "kind", issue.Kind, "message", issue.Message)
			}
		}
		logger.Error("run failed", "run_id", runID, "error", err)
		return err
	}
	logger.Info("run finished", "run_id", runID, "status", result.Status)
	return nil
}

// openStore picks the tracking backend: in-memory for --no-run or when no
// database is configured, Postgres otherwise.
func openStore(ctx context.Context, logger *slog.Logger, opts *options) (tracking.Store, func(), error) {
	if opts.noRun || os.Getenv("DATABASE_URL") == "" {
		if !opts.noRun {
			logger.Warn("DATABASE_URL not set, run will not be recorded")
		}
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

// parseParameterAssignments evaluates repeated -P name=value flags. Values
// are YAML-evaluated so "-P epochs=10" yields an int and "-P rate=0.2" a
// float; a bare "-P verbose" means boolean true.
func parseParameterAssignments(assignments []string) (map[string]any, error) {
	out := make(map[string]any, len(assignments))
	for _, assignment := range assignments {
		name, raw, found := strings.Cut(assignment, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("parameter assignment %q has no name", assignment)
		}
		if !found {
			out[name] = true
			continue
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("parameter %q value: %w", name, err)
		}
		out[name] = value
	}
	return out, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", level)
	}
}

func experimentName(file string) string {
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}
