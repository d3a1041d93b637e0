package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	corerelease "github.com/artpar/realty-collector/internal/core/release"
	"github.com/artpar/realty-collector/internal/shell/release"
	"github.com/spf13/cobra"
)

// GitHub Actions environment read when the matching flag is empty.
const (
	envEventName = "GITHUB_EVENT_NAME"
	envEventPath = "GITHUB_EVENT_PATH"
	envCommit    = "GITHUB_SHA"
)

var errReleaseFailed = errors.New("release failed")

// =============================================================================
// Options
// =============================================================================

type options struct {
	config     corerelease.Config
	eventName  string
	eventPath  string
	commit     string
	dockerHost string
	logLevel   string
}

// planRunner executes a release plan.
type planRunner interface {
	Run(ctx context.Context, plan corerelease.Plan) (corerelease.Report, error)
}

// runnerFactory builds the runner for a release. The returned func releases
// its clients.
type runnerFactory func(ctx context.Context, opts *options, logger *slog.Logger) (planRunner, func(), error)

// output is what both commands print.
type output struct {
	Decision corerelease.Decision `json:"decision"`
	Plan     *corerelease.Plan    `json:"plan,omitempty"`
	Report   *corerelease.Report  `json:"report,omitempty"`
}

// =============================================================================
// Commands
// =============================================================================

func newRootCmd(factory runnerFactory) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "release",
		Short:         "Build, push and deploy the collector service",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.config.Project, "project", "", "GCP project ID")
	f.StringVar(&opts.config.Region, "region", "us-central1", "Cloud Run region")
	f.StringVar(&opts.config.Service, "service", "collector", "Cloud Run service name")
	f.StringVar(&opts.config.Registry, "registry", "us-central1-docker.pkg.dev", "Container registry host")
	f.StringVar(&opts.config.Repository, "repository", "images", "Registry repository")
	f.StringVar(&opts.config.ContextDir, "context", ".", "Build context directory")
	f.StringVar(&opts.config.Dockerfile, "dockerfile", "Dockerfile", "Dockerfile path relative to the context")
	f.StringSliceVar(&opts.config.Exclude, "exclude", corerelease.DefaultExclude, "Context paths left out of the image")
	f.StringVar(&opts.config.CredentialsFile, "credentials", "", "Service account key file for the registry and Cloud Run")
	f.StringVar(&opts.config.Policy.UpstreamWorkflow, "upstream-workflow", "Tests", "Workflow whose success triggers a release")
	f.StringSliceVar(&opts.config.Policy.Branches, "branch", []string{"main"}, "Branches that can be released")
	f.StringVar(&opts.eventName, "event", "", "Trigger event name (default $"+envEventName+")")
	f.StringVar(&opts.eventPath, "event-path", "", "Trigger event payload file (default $"+envEventPath+")")
	f.StringVar(&opts.commit, "commit", "", "Commit SHA to release (default $"+envCommit+")")
	f.StringVar(&opts.dockerHost, "docker-host", "", "Docker daemon address (default from the environment)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(newPlanCmd(opts), newRunCmd(opts, factory))
	return root
}

func newPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Evaluate the trigger and print the release plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, plan, err := resolve(opts)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output{Decision: decision, Plan: plan})
		},
	}
}

func newRunCmd(opts *options, factory runnerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Evaluate the trigger and run the release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), opts.logLevel)

			decision, plan, err := resolve(opts)
			if err != nil {
				return err
			}
			if !decision.Run {
				logger.Info("release skipped", "reason", decision.Reason)
				return writeOutput(cmd.OutOrStdout(), output{Decision: decision})
			}
			logger.Info("release started", "reason", decision.Reason, "commit", plan.Commit, "image", plan.Image)

			ctx := cmd.Context()
			runner, cleanup, err := factory(ctx, opts, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			report, runErr := runner.Run(ctx, *plan)
			if err := writeOutput(cmd.OutOrStdout(), output{Decision: decision, Plan: plan, Report: &report}); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("%w: %w", errReleaseFailed, runErr)
			}
			return nil
		},
	}
}

// =============================================================================
// Helpers
// =============================================================================

// resolve reads the trigger and, when it calls for a release, lays out the
// plan. A skipped trigger yields a nil plan and no plan errors.
func resolve(opts *options) (corerelease.Decision, *corerelease.Plan, error) {
	name := firstNonEmpty(opts.eventName, os.Getenv(envEventName))
	if name == "" {
		return corerelease.Decision{}, nil, fmt.Errorf("event name is required (--event or $%s)", envEventName)
	}

	var payload []byte
	if path := firstNonEmpty(opts.eventPath, os.Getenv(envEventPath)); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return corerelease.Decision{}, nil, fmt.Errorf("read event payload: %w", err)
		}
		payload = b
	}

	ev, err := corerelease.ParseEvent(name, payload)
	if err != nil {
		return corerelease.Decision{}, nil, err
	}
	decision := opts.config.Policy.Evaluate(ev)
	if !decision.Run {
		return decision, nil, nil
	}

	plan, err := corerelease.NewPlan(opts.config, ev, firstNonEmpty(opts.commit, os.Getenv(envCommit)))
	if err != nil {
		return decision, nil, err
	}
	return decision, &plan, nil
}

// newRunner wires the Docker and Cloud Run clients into a release runner.
func newRunner(ctx context.Context, opts *options, logger *slog.Logger) (planRunner, func(), error) {
	images, err := release.NewDockerImages(opts.dockerHost, logger)
	if err != nil {
		return nil, nil, err
	}
	deployer, err := release.NewCloudRunDeployer(ctx, opts.config.CredentialsFile, logger)
	if err != nil {
		images.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := images.Close(); err != nil {
			logger.Warn("failed to close docker client", "error", err)
		}
	}
	return release.NewRunner(images, images, deployer, logger), cleanup, nil
}

func writeOutput(w io.Writer, out output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
