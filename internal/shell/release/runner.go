// Package release executes release plans: it archives the build context,
// builds and pushes the image with Docker and deploys it to Cloud Run.
package release

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corerelease "github.com/artpar/realty-collector/internal/core/release"
)

// =============================================================================
// Stage Interfaces
// =============================================================================

// Builder builds the release image from a prepared context.
type Builder interface {
	Build(ctx context.Context, spec corerelease.BuildSpec, bc *BuildContext) error
}

// Pusher publishes the built image to the registry.
type Pusher interface {
	Push(ctx context.Context, spec corerelease.BuildSpec) error
}

// Deployer rolls the image out and moves traffic to it.
type Deployer interface {
	Deploy(ctx context.Context, spec corerelease.DeploySpec) error
	RouteTraffic(ctx context.Context, spec corerelease.DeploySpec) error
}

// =============================================================================
// Runner
// =============================================================================

// Runner executes plan stages strictly in order. The first failure stops
// the run and the remaining stages are reported as skipped. Nothing is
// retried.
type Runner struct {
	builder  Builder
	pusher   Pusher
	deployer Deployer
	prepare  func(corerelease.BuildSpec) (*BuildContext, error)
	logger   *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(b Builder, p Pusher, d Deployer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		builder:  b,
		pusher:   p,
		deployer: d,
		prepare:  PrepareContext,
		logger:   logger.With("component", "release"),
	}
}

// Run executes the plan and reports every stage. The returned error is the
// failure of the stage that stopped the run.
func (r *Runner) Run(ctx context.Context, plan corerelease.Plan) (corerelease.Report, error) {
	report := corerelease.Report{Commit: plan.Commit, Image: plan.Image}
	logger := r.logger.With("commit", plan.Commit, "image", plan.Image)

	var bc *BuildContext
	stages := map[corerelease.Stage]func() error{
		corerelease.StagePrepare: func() error {
			var err error
			bc, err = r.prepare(plan.Build)
			if err == nil {
				logger.Info("build context prepared", "files", bc.Files, "excluded", bc.Excluded)
			}
			return err
		},
		corerelease.StageBuild: func() error {
			if bc == nil {
				return fmt.Errorf("build context was not prepared")
			}
			return r.builder.Build(ctx, plan.Build, bc)
		},
		corerelease.StagePush: func() error {
			return r.pusher.Push(ctx, plan.Build)
		},
		corerelease.StageDeploy: func() error {
			return r.deployer.Deploy(ctx, plan.Deploy)
		},
		corerelease.StageTraffic: func() error {
			return r.deployer.RouteTraffic(ctx, plan.Deploy)
		},
	}

	var failure error
	for _, stage := range plan.Stages {
		if failure != nil {
			report.Results = append(report.Results, corerelease.StageResult{
				Stage:  stage,
				Status: corerelease.StatusSkipped,
			})
			continue
		}

		fn, ok := stages[stage]
		if !ok {
			failure = fmt.Errorf("unknown stage %q", stage)
			report.Results = append(report.Results, corerelease.StageResult{
				Stage:  stage,
				Status: corerelease.StatusFailed,
				Error:  failure.Error(),
			})
			continue
		}

		logger.Info("stage started", "stage", stage)
		start := time.Now()
		err := fn()
		if err == nil {
			err = ctx.Err()
		}
		result := corerelease.StageResult{
			Stage:    stage,
			Status:   corerelease.StatusSucceeded,
			Duration: time.Since(start),
		}
		if err != nil {
			failure = fmt.Errorf("stage %s: %w", stage, err)
			result.Status = corerelease.StatusFailed
			result.Error = err.Error()
			logger.Error("stage failed", "stage", stage, "error", err, "duration", result.Duration)
		} else {
			logger.Info("stage succeeded", "stage", stage, "duration", result.Duration)
		}
		report.Results = append(report.Results, result)
	}

	return report, failure
}
