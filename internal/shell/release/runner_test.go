package release

import (
	"context"
	"errors"
	"testing"

	corerelease "github.com/artpar/realty-collector/internal/core/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// recorder implements every stage and records the order of calls.
type recorder struct {
	calls  []string
	failAt string
	images []string
}

func (r *recorder) step(name string) error {
	r.calls = append(r.calls, name)
	if r.failAt == name {
		return errors.New(name + " exploded")
	}
	return nil
}

func (r *recorder) Build(ctx context.Context, spec corerelease.BuildSpec, bc *BuildContext) error {
	r.images = append(r.images, spec.Image)
	return r.step("build")
}

func (r *recorder) Push(ctx context.Context, spec corerelease.BuildSpec) error {
	r.images = append(r.images, spec.Image)
	return r.step("push")
}

func (r *recorder) Deploy(ctx context.Context, spec corerelease.DeploySpec) error {
	r.images = append(r.images, spec.Image)
	return r.step("deploy")
}

func (r *recorder) RouteTraffic(ctx context.Context, spec corerelease.DeploySpec) error {
	return r.step("traffic")
}

func setupRunner(t *testing.T, rec *recorder) *Runner {
	t.Helper()
	r := NewRunner(rec, rec, rec, nil)
	r.prepare = func(corerelease.BuildSpec) (*BuildContext, error) {
		if err := rec.step("prepare"); err != nil {
			return nil, err
		}
		return &BuildContext{Files: 3}, nil
	}
	return r
}

func testPlan(t *testing.T) corerelease.Plan {
	t.Helper()
	plan, err := corerelease.NewPlan(corerelease.Config{
		Project:    "acme",
		Region:     "us-central1",
		Service:    "collector",
		Registry:   "us-central1-docker.pkg.dev",
		Repository: "images",
	}, corerelease.Event{Name: corerelease.EventWorkflowDispatch}, "abc123")
	require.NoError(t, err)
	return plan
}

func statuses(report corerelease.Report) []corerelease.StageStatus {
	out := make([]corerelease.StageStatus, 0, len(report.Results))
	for _, r := range report.Results {
		out = append(out, r.Status)
	}
	return out
}

// =============================================================================
// Runner Tests
// =============================================================================

func TestRunner_AllStagesInOrder(t *testing.T) {
	rec := &recorder{}
	plan := testPlan(t)

	report, err := setupRunner(t, rec).Run(context.Background(), plan)

	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, []string{"prepare", "build", "push", "deploy", "traffic"}, rec.calls)
	assert.Equal(t, []string{plan.Image, plan.Image, plan.Image}, rec.images)
	assert.Equal(t, "abc123", report.Commit)
}

func TestRunner_FailureSkipsLaterStages(t *testing.T) {
	tests := []struct {
		failAt string
		want   []corerelease.StageStatus
	}{
		{"prepare", []corerelease.StageStatus{"failed", "skipped", "skipped", "skipped", "skipped"}},
		{"build", []corerelease.StageStatus{"succeeded", "failed", "skipped", "skipped", "skipped"}},
		{"push", []corerelease.StageStatus{"succeeded", "succeeded", "failed", "skipped", "skipped"}},
		{"deploy", []corerelease.StageStatus{"succeeded", "succeeded", "succeeded", "failed", "skipped"}},
		{"traffic", []corerelease.StageStatus{"succeeded", "succeeded", "succeeded", "succeeded", "failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.failAt, func(t *testing.T) {
			rec := &recorder{failAt: tt.failAt}

			report, err := setupRunner(t, rec).Run(context.Background(), testPlan(t))

			require.Error(t, err)
			assert.Contains(t, err.Error(), "stage "+tt.failAt)
			assert.Equal(t, tt.want, statuses(report))
			assert.False(t, report.Succeeded())
			assert.Equal(t, tt.failAt, rec.calls[len(rec.calls)-1])
		})
	}
}

func TestRunner_TrafficNeedsDeploy(t *testing.T) {
	rec := &recorder{failAt: "deploy"}

	report, err := setupRunner(t, rec).Run(context.Background(), testPlan(t))

	require.Error(t, err)
	assert.NotContains(t, rec.calls, "traffic")
	status, ok := report.Status(corerelease.StageTraffic)
	require.True(t, ok)
	assert.Equal(t, corerelease.StatusSkipped, status)
}

func TestRunner_CancelledContextStops(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := setupRunner(t, rec).Run(ctx, testPlan(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"prepare"}, rec.calls)
	assert.Equal(t, corerelease.StatusFailed, report.Results[0].Status)
}

func TestRunner_UnknownStage(t *testing.T) {
	rec := &recorder{}
	plan := testPlan(t)
	plan.Stages = []corerelease.Stage{"prepare", "smoke", "build"}

	report, err := setupRunner(t, rec).Run(context.Background(), plan)

	require.Error(t, err)
	assert.Equal(t, []corerelease.StageStatus{"succeeded", "failed", "skipped"}, statuses(report))
}
