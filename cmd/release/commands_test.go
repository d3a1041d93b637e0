package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	corerelease "github.com/artpar/realty-collector/internal/core/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	plans  []corerelease.Plan
	report corerelease.Report
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, plan corerelease.Plan) (corerelease.Report, error) {
	f.plans = append(f.plans, plan)
	return f.report, f.err
}

func factoryFor(r *fakeRunner, built *int) runnerFactory {
	return func(ctx context.Context, opts *options, logger *slog.Logger) (planRunner, func(), error) {
		*built++
		return r, func() {}, nil
	}
}

func execute(t *testing.T, factory runnerFactory, args ...string) (output, error) {
	t.Helper()
	t.Setenv(envEventName, "")
	t.Setenv(envEventPath, "")
	t.Setenv(envCommit, "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(factory)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	var out output
	if stdout.Len() > 0 {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	}
	return out, err
}

func writeEvent(t *testing.T, payload string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(p, []byte(payload), 0o644))
	return p
}

const successfulTests = `{"workflow_run":{"name":"Tests","conclusion":"success","head_branch":"main"}}`

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, nil,
		"plan", "--project", "acme", "--commit", "abc123",
		"--event", "workflow_run", "--event-path", writeEvent(t, successfulTests))
	require.NoError(t, err)

	assert.True(t, out.Decision.Run)
	require.NotNil(t, out.Plan)
	assert.Equal(t, "us-central1-docker.pkg.dev/acme/images/collector:abc123", out.Plan.Image)
	assert.Equal(t, corerelease.Stages(), out.Plan.Stages)
	assert.Equal(t, []string{"tests"}, out.Plan.Build.Exclude)
	assert.Nil(t, out.Report)
}

func TestPlanCommand_ReadsActionsEnvironment(t *testing.T) {
	path := writeEvent(t, `{"ref":"refs/heads/main"}`)

	var stdout bytes.Buffer
	cmd := newRootCmd(nil)
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"plan", "--project", "acme"})
	t.Setenv(envEventName, "workflow_dispatch")
	t.Setenv(envEventPath, path)
	t.Setenv(envCommit, "def456")

	require.NoError(t, cmd.Execute())

	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.True(t, out.Decision.Run)
	assert.Equal(t, "main", out.Plan.Trigger.Branch)
	assert.Equal(t, "def456", out.Plan.Commit)
}

func TestPlanCommand_Errors(t *testing.T) {
	_, err := execute(t, nil, "plan", "--project", "acme", "--commit", "abc")
	assert.ErrorContains(t, err, "event name is required")

	_, err = execute(t, nil, "plan", "--project", "acme", "--event", "workflow_dispatch")
	assert.ErrorIs(t, err, corerelease.ErrMissingCommit)

	_, err = execute(t, nil, "plan", "--project", "acme", "--commit", "abc",
		"--event", "workflow_run", "--event-path", writeEvent(t, "{not json"))
	assert.ErrorIs(t, err, corerelease.ErrInvalidEvent)

	_, err = execute(t, nil, "plan", "--project", "acme", "--commit", "abc",
		"--event", "workflow_dispatch", "--event-path", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read event payload")
}

func TestRunCommand_SkippedTrigger(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"upstream failed", `{"workflow_run":{"name":"Tests","conclusion":"failure","head_branch":"main"}}`},
		{"other branch", `{"workflow_run":{"name":"Tests","conclusion":"success","head_branch":"feature"}}`},
		{"other workflow", `{"workflow_run":{"name":"Lint","conclusion":"success","head_branch":"main"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			built := 0

			out, err := execute(t, factoryFor(runner, &built),
				"run", "--project", "acme", "--commit", "abc",
				"--event", "workflow_run", "--event-path", writeEvent(t, tt.payload))

			require.NoError(t, err)
			assert.False(t, out.Decision.Run)
			assert.NotEmpty(t, out.Decision.Reason)
			assert.Nil(t, out.Plan)
			assert.Zero(t, built)
			assert.Empty(t, runner.plans)
		})
	}
}

func TestSkippedTrigger_NeedsNoPlanInputs(t *testing.T) {
	failed := writeEvent(t, `{"workflow_run":{"name":"Tests","conclusion":"failure","head_branch":"main"}}`)

	for _, command := range []string{"plan", "run"} {
		t.Run(command, func(t *testing.T) {
			runner := &fakeRunner{}
			built := 0

			// No --project and no commit: a release would be invalid.
			out, err := execute(t, factoryFor(runner, &built),
				command, "--event", "workflow_run", "--event-path", failed)

			require.NoError(t, err)
			assert.False(t, out.Decision.Run)
			assert.Nil(t, out.Plan)
			assert.Zero(t, built)
		})
	}
}

func TestRunCommand_RunsPlan(t *testing.T) {
	runner := &fakeRunner{report: corerelease.Report{
		Commit: "abc",
		Results: []corerelease.StageResult{
			{Stage: corerelease.StageDeploy, Status: corerelease.StatusSucceeded},
		},
	}}
	built := 0

	out, err := execute(t, factoryFor(runner, &built),
		"run", "--project", "acme", "--commit", "abc",
		"--event", "workflow_run", "--event-path", writeEvent(t, successfulTests))

	require.NoError(t, err)
	assert.Equal(t, 1, built)
	require.Len(t, runner.plans, 1)
	assert.Equal(t, "abc", runner.plans[0].Commit)
	require.NotNil(t, out.Report)
	assert.Equal(t, runner.report.Results, out.Report.Results)
}

func TestRunCommand_StageFailure(t *testing.T) {
	runner := &fakeRunner{
		report: corerelease.Report{Results: []corerelease.StageResult{
			{Stage: corerelease.StagePrepare, Status: corerelease.StatusSucceeded},
			{Stage: corerelease.StageBuild, Status: corerelease.StatusFailed, Error: "boom"},
		}},
		err: errors.New("stage build: boom"),
	}
	built := 0

	out, err := execute(t, factoryFor(runner, &built),
		"run", "--project", "acme", "--commit", "abc", "--event", "workflow_dispatch")

	assert.ErrorIs(t, err, errReleaseFailed)
	require.NotNil(t, out.Report)
	status, ok := out.Report.Status(corerelease.StageBuild)
	assert.True(t, ok)
	assert.Equal(t, corerelease.StatusFailed, status)
}

func TestRunCommand_FactoryError(t *testing.T) {
	factory := func(ctx context.Context, opts *options, logger *slog.Logger) (planRunner, func(), error) {
		return nil, nil, errors.New("docker unavailable")
	}

	_, err := execute(t, factory,
		"run", "--project", "acme", "--commit", "abc", "--event", "workflow_dispatch")
	assert.ErrorContains(t, err, "docker unavailable")
}
