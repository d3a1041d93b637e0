// Package release decides whether a release runs and what it does.
//
// A release builds the collector's container image, pushes it to the
// registry, deploys it to Cloud Run and moves traffic to the new revision.
// This package holds the pure parts: trigger evaluation and the ordered
// plan. Execution lives in internal/shell/release.
package release

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// =============================================================================
// Trigger Events
// =============================================================================

// GitHub Actions event names that can start a release.
const (
	EventWorkflowDispatch = "workflow_dispatch"
	EventWorkflowRun      = "workflow_run"

	ConclusionSuccess = "success"
)

var ErrInvalidEvent = errors.New("invalid event payload")

// Event is the part of a CI trigger the release policy looks at.
type Event struct {
	Name       string `json:"name"`
	Workflow   string `json:"workflow,omitempty"`
	Conclusion string `json:"conclusion,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

type workflowRunPayload struct {
	WorkflowRun *struct {
		Name       string `json:"name"`
		Conclusion string `json:"conclusion"`
		HeadBranch string `json:"head_branch"`
	} `json:"workflow_run"`
	Ref string `json:"ref"`
}

// ParseEvent builds an Event from the event name and the JSON payload the
// runner writes to GITHUB_EVENT_PATH.
func ParseEvent(name string, payload []byte) (Event, error) {
	ev := Event{Name: name}
	if len(payload) == 0 {
		if name == EventWorkflowRun {
			return ev, fmt.Errorf("%w: workflow_run event without payload", ErrInvalidEvent)
		}
		return ev, nil
	}

	var p workflowRunPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch name {
	case EventWorkflowRun:
		if p.WorkflowRun == nil {
			return ev, fmt.Errorf("%w: missing workflow_run object", ErrInvalidEvent)
		}
		ev.Workflow = p.WorkflowRun.Name
		ev.Conclusion = p.WorkflowRun.Conclusion
		ev.Branch = p.WorkflowRun.HeadBranch
	case EventWorkflowDispatch:
		ev.Branch = branchFromRef(p.Ref)
	}
	return ev, nil
}

func branchFromRef(ref string) string {
	if branch, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
		return branch
	}
	return ref
}

// =============================================================================
// Trigger Policy
// =============================================================================

// Policy names the upstream test workflow and the branches whose successful
// runs start a release.
type Policy struct {
	UpstreamWorkflow string   `json:"upstream_workflow"`
	Branches         []string `json:"branches"`
}

// Decision is the outcome of evaluating an event against a Policy.
type Decision struct {
	Run    bool   `json:"run"`
	Reason string `json:"reason"`
}

// Evaluate decides whether an event starts a release. A manual dispatch
// always runs. A workflow_run event runs only when the named upstream
// workflow concluded successfully on one of the policy's branches.
func (p Policy) Evaluate(ev Event) Decision {
	switch ev.Name {
	case EventWorkflowDispatch:
		return Decision{Run: true, Reason: "manual dispatch"}
	case EventWorkflowRun:
	default:
		return Decision{Reason: fmt.Sprintf("event %q does not trigger a release", ev.Name)}
	}

	if ev.Workflow != p.UpstreamWorkflow {
		return Decision{Reason: fmt.Sprintf("workflow %q is not %q", ev.Workflow, p.UpstreamWorkflow)}
	}
	if ev.Conclusion != ConclusionSuccess {
		return Decision{Reason: fmt.Sprintf("upstream workflow concluded %q", ev.Conclusion)}
	}
	if !slices.Contains(p.Branches, ev.Branch) {
		return Decision{Reason: fmt.Sprintf("branch %q is not a release branch", ev.Branch)}
	}
	return Decision{Run: true, Reason: fmt.Sprintf("%s succeeded on %s", ev.Workflow, ev.Branch)}
}
