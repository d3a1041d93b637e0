package release

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// =============================================================================
// Plan Errors
// =============================================================================

var (
	ErrMissingCommit   = errors.New("commit SHA is required")
	ErrMissingService  = errors.New("service name is required")
	ErrMissingProject  = errors.New("project is required")
	ErrMissingRegion   = errors.New("region is required")
	ErrMissingRegistry = errors.New("registry and repository are required")
	ErrUnsafeExclude   = errors.New("exclude path must stay inside the build context")
)

// =============================================================================
// Stages
// =============================================================================

// Stage is one step of a release.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageBuild   Stage = "build"
	StagePush    Stage = "push"
	StageDeploy  Stage = "deploy"
	StageTraffic Stage = "traffic"
)

// Stages returns the release stages in execution order.
func Stages() []Stage {
	return []Stage{StagePrepare, StageBuild, StagePush, StageDeploy, StageTraffic}
}

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// =============================================================================
// Configuration
// =============================================================================

// Scaling bounds of the deployed service.
const (
	MinInstances = 0
	MaxInstances = 1
)

// DefaultExclude lists the context paths left out of the image.
var DefaultExclude = []string{"tests"}

// Config describes where the collector is built from and deployed to.
type Config struct {
	Project         string   `json:"project"`
	Region          string   `json:"region"`
	Service         string   `json:"service"`
	Registry        string   `json:"registry"`
	Repository      string   `json:"repository"`
	ContextDir      string   `json:"context_dir"`
	Dockerfile      string   `json:"dockerfile"`
	Exclude         []string `json:"exclude"`
	CredentialsFile string   `json:"credentials_file"`
	Policy          Policy   `json:"policy"`
}

// =============================================================================
// Plan
// =============================================================================

// BuildSpec is what the prepare, build and push stages need.
type BuildSpec struct {
	ContextDir      string   `json:"context_dir"`
	Dockerfile      string   `json:"dockerfile"`
	Exclude         []string `json:"exclude"`
	CredentialsFile string   `json:"credentials_file,omitempty"`
	Image           string   `json:"image"`
	Registry        string   `json:"registry"`
}

// DeploySpec is what the deploy and traffic stages need.
type DeploySpec struct {
	Project              string `json:"project"`
	Region               string `json:"region"`
	Service              string `json:"service"`
	Image                string `json:"image"`
	MinInstances         int64  `json:"min_instances"`
	MaxInstances         int64  `json:"max_instances"`
	AllowUnauthenticated bool   `json:"allow_unauthenticated"`
}

// ServiceName returns the fully qualified Cloud Run service name.
func (d DeploySpec) ServiceName() string {
	return fmt.Sprintf("%s/services/%s", d.Parent(), d.Service)
}

// Parent returns the Cloud Run location that owns the service.
func (d DeploySpec) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", d.Project, d.Region)
}

// Plan is an ordered release for one commit. Build, push and deploy all
// reference the same image.
type Plan struct {
	Trigger Event      `json:"trigger"`
	Commit  string     `json:"commit"`
	Image   string     `json:"image"`
	Build   BuildSpec  `json:"build"`
	Deploy  DeploySpec `json:"deploy"`
	Stages  []Stage    `json:"stages"`
}

// ImageRef returns the registry reference for a commit:
// {registry}/{project}/{repository}/{service}:{sha}.
func ImageRef(registry, project, repository, service, commit string) string {
	return fmt.Sprintf("%s/%s/%s/%s:%s",
		strings.TrimRight(registry, "/"), project, repository, service, commit)
}

// NewPlan validates the configuration and lays out the release stages.
func NewPlan(cfg Config, trigger Event, commit string) (Plan, error) {
	commit = strings.TrimSpace(commit)
	switch {
	case commit == "":
		return Plan{}, ErrMissingCommit
	case cfg.Service == "":
		return Plan{}, ErrMissingService
	case cfg.Project == "":
		return Plan{}, ErrMissingProject
	case cfg.Region == "":
		return Plan{}, ErrMissingRegion
	case cfg.Registry == "" || cfg.Repository == "":
		return Plan{}, ErrMissingRegistry
	}

	exclude := cfg.Exclude
	if len(exclude) == 0 {
		exclude = DefaultExclude
	}
	cleaned := make([]string, 0, len(exclude))
	for _, p := range exclude {
		c, err := cleanContextPath(p)
		if err != nil {
			return Plan{}, err
		}
		cleaned = append(cleaned, c)
	}

	contextDir := cfg.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	dockerfile := cfg.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	image := ImageRef(cfg.Registry, cfg.Project, cfg.Repository, cfg.Service, commit)

	return Plan{
		Trigger: trigger,
		Commit:  commit,
		Image:   image,
		Build: BuildSpec{
			ContextDir:      contextDir,
			Dockerfile:      dockerfile,
			Exclude:         cleaned,
			CredentialsFile: cfg.CredentialsFile,
			Image:           image,
			Registry:        strings.TrimRight(cfg.Registry, "/"),
		},
		Deploy: DeploySpec{
			Project:              cfg.Project,
			Region:               cfg.Region,
			Service:              cfg.Service,
			Image:                image,
			MinInstances:         MinInstances,
			MaxInstances:         MaxInstances,
			AllowUnauthenticated: true,
		},
		Stages: Stages(),
	}, nil
}

func cleanContextPath(p string) (string, error) {
	c := path.Clean(strings.TrimSpace(p))
	if c == "." || c == "" || path.IsAbs(c) || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafeExclude, p)
	}
	return c, nil
}

// Excluded reports whether a slash-separated path relative to the build
// context falls under one of the excluded paths.
func (b BuildSpec) Excluded(rel string) bool {
	rel = path.Clean(rel)
	for _, ex := range b.Exclude {
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return true
		}
	}
	return false
}

// =============================================================================
// Report
// =============================================================================

// StageResult records how one stage ended.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the per-stage outcome of running a Plan.
type Report struct {
	Commit  string        `json:"commit"`
	Image   string        `json:"image"`
	Results []StageResult `json:"results"`
}

// Succeeded reports whether every stage succeeded.
func (r Report) Succeeded() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Status returns the status recorded for a stage.
func (r Report) Status(s Stage) (StageStatus, bool) {
	for _, res := range r.Results {
		if res.Stage == s {
			return res.Status, true
		}
	}
	return "", false
}
