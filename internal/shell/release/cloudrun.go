package release

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	corerelease "github.com/artpar/realty-collector/internal/core/release"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v2"
)

const (
	invokerRole  = "roles/run.invoker"
	publicMember = "allUsers"

	trafficLatest = "TRAFFIC_TARGET_ALLOCATION_TYPE_LATEST"
)

// CloudRunDeployer deploys release images with the Cloud Run Admin API v2.
type CloudRunDeployer struct {
	services     *run.ProjectsLocationsServicesService
	operations   *run.ProjectsLocationsOperationsService
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewCloudRunDeployer creates a deployer. With an empty credentialsFile the
// client uses application default credentials.
func NewCloudRunDeployer(ctx context.Context, credentialsFile string, logger *slog.Logger, opts ...option.ClientOption) (*CloudRunDeployer, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := run.NewService(ctx, opts...)
	if err != nil {
		return nil, NewReleaseError("NewCloudRunDeployer", "", "", err.Error(), ErrDeployFailed)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &CloudRunDeployer{
		services:     svc.Projects.Locations.Services,
		operations:   svc.Projects.Locations.Operations,
		pollInterval: 5 * time.Second,
		logger:       logger.With("component", "cloudrun"),
	}, nil
}

// Deploy updates the service to run spec.Image within the fixed scaling
// bounds, creating it when it does not exist, and opens it to
// unauthenticated callers when AllowUnauthenticated is set.
func (d *CloudRunDeployer) Deploy(ctx context.Context, spec corerelease.DeploySpec) error {
	name := spec.ServiceName()
	logger := d.logger.With("service", name, "image", spec.Image)

	existing, err := d.services.Get(name).Context(ctx).Do()
	var op *run.GoogleLongrunningOperation
	switch {
	case err == nil:
		applyRevision(existing, spec)
		logger.Info("updating service")
		op, err = d.services.Patch(name, existing).Context(ctx).Do()
	case isNotFound(err):
		svc := &run.GoogleCloudRunV2Service{}
		applyRevision(svc, spec)
		logger.Info("creating service")
		op, err = d.services.Create(spec.Parent(), svc).ServiceId(spec.Service).Context(ctx).Do()
	}
	if err != nil {
		return NewReleaseError("Deploy", "service", name, err.Error(), ErrDeployFailed)
	}

	if err := d.wait(ctx, op); err != nil {
		return NewReleaseError("Deploy", "service", name, err.Error(), err)
	}

	if spec.AllowUnauthenticated {
		if err := d.allowUnauthenticated(ctx, name); err != nil {
			return NewReleaseError("Deploy", "service", name, "failed to grant public access: "+err.Error(), ErrDeployFailed)
		}
	}
	logger.Info("service deployed")
	return nil
}

// RouteTraffic sends all traffic to the latest ready revision.
func (d *CloudRunDeployer) RouteTraffic(ctx context.Context, spec corerelease.DeploySpec) error {
	name := spec.ServiceName()

	svc, err := d.services.Get(name).Context(ctx).Do()
	if err != nil {
		return NewReleaseError("RouteTraffic", "service", name, err.Error(), ErrTrafficFailed)
	}
	svc.Traffic = []*run.GoogleCloudRunV2TrafficTarget{{
		Type:    trafficLatest,
		Percent: 100,
	}}

	op, err := d.services.Patch(name, svc).Context(ctx).Do()
	if err != nil {
		return NewReleaseError("RouteTraffic", "service", name, err.Error(), ErrTrafficFailed)
	}
	if err := d.wait(ctx, op); err != nil {
		return NewReleaseError("RouteTraffic", "service", name, err.Error(), errors.Join(ErrTrafficFailed, err))
	}

	d.logger.Info("traffic routed to latest revision", "service", name)
	return nil
}

// applyRevision sets the image and scaling bounds of the next revision.
func applyRevision(svc *run.GoogleCloudRunV2Service, spec corerelease.DeploySpec) {
	if svc.Template == nil {
		svc.Template = &run.GoogleCloudRunV2RevisionTemplate{}
	}
	if len(svc.Template.Containers) == 0 {
		svc.Template.Containers = []*run.GoogleCloudRunV2Container{{}}
	}
	svc.Template.Containers[0].Image = spec.Image
	svc.Template.Scaling = &run.GoogleCloudRunV2RevisionScaling{
		MinInstanceCount: spec.MinInstances,
		MaxInstanceCount: spec.MaxInstances,
		ForceSendFields:  []string{"MinInstanceCount", "MaxInstanceCount"},
	}
}

// allowUnauthenticated grants the invoker role to allUsers.
func (d *CloudRunDeployer) allowUnauthenticated(ctx context.Context, name string) error {
	policy, err := d.services.GetIamPolicy(name).Context(ctx).Do()
	if err != nil {
		return err
	}
	for _, b := range policy.Bindings {
		if b.Role == invokerRole {
			if slices.Contains(b.Members, publicMember) {
				return nil
			}
			b.Members = append(b.Members, publicMember)
			return d.setPolicy(ctx, name, policy)
		}
	}
	policy.Bindings = append(policy.Bindings, &run.GoogleIamV1Binding{
		Role:    invokerRole,
		Members: []string{publicMember},
	})
	return d.setPolicy(ctx, name, policy)
}

func (d *CloudRunDeployer) setPolicy(ctx context.Context, name string, policy *run.GoogleIamV1Policy) error {
	_, err := d.services.SetIamPolicy(name, &run.GoogleIamV1SetIamPolicyRequest{Policy: policy}).Context(ctx).Do()
	return err
}

// wait polls a long-running operation until it is done.
func (d *CloudRunDeployer) wait(ctx context.Context, op *run.GoogleLongrunningOperation) error {
	for !op.Done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pollInterval):
		}

		next, err := d.operations.Get(op.Name).Context(ctx).Do()
		if err != nil {
			return err
		}
		op = next
	}

	if op.Error != nil {
		return NewReleaseError("wait", "operation", op.Name, op.Error.Message, ErrOperationFailed)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
