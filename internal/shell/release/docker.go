package release

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	corerelease "github.com/artpar/realty-collector/internal/core/release"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
)

// BuildPlatform is the platform Cloud Run runs images on.
const BuildPlatform = "linux/amd64"

// jsonKeyUser is the registry user for service-account key authentication.
const jsonKeyUser = "_json_key"

// imageAPI is the part of the Docker SDK client used for releases.
type imageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	Close() error
}

// =============================================================================
// Docker Image Builder
// =============================================================================

// DockerImages builds and pushes release images through the Docker daemon.
type DockerImages struct {
	api    imageAPI
	logger *slog.Logger
}

// NewDockerImages creates a Docker client. If host is empty, it uses the
// default Docker host from environment.
func NewDockerImages(host string, logger *slog.Logger) (*DockerImages, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewReleaseError("NewDockerImages", "", "", fmt.Sprintf("failed to create client: %v", err), err)
	}
	return newDockerImages(cli, logger), nil
}

func newDockerImages(api imageAPI, logger *slog.Logger) *DockerImages {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerImages{api: api, logger: logger.With("component", "docker")}
}

// Close closes the Docker client connection.
func (d *DockerImages) Close() error {
	return d.api.Close()
}

// Build builds the image from a prepared context and tags it with the
// plan's reference.
func (d *DockerImages) Build(ctx context.Context, spec corerelease.BuildSpec, bc *BuildContext) error {
	resp, err := d.api.ImageBuild(ctx, bytes.NewReader(bc.Archive), build.ImageBuildOptions{
		Tags:        []string{spec.Image},
		Dockerfile:  spec.Dockerfile,
		Platform:    BuildPlatform,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return NewReleaseError("Build", "image", spec.Image, err.Error(), ErrBuildFailed)
	}
	defer resp.Body.Close()

	if err := d.drain(resp.Body, "build"); err != nil {
		return NewReleaseError("Build", "image", spec.Image, err.Error(), ErrBuildFailed)
	}
	return nil
}

// Push pushes the image, authenticating with the service-account key when
// one is configured.
func (d *DockerImages) Push(ctx context.Context, spec corerelease.BuildSpec) error {
	opts := image.PushOptions{}
	if spec.CredentialsFile != "" {
		auth, err := registryAuth(spec)
		if err != nil {
			return err
		}
		opts.RegistryAuth = auth
	}

	reader, err := d.api.ImagePush(ctx, spec.Image, opts)
	if err != nil {
		return NewReleaseError("Push", "image", spec.Image, err.Error(), ErrPushFailed)
	}
	defer reader.Close()

	if err := d.drain(reader, "push"); err != nil {
		return NewReleaseError("Push", "image", spec.Image, err.Error(), ErrPushFailed)
	}
	return nil
}

// registryAuth encodes the service-account key as a registry credential.
func registryAuth(spec corerelease.BuildSpec) (string, error) {
	key, err := os.ReadFile(spec.CredentialsFile)
	if err != nil {
		return "", NewReleaseError("Push", "credentials", spec.CredentialsFile, err.Error(), ErrCredentials)
	}
	if !json.Valid(key) {
		return "", NewReleaseError("Push", "credentials", spec.CredentialsFile, "key is not JSON", ErrCredentials)
	}

	host, _, _ := strings.Cut(spec.Registry, "/")
	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      jsonKeyUser,
		Password:      string(key),
		ServerAddress: host,
	})
	if err != nil {
		return "", NewReleaseError("Push", "credentials", spec.CredentialsFile, err.Error(), ErrCredentials)
	}
	return auth, nil
}

// progressMessage is one line of the daemon's JSON progress stream.
type progressMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// drain reads a progress stream to the end and returns the first error the
// daemon reported in it.
func (d *DockerImages) drain(r io.Reader, op string) error {
	dec := json.NewDecoder(r)
	for {
		var msg progressMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s output: %w", op, err)
		}
		if msg.ErrorDetail != nil && msg.ErrorDetail.Message != "" {
			return errors.New(msg.ErrorDetail.Message)
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			d.logger.Debug(op, "output", line)
		} else if msg.Status != "" {
			d.logger.Debug(op, "status", msg.Status)
		}
	}
}
