// Package docker implements the sandbox runtime on a Docker daemon.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/seantiz/gantry/internal/sandbox"
)

var _ sandbox.Runtime = (*Runtime)(nil)

// pullInactivityTimeout aborts an image pull that stops making progress.
const pullInactivityTimeout = 60 * time.Second

// stopGraceSeconds is how long a container gets to exit after SIGTERM.
const stopGraceSeconds = 10

// Runtime runs sandboxes as Docker containers.
type Runtime struct {
	client *docker.Client
	logger *slog.Logger
}

// New connects to the daemon at endpoint, or to the one described by the
// DOCKER_* environment variables when endpoint is empty.
func New(endpoint string, logger *slog.Logger) (*Runtime, error) {
	var (
		c   *docker.Client
		err error
	)
	if endpoint == "" {
		c, err = docker.NewClientFromEnv()
	} else {
		c, err = docker.NewClient(endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Runtime{client: c, logger: logger}, nil
}

// Ping checks that the daemon is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	return r.client.PingWithContext(ctx)
}

// Create pulls the image if it is not present and creates the container.
// The command runs under /bin/sh -c.
func (r *Runtime) Create(ctx context.Context, spec sandbox.CreateSpec) (string, []string, error) {
	img, err := r.ensureImage(ctx, spec.Image)
	if err != nil {
		return "", nil, err
	}

	var warnings []string
	if img.Architecture != "" && img.Architecture != runtime.GOARCH {
		warnings = append(warnings, fmt.Sprintf("image platform %s/%s does not match host %s/%s",
			img.OS, img.Architecture, runtime.GOOS, runtime.GOARCH))
	}

	c, err := r.client.CreateContainer(docker.CreateContainerOptions{
		Name: spec.Name,
		Config: &docker.Config{
			Image:        spec.Image,
			Cmd:          []string{"/bin/sh", "-c", spec.Command},
			Env:          spec.Env,
			Labels:       spec.Labels,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: &docker.HostConfig{
			Binds: spec.Binds,
		},
		Context: ctx,
	})
	if err != nil {
		return "", warnings, fmt.Errorf("create container: %w", err)
	}
	return c.ID, warnings, nil
}

func (r *Runtime) ensureImage(ctx context.Context, name string) (*docker.Image, error) {
	img, err := r.client.InspectImage(name)
	if err == nil {
		return img, nil
	}
	if !errors.Is(err, docker.ErrNoSuchImage) {
		return nil, fmt.Errorf("inspect image %s: %w", name, err)
	}

	r.logger.Info("pulling image", "image", name)
	repo, tag := docker.ParseRepositoryTag(name)
	if err := r.client.PullImage(docker.PullImageOptions{
		Repository:        repo,
		Tag:               tag,
		InactivityTimeout: pullInactivityTimeout,
		Context:           ctx,
	}, docker.AuthConfiguration{}); err != nil {
		return nil, fmt.Errorf("pull image %s: %w", name, err)
	}

	img, err = r.client.InspectImage(name)
	if err != nil {
		return nil, fmt.Errorf("inspect image %s: %w", name, err)
	}
	return img, nil
}

// Start starts a created container.
func (r *Runtime) Start(ctx context.Context, id string) error {
	return r.client.StartContainerWithContext(id, nil, ctx)
}

// Wait blocks until the container exits.
func (r *Runtime) Wait(ctx context.Context, id string) (int, error) {
	return r.client.WaitContainerWithContext(id, ctx)
}

// Stop stops the container, killing it after a grace period.
func (r *Runtime) Stop(ctx context.Context, id string) error {
	err := r.client.StopContainerWithContext(id, stopGraceSeconds, ctx)
	var notRunning *docker.ContainerNotRunning
	if errors.As(err, &notRunning) {
		return nil
	}
	return err
}

// Remove force-removes the container and its anonymous volumes.
func (r *Runtime) Remove(ctx context.Context, id string) error {
	err := r.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:            id,
		Force:         true,
		RemoveVolumes: true,
		Context:       ctx,
	})
	var noSuch *docker.NoSuchContainer
	if errors.As(err, &noSuch) {
		return nil
	}
	return err
}

// Logs copies the container's stdout and stderr to w.
func (r *Runtime) Logs(ctx context.Context, id string, w io.Writer) error {
	return r.client.Logs(docker.LogsOptions{
		Context:      ctx,
		Container:    id,
		OutputStream: w,
		ErrorStream:  w,
		Stdout:       true,
		Stderr:       true,
	})
}
