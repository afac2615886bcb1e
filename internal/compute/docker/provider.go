// SPDX-License-Identifier: Apache-2.0

// Package docker runs demo instances as containers on a Docker Engine.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/compute"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	DefaultBaseImage = "node:20-bookworm"
	managedByLabel   = "managed-by"
	managedByValue   = "demo-orchestrator"
	projectLabel     = "demo-orchestrator.project"
)

// engine is the subset of the Docker client the provider uses.
type engine interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

type Options struct {
	// PublicHost is the host name visitors use to reach published ports.
	PublicHost string
	// BaseImage runs projects that have no prebuilt image.
	BaseImage string
}

type Provider struct {
	engine     engine
	closer     io.Closer
	publicHost string
	baseImage  string
	logger     *slog.Logger
	now        func() time.Time
}

// New connects to the Docker daemon from the environment.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	p := newProvider(cli, opts, logger)
	p.closer = cli
	return p, nil
}

func newProvider(e engine, opts Options, logger *slog.Logger) *Provider {
	if opts.PublicHost == "" {
		opts.PublicHost = "localhost"
	}
	if opts.BaseImage == "" {
		opts.BaseImage = DefaultBaseImage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		engine:     e,
		publicHost: opts.PublicHost,
		baseImage:  opts.BaseImage,
		logger:     logger,
		now:        time.Now,
	}
}

func (p *Provider) Create(ctx context.Context, spec compute.CreateSpec) (compute.Instance, error) {
	imageRef := spec.Image
	var cmd []string
	if imageRef == "" {
		script, err := compute.ContainerScript(spec)
		if err != nil {
			return compute.Instance{}, err
		}
		imageRef = p.baseImage
		cmd = []string{"bash", "-c", script}
	}

	p.pullImage(ctx, imageRef)

	port, err := nat.NewPort("tcp", strconv.Itoa(spec.Port))
	if err != nil {
		return compute.Instance{}, fmt.Errorf("container port %d: %w", spec.Port, err)
	}

	containerConfig := &container.Config{
		Image: imageRef,
		Cmd:   cmd,
		Env:   compute.EnvList(spec.Env),
		Labels: map[string]string{
			managedByLabel: managedByValue,
			projectLabel:   spec.ProjectID,
		},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "0"}},
		},
	}

	name := fmt.Sprintf("demo-%s-%d", spec.ProjectID, p.now().Unix())
	resp, err := p.engine.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return compute.Instance{}, fmt.Errorf("create container: %w", err)
	}

	if err := p.engine.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.discard(resp.ID)
		return compute.Instance{}, fmt.Errorf("start container: %w", err)
	}

	inspect, err := p.engine.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.discard(resp.ID)
		return compute.Instance{}, fmt.Errorf("inspect container: %w", err)
	}
	hostPort, err := publishedPort(resp.ID, inspect, port)
	if err != nil {
		p.discard(resp.ID)
		return compute.Instance{}, err
	}

	return compute.Instance{
		Address: p.publicHost,
		Port:    hostPort,
		Handle:  resp.ID,
	}, nil
}

func (p *Provider) Terminate(ctx context.Context, handle string) error {
	err := p.engine.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func (p *Provider) Status(ctx context.Context, handle string) (compute.State, error) {
	inspect, err := p.engine.ContainerInspect(ctx, handle)
	if client.IsErrNotFound(err) {
		return compute.State{Failed: true, Detail: "container not found"}, nil
	}
	if err != nil {
		return compute.State{}, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return compute.State{Detail: "no state reported"}, nil
	}

	st := inspect.State
	switch {
	case st.Running:
		return compute.State{Ready: true, Detail: string(st.Status)}, nil
	case string(st.Status) == "exited" || string(st.Status) == "dead":
		return compute.State{
			Failed: true,
			Detail: fmt.Sprintf("container %s with code %d", st.Status, st.ExitCode),
		}, nil
	default:
		return compute.State{Detail: string(st.Status)}, nil
	}
}

func (p *Provider) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// pullImage refreshes the image. A failed pull is not fatal when the image
// is already present locally; ContainerCreate reports it otherwise.
func (p *Provider) pullImage(ctx context.Context, ref string) {
	reader, err := p.engine.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		p.logger.Warn("image pull failed", "image", ref, "error", err)
		return
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
}

func (p *Provider) discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.engine.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		p.logger.Error("container cleanup failed", "container_id", id, "error", err)
	}
}

func publishedPort(id string, inspect container.InspectResponse, port nat.Port) (int, error) {
	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("container %s has no network settings", id)
	}
	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("container %s did not publish %s", id, port)
	}
	hostPort, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("container %s host port %q: %w", id, bindings[0].HostPort, err)
	}
	return hostPort, nil
}
