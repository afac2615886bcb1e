// SPDX-License-Identifier: Apache-2.0

// Package gce runs demo instances as spot VMs on Google Compute Engine by
// driving the gcloud CLI.
package gce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/compute"
)

// Runner executes gcloud. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout []byte, err error)
}

// CommandError carries gcloud's stderr for a failed invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("gcloud %s: %v: %s", strings.Join(e.Args[:min(3, len(e.Args))], " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error { return e.Err }

type execRunner struct {
	binary string
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

type Options struct {
	ProjectID   string
	Zone        string
	MachineType string
}

type Provider struct {
	opts   Options
	runner Runner
	logger *slog.Logger
	now    func() time.Time
}

func New(opts Options, logger *slog.Logger) (*Provider, error) {
	if strings.TrimSpace(opts.ProjectID) == "" {
		return nil, errors.New("gce provider requires GCP_PROJECT_ID")
	}
	binary, err := exec.LookPath("gcloud")
	if err != nil {
		return nil, fmt.Errorf("gce provider: %w", err)
	}
	return newProvider(opts, execRunner{binary: binary}, logger), nil
}

func newProvider(opts Options, runner Runner, logger *slog.Logger) *Provider {
	if opts.Zone == "" {
		opts.Zone = "us-east1-c"
	}
	if opts.MachineType == "" {
		opts.MachineType = "e2-micro"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{opts: opts, runner: runner, logger: logger, now: time.Now}
}

type instanceInfo struct {
	Name              string `json:"name"`
	Status            string `json:"status"`
	NetworkInterfaces []struct {
		AccessConfigs []struct {
			NatIP string `json:"natIP"`
		} `json:"accessConfigs"`
	} `json:"networkInterfaces"`
}

func (i instanceInfo) externalIP() string {
	for _, nic := range i.NetworkInterfaces {
		for _, ac := range nic.AccessConfigs {
			if ac.NatIP != "" {
				return ac.NatIP
			}
		}
	}
	return ""
}

func (p *Provider) Create(ctx context.Context, spec compute.CreateSpec) (compute.Instance, error) {
	script, err := compute.VMStartupScript(spec)
	if err != nil {
		return compute.Instance{}, err
	}

	// Startup scripts contain commas, which inline --metadata would split on.
	f, err := os.CreateTemp("", "startup-*.sh")
	if err != nil {
		return compute.Instance{}, fmt.Errorf("write startup script: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return compute.Instance{}, fmt.Errorf("write startup script: %w", err)
	}
	if err := f.Close(); err != nil {
		return compute.Instance{}, fmt.Errorf("write startup script: %w", err)
	}

	name := fmt.Sprintf("demo-%s-%d", spec.ProjectID, p.now().Unix())
	out, err := p.runner.Run(ctx,
		"compute", "instances", "create", name,
		"--project="+p.opts.ProjectID,
		"--zone="+p.opts.Zone,
		"--machine-type="+p.opts.MachineType,
		"--provisioning-model=SPOT",
		"--instance-termination-action=DELETE",
		"--maintenance-policy=TERMINATE",
		"--image-family=ubuntu-2204-lts",
		"--image-project=ubuntu-os-cloud",
		"--boot-disk-size=10GB",
		"--boot-disk-type=pd-standard",
		"--metadata-from-file=startup-script="+f.Name(),
		"--tags=http-server,https-server",
		"--format=json",
	)
	if err != nil {
		return compute.Instance{}, fmt.Errorf("create instance %s: %w", name, err)
	}

	var created []instanceInfo
	if err := json.Unmarshal(out, &created); err != nil || len(created) == 0 {
		p.logger.Error("unreadable gcloud create output", "instance", name, "error", err)
		return compute.Instance{Handle: name}, nil
	}

	return compute.Instance{
		Address: created[0].externalIP(),
		Port:    spec.Port,
		Handle:  name,
	}, nil
}

func (p *Provider) Terminate(ctx context.Context, handle string) error {
	_, err := p.runner.Run(ctx,
		"compute", "instances", "delete", handle,
		"--project="+p.opts.ProjectID,
		"--zone="+p.opts.Zone,
		"--quiet",
	)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete instance %s: %w", handle, err)
	}
	return nil
}

func (p *Provider) Status(ctx context.Context, handle string) (compute.State, error) {
	out, err := p.runner.Run(ctx,
		"compute", "instances", "describe", handle,
		"--project="+p.opts.ProjectID,
		"--zone="+p.opts.Zone,
		"--format=json",
	)
	if isNotFound(err) {
		return compute.State{Failed: true, Detail: "instance not found"}, nil
	}
	if err != nil {
		return compute.State{}, fmt.Errorf("describe instance %s: %w", handle, err)
	}

	var info instanceInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return compute.State{}, fmt.Errorf("decode instance %s: %w", handle, err)
	}
	return mapStatus(info.Status), nil
}

func mapStatus(status string) compute.State {
	switch status {
	case "RUNNING":
		return compute.State{Ready: true, Detail: status}
	case "STAGING", "PROVISIONING", "REPAIRING":
		return compute.State{Detail: status}
	case "STOPPING", "STOPPED", "SUSPENDING", "SUSPENDED", "TERMINATED":
		return compute.State{Failed: true, Detail: status}
	default:
		return compute.State{Detail: "unknown status " + status}
	}
}

func isNotFound(err error) bool {
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		return false
	}
	return strings.Contains(cerr.Stderr, "was not found") || strings.Contains(cerr.Stderr, "notFound")
}
