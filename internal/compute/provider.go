// SPDX-License-Identifier: Apache-2.0

// Package compute defines the contract with the infrastructure that runs
// demo instances, plus helpers shared by the provider implementations.
package compute

import (
	"context"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/metrics"
)

// CreateSpec is everything a provider needs to start one project instance.
type CreateSpec struct {
	ProjectID   string
	Name        string
	Ref         string
	Image       string
	SetupScript string
	Port        int
	Env         map[string]string
}

// Instance identifies a created instance. Port is the externally reachable
// port, which can differ from the project port when the provider maps it.
type Instance struct {
	Address string
	Port    int
	Handle  string
}

// State is the provider's view of an instance. Ready means the machine or
// container is up; application readiness is probed separately.
type State struct {
	Ready  bool
	Failed bool
	Detail string
}

type Provider interface {
	Create(ctx context.Context, spec CreateSpec) (Instance, error)
	// Terminate is idempotent: a missing instance is success.
	Terminate(ctx context.Context, handle string) error
	Status(ctx context.Context, handle string) (State, error)
}

type instrumented struct {
	next Provider
}

// Instrument records call durations of p under provider_call_duration_seconds.
func Instrument(p Provider) Provider {
	return instrumented{next: p}
}

func (i instrumented) Create(ctx context.Context, spec CreateSpec) (Instance, error) {
	start := time.Now()
	inst, err := i.next.Create(ctx, spec)
	metrics.ObserveProviderCall("create", err, time.Since(start))
	return inst, err
}

func (i instrumented) Terminate(ctx context.Context, handle string) error {
	start := time.Now()
	err := i.next.Terminate(ctx, handle)
	metrics.ObserveProviderCall("terminate", err, time.Since(start))
	return err
}

func (i instrumented) Status(ctx context.Context, handle string) (State, error) {
	start := time.Now()
	st, err := i.next.Status(ctx, handle)
	metrics.ObserveProviderCall("status", err, time.Since(start))
	return st, err
}
