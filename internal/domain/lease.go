// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type LeaseStatus string

const (
	LeaseStarting LeaseStatus = "starting"
	LeaseRunning  LeaseStatus = "running"
	LeaseStopping LeaseStatus = "stopping"
	LeaseError    LeaseStatus = "error"
)

const DefaultLeaseLifetime = 2 * time.Hour

// Active reports whether the status counts toward the single-instance limit.
func (s LeaseStatus) Active() bool {
	switch s {
	case LeaseStarting, LeaseRunning, LeaseStopping:
		return true
	default:
		return false
	}
}

// Lease is the record of the one provisioned instance and its expiry.
// A lease with an empty ProviderHandle is a placeholder: the slot is held
// while the provider call is still in flight.
type Lease struct {
	ID             uuid.UUID   `json:"id"`
	ProjectID      string      `json:"project_id"`
	Address        string      `json:"address,omitempty"`
	Port           int         `json:"port"`
	ProviderHandle string      `json:"-"`
	Status         LeaseStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (l Lease) Placeholder() bool {
	return l.ProviderHandle == ""
}

func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// LeaseView is the client-facing projection of a lease.
type LeaseView struct {
	ProjectID        string      `json:"project_id"`
	ProjectName      string      `json:"project_name,omitempty"`
	Address          string      `json:"address,omitempty"`
	Port             int         `json:"port"`
	URL              string      `json:"url,omitempty"`
	Status           LeaseStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	ExpiresAt        time.Time   `json:"expires_at"`
	RemainingSeconds int64       `json:"remaining_seconds"`
}
