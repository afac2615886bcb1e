// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

type QuotaView struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ReplacementNotice tells a caller whether deploying a project would
// terminate the instance that is currently active.
type ReplacementNotice struct {
	WillReplace   bool       `json:"will_replace"`
	ActiveProject string     `json:"active_project,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}
