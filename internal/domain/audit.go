// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditOutcome string

const (
	OutcomeSuccess         AuditOutcome = "success"
	OutcomeProvisionFailed AuditOutcome = "provision_failed"
	OutcomeReplaced        AuditOutcome = "replaced"
	OutcomeTerminated      AuditOutcome = "terminated"
	OutcomeExpired         AuditOutcome = "expired"
)

type AuditRecord struct {
	ID        uuid.UUID    `json:"id"`
	Seq       int64        `json:"seq"`
	Requester Requester    `json:"requester"`
	Origin    string       `json:"origin,omitempty"`
	ProjectID string       `json:"project_id"`
	Outcome   AuditOutcome `json:"outcome"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
