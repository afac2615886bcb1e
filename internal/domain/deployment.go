// SPDX-License-Identifier: Apache-2.0

package domain

// Requester is free-text visitor metadata. It is recorded for audit and
// never used for authorization.
type Requester struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Organization string `json:"organization,omitempty"`
}

type DeploymentRequest struct {
	ProjectID         string
	Requester         Requester
	VerificationToken string
	Origin            string
}

// TerminationRequest stops the active instance. An empty ProjectID matches
// any project.
type TerminationRequest struct {
	ProjectID string
	Requester Requester
	Origin    string
}

// ActionDeploy is the bot-risk action name a deploy token must be scoped to.
const ActionDeploy = "DEPLOY"
