// SPDX-License-Identifier: Apache-2.0

package domain

// Project is a catalog entry. ProvisioningRef is the source repository the
// bootstrap script clones; Image, when set, is run directly by the docker
// provider instead.
type Project struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description" yaml:"description"`
	ProvisioningRef string            `json:"-" yaml:"provisioning_ref"`
	Image           string            `json:"-" yaml:"image"`
	SetupScript     string            `json:"-" yaml:"setup_script"`
	Port            int               `json:"port" yaml:"port"`
	Category        string            `json:"category" yaml:"category"`
	Icon            string            `json:"icon" yaml:"icon"`
	Env             map[string]string `json:"-" yaml:"env"`
}

// ProjectView merges a catalog entry with the live lease, if it targets
// this project.
type ProjectView struct {
	Project
	Status   string     `json:"status"`
	Instance *LeaseView `json:"instance,omitempty"`
}

const ProjectNotRunning = "not_running"
