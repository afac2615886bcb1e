// SPDX-License-Identifier: Apache-2.0

// Package catalog holds the fixed set of deployable demo projects.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"strings"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = 3000
	DefaultSetupScript = "autoconfig.sh"
)

var projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

type Catalog struct {
	projects []domain.Project
	byID     map[string]domain.Project
}

type file struct {
	Projects []domain.Project `yaml:"projects"`
}

// New validates projects and fills defaults. The order of projects is kept.
func New(projects []domain.Project) (*Catalog, error) {
	if len(projects) == 0 {
		return nil, errors.New("catalog has no projects")
	}

	c := &Catalog{
		projects: make([]domain.Project, 0, len(projects)),
		byID:     make(map[string]domain.Project, len(projects)),
	}
	for i, p := range projects {
		p.ID = strings.TrimSpace(p.ID)
		if !projectIDPattern.MatchString(p.ID) {
			return nil, fmt.Errorf("project %d: invalid id %q", i, p.ID)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("project %q: duplicate id", p.ID)
		}
		if strings.TrimSpace(p.ProvisioningRef) == "" && strings.TrimSpace(p.Image) == "" {
			return nil, fmt.Errorf("project %q: provisioning_ref or image is required", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Port <= 0 {
			p.Port = DefaultPort
		}
		if p.SetupScript == "" {
			p.SetupScript = DefaultSetupScript
		}
		p.Env = maps.Clone(p.Env)

		c.projects = append(c.projects, p)
		c.byID[p.ID] = p
	}
	return c, nil
}

// Load reads a YAML file with a top-level `projects` list.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	c, err := New(f.Projects)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// LoadOrDefault loads path, or returns the built-in catalog when path is empty.
func LoadOrDefault(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

func (c *Catalog) Get(id string) (domain.Project, bool) {
	p, ok := c.byID[id]
	return p, ok
}

func (c *Catalog) List() []domain.Project {
	out := make([]domain.Project, len(c.projects))
	copy(out, c.projects)
	return out
}

func (c *Catalog) Len() int {
	return len(c.projects)
}
