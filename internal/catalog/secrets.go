// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/joho/godotenv"
)

// Secrets reads per-project dotenv files named <project id>.env from Dir.
type Secrets struct {
	Dir string
}

// EnvFor returns the project's default environment with its secrets file
// merged over it. A missing file or empty Dir yields the defaults.
func (s Secrets) EnvFor(p domain.Project) (map[string]string, error) {
	env := maps.Clone(p.Env)
	if env == nil {
		env = map[string]string{}
	}
	if s.Dir == "" {
		return env, nil
	}

	path := filepath.Join(s.Dir, p.ID+".env")
	secrets, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return env, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets for %s: %w", p.ID, err)
	}

	maps.Copy(env, secrets)
	return env, nil
}
