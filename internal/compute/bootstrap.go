// SPDX-License-Identifier: Apache-2.0

package compute

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"text/template"

	"github.com/joho/godotenv"
)

var (
	envKeyPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	setupScriptPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

var templateFuncs = template.FuncMap{"quote": ShellQuote}

var vmStartupTemplate = template.Must(template.New("vm").Funcs(templateFuncs).Parse(`#!/bin/bash
set -euo pipefail

# {{.Name}} ({{.ProjectID}})
apt-get update
apt-get install -y git curl

USERNAME="deployer"
if ! id "$USERNAME" &>/dev/null; then
    useradd -m -s /bin/bash "$USERNAME"
    echo "$USERNAME ALL=(ALL) NOPASSWD: ALL" > /etc/sudoers.d/deployer-init
    chmod 440 /etc/sudoers.d/deployer-init
    usermod -aG systemd-journal "$USERNAME"
fi

sudo -u "$USERNAME" bash <<'DEPLOY'
set -euo pipefail
APP_DIR="$HOME/app"
rm -rf "$APP_DIR"
git clone {{quote .Ref}} "$APP_DIR"
cd "$APP_DIR"
cat > .env <<'DOTENV'
{{.Dotenv}}
DOTENV
chmod +x {{quote .SetupScript}}
./{{.SetupScript}}
DEPLOY
`))

var containerTemplate = template.Must(template.New("container").Funcs(templateFuncs).Parse(`set -eu
rm -rf /app
git clone {{quote .Ref}} /app
cd /app
cat > .env <<'DOTENV'
{{.Dotenv}}
DOTENV
chmod +x {{quote .SetupScript}}
./{{.SetupScript}}
exec tail -f /dev/null
`))

type bootstrapData struct {
	CreateSpec
	Dotenv string
}

// VMStartupScript renders the startup script for a fresh VM: it creates an
// unprivileged deploy user, clones the project, writes its .env and runs the
// project's setup script.
func VMStartupScript(spec CreateSpec) (string, error) {
	return render(vmStartupTemplate, spec)
}

// ContainerScript renders the shell entrypoint used when a project has no
// prebuilt image and runs from source inside a base image.
func ContainerScript(spec CreateSpec) (string, error) {
	return render(containerTemplate, spec)
}

func render(tmpl *template.Template, spec CreateSpec) (string, error) {
	if strings.TrimSpace(spec.Ref) == "" {
		return "", fmt.Errorf("project %s has no source repository", spec.ProjectID)
	}
	if !setupScriptPattern.MatchString(spec.SetupScript) || strings.Contains(spec.SetupScript, "..") {
		return "", fmt.Errorf("project %s: invalid setup script %q", spec.ProjectID, spec.SetupScript)
	}
	for k := range spec.Env {
		if !envKeyPattern.MatchString(k) {
			return "", fmt.Errorf("project %s: invalid env key %q", spec.ProjectID, k)
		}
	}

	dotenv, err := godotenv.Marshal(spec.Env)
	if err != nil {
		return "", fmt.Errorf("render env for %s: %w", spec.ProjectID, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, bootstrapData{CreateSpec: spec, Dotenv: dotenv}); err != nil {
		return "", fmt.Errorf("render bootstrap for %s: %w", spec.ProjectID, err)
	}
	return buf.String(), nil
}

// ShellQuote wraps s in single quotes for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// EnvList flattens env into KEY=value pairs in sorted key order.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}
