// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the goose SQL migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
