// Package migrations contains embedded SQL migrations for the durable tier.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
