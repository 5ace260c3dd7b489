// Package migrations embeds the discovery service's SQL migrations into
// the binary so no schema files need to be shipped alongside it.
package migrations

import "embed"

// FS holds every NNN_name.{up,down}.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
