// Package migrations holds the embedded SQL schema files
// (applied in lexical order: 001, 002, ...).
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
