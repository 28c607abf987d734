// Package mailsync holds assets shared by the binaries and tests.
package mailsync

import "embed"

// Migrations contains the SQL schema, applied in filename order.
//
//go:embed migrations/*.up.sql
var Migrations embed.FS
