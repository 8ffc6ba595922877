package sqlinline

import _ "embed"

// Schema is the idempotent DDL applied when AUTO_MIGRATE is enabled.
//
//go:embed schema.sql
var Schema string
