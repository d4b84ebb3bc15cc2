package config

import _ "embed"

//go:embed schema.cue
var schemaCUE string
