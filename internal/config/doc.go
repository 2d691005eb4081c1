// Package config loads settings from an optional semdex.yaml file and
// SEMDEX_* environment variables. Precedence is defaults, then file,
// then environment. Every field has a working default so the tool runs
// with no configuration at all.
package config
