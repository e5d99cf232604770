// Package config loads the YAML configuration with ${VAR} substitution and
// overlays secrets from BETFAIR_* environment variables.
package config
