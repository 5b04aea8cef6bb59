// Package config loads the bridge runtime configuration from an optional
// YAML file with environment variable overrides.
package config
