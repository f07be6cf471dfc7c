// Package config loads and validates the Quarry server configuration from a
// YAML file, filling in defaults for everything the file omits.
package config
