// Package config loads, normalizes, and validates omzet configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML (or YAML) files, and checks the cross references
// between libraries, workflows, and the task catalog. Catalog converts the
// result into the immutable model the execution engine consumes.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, lowercase extensions, and clear validation errors.
package config
