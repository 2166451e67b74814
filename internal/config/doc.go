// Package config loads, validates, and normalizes catalogIQ configuration
// from TOML files with sane defaults for every subsystem.
package config
