// Package config holds the daemon's settings surface: defaults, the
// YAML config file, and the clamping rules that normalise out-of-range
// values. Flags override individual fields after Load.
package config
