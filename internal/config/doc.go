// Package config loads, normalizes, and validates tether configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TETHER_SERVER_URI and TETHER_INSTANCE_ID. The Config type centralizes every
// knob the daemon and CLI need, so socket, lock, and state locations are
// derived in one place for each installation instance.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
