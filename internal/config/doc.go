// Package config loads the daemon's YAML or JSON config file and watches it
// for changes.
package config
