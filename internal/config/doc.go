// Package config loads FS9's configuration surface from YAML
// (gopkg.in/yaml.v2) with environment-variable overrides, matching §6.4:
// server networking and backpressure, meta-service resilience, rate
// limiting, plugin directories, and preloaded mounts.
package config
