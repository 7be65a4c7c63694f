// Package config provides configuration loading and validation for the
// voice transcription service. It handles YAML-based configuration with
// struct validation plus environment overrides for secrets and the
// platform-assigned port.
package config
