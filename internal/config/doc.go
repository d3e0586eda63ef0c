// Package config provides configuration loading and validation for the BLE audio recorder.
// It handles YAML-based configuration for the packet source, the recording session,
// the rate policy, the filter chain, outputs and the ambient services.
package config
