// Package config loads and validates the beacon fence service configuration.
//
// Loading order is defaults, then the YAML file, then BEACONFENCE_* environment
// variables. Secrets (MQTT password, Redis password, InfluxDB token, JWT secret)
// are expected to arrive through the environment.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
