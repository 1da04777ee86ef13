// Package config provides configuration loading for Hearthwatch Core.
//
// Configuration is read from a YAML file, merged over built-in defaults,
// and finally overridden by HEARTHWATCH_* environment variables. The
// resulting Config is validated before use so startup fails fast on
// misconfiguration rather than at first use of a collaborator.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := mqtt.Connect(cfg.MQTT)
//
// Secrets (MQTT password, InfluxDB token) should be supplied via
// environment variables rather than committed to the YAML file.
package config
