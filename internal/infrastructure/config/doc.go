// Package config handles loading and validating EquipWatch Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with EQUIPWATCH_* environment variables
//   - Validation of required fields and security floors
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - security.password.iterations below 10000 is rejected
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Service.Name)
package config
