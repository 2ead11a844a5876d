// Package config handles loading and validating the CmControl device client configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a .env file and overriding with CMC_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker and API passwords should be set via environment variables
//   - The config and .env files should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/cmcontrol.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Address)
package config
