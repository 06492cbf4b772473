// Package config handles loading and validating EcoZone auth service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file into the process environment
//   - Overriding with ECOZONE_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Token signing secrets have no defaults; start-up fails without them
//   - Access and refresh secrets must be distinct and at least 32 characters
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	if err := config.LoadEnvFile(".env"); err != nil {
//	    return err
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
