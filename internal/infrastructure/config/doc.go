// Package config handles loading and validating keygate configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The credential signing secret has no default. Startup fails when it is
//     missing or shorter than 32 characters.
//   - Sensitive values (secrets, broker passwords, tokens) should be set via
//     environment variables rather than committed config files.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.API.Port)
package config
