// Package config handles loading and validating homebus configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (HOMEBUS_*)
//   - Validation of required fields
//   - Default value handling
//
// The defaults reproduce the original deployment: broker on localhost:1883,
// topic namespace redes2/2312/1, registry seeded with one sensor, one switch
// and one watch. A config file is optional; an empty path means defaults
// plus environment overrides.
//
// Usage:
//
//	cfg, err := config.Load("configs/homebus.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Topics.Root)
package config
