// Package config handles loading and validating Gray Logic Discovery configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret must match the one used by Gray Logic Core
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Discovery.Protocol)
//
// Discovery durations are written as Go duration strings:
//
//	discovery:
//	  protocol: "knxip"
//	  listen:
//	    port: 3671
//	    multicast_group: "224.0.23.12"
//	  receive_timeout: "10s"
//	  staleness_threshold: "2m"
//	  probe_address: "224.0.23.12:3671"
package config
