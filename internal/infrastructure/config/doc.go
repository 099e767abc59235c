// Package config handles loading and validating OBLOQ bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with OBLOQ_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The Adafruit IO key and Wi-Fi password should be set via environment
//     variables (OBLOQ_AIO_KEY, OBLOQ_WIFI_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Serial.URL)
package config
