// Package config loads and validates the v2xstreams configuration.
//
// Configuration is built in layers:
//
//  1. built-in defaults (Default)
//  2. file layers, JSON or YAML by extension, deep-merged in order
//  3. environment overrides with the V2X_ prefix (V2X_SOURCE_HOST,
//     V2X_SOURCE_PORT, V2X_SWEEP_INTERVAL, V2X_NATS_URLS, ...)
//
// The merged document is checked against an embedded JSON Schema before it
// is decoded, so unknown keys and wrong types are reported with their path.
// Validate then enforces the rules the schema cannot express, such as the
// allowed sweep intervals and distinct listener ports.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.json")
//	loader.AddLayer("configs/site.yaml") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Runtime Changes
//
// SafeConfig holds the live configuration. The source address and sweep
// interval can change while running; Modify applies a change to a copy and
// only stores it when it validates:
//
//	err := safe.Modify(func(c *config.Config) {
//		c.Source.Host, c.Source.Port = "10.0.0.5", 5000
//	})
package config
