// Package config handles configuration loading, parsing, and validation
// from various sources (a .env file, an optional YAML file and environment
// variables). It provides type-safe access to the settings of the queue,
// the generation executor, the upscaler and the HTTP server while keeping
// configuration details separate from business logic.
package config
