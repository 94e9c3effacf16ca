// Package config loads the service configuration from config.yaml, a .env
// file and CONVERT_* environment variables, and validates it before any
// component is built.
package config
