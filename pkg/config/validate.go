package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// comfy.url or comfy.port must resolve to something reachable.
	if c.Comfy.URL == "" && c.Comfy.Port <= 0 {
		errs = append(errs, fmt.Errorf("comfy.url or comfy.port is required"))
	}

	// comfy.dir is required when launching a local server.
	if c.Comfy.Launch && c.Comfy.Dir == "" {
		errs = append(errs, fmt.Errorf("comfy.dir is required when comfy.launch is true"))
	}

	// engine.queue_size must not be negative.
	if c.Engine.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("engine.queue_size must be >= 0, got %d", c.Engine.QueueSize))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	// auth.jwt.jwks_url is required for JWT validation.
	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
	}

	// Upload credentials must be all-or-nothing.
	partial := c.Upload.AccessKeyID != "" || c.Upload.SecretAccessKey != "" || c.Upload.Bucket != ""
	if partial && !c.Upload.Enabled() {
		errs = append(errs, fmt.Errorf("upload requires access_key_id, secret_access_key, and bucket together"))
	}

	return errors.Join(errs...)
}
