package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, COMFYPOD_CONFIG env, ./config.yaml,
//     /etc/comfypod/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. COMFYPOD_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/comfypod/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("COMFYPOD_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/comfypod/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields. The
// COMFY_*/USE_CPU/BUCKET_* names follow the conventions of the serverless
// platforms this worker deploys to; COMFYPOD_* covers the rest.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMFYPOD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("COMFYPOD_WORKFLOW"); v != "" {
		cfg.Engine.Workflow = v
	}
	if v := os.Getenv("COMFYPOD_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.JobTimeout = d
		}
	}
	if v := os.Getenv("COMFYPOD_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("COMFYPOD_STORAGE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Storage.MaxSize = size
		}
	}
	if v := os.Getenv("COMFYPOD_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("COMFYPOD_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}

	// COMFYPOD_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("COMFYPOD_API_KEYS"); v != "" {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	// ComfyUI conventions.
	if v := os.Getenv("COMFY_URL"); v != "" {
		cfg.Comfy.URL = v
	}
	if v := os.Getenv("COMFY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Comfy.Port = port
		}
	}
	if v := os.Getenv("COMFY_DIR"); v != "" {
		cfg.Comfy.Dir = v
	}
	if v := os.Getenv("COMFY_LAUNCH"); v != "" {
		cfg.Comfy.Launch = truthy(v)
	}
	if v := os.Getenv("USE_CPU"); v != "" {
		cfg.Comfy.UseCPU = truthy(v)
	}
	if v := os.Getenv("VOLUME_ROOT"); v != "" {
		cfg.Comfy.VolumeRoot = v
	}

	// Object storage conventions.
	if v := os.Getenv("BUCKET_ENDPOINT_URL"); v != "" {
		cfg.Upload.EndpointURL = v
	}
	if v := os.Getenv("BUCKET_ACCESS_KEY_ID"); v != "" {
		cfg.Upload.AccessKeyID = v
	}
	if v := os.Getenv("BUCKET_SECRET_ACCESS_KEY"); v != "" {
		cfg.Upload.SecretAccessKey = v
	}
	if v := os.Getenv("BUCKET_NAME"); v != "" {
		cfg.Upload.Bucket = v
	}
	if v := os.Getenv("BUCKET_REGION"); v != "" {
		cfg.Upload.Region = v
	}
	if v := os.Getenv("BUCKET_PREFIX"); v != "" {
		cfg.Upload.Prefix = v
	}
}

// truthy interprets the loose boolean forms env vars arrive in.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	// upload.access_key_id_file / secret_access_key_file
	if cfg.Upload.AccessKeyIDFile != "" && cfg.Upload.AccessKeyID == "" {
		val, err := readSecretFile(cfg.Upload.AccessKeyIDFile)
		if err != nil {
			return fmt.Errorf("upload.access_key_id_file: %w", err)
		}
		cfg.Upload.AccessKeyID = val
	}
	if cfg.Upload.SecretAccessKeyFile != "" && cfg.Upload.SecretAccessKey == "" {
		val, err := readSecretFile(cfg.Upload.SecretAccessKeyFile)
		if err != nil {
			return fmt.Errorf("upload.secret_access_key_file: %w", err)
		}
		cfg.Upload.SecretAccessKey = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
