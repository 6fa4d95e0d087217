// Package config provides unified configuration for the comfypod worker.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (COMFYPOD_ prefix plus the
//     COMFY_*/USE_CPU/BUCKET_* conventions of serverless deployments)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the comfypod worker.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Comfy         ComfyConfig         `yaml:"comfy"`
	Engine        EngineConfig        `yaml:"engine"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Upload        UploadConfig        `yaml:"upload"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"` // default: 8000

	// ReadTimeout guards slow request bodies. WriteTimeout must cover a
	// full synchronous generation, so it defaults high.
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 10m

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`   // default: 1 MiB
}

// ComfyConfig holds settings for reaching (or launching) the ComfyUI server.
type ComfyConfig struct {
	// URL is the base URL of a running ComfyUI server. Empty means
	// http://127.0.0.1:<port>.
	URL  string `yaml:"url"`
	Port int    `yaml:"port"` // default: 8188

	// Launch starts a local ComfyUI process instead of expecting one.
	Launch    bool     `yaml:"launch"`
	PythonBin string   `yaml:"python_bin"` // default: "python"
	Dir       string   `yaml:"dir"`        // ComfyUI checkout, required when launch=true
	UseCPU    bool     `yaml:"use_cpu"`
	ExtraArgs []string `yaml:"extra_args"`

	// StartupTimeout bounds the wait for ComfyUI to answer after launch.
	// Model loading on a cold volume can take minutes.
	StartupTimeout time.Duration `yaml:"startup_timeout"` // default: 5m

	// VolumeRoot is the persisted network volume. Empty disables volume
	// handling; images are then fetched over /view.
	VolumeRoot string `yaml:"volume_root"`
}

// BaseURL returns the effective ComfyUI base URL.
func (c ComfyConfig) BaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.Port)
}

// EngineConfig holds job execution settings.
type EngineConfig struct {
	// Workflow is the path to a workflow JSON template. Empty uses the
	// embedded text-to-image default.
	Workflow string `yaml:"workflow"`

	QueueSize    int           `yaml:"queue_size"`    // default: 16
	JobTimeout   time.Duration `yaml:"job_timeout"`   // default: 0 (no deadline)
	PollInterval time.Duration `yaml:"poll_interval"` // default: 500ms
}

// StorageConfig holds job record persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // settings for type=jwt

	// RateLimitRPM is the default requests-per-minute limit per caller.
	// Zero disables rate limiting. Tiers override it per service tier.
	RateLimitRPM int            `yaml:"rate_limit_rpm"`
	Tiers        map[string]int `yaml:"tiers"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig holds JWT/OIDC validation settings.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
}

// UploadConfig holds S3-compatible object storage settings. Upload is
// enabled when access key, secret, and bucket are all present.
type UploadConfig struct {
	EndpointURL         string        `yaml:"endpoint_url"`
	AccessKeyID         string        `yaml:"access_key_id"`
	AccessKeyIDFile     string        `yaml:"access_key_id_file"`
	SecretAccessKey     string        `yaml:"secret_access_key"`
	SecretAccessKeyFile string        `yaml:"secret_access_key_file"`
	Bucket              string        `yaml:"bucket"`
	Region              string        `yaml:"region"`
	Prefix              string        `yaml:"prefix"`
	PresignExpiry       time.Duration `yaml:"presign_expiry"` // default: 7 days
}

// Enabled reports whether upload credentials are complete.
func (u UploadConfig) Enabled() bool {
	return u.AccessKeyID != "" && u.SecretAccessKey != "" && u.Bucket != ""
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Comfy: ComfyConfig{
			Port:           8188,
			PythonBin:      "python",
			StartupTimeout: 5 * time.Minute,
		},
		Engine: EngineConfig{
			QueueSize:    16,
			PollInterval: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Upload: UploadConfig{
			Region:        "us-east-1",
			PresignExpiry: 7 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
