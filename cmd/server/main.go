// Command server runs the comfypod worker: an HTTP job API in front of a
// ComfyUI image generation server.
//
// Configuration is layered: defaults, an optional YAML file (-config,
// COMFYPOD_CONFIG, ./config.yaml, /etc/comfypod/config.yaml), then
// environment overrides including the serverless platform conventions
// (COMFY_PORT, USE_CPU, BUCKET_*). A .env file in the working directory
// is loaded first.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/auth"
	"github.com/comfypod/comfypod/pkg/auth/apikey"
	"github.com/comfypod/comfypod/pkg/auth/jwt"
	"github.com/comfypod/comfypod/pkg/auth/noop"
	"github.com/comfypod/comfypod/pkg/comfy"
	"github.com/comfypod/comfypod/pkg/config"
	"github.com/comfypod/comfypod/pkg/debug"
	"github.com/comfypod/comfypod/pkg/engine"
	"github.com/comfypod/comfypod/pkg/observability"
	"github.com/comfypod/comfypod/pkg/storage/memory"
	"github.com/comfypod/comfypod/pkg/storage/postgres"
	"github.com/comfypod/comfypod/pkg/transport"
	transporthttp "github.com/comfypod/comfypod/pkg/transport/http"
	"github.com/comfypod/comfypod/pkg/upload"
	"github.com/comfypod/comfypod/pkg/workflow"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// A missing .env is the normal case.
	_ = godotenv.Load()

	debug.Init("", "")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Workflow template.
	template, err := workflow.LoadOrDefault(cfg.Engine.Workflow)
	if err != nil {
		return fmt.Errorf("loading workflow: %w", err)
	}

	// Job store.
	store, closeStore, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	// Persisted volume and optional local ComfyUI process.
	var volume comfy.Volume
	if cfg.Comfy.VolumeRoot != "" {
		volume = comfy.Volume{Root: cfg.Comfy.VolumeRoot}
		if err := volume.EnsureLayout(); err != nil {
			return fmt.Errorf("preparing volume: %w", err)
		}
	}

	if cfg.Comfy.Launch {
		if volume.Root != "" {
			if err := comfy.EnsureModelsLink(cfg.Comfy.Dir, volume.ModelDir(), nil); err != nil {
				return fmt.Errorf("linking models: %w", err)
			}
		}
		launcher := comfy.NewLauncher(launcherConfig(cfg.Comfy, volume), nil)
		if err := launcher.Start(); err != nil {
			return fmt.Errorf("starting comfyui: %w", err)
		}
		defer launcher.Stop(10 * time.Second)
	}

	// ComfyUI client.
	client := comfy.New(cfg.Comfy.BaseURL())
	slog.Info("waiting for comfyui", "url", client.BaseURL())
	if err := client.WaitReady(ctx, cfg.Comfy.StartupTimeout, 2*time.Second); err != nil {
		return err
	}

	// Engine.
	engineOpts := []engine.Option{
		engine.WithMiddleware(
			transport.Recovery(),
			transport.RequestID(),
			transport.Logging(slog.Default()),
		),
	}
	if volume.Root != "" {
		engineOpts = append(engineOpts, engine.WithVolume(volume))
	}
	if cfg.Upload.Enabled() {
		uploader, err := upload.NewS3(ctx, uploadConfig(cfg.Upload), nil)
		if err != nil {
			return fmt.Errorf("configuring upload: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithUploader(uploader))
		slog.Info("object storage upload enabled", "bucket", cfg.Upload.Bucket)
	}

	eng, err := engine.New(client, store, template, engine.Config{
		QueueSize:    cfg.Engine.QueueSize,
		JobTimeout:   cfg.Engine.JobTimeout,
		PollInterval: cfg.Engine.PollInterval,
		Validation:   api.DefaultValidationConfig(),
	}, engineOpts...)
	if err != nil {
		return err
	}
	eng.Start(ctx)

	// HTTP surface.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	adapter := transporthttp.NewAdapter(eng, store, transporthttp.Config{
		Addr:            addr,
		MaxBodySize:     cfg.Server.MaxBodyBytes,
		ShutdownTimeout: int(cfg.Server.ShutdownTimeout.Seconds()),
	})
	if cfg.Observability.Metrics.Enabled {
		adapter.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	wrap, err := buildWrap(cfg.Auth, cfg.Observability)
	if err != nil {
		return err
	}

	srv := transporthttp.NewServer(adapter, wrap,
		transporthttp.WithAddr(addr),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	)

	err = srv.ListenAndServe()

	// Let the worker drain its current job before exiting.
	stop()
	eng.Wait()
	return err
}

// buildStore creates the configured JobStore and returns a close func.
func buildStore(ctx context.Context, cfg config.StorageConfig) (transport.JobStore, func(), error) {
	switch cfg.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, func() { store.Close() }, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), func() {}, nil
	}
}

// buildWrap assembles the handler middleware: metrics outermost so
// rejected requests are counted too, then authentication.
func buildWrap(cfg config.AuthConfig, obs config.ObservabilityConfig) (func(http.Handler) http.Handler, error) {
	chain := buildAuthChain(cfg)

	var limiter auth.RateLimiter
	if cfg.RateLimitRPM > 0 || len(cfg.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(cfg.Tiers))
		for name, rpm := range cfg.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimitRPM)
	}

	// The scrape endpoint follows its configured path, wherever it is.
	bypass := []string{"/healthz"}
	if obs.Metrics.Enabled && obs.Metrics.Path != "" {
		bypass = append(bypass, obs.Metrics.Path)
	}
	authMW := auth.Middleware(chain, limiter, bypass)
	return func(h http.Handler) http.Handler {
		return observability.MetricsMiddleware(authMW(h))
	}, nil
}

func buildAuthChain(cfg config.AuthConfig) *auth.Chain {
	switch cfg.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
					Metadata:    map[string]string{"tenant_id": k.TenantID},
				},
			})
		}
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.Deny,
		}
	case "jwt":
		authn := jwt.New(jwt.Config{
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			JWKSURL:  cfg.JWT.JWKSURL,
		})
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{authn},
			DefaultDecision: auth.Deny,
		}
	default:
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{&noop.Authenticator{}},
			DefaultDecision: auth.Deny,
		}
	}
}

func launcherConfig(cfg config.ComfyConfig, volume comfy.Volume) comfy.LauncherConfig {
	lc := comfy.LauncherConfig{
		PythonBin: cfg.PythonBin,
		Dir:       cfg.Dir,
		Port:      cfg.Port,
		UseCPU:    cfg.UseCPU,
		ExtraArgs: cfg.ExtraArgs,
	}
	if volume.Root != "" {
		lc.OutputDir = volume.OutputDir()
		lc.TempDir = volume.TempDir()
	}
	return lc
}

func uploadConfig(cfg config.UploadConfig) upload.Config {
	return upload.Config{
		EndpointURL:     cfg.EndpointURL,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Prefix:          cfg.Prefix,
		PresignExpiry:   cfg.PresignExpiry,
	}
}
