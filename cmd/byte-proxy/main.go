package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungtweek/byte-proxy/internal/chat"
	"github.com/yungtweek/byte-proxy/internal/config"
	"github.com/yungtweek/byte-proxy/internal/logger"
	"github.com/yungtweek/byte-proxy/internal/metrics"
	"github.com/yungtweek/byte-proxy/internal/server"
	"github.com/yungtweek/byte-proxy/internal/upstream"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadConfig()

	logger.Init(cfg.Profile)
	defer logger.Sync()

	config.ApplyPresetOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatalw("[byte-proxy] invalid config", "err", err)
	}

	policy, err := server.ParseChunkPolicy(cfg.StreamChunkPolicy)
	if err != nil {
		logger.Log.Fatalw("[byte-proxy] invalid config", "err", err)
	}

	persona, err := config.LoadPersona(cfg.PersonaFile)
	if err != nil {
		logger.Log.Fatalw("[byte-proxy] persona", "err", err)
	}

	// The key is read per request; a missing one only fails chat calls.
	if os.Getenv(cfg.APIKeyEnv) == "" {
		logger.Log.Warnw("[byte-proxy] upstream credential not set; chat requests will fail", "env", cfg.APIKeyEnv)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	grpcAddr := ""
	if cfg.GRPCPort > 0 {
		grpcAddr = fmt.Sprintf(":%d", cfg.GRPCPort)
	}
	logger.Log.Infow(
		"starting byte proxy",
		"addr", addr,
		"grpcAddr", grpcAddr,
		"preset", cfg.Preset,
		"upstreamURL", cfg.UpstreamURL,
		"upstreamModel", cfg.UpstreamModel,
		"publicModel", persona.PublicModel,
		"defaultMaxTokens", cfg.DefaultMaxTokens,
		"chunkPolicy", policy,
		"metrics", cfg.MetricsEnabled,
	)

	client := upstream.New(
		cfg.UpstreamURL,
		upstream.EnvKey(cfg.APIKeyEnv),
		upstream.WithHTTPClient(upstream.NewHTTPClient(cfg.UpstreamHeaderTimeout)),
		upstream.WithStreamBuffer(cfg.StreamBufferBytes),
	)

	srv := server.NewServer(addr, grpcAddr, server.Deps{
		Translator:    chat.NewTranslator(cfg, persona),
		Upstream:      client,
		Metrics:       metrics.New(),
		MaxBodyBytes:  cfg.MaxBodyBytes,
		ChunkPolicy:   policy,
		ExposeMetrics: cfg.MetricsEnabled,
	})

	// Handle SIGINT/SIGTERM for a clean shutdown in local dev / docker.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-sigCh
		logger.Log.Info("[byte-proxy] shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Log.Warnw("[byte-proxy] shutdown incomplete", "err", err)
		}
	}()

	if err := srv.Run(); err != nil {
		logger.Log.Fatalw("[byte-proxy] server error", "err", err)
	}
	// Run returns as soon as Shutdown starts; wait for open streams to drain.
	<-drained
}
