// Command server runs the kiro-gateway HTTP proxy: an Anthropic Messages
// API surface backed by a pool of Kiro OAuth credentials.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/gateway"
	"github.com/kirogw/kiro-gateway/internal/kiroclient"
	"github.com/kirogw/kiro-gateway/internal/monitoring"
	"github.com/kirogw/kiro-gateway/internal/oauth"
	"github.com/kirogw/kiro-gateway/internal/pool"
	"github.com/kirogw/kiro-gateway/internal/ratelimit"
	"github.com/kirogw/kiro-gateway/internal/retry"
	"github.com/kirogw/kiro-gateway/internal/usage"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("KIRO_CONFIG", "config.json"), "path to the gateway's JSON config file")
	credentialsPath := flag.String("credentials", envOr("KIRO_CREDENTIALS", "credentials.json"), "path to the credentials JSON file")
	usagePath := flag.String("usage-db", envOr("KIRO_USAGE_DB", "usage.db"), "path to the audit-log SQLite database")
	flag.Parse()

	monitoring.SetupLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("kiro-gateway: failed to load config")
		return 2
	}
	cfg.CredentialsFile = *credentialsPath

	p := pool.New(cfg.CredentialsFile)
	if err := p.LoadFromFile(cfg.CredentialsFile); err != nil {
		log.Error().Err(err).Msg("kiro-gateway: failed to load credentials")
		return 2
	}

	rlCfg := ratelimit.DefaultConfig()
	if cfg.CredentialRPM > 0 {
		rlCfg.MinIntervalMS = 60_000 / cfg.CredentialRPM
	}
	limiter := ratelimit.New(rlCfg)
	p.SetRateLimiter(limiter)

	client, err := kiroclient.New(kiroclient.Config{
		KiroVersion:   cfg.KiroVersion,
		MachineID:     cfg.MachineID,
		SystemVersion: cfg.SystemVersion,
		NodeVersion:   cfg.NodeVersion,
		Proxy:         derefProxy(cfg.Proxy),
	})
	if err != nil {
		log.Error().Err(err).Msg("kiro-gateway: failed to build upstream client")
		return 1
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	tokens := oauth.New(p, oauth.NewSocialRefresher(httpClient), oauth.NewIDCRefresher(httpClient, cfg.Region))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	background := oauth.NewBackground(p, tokens, oauth.DefaultBackgroundConfig())
	background.Start(ctx)
	defer background.Stop()

	engine := retry.New(p, tokens, client)

	store, err := usage.Open(*usagePath)
	if err != nil {
		log.Error().Err(err).Msg("kiro-gateway: failed to open usage store")
		return 1
	}
	defer store.Close()

	metrics := monitoring.NewMetricsCollector()
	g := gateway.New(cfg, p, engine, client, store, metrics, limiter)
	go g.WatchPool(ctx, 0)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				p.AutoHeal(now)
				p.Affinity.Cleanup(now)
			}
		}
	}()

	monitoring.LogInit(monitoring.InitEvent{
		Addr:                cfg.Addr(),
		Region:              cfg.Region,
		AdminEnabled:        cfg.AdminEnabled(),
		CredentialCount:     len(p.AllSnapshots()),
		LoadBalancingMode:   string(p.Mode()),
		CompressionThinking: cfg.Compression.ThinkingStrategy,
		CredentialRPM:       cfg.CredentialRPM,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("kiro-gateway: server failed")
			return 1
		}
	case <-ctx.Done():
		log.Info().Msg("kiro-gateway: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		p.PersistNow()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("kiro-gateway: graceful shutdown failed")
			return 1
		}
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func derefProxy(p *config.ProxyConfig) kiroclient.ProxyConfig {
	if p == nil {
		return kiroclient.ProxyConfig{}
	}
	return kiroclient.ProxyConfig{URL: p.URL, Username: p.Username, Password: p.Password}
}
