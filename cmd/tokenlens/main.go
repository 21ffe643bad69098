// Command tokenlens runs the local LLM usage gateway: a reverse proxy that
// relays provider traffic untouched while accounting tokens and cost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/tokenlens/gateway/internal/broadcast"
	"github.com/tokenlens/gateway/internal/config"
	"github.com/tokenlens/gateway/internal/persist"
	"github.com/tokenlens/gateway/internal/pricing"
	"github.com/tokenlens/gateway/internal/proxy"
	"github.com/tokenlens/gateway/internal/server"
	"github.com/tokenlens/gateway/internal/signer"
	"github.com/tokenlens/gateway/internal/store"
	"github.com/tokenlens/gateway/internal/tokenizer"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("gateway exited")
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to yaml config file")
	listen := flag.String("listen", "", "listen address override (host:port)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *listen != "" {
		if err := applyListen(cfg, *listen); err != nil {
			return err
		}
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prices, err := pricing.NewSource(cfg.PricingPath)
	if err != nil {
		return fmt.Errorf("load pricing: %w", err)
	}
	if cfg.PricingPath != "" {
		go func() {
			if err := prices.Watch(ctx); err != nil {
				log.Warn().Err(err).Msg("pricing watcher stopped")
			}
		}()
	}

	entries := store.New(cfg.MaxEntries)
	hub := broadcast.NewHub()

	if err := os.MkdirAll(cfg.Persist.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	sink, err := persist.Open(cfg.Persist.DBPath(), cfg.Persist.RequestLogPath)
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	defer sink.Close()

	opts := proxy.Options{
		Targets:  proxy.TargetsFromConfig(cfg.Providers),
		Pricing:  prices,
		Entries:  entries,
		Notifier: hub,
		Sink:     sink,
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.QPS), cfg.RateLimit.Burst)
	}
	if needsSigner(cfg) {
		sv4, err := signer.New(ctx, cfg.AWSRegion)
		if err != nil {
			return fmt.Errorf("init sigv4 signer: %w", err)
		}
		opts.Signer = sv4
	}
	if cfg.EstimateTokens {
		est, err := tokenizer.New()
		if err != nil {
			log.Warn().Err(err).Msg("token estimator unavailable")
		} else {
			opts.Estimator = est
		}
	}

	engine := proxy.New(opts)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.New(engine, entries, hub, sink),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Int("providers", len(cfg.Providers)).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return nil
}

func applyListen(cfg *config.Config, addr string) error {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return fmt.Errorf("invalid listen address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid listen port %q", portStr)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = port
	return cfg.Validate()
}

func needsSigner(cfg *config.Config) bool {
	for _, p := range cfg.Providers {
		if p.Auth == "sigv4" {
			return true
		}
	}
	return false
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}
