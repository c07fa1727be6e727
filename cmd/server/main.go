package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medihan/internal/account"
	"medihan/internal/api"
	"medihan/internal/auth"
	"medihan/internal/config"
	"medihan/internal/db"
	"medihan/internal/metrics"
	"medihan/internal/pgstore"
	"medihan/internal/provider"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})))

	slog.Info("starting server", "name", cfg.Server.Name, "driver", cfg.Database.Driver)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	registry := metrics.NewProcessRegistry()
	m := metrics.New(registry)

	tokens := auth.NewTokenService(
		cfg.Auth.AccessSecret,
		cfg.Auth.RefreshSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	tempSessions, err := auth.NewTempSessionStore(cfg.Auth.SessionSecret, cfg.Auth.TempSessionTTL, cfg.Server.SecureCookies)
	if err != nil {
		slog.Error("failed to initialize temp sessions", "error", err)
		os.Exit(1)
	}
	cookies := auth.NewCookies(cfg.Server.SecureCookies, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, cfg.Auth.LegacySessionTTL)

	engine := account.NewRegistrationEngine(store, tokens, tempSessions, cookies, account.NewDuplicateIdentityDetector(store), m)
	resolver := account.NewSessionResolver(store, tokens, cookies, m)
	reaper := account.NewReaper(store, m, cfg.Reaper.Interval, cfg.Reaper.Retention, cfg.Reaper.BatchSize)

	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	if cfg.Reaper.Disabled {
		slog.Info("pending account reaper disabled")
	} else {
		go reaper.Start(reaperCtx)
	}

	server := api.NewServer(cfg, api.Services{
		Store:        store,
		Engine:       engine,
		Resolver:     resolver,
		Reaper:       reaper,
		TempSessions: tempSessions,
		Providers:    providers(cfg),
		Metrics:      m,
		Registry:     registry,
	})

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	reaperCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

func openStore(cfg *config.Config) (account.Store, func(), error) {
	if cfg.Database.Driver == config.DriverPostgres {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := pgstore.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("database opened", "driver", cfg.Database.Driver)
		return store, store.Close, nil
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("database opened", "driver", cfg.Database.Driver, "path", cfg.Database.Path)
	return database.Accounts(), func() { _ = database.Close() }, nil
}

func providers(cfg *config.Config) *provider.Registry {
	var enabled []provider.Provider
	if cfg.OAuth.Kakao.Enabled() {
		enabled = append(enabled, provider.NewKakao(provider.Config{
			ClientID:     cfg.OAuth.Kakao.ClientID,
			ClientSecret: cfg.OAuth.Kakao.ClientSecret,
			RedirectURL:  cfg.OAuth.Kakao.RedirectURL,
		}))
	}
	if cfg.OAuth.Naver.Enabled() {
		enabled = append(enabled, provider.NewNaver(provider.Config{
			ClientID:     cfg.OAuth.Naver.ClientID,
			ClientSecret: cfg.OAuth.Naver.ClientSecret,
			RedirectURL:  cfg.OAuth.Naver.RedirectURL,
		}))
	}
	if len(enabled) == 0 {
		slog.Warn("no OAuth providers configured")
	}
	return provider.NewRegistry(enabled...)
}
