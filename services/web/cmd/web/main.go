package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"mentorhub/internal/util"
	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/session"
	"mentorhub/pkg/tokens"
	"mentorhub/services/web/internal/config"
	"mentorhub/services/web/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Durations were checked by Load.
	sessionTTL, _ := config.ParseDuration(cfg.SessionTTL, 7*24*time.Hour)
	accessTTL, _ := config.ParseDuration(cfg.AccessCookieTTL, 0)
	refreshTTL, _ := config.ParseDuration(cfg.RefreshCookieTTL, 0)
	logoutTimeout, _ := config.ParseDuration(cfg.RemoteLogoutTimeout, 0)

	logger := util.InitLogger(cfg.LogLevel)

	api, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		log.Fatalf("failed to init api client: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxy config: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	sessions, err := newPersister(cfg, rdb, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}

	httpServer, err := server.New(server.Config{
		API:      api,
		Redis:    rdb,
		Sessions: sessions,
		Cookies: tokens.Options{
			AccessTTL:  accessTTL,
			RefreshTTL: refreshTTL,
			UserTTL:    refreshTTL,
			Secure:     cfg.SecureCookies(),
			Domain:     cfg.CookieDomain,
		},
		StaticDir:                  cfg.StaticDir,
		TrustedProxies:             trusted,
		RemoteLogoutTimeout:        logoutTimeout,
		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute:  cfg.RefreshRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "api", api.BaseURL(), "session_store", cfg.SessionStore)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newPersister(cfg config.FileConfig, rdb redis.UniversalClient, ttl time.Duration) (session.Persister, error) {
	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		p, err := session.NewGormPersister(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.SessionStoreMemory:
		return session.NewMemoryPersister(), nil
	default:
		return session.NewRedisPersister(rdb, ttl), nil
	}
}
