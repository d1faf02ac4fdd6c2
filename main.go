package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/beeunity/beeunity/client/handlers"
	"github.com/beeunity/beeunity/client/internal/api"
	"github.com/beeunity/beeunity/client/internal/config"
	"github.com/beeunity/beeunity/client/internal/oidc"
	"github.com/beeunity/beeunity/client/internal/securestore"
	"github.com/beeunity/beeunity/client/internal/sessions"
	"github.com/beeunity/beeunity/client/pkg/logger"
	"github.com/beeunity/beeunity/client/pkg/metrics"
	"github.com/beeunity/beeunity/client/pkg/middleware"
)

func main() {
	// LOG_LEVEL is honoured before the config loads so config errors are visible
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	logger.SetEncoding(cfg.Log.Encoding)
	defer logger.Sync()
	logger.Infof("config loaded: issuer=%s api=%s store=%s", cfg.Auth.Issuer, cfg.API.BaseURL, cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := securestore.Open(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to open session store: %v", err)
	}
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Warnf("failed to close session store: %v", err)
		}
	}()

	mgr := sessions.NewManager(backend.Store, sessions.WithRedirectURI(cfg.Auth.RedirectURI))
	defer mgr.Close()

	// Discovery runs in the background. The session is restored only after
	// it settles so that an expired record can be refreshed on startup.
	go func() {
		client, err := oidc.DiscoverWithRetry(ctx, oidc.ClientConfig{
			Issuer:   cfg.Auth.Issuer,
			ClientID: cfg.Auth.ClientID,
			Scopes:   cfg.Auth.Scopes,
		}, cfg.Auth.DiscoveryAttempts, time.Second)
		if err != nil {
			logger.Errorf("OIDC discovery failed, sign-in unavailable: %v", err)
		} else {
			mgr.SetProvider(client)
			logger.Infof("OIDC discovery loaded: token endpoint %s", client.TokenEndpoint())
		}
		mgr.Restore(ctx)
	}()

	backendAPI := api.New(cfg.API, mgr)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// the limiter sits behind RequireSession so buckets are per subject
	var guards []gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		limiterRedis := backend.Redis
		if limiterRedis == nil && cfg.RateLimit.UseRedis && cfg.Redis.Host != "" {
			c := redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			if err := c.Ping(ctx).Err(); err != nil {
				logger.Warnf("failed to connect to Redis for rate limiting (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
				_ = c.Close()
			} else {
				limiterRedis = c
				defer c.Close()
			}
		}
		if cfg.RateLimit.UseRedis && limiterRedis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			guards = append(guards, middleware.RedisRateLimitMiddleware(limiterRedis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			guards = append(guards, middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	handlers.RegisterHealth(r, mgr)
	handlers.RegisterSwagger(r)
	handlers.NewAuthHandler(mgr, cfg.Auth.SignupURL).Register(r)

	v1 := r.Group("/api/v1", middleware.AgentToken(cfg.Agent.Token))
	handlers.NewAPIHandler(mgr, backendAPI, guards...).Register(v1)

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              cfg.AgentAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("BeeUnity agent listening on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("graceful shutdown failed: %v", err)
	}
}
