package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/testdeck/internal/config"
	"github.com/iliyamo/testdeck/internal/cookie"
	"github.com/iliyamo/testdeck/internal/database"
	"github.com/iliyamo/testdeck/internal/handler"
	"github.com/iliyamo/testdeck/internal/logger"
	"github.com/iliyamo/testdeck/internal/queue"
	"github.com/iliyamo/testdeck/internal/ratelimit"
	"github.com/iliyamo/testdeck/internal/repository"
	"github.com/iliyamo/testdeck/internal/router"
	"github.com/iliyamo/testdeck/internal/service"
	"github.com/iliyamo/testdeck/internal/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server stopped", "err", err)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		return err
	}

	codec, err := utils.NewCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return err
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	var events service.EventPublisher = queue.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, queue.DefaultBuffer, log)
		// the publisher outlives ctx so events raised during shutdown are flushed
		pubCtx, stopPub := context.WithCancel(context.Background())
		pubDone := make(chan struct{})
		go func() {
			pub.Run(pubCtx)
			close(pubDone)
		}()
		defer func() {
			stopPub()
			<-pubDone
		}()
		events = pub
		go queue.NewConsumer(cfg.AMQPURL, "logs", log).Run(ctx)
		log.Infow("security events enabled", "queue", queue.SecurityQueue)
	}

	sessions := service.NewSessionService(users, tokens, codec, events, log, cfg.BcryptCost)

	limiter := newLimiter(ctx, config.LoadRateLimitConfig(), log)

	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = router.NewIPExtractor(cfg.TrustedProxies)
	if len(cfg.TrustedProxies) > 0 {
		log.Infow("client ip from X-Forwarded-For", "trusted_proxies", len(cfg.TrustedProxies))
	}
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency.String(),
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				log.Warnw("request", append(fields, "err", v.Error)...)
				return nil
			}
			log.Infow("request", fields...)
			return nil
		},
	}))

	cookies := cookie.NewAdapter(cfg.SecureCookies(), cfg.AccessTTL(), cfg.RefreshTTL())
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(sessions, cookies, log), codec, limiter, log)
	router.RegisterAdmin(e, handler.NewAdminHandler(sessions, log), codec)

	go purgeExpiredTokens(ctx, tokens, cfg.TokenPurgeEvery, log)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func openDB(cfg config.Config) (*sql.DB, error) {
	if cfg.DBDriver == database.DriverSQLite {
		return database.OpenSQLite(cfg.SQLitePath)
	}
	return database.OpenMySQL(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// newLimiter picks the Redis store when configured and reachable, and the
// in-process store otherwise.
func newLimiter(ctx context.Context, rl config.RateLimitConfig, log *zap.SugaredLogger) *ratelimit.Limiter {
	opts := ratelimit.Options{
		Enabled:     rl.Enabled,
		MaxAttempts: rl.MaxAttempts,
		Window:      rl.Window,
		Lockout:     rl.Lockout,
		Prefix:      rl.Prefix,
	}
	if rl.Store == "redis" {
		rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
		if err == nil {
			l := ratelimit.New(ratelimit.NewRedisStore(rdb), opts)
			log.Infow("signin rate limit", "store", "redis", "enabled", l.Enabled())
			return l
		}
		log.Warnw("redis unavailable, falling back to in-memory rate limit store", "err", err)
	}
	store := ratelimit.NewMemoryStore()
	go store.RunJanitor(ctx, rl.SweepEvery)
	l := ratelimit.New(store, opts)
	log.Infow("signin rate limit", "store", "memory", "enabled", l.Enabled())
	return l
}

func purgeExpiredTokens(ctx context.Context, tokens *repository.TokenRepo, every time.Duration, log *zap.SugaredLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := tokens.PurgeExpired(pctx, now)
			cancel()
			if err != nil {
				log.Warnw("purge expired refresh tokens failed", "err", err)
				continue
			}
			if n > 0 {
				log.Infow("purged expired refresh tokens", "count", n)
			}
		}
	}
}
