package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ricemill/backoffice/internal/api"
	"github.com/ricemill/backoffice/internal/auth"
	"github.com/ricemill/backoffice/internal/cache"
	"github.com/ricemill/backoffice/internal/config"
	"github.com/ricemill/backoffice/internal/db"
	"github.com/ricemill/backoffice/internal/health"
	"github.com/ricemill/backoffice/internal/logger"
	"github.com/ricemill/backoffice/internal/metrics"
	"github.com/ricemill/backoffice/internal/revocation"
	"github.com/ricemill/backoffice/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})
	logger.SetDefault(log)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "server exited", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.JWTSecretGenerated {
		log.Warn(ctx, "JWT_SECRET not set, using a random secret; sessions will not survive a restart")
	}

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, cfg.Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn(sctx, "tracing shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()

	checks := &health.CheckerConfig{DB: database.DB, Version: cfg.Version}
	store, redisCache, err := openRevocationStore(ctx, cfg, database, log)
	if err != nil {
		return err
	}
	if redisCache != nil {
		defer redisCache.Close()
		checks.Redis = redisCache.Client()
	}

	hasher, err := auth.NewPasswordHasher(cfg.PasswordAlgorithm, auth.DefaultArgon2Params(), cfg.BcryptCost)
	if err != nil {
		return err
	}
	creds, err := auth.NewCredentialStore(db.NewUserRepository(database), hasher, cfg.PasswordMinLength, log)
	if err != nil {
		return err
	}
	issuer := auth.NewIssuer(auth.IssuerConfig{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenExpiry,
		RefreshTTL: cfg.RefreshTokenExpiry,
	}, store, m)
	service := auth.NewService(creds, issuer, cfg.LoginAttemptsPerMinute, log, m)

	if _, err := service.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword, cfg.BootstrapAdminName); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	sweeper, err := revocation.NewSweeper(store, cfg.RevocationSweepSchedule, log, m)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		sweeper.Stop(sctx)
	}()

	router := api.NewRouter(api.Config{
		Auth:           auth.NewHandlers(service, log),
		Gateway:        auth.NewGateway(issuer, log).WithAccountCheck(creds),
		Health:         health.NewHandler(health.NewChecker(checks)),
		Metrics:        m,
		Log:            log,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", map[string]interface{}{
			"addr":               cfg.ServerAddr,
			"version":            cfg.Version,
			"revocation_backend": cfg.RevocationBackend,
			"password_algorithm": cfg.PasswordAlgorithm,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// openRevocationStore builds the configured backend. The cache is non-nil
// only for the redis backend and must be closed by the caller.
func openRevocationStore(ctx context.Context, cfg *config.Config, database *db.DB, log *logger.Logger) (revocation.Store, *cache.Cache, error) {
	switch cfg.RevocationBackend {
	case config.RevocationMemory:
		log.Warn(ctx, "in-memory revocation store: revoked tokens are forgotten on restart")
		return revocation.NewMemoryStore(), nil, nil
	case config.RevocationRedis:
		c, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, "backoffice:revoked:", log)
		if err != nil {
			return nil, nil, err
		}
		return revocation.NewRedisStore(c), c, nil
	default:
		return revocation.NewPostgresStore(db.NewRevokedTokenRepository(database)), nil, nil
	}
}
