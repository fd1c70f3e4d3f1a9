// Command authcore-server serves an authcore engine over HTTP.
//
// Configuration comes from AUTHCORE_* environment variables, optionally via
// a .env file. Besides the engine settings it reads:
//
//	AUTHCORE_HTTP_ADDR      listen address (default :8080)
//	AUTHCORE_USERS_FILE     YAML account seed (required)
//	AUTHCORE_POLICY_FILE    YAML or JSON policy set, reloaded on SIGHUP
//	AUTHCORE_SWEEP_INTERVAL sweep period for memory and postgres stores (default 10m)
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/userdir"
	"github.com/MrEthical07/authcore/permission"
)

func main() {
	// best effort: real environment wins when no .env exists
	_ = godotenv.Load()

	lg, err := logging.New(logging.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(lg); err != nil {
		lg.Fatal("authcore-server stopped", zap.Error(err))
	}
}

func run(lg *zap.Logger) error {
	cfg, err := authcore.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasher, err := authcore.NewPasswordHasher(cfg.Password)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	usersFile := os.Getenv("AUTHCORE_USERS_FILE")
	if usersFile == "" {
		return errors.New("AUTHCORE_USERS_FILE is required")
	}
	users, err := userdir.Load(usersFile, hasher)
	if err != nil {
		return err
	}
	lg.Info("accounts loaded", zap.Int("count", users.Len()))

	b := authcore.New().
		WithConfig(cfg).
		WithUserLookup(users).
		WithAccountMutator(users).
		WithPasswordHasher(hasher).
		WithLogger(lg).
		WithAuditSink(authcore.NewZapSink(lg))

	switch cfg.Store.Backend {
	case authcore.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		b.WithRedis(rdb)
	case authcore.BackendPostgres:
		db, err := openPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		b.WithPostgres(db)
	}

	var policySource permission.Source
	if path := os.Getenv("AUTHCORE_POLICY_FILE"); path != "" {
		policySource = permission.FileSource{Path: path}
		set, err := policySource.Load(ctx)
		if err != nil {
			return fmt.Errorf("policy: %w", err)
		}
		b.WithPolicy(set)
	} else {
		lg.Warn("no policy file configured; every permission check is denied")
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	if sweeper, ok := engine.Store().(credential.Sweeper); ok {
		go sweep(ctx, lg, sweeper, sweepInterval(lg), cfg.Store.Retention)
	}
	if policySource != nil {
		go reloadOnHangup(ctx, lg, engine, policySource)
	}

	addr := os.Getenv("AUTHCORE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.New(engine, lg).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	lg.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		lg.Warn("http server shutdown failed", zap.Error(err))
	}
	lg.Info("goodbye")
	return nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := credential.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := credential.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func sweepInterval(lg *zap.Logger) time.Duration {
	raw := os.Getenv("AUTHCORE_SWEEP_INTERVAL")
	if raw == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		lg.Warn("invalid AUTHCORE_SWEEP_INTERVAL, using 10m", zap.String("value", raw))
		return 10 * time.Minute
	}
	return d
}

// sweep removes records that expired more than retention ago.
func sweep(ctx context.Context, lg *zap.Logger, s credential.Sweeper, every, retention time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.SweepExpired(ctx, now.Add(-retention))
			if err != nil {
				lg.Warn("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("swept expired records", zap.Int("removed", n))
			}
		}
	}
}

func reloadOnHangup(ctx context.Context, lg *zap.Logger, engine *authcore.Engine, src permission.Source) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			// engine logs and counts the outcome
			_ = engine.ReloadPolicy(ctx, src)
			lg.Debug("policy reload requested")
		}
	}
}
