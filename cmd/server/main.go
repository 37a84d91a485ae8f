/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loan engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the store (SQLite or Postgres)
  3. Load the provisioning policy (file, stored, or built-in standard)
  4. Wire per-loan locking, alerting and the services
  5. Start the daily pass scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db-driver  sqlite3 | postgres
  -db         SQLite path or Postgres DSN (default: loans.db)
              Use ":memory:" for in-memory database
  -policy     Policy file (.json or .yaml)
  -batch-cron Cron spec for the daily pass, "" disables it
  -workers    Loans processed concurrently by the daily pass
  -redis      Redis address for cross-process loan locks
  -log-level  logrus level

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loans.db"

  # Run against Postgres with a conservative table
  ./server -db-driver=postgres -db="postgres://loans@localhost/loans?sslmode=disable" \
           -policy=./conservative.yaml

  # No scheduled pass, trigger via POST /api/batch/run
  ./server -batch-cron=""

SEE ALSO:
  - config/config.go: all settings and their environment names
  - api/server.go: Router configuration
  - api/scheduler.go: Daily pass scheduler
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/api"
	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/lock"
	"github.com/warp/loan-engine/notify"
	"github.com/warp/loan-engine/servicing"
	"github.com/warp/loan-engine/store/sqlstore"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(cfg.Level())

	// Initialize store
	store, err := sqlstore.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Policy
	policy, settings, err := loadPolicy(context.Background(), cfg, store)
	if err != nil {
		logger.Fatalf("Failed to load policy: %v", err)
	}
	currency := cfg.CurrencyConfig()

	deps, err := servicing.NewDeps(store, policy, currency)
	if err != nil {
		logger.Fatalf("Invalid policy: %v", err)
	}
	deps.Accrual = settings.AccrualOptions(currency)
	deps.Logger = logger

	// Per-loan locks
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		deps.Locker = lock.NewRedisLocker(client)
		logger.WithField("addr", cfg.RedisAddr).Info("Using redis loan locks")
	}

	// Alerts
	alerter := notify.Multi{notify.NewLogAlerter(logger)}
	if cfg.SMTPAddr != "" {
		alerter = append(alerter, notify.NewEmailAlerter(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.AlertFrom, cfg.AlertTo, logger))
	}

	batch := servicing.NewBatchJob(deps, cfg.BatchWorkers, alerter)

	// Initialize handler
	handler := api.NewHandler(deps, batch, settings)

	// Daily pass
	var scheduler *api.BatchScheduler
	if cfg.BatchCron != "" {
		scheduler, err = api.NewBatchScheduler(batch, cfg.BatchCron, logger)
		if err != nil {
			logger.Fatalf("Failed to create scheduler: %v", err)
		}
		if err := scheduler.Start(); err != nil {
			logger.Fatalf("Failed to start scheduler: %v", err)
		}
		logger.WithField("next_run", scheduler.NextRun()).Info("[Scheduler] Daily pass scheduled")
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"port":      cfg.Port,
			"db_driver": cfg.DBDriver,
			"policy":    deps.Policy.Get().Name,
			"currency":  currency.Code,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

// loadPolicy picks the policy document the services are built with: the
// configured file, else the last one stored through PUT /api/policy, else
// the built-in standard table. DAY_COUNT_BASIS overrides all of them.
func loadPolicy(ctx context.Context, cfg config.Config, store *sqlstore.Store) (lending.ProvisioningPolicy, factory.Settings, error) {
	policy, settings := factory.StandardPolicy(), factory.StandardSettings()
	pf := factory.NewPolicyFactory()
	switch {
	case cfg.PolicyFile != "":
		p, s, err := pf.LoadFile(cfg.PolicyFile)
		if err != nil {
			return lending.ProvisioningPolicy{}, factory.Settings{}, err
		}
		policy, settings = *p, s
	default:
		record, err := store.LatestPolicy(ctx)
		if err != nil {
			return lending.ProvisioningPolicy{}, factory.Settings{}, fmt.Errorf("failed to read stored policy: %w", err)
		}
		if record != nil {
			p, s, err := pf.ParsePolicy(record.ConfigJSON)
			if err != nil {
				return lending.ProvisioningPolicy{}, factory.Settings{}, fmt.Errorf("stored policy %s: %w", record.ID, err)
			}
			policy, settings = *p, s
		}
	}
	if cfg.DayCountBasis > 0 {
		settings.DayCountBasis = cfg.DayCountBasis
	}
	return policy, settings, nil
}
