// Package app builds the lead engine's components from configuration. Both
// the API server and leadctl start from here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"crm-platform/internal/assignment"
	"crm-platform/internal/audit"
	"crm-platform/internal/config"
	"crm-platform/internal/fetchconfig"
	"crm-platform/internal/maintenance"
	"crm-platform/internal/metrics"
	"crm-platform/internal/notify"
	"crm-platform/internal/quota"
	"crm-platform/internal/reporting"
	"crm-platform/internal/store"
	"crm-platform/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Store       *store.Postgres
	Resolver    *fetchconfig.Resolver
	Configs     *fetchconfig.Admin
	Assign      *assignment.Service
	Reports     *reporting.Service
	Maintenance *maintenance.Scheduler
	Metrics     *metrics.Collector
}

// Build opens Postgres and Redis and wires every service. reg receives the
// Prometheus instruments; pass prometheus.NewRegistry() for one-shot tools.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (*App, error) {
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &App{Config: cfg, Log: log, DB: db, Redis: rdb}
	a.Metrics = metrics.NewCollector(reg)
	a.Store = store.NewPostgres(db)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	configRepo := fetchconfig.NewCachedRepo(fetchconfig.NewPostgresRepo(db), rdb, cfg.Leads.ConfigCacheTTL)
	a.Resolver = fetchconfig.NewResolver(configRepo, Defaults(cfg.Leads))
	a.Configs = fetchconfig.NewAdmin(configRepo, a.Resolver, auditSvc)

	ledger := quota.NewLedger(cfg.DayLocation())
	a.Assign = assignment.NewService(assignment.Deps{
		Store:    a.Store,
		Config:   a.Resolver,
		Ledger:   ledger,
		Audit:    auditSvc,
		Notifier: notify.NewRedisDispatcher(rdb),
		Metrics:  a.Metrics,
		Guard:    assignment.NewRedisGuard(rdb, cfg.Leads.FetchGuardTTL),
	})
	a.Reports = reporting.NewService(a.Store, ledger)
	a.Maintenance = maintenance.NewScheduler(a.Store, a.Reports, a.Metrics, rdb, log, maintenance.Options{
		Interval: cfg.Maintenance.Interval,
	})
	return a, nil
}

// Defaults turns the configured built-in limits into the last resolution tier.
func Defaults(l config.LeadsConfig) fetchconfig.QuotaConfig {
	return fetchconfig.QuotaConfig{
		PerRequestLimit:        l.PerRequestLimit,
		DailyCallLimit:         l.DailyCallLimit,
		OutstandingLimit:       l.OutstandingLimit,
		TTLHours:               l.TTLHours,
		ReactivationWindowDays: l.ReactivationWindowDays,
	}
}

// Healthy pings both backing stores.
func (a *App) Healthy(ctx context.Context) error {
	if err := utils.HealthCheck(ctx, a.DB, 2*time.Second); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *App) Close() {
	a.Maintenance.Stop()
	if err := a.Redis.Close(); err != nil {
		a.Log.Warn("redis close failed", "err", err)
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Warn("postgres close failed", "err", err)
	}
}
