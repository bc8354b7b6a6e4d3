// Package main provides the entry point for the plotshare investment service
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/plotshare/app/events"
	"github.com/amirphl/plotshare/app/handlers"
	"github.com/amirphl/plotshare/app/logger"
	"github.com/amirphl/plotshare/app/router"
	"github.com/amirphl/plotshare/app/scheduler"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/config"
	"github.com/amirphl/plotshare/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application holds every wired component of a running process
type Application struct {
	config    *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	redis     *redis.Client
	publisher events.Publisher

	ledger    businessflow.WalletLedger
	holdings  businessflow.HoldingManager
	allocator businessflow.InvestmentAllocator
	engine    businessflow.ProfitDistributionEngine

	router   router.Router
	sweeper  *scheduler.HoldSweeper
	maturity *scheduler.MaturityProcessor

	closers []func()
}

func main() {
	Execute()
}

// initializeDatabase opens the postgres pool
func initializeDatabase(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(log.Named("gorm")), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}

// initializeCache connects to redis when the cache is enabled; nil means run without it
func initializeCache(cfg config.CacheConfig, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("redis connection established", zap.Int("db", opt.DB))
	return rc, nil
}

// startCacheHealthMonitor pings redis periodically so outages show up in the logs
func startCacheHealthMonitor(parent context.Context, client *redis.Client, log *zap.Logger, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Warn("redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return cancel
}

// initializePublisher returns the kafka publisher, or a no-op one when kafka is disabled
func initializePublisher(cfg config.KafkaConfig, log *zap.Logger) (events.Publisher, error) {
	if !cfg.Enabled {
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	log.Info("kafka publisher ready", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return p, nil
}

// initializeApplication wires configuration, storage, flows and transport
func initializeApplication(cfg *config.Config) (*Application, error) {
	log, syncLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app := &Application{config: cfg, logger: log, closers: []func(){syncLogger}}

	db, err := initializeDatabase(cfg.Database, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.db = db
	app.closers = append(app.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	rc, err := initializeCache(cfg.Cache, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	if rc != nil {
		app.redis = rc
		stopMonitor := startCacheHealthMonitor(context.Background(), rc, log, 30*time.Second)
		app.closers = append(app.closers, stopMonitor, func() { _ = rc.Close() })
	}

	publisher, err := initializePublisher(cfg.Kafka, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.publisher = publisher
	app.closers = append(app.closers, func() { _ = publisher.Close() })

	walletRepo := repository.NewWalletRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	projectRepo := repository.NewPropertyProjectRepository(db)
	plotRepo := repository.NewPlotRepository(db)
	holdingRepo := repository.NewPlotHoldingRepository(db)
	investmentRepo := repository.NewInvestmentRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	profitRepo := repository.NewProfitRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	teamStatsRepo := repository.NewCachedTeamStatsRepository(
		repository.NewTeamStatsRepository(db), rc, cfg.Cache.RedisPrefix, cfg.Cache.DefaultTTL)

	app.ledger = businessflow.NewWalletLedger(walletRepo, transactionRepo, auditRepo,
		db, publisher, log.Named("ledger"), nil, cfg.Investment.Currency)
	app.holdings = businessflow.NewHoldingManager(plotRepo, holdingRepo, teamStatsRepo, auditRepo,
		db, publisher, log.Named("holdings"), nil, cfg.Investment.DefaultLockPeriodDays, cfg.Scheduler.BatchSize)
	app.allocator = businessflow.NewInvestmentAllocator(investmentRepo, projectRepo, plotRepo, holdingRepo, auditRepo,
		app.ledger, app.holdings, db, publisher, log.Named("allocator"), nil, cfg.Investment)
	app.engine = businessflow.NewProfitDistributionEngine(saleRepo, profitRepo, plotRepo, investmentRepo, teamStatsRepo,
		auditRepo, app.ledger, app.holdings, db, publisher, log.Named("profits"), nil, cfg.Profit)

	app.router = router.NewFiberRouter(router.Handlers{
		Wallet:     handlers.NewWalletHandler(app.ledger, log),
		Investment: handlers.NewInvestmentHandler(app.allocator, log),
		Holding:    handlers.NewHoldingHandler(app.holdings, log),
		Profit:     handlers.NewProfitHandler(app.engine, log),
	}, cfg.Server, cfg.Metrics, log.Named("http"))

	lock := scheduler.NewRunLock(rc, cfg.Cache.RedisPrefix, cfg.Scheduler.LockTTL)
	app.sweeper = scheduler.NewHoldSweeper(app.holdings, lock, log.Named("scheduler"), cfg.Scheduler.SweepInterval, nil)
	app.maturity = scheduler.NewMaturityProcessor(app.allocator, lock, log.Named("scheduler"),
		cfg.Scheduler.MaturityInterval, cfg.Scheduler.BatchSize, nil)

	return app, nil
}

// Close releases resources in reverse order of acquisition
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
