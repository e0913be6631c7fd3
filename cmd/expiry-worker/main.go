package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/booking"
	"github.com/clinicdesk/booking/internal/config"
	"github.com/clinicdesk/booking/internal/db"
	"github.com/clinicdesk/booking/internal/gateway"
	"github.com/clinicdesk/booking/internal/logger"
	"github.com/clinicdesk/booking/internal/notify"
	redisclient "github.com/clinicdesk/booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("expiry-worker starting",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.WorkerSchedule),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to postgres")

	store := booking.NewPgStore(pgPool)

	// Expiry never claims slots, it only releases them, so there is nothing
	// to coordinate and no gateway call to make.
	svc := booking.NewService(
		store,
		redisclient.NopLocker{},
		gateway.NewStub(cfg.GatewaySecret),
		cfg.GatewayProvider,
		&notify.LogEmitter{Log: log},
		cfg,
		log,
	)

	runOnce(rootCtx, svc, log)

	c := cron.New()
	if _, err := c.AddFunc(cfg.WorkerSchedule, func() {
		runOnce(rootCtx, svc, log)
	}); err != nil {
		log.Fatal("invalid worker schedule", zap.String("schedule", cfg.WorkerSchedule), zap.Error(err))
	}
	c.Start()

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping expiry worker")

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func runOnce(ctx context.Context, svc *booking.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireHolds(runCtx)
	if err != nil {
		log.Error("expiry run", zap.Error(err))
		return
	}
	log.Info("expiry run complete",
		zap.Int("expired", expired),
		zap.Duration("took", time.Since(start)),
	)
}
