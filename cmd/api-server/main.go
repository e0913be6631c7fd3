package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/booking/internal/api"
	"github.com/clinicdesk/booking/internal/booking"
	"github.com/clinicdesk/booking/internal/config"
	"github.com/clinicdesk/booking/internal/db"
	"github.com/clinicdesk/booking/internal/gateway"
	"github.com/clinicdesk/booking/internal/logger"
	"github.com/clinicdesk/booking/internal/notify"
	redisclient "github.com/clinicdesk/booking/internal/redis"
)

// version is stamped by the build; "dev" for local runs.
var version = "dev"

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

	log.Info("api-server starting",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
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

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to redis")

	var emitter notify.Emitter = &notify.LogEmitter{Log: log}
	if cfg.AMQPURL != "" {
		conn, err := notify.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatal("rabbitmq connection", zap.Error(err))
		}
		defer conn.Close()

		amqpEmitter, err := notify.NewAMQPEmitter(conn, cfg.EventsExchange)
		if err != nil {
			log.Fatal("rabbitmq channel", zap.Error(err))
		}
		defer amqpEmitter.Close()
		emitter = amqpEmitter
		log.Info("connected to rabbitmq", zap.String("exchange", cfg.EventsExchange))
	} else {
		log.Warn("AMQP_URL not set, events go to the log only")
	}

	registry := gateway.NewRegistry()
	registry.Register("razorpay", gateway.NewRazorpay(cfg.GatewayKeyID, cfg.GatewaySecret, cfg.GatewayBaseURL))
	registry.Register("cashfree", gateway.NewCashfree(cfg.GatewayKeyID, cfg.GatewaySecret, cfg.GatewayBaseURL))
	registry.Register("stub", gateway.NewStub(cfg.GatewaySecret))

	gw, err := registry.Get(cfg.GatewayProvider)
	if err != nil {
		log.Fatal("resolve payment provider",
			zap.String("provider", cfg.GatewayProvider),
			zap.Strings("registered", registry.Providers()),
			zap.Error(err),
		)
	}

	store := booking.NewPgStore(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := booking.NewService(store, locker, gw, cfg.GatewayProvider, emitter, cfg, log)

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		PgPool:    pgPool,
		Redis:     rdb,
		Log:       log,
		Env:       cfg.Env,
		Version:   version,
		RateLimit: cfg.RateLimit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown", zap.Error(err))
	}
}
