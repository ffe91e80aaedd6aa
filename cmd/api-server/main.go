package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/daktarbari/chamber-core/internal/api"
	"github.com/daktarbari/chamber-core/internal/appointment"
	"github.com/daktarbari/chamber-core/internal/booking"
	"github.com/daktarbari/chamber-core/internal/config"
	"github.com/daktarbari/chamber-core/internal/db"
	"github.com/daktarbari/chamber-core/internal/live"
	"github.com/daktarbari/chamber-core/internal/notify"
	"github.com/daktarbari/chamber-core/internal/queue"
	redisclient "github.com/daktarbari/chamber-core/internal/redis"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	// Notification dispatcher: AMQP when configured, else log-only.
	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.AMQPURL != "" {
		amqpDispatcher, err := notify.NewAMQPDispatcher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("rabbitmq connection error: %v", err)
		}
		defer func() {
			if err := amqpDispatcher.Close(); err != nil {
				log.Printf("error closing rabbitmq: %v", err)
			}
		}()
		dispatcher = amqpDispatcher
		log.Println("connected to RabbitMQ")
	}

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)

	hub := live.NewHub()
	orchestrator := queue.NewOrchestrator(repo, hub, dispatcher, cfg.QueueLookahead)
	bookingSvc := booking.NewService(repo, locker, orchestrator, cfg)

	router := api.NewRouter(api.RouterConfig{
		Booking: bookingSvc,
		Queue:   orchestrator,
		Live:    live.NewHandler(hub, orchestrator),
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}
