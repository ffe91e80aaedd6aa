package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/daktarbari/chamber-core/internal/appointment"
	"github.com/daktarbari/chamber-core/internal/config"
	"github.com/daktarbari/chamber-core/internal/db"
	"github.com/daktarbari/chamber-core/internal/live"
	"github.com/daktarbari/chamber-core/internal/notify"
	"github.com/daktarbari/chamber-core/internal/queue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("noshow-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running no-show worker in env=%s interval=%s grace=%s", cfg.Env, cfg.WorkerInterval, cfg.NoShowGrace)

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

	// The worker has no live connections of its own; a fresh hub keeps the
	// orchestrator wiring uniform.
	orchestrator := queue.NewOrchestrator(repo, live.NewHub(), dispatcher, cfg.QueueLookahead)

	// Run once at startup
	runOnce(rootCtx, orchestrator, cfg.NoShowGrace)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, orchestrator, cfg.NoShowGrace)
		}
	}
}

func runOnce(ctx context.Context, orchestrator *queue.Orchestrator, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := orchestrator.ExpireOverdue(runCtx, grace); err != nil {
		log.Printf("no-show run error: %v", err)
		return
	}
	log.Printf("no-show run complete in %s", time.Since(start))
}
