package main // Entry point package

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/dan09-stack/qcea-queue/internal/config"
	"github.com/dan09-stack/qcea-queue/internal/database"
	"github.com/dan09-stack/qcea-queue/internal/handler"
	"github.com/dan09-stack/qcea-queue/internal/publisher"
	"github.com/dan09-stack/qcea-queue/internal/queue"
	"github.com/dan09-stack/qcea-queue/internal/repository"
	"github.com/dan09-stack/qcea-queue/internal/router"
	"github.com/dan09-stack/qcea-queue/internal/service"
	"github.com/dan09-stack/qcea-queue/internal/sse"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database open: %v", err)
	}
	defer db.Close()
	if err := database.EnsureTicketCounter(context.Background(), db); err != nil {
		log.Fatalf("database init: %v", err)
	}

	hours, err := config.LoadHours(cfg.HoursPath)
	if err != nil {
		log.Printf("business hours: failed to load %s: %v; using defaults", cfg.HoursPath, err)
	}

	persons := repository.NewPersonRepo(db)
	tickets := repository.NewTicketRepo(db)
	svc := service.NewQueueService(db, persons, tickets, nil)
	hub := sse.NewHub()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// After-hours policy: wake at window boundaries, cancel everything
	// once per closing, tell the displays and the audit stream.
	scheduler := service.NewAfterHoursScheduler(svc, hours, nil, func(cancelled int64) {
		_ = publisher.Publish(ctx, cfg.AMQPURL, queue.Event{
			Type:      queue.EventQueueCleared,
			Cancelled: cancelled,
		})
		hub.BroadcastAll(queue.EventQueueCleared, map[string]int64{"cancelled": cancelled})
	})
	go scheduler.Run(ctx)

	// Audit consumer appends every queue event to logs/queue.log.
	go queue.StartEventConsumer(cfg.AMQPURL)

	e := echo.New()
	e.HideBanner = true
	qh := handler.NewQueueHandler(svc, hub, cfg.AMQPURL)
	dh := handler.NewDirectoryHandler(persons)
	router.RegisterRoutes(e, qh, dh, cfg.JWTSecret, config.RateLimitFromEnv(), config.NewRedisClient())

	go func() {
		addr := ":" + cfg.Port
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	stop()
	hub.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
