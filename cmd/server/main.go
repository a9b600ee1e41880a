package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/elviskudo/mini-erp/realtime/internal/auth"
	"github.com/elviskudo/mini-erp/realtime/internal/backplane"
	"github.com/elviskudo/mini-erp/realtime/internal/broker"
	"github.com/elviskudo/mini-erp/realtime/internal/config"
	"github.com/elviskudo/mini-erp/realtime/internal/relay"
	"github.com/elviskudo/mini-erp/realtime/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connection hub
	hub := ws.NewHub()
	go hub.Run()

	// Broadcast backplane: every room emission goes through it, including
	// our own, and comes back via the subscription into the local hub.
	bp, err := backplane.New(cfg)
	if err != nil {
		log.Fatalf("backplane setup failed: %v", err)
	}
	defer bp.Close() //nolint:errcheck // best-effort cleanup on shutdown

	if err := bp.Subscribe(func(e backplane.Emission) {
		hub.Deliver(e.Room, e.Event, e.Payload)
	}); err != nil {
		log.Fatalf("backplane subscribe failed: %v", err)
	}

	// Router
	router := relay.NewRouter(bp, cfg.KafkaTopicPrefix)

	// Dedicated notification stream (RabbitMQ)
	notifConsumer := broker.NewNotificationConsumer(cfg.RabbitMQURL, cfg.NotificationsQueue, router)
	notifConsumer.Start(ctx)

	// Domain event streams (Kafka), optional
	if cfg.KafkaBrokers != "" {
		domainConsumer := broker.NewDomainConsumer(
			strings.Split(cfg.KafkaBrokers, ","),
			cfg.KafkaConsumerGroup,
			cfg.DomainTopicList(),
			router,
		)
		domainConsumer.Start(ctx)
		defer domainConsumer.Close() //nolint:errcheck
	} else {
		log.Println("domain event consumer disabled (KAFKA_BROKERS not set)")
	}

	// WebSocket endpoint
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	wsHandler := ws.NewWSHandler(hub, jwtService, cfg.AllowedOrigins)

	// Health signal
	reporter := relay.NewHealthReporter(cfg.HealthInterval, hub.Stats, bp.Degraded, notifConsumer.Degraded)
	go reporter.Run(ctx)
	healthHandler := relay.NewHealthHandler(hub.Stats, bp.Degraded, notifConsumer.Degraded)

	r := mux.NewRouter()
	wsHandler.RegisterRoutes(r)
	healthHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down relay...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server shutdown failed: %v", err)
		}
	}()

	log.Printf("Realtime relay starting on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Relay stopped")
}
