package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/dm-server/internal/api"
	"github.com/whisper/dm-server/internal/auth"
	"github.com/whisper/dm-server/internal/config"
	"github.com/whisper/dm-server/internal/dm"
	"github.com/whisper/dm-server/internal/messaging"
	"github.com/whisper/dm-server/internal/presence"
	"github.com/whisper/dm-server/internal/ratelimit"
	"github.com/whisper/dm-server/internal/session"
	"github.com/whisper/dm-server/internal/storage"
	"github.com/whisper/dm-server/internal/ws"
)

func main() {
	cfg := config.Load()
	raiseFileLimit()

	log.Printf("DM server starting")
	log.Printf("  listen_addr:     %s", cfg.Server.ListenAddr)
	log.Printf("  max_connections: %d", cfg.Server.MaxConnections)
	log.Printf("  auth_timeout:    %s", cfg.Server.AuthTimeout)
	log.Printf("  write_timeout:   %s", cfg.Server.WriteTimeout)
	log.Printf("  heartbeat:       %s", cfg.Heartbeat.Interval)
	log.Printf("  db_driver:       %s (migrate=%v)", cfg.Storage.Driver, cfg.Storage.AutoMigrate)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATS.URL)
	log.Printf("  server_name:     %s", cfg.ServerName)
	log.Printf("  rate_limit:      %v", cfg.RateLimit)

	// --- Storage ---
	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Open(openCtx, cfg.Storage)
	cancel()
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}

	// --- Redis ---
	sessionStore, err := session.NewStore(cfg.RedisAddr, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit {
		limiter = ratelimit.NewLimiter(sessionStore.Client())
	}

	// --- NATS ---
	var events dm.Publisher
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsClient, err = messaging.NewNATSClient(cfg.NATS)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		events = natsClient
	}

	hub := presence.NewHub()
	dmService := dm.NewService(store, hub, limiter, events)
	authService := auth.NewService(store, sessionStore, cfg.BcryptCost)

	server := ws.NewServer(cfg.Server, authService, dmService, limiter)
	server.SetHeartbeat(cfg.Heartbeat)
	router := api.NewRouter(authService, dmService, limiter, server)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		natsClient.Close()
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		if err := store.Close(); err != nil {
			log.Printf("storage close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(router); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
