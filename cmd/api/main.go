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

	"doorbell/api/internal/adminsession"
	"doorbell/api/internal/app"
	"doorbell/api/internal/config"
	"doorbell/api/internal/notify"
	"doorbell/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var notifier notify.Notifier
	if strings.TrimSpace(cfg.FCMCredentialsFile) != "" {
		fcm, err := notify.NewFCM(ctx, cfg.FCMCredentialsFile, cfg.FCMProjectID)
		if err != nil {
			log.Fatalf("fcm init failed: %v", err)
		}
		notifier = fcm
	} else {
		log.Printf("FCM not configured, logging notifications to console")
		notifier = notify.NewConsole()
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for admin session storage")
		sessionStore, err := adminsession.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer sessionStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, notifier, sessionStore)
	} else {
		service = app.New(cfg, dataStore, notifier)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigins)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Doorbell API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
