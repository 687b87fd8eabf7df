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

	"cadence/api/internal/app"
	"cadence/api/internal/blob"
	"cadence/api/internal/board"
	"cadence/api/internal/config"
	"cadence/api/internal/notify"
	"cadence/api/internal/remote"
	"cadence/api/internal/search"
	"cadence/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := cfg.Logger()
	ctx := context.Background()

	deps := app.Dependencies{Logger: logger}

	var docs remote.DocumentStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for project documents")
		redisStore, err := remote.NewRedisStore(cfg.RedisURL, logger)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		docs = redisStore
	} else {
		log.Printf("Using in-process document store")
		docs = remote.NewMemoryStore()
	}
	defer docs.Close()
	deps.Docs = docs

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		deps.Database = db
		deps.Activity = store.NewPostgresActivityLog(db)
	} else {
		log.Printf("DATABASE_URL not set, keeping activity in memory")
		deps.Activity = store.NewMemoryActivityLog(0)
	}

	blobConfig := blob.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	}
	if blobConfig.IsConfigured() {
		blobs, err := blob.NewMinioStore(ctx, blobConfig)
		if err != nil {
			log.Fatalf("object storage failed: %v", err)
		}
		deps.Blobs = blobs
	} else {
		log.Printf("MINIO_ENDPOINT not set, keeping uploads in memory")
		files := blob.NewMemoryStore("/api/blobs")
		deps.Blobs = files
		deps.Files = files
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	deps.Search = search.NewService(meiliClient)
	defer deps.Search.Close()

	mailer := notify.NewMailer(notify.MailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if !mailer.IsConfigured() {
		log.Printf("SMTP not configured, collaboration emails disabled")
	}
	recipients := cfg.NotifyRecipients
	deps.Notify = notify.NewService(notify.NewHub(), mailer, func(string) []string { return recipients }, logger)

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Cadence API listening on %s (desktop capacity %d, mobile capacity %d)",
			cfg.Addr, capacityOf(cfg.DesktopCapacity, board.SurfaceDesktop), capacityOf(cfg.MobileCapacity, board.SurfaceMobile))
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
	if err := service.Close(); err != nil {
		log.Printf("service close error: %v", err)
	}
}

func capacityOf(configured int, surface board.Surface) int {
	if configured > 0 {
		return configured
	}
	return surface.Capacity()
}
