package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"jestbook/api/internal/app"
	"jestbook/api/internal/config"
	"jestbook/api/internal/dispatch"
	"jestbook/api/internal/email"
	"jestbook/api/internal/history"
	"jestbook/api/internal/media"
	"jestbook/api/internal/ocr"
	"jestbook/api/internal/search"
	"jestbook/api/internal/session"
	"jestbook/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	objectStore, err := media.NewObjectStore(media.ObjectStoreConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("object store setup failed: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url invalid: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	sessions := session.NewRedisStoreWithClient(client)
	publisher := dispatch.NewPublisher(client)

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(cfg, app.Dependencies{
		Store:     dataStore,
		Sessions:  sessions,
		History:   historyService,
		Media:     objectStore,
		Search:    searchService,
		Publisher: publisher,
		Mail:      mail,
		OCR:       ocr.NewClient(cfg.OCRServiceURL, cfg.OCRTimeout),
	})

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	consumer := dispatch.NewConsumer(client, cfg.DispatchGroup, hostname)

	log.Printf("Jestbook worker %s consuming group %s", hostname, cfg.DispatchGroup)
	if err := consumer.Run(ctx, service.HandleDispatch); err != nil && ctx.Err() == nil {
		log.Fatalf("worker stopped: %v", err)
	}
}
