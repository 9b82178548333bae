package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-labs/cerberus/adapters/accounts"
	"github.com/meridian-labs/cerberus/adapters/events"
	"github.com/meridian-labs/cerberus/adapters/store"
	"github.com/meridian-labs/cerberus/adapters/tokenizer"
	"github.com/meridian-labs/cerberus/config"
	"github.com/meridian-labs/cerberus/service"
	transporthttp "github.com/meridian-labs/cerberus/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	signKey, err := loadSignKey(cfg.SignKeyPath)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		log.Fatalf("Failed to create Redis publisher: %v", err)
	}

	kv := store.NewRedisStore(redisClient)
	accountRepo := accounts.NewRedisRepository(redisClient)
	eventPub := events.NewWatermillPublisher(publisher)

	authService := service.NewAuthService(kv, accountRepo, tokenizer.NewJWTTokenizer(signKey), eventPub, logger, service.Config{
		Domain:       cfg.Domain,
		URI:          cfg.URI,
		Statement:    cfg.Statement,
		ChainIDs:     cfg.ChainIDs,
		ChallengeTTL: cfg.ChallengeTTL,
		AccessTTL:    cfg.AccessTTL,
		RefreshTTL:   cfg.RefreshTTL,
		GracePeriod:  cfg.GracePeriod,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := service.NewStaleSweeper(authService.Nonces(), accountRepo, eventPub, cfg.GracePeriod, logger)
	go sweeper.Run(ctx, cfg.SweepInterval)

	router := transporthttp.SetupRouter(authService, cfg.AccessTTL)

	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// loadSignKey reads a PEM-encoded ECDSA key, or generates an ephemeral one
// when no path is configured. Ephemeral keys invalidate all sessions on
// restart, which is acceptable for development only.
func loadSignKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
