package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/txguard/adapters/events"
	"github.com/layer-3/txguard/adapters/ledger"
	"github.com/layer-3/txguard/adapters/tokenizer"
	"github.com/layer-3/txguard/config"
	"github.com/layer-3/txguard/expiry"
	"github.com/layer-3/txguard/nonce"
	"github.com/layer-3/txguard/service"
	"github.com/layer-3/txguard/session"
	transport "github.com/layer-3/txguard/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := watermill.NewStdLogger(cfg.Debug, false)

	signKey, err := loadSigningKey(cfg.SigningKeyFile)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	sessions, err := session.NewManager(logger,
		session.WithTTL(cfg.SessionTTL),
		session.WithSecret(cfg.TokenSecret),
		session.WithIssuedTokenCheck(cfg.VerifyIssuedToken),
	)
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	opts := []service.Option{}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			logger,
		)
		if err != nil {
			log.Fatalf("Failed to create Redis publisher: %v", err)
		}
		defer publisher.Close()

		opts = append(opts,
			service.WithReplayLedger(ledger.NewRedisLedger(redisClient)),
			service.WithEventPublisher(events.NewWatermillPublisher(publisher)),
		)
	} else {
		opts = append(opts, service.WithReplayLedger(ledger.NewMemoryLedger()))
	}

	validator := service.NewValidator(
		service.Config{
			RateLimitWindow: cfg.RateLimitWindow,
			RateLimitMax:    cfg.RateLimitMax,
			LargeAmount:     cfg.LargeAmount,
			CleanupInterval: cfg.CleanupInterval,
			LedgerTTL:       cfg.LedgerTTL,
		},
		nonce.NewManager(logger, nonce.WithRetention(cfg.NonceRetention)),
		sessions,
		expiry.NewValidator(cfg.ExpiryWindow, cfg.ClockSkew, cfg.ExpiryWarning),
		logger,
		opts...,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator.Start(ctx)
	defer validator.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           transport.SetupRouter(validator, tokenizer.NewJWTTokenizer(signKey)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server listening", watermill.LogFields{"addr": cfg.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", err, nil)
	}
	validator.Cleanup()
}

// loadSigningKey reads a PEM encoded P-256 key, or generates one when path is
// empty. Tokens signed by a generated key do not survive a restart.
func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseECPrivateKeyFromPEM(pem)
}
