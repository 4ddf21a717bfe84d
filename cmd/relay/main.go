package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/storeops/order-saga/internal/config"
	kafkax "github.com/storeops/order-saga/internal/kafka"
	"github.com/storeops/order-saga/internal/logx"
	"github.com/storeops/order-saga/internal/outbox"
	"github.com/storeops/order-saga/internal/postgres"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.ServiceName + "-relay")
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	pub := kafkax.NewPublisher(cfg.KafkaBrokers)
	defer pub.Close()

	relay := outbox.NewRelay(postgres.NewStore(db), pub, log,
		cfg.RelayInterval, cfg.OutboxMaxAttempts, cfg.OutboxBatchSize)

	go func() {
		log.Info("outbox relay started",
			zap.Duration("interval", cfg.RelayInterval),
			zap.Int("batch_size", cfg.OutboxBatchSize))
		relay.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
}
