package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/storeops/order-saga/internal/config"
	kafkax "github.com/storeops/order-saga/internal/kafka"
	"github.com/storeops/order-saga/internal/logx"
	"github.com/storeops/order-saga/internal/postgres"
	"github.com/storeops/order-saga/internal/redisx"
	"github.com/storeops/order-saga/internal/saga"
	"github.com/storeops/order-saga/internal/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.ServiceName + "-worker")
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	st := postgres.NewStore(db)
	sg := saga.New(st, log, cfg.DeliveryReadyDelay)
	w := worker.New(sg, rdb, log, cfg.ServiceName)

	for topic, handler := range w.Routes() {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, topic, cfg.ConsumerWorkers, log)
		go func(topic string, cons *kafkax.Consumer, h kafkax.Handler) {
			log.Info("consumer started",
				zap.String("topic", topic),
				zap.String("group", cfg.ConsumerGroup),
				zap.Int("workers", cfg.ConsumerWorkers))
			if err := cons.Start(ctx, h); err != nil {
				log.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic, cons, handler)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumers")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
