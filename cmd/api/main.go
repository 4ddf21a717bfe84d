package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/storeops/order-saga/internal/cart"
	"github.com/storeops/order-saga/internal/config"
	"github.com/storeops/order-saga/internal/httpx"
	"github.com/storeops/order-saga/internal/logx"
	"github.com/storeops/order-saga/internal/orders"
	"github.com/storeops/order-saga/internal/postgres"
	"github.com/storeops/order-saga/internal/redisx"
	"github.com/storeops/order-saga/internal/saga"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.ServiceName + "-api")
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
	h := &httpx.Handler{
		Orders: orders.NewService(st, log),
		Saga:   saga.New(st, log, cfg.DeliveryReadyDelay),
		Cart:   cart.New(rdb),
		Redis:  rdb,
		Log:    log,
	}
	router := httpx.NewRouter()
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}
