package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcmexdev/campus-market/internal/cart"
	"github.com/jcmexdev/campus-market/internal/catalog"
	"github.com/jcmexdev/campus-market/internal/checkout"
	"github.com/jcmexdev/campus-market/internal/config"
	"github.com/jcmexdev/campus-market/internal/delivery"
	"github.com/jcmexdev/campus-market/internal/env"
	"github.com/jcmexdev/campus-market/internal/events"
	"github.com/jcmexdev/campus-market/internal/httpx"
	"github.com/jcmexdev/campus-market/internal/payment"
	"github.com/jcmexdev/campus-market/internal/payment/paystack"
	"github.com/jcmexdev/campus-market/internal/pkg/cache"
	"github.com/jcmexdev/campus-market/internal/pkg/telemetry"
	"github.com/jcmexdev/campus-market/internal/storage/postgres"
)

func main() {
	env.Load(".env")
	cfg := config.FromEnv()
	telemetry.InitLogger(cfg.Debug)

	ctx := context.Background()
	shutdownTracer, err := telemetry.SetupTracer(ctx, "campus-market")
	if err != nil {
		log.Fatalf("tracer setup failed: %v", err)
	}
	defer shutdownTracer(context.Background())

	ledger, err := postgres.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("ledger open failed: %v", err)
	}
	defer ledger.Close()

	bus := events.NewBus()
	if cfg.RedisAddr != "" {
		sink := events.NewRedisSink(cfg.RedisAddr)
		sink.Attach(bus)
		defer sink.Close()
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := events.NewKafkaSink(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("kafka sink failed: %v", err)
		}
		sink.Attach(bus)
		defer sink.Close()
	}

	var deliveryCache cache.Cache
	if cfg.RedisAddr != "" {
		deliveryCache = cache.NewRedisCache(cfg.RedisAddr, "campus-market")
	}

	gateway := paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecret)
	catalogClient := catalog.NewClient(cfg.CatalogBaseURL)

	cartSvc := cart.NewService(ledger, catalogClient)
	checkoutSvc := checkout.NewService(ledger, bus, cfg.DeliveryFeeCents)
	reconciler := payment.NewReconciler(ledger, gateway, bus, cfg.WebhookSecret)
	dispatcher := delivery.NewDispatcher(ledger, bus, deliveryCache)

	handler := httpx.NewHandler(cartSvc, checkoutSvc, reconciler, dispatcher, ledger)
	router := httpx.NewRouter(handler, cfg.JWTSecret)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("campus-market listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	bus.Wait()
}
