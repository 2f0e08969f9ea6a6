package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payjs-be/internal/config"
	"payjs-be/internal/db"
	"payjs-be/internal/ledger"
	"payjs-be/internal/logger"
	"payjs-be/internal/metrics"
	"payjs-be/internal/middleware"
	"payjs-be/internal/notify"
	"payjs-be/internal/order"
	"payjs-be/internal/outbox"
	"payjs-be/internal/payment"
	"payjs-be/internal/payment/checkout"
	"payjs-be/internal/payment/payjs"
	"payjs-be/internal/payment/webhook"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = startServer
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := initDBFunc(cfg)
	defer database.Close()

	handler, relay, err := newServer(cfg, database)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = relay.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.L().Info("Payment server running", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))

	err = startServerFunc(ctx, srv)
	stop()
	<-relayDone
	return err
}

// startServer serves until ctx is cancelled, then drains in-flight requests.
func startServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L().Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServer wires stores, gateways and the outbox relay over database.
func newServer(cfg *config.Config, database *sql.DB) (http.Handler, *outbox.Relay, error) {
	orders := order.NewRepository(database)
	audit := payment.NewRepository(database)

	registry, err := buildRegistry(cfg, orders)
	if err != nil {
		return nil, nil, err
	}

	relay := outbox.NewRelay(outbox.NewRepository(database),
		cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.MaxAttempts)
	relay.Subscribe(order.EventPaid, ledger.CreditOnPaid(ledger.NewRepository(database)))
	relay.Subscribe(order.EventPaid, notify.NotifyOnPaid(notify.NewTelegram(cfg.Telegram)))

	router := setupRouter(cfg,
		webhook.NewWebhookHandler(registry, audit, metrics.NewMetrics()),
		checkout.NewCheckoutHandler(registry, audit),
	)
	return router, relay, nil
}

// buildRegistry registers the gateways enabled in configuration.
func buildRegistry(cfg *config.Config, orders order.Store) (*payment.Registry, error) {
	registry := payment.NewRegistry()
	for _, name := range cfg.PaymentGateways {
		var gw payment.Gateway
		switch name {
		case payjs.Name:
			gw = payjs.New(cfg.PayJS, cfg.AppBaseURL, orders)
		default:
			return nil, fmt.Errorf("unsupported payment gateway: %s", name)
		}
		if err := registry.Register(gw); err != nil {
			return nil, err
		}
	}
	logger.L().Info("Payment gateways enabled", zap.Strings("gateways", registry.Names()))
	return registry, nil
}

func setupRouter(cfg *config.Config, wh *webhook.Handler, co *checkout.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(logger.RequestIDMiddleware)
	r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.RateLimitMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/payment/notify/{gateway}", wh.Notify)
	r.Post("/payment/notify/{gateway}", wh.Notify)
	r.Get("/payment/status/{gateway}", co.Status)

	r.Get("/user/payment/return/{gateway}", wh.Return)
	r.Post("/user/payment/return/{gateway}", wh.Return)
	r.With(middleware.RequireUser).Post("/user/payment/purchase/{gateway}", co.Purchase)

	r.Route("/admin/payment", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.Admin))
		r.Get("/query/{gateway}", co.Query)
		r.Post("/refund/{gateway}", co.Refund)
		r.Get("/callbacks", co.Callbacks)
		r.Handle("/metrics", wh.Metrics.Handler())
	})

	return r
}
