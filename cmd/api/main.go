package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/selvaterra/checkout/internal/checkout"
	"github.com/selvaterra/checkout/internal/config"
	"github.com/selvaterra/checkout/internal/currency"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/httpx"
	"github.com/selvaterra/checkout/internal/inventory"
	kafkax "github.com/selvaterra/checkout/internal/kafka"
	"github.com/selvaterra/checkout/internal/logging"
	"github.com/selvaterra/checkout/internal/notify"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/selvaterra/checkout/internal/postgres"
	"github.com/selvaterra/checkout/internal/redisx"
	"github.com/selvaterra/checkout/internal/webhook"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.Setup(cfg.ServiceName, cfg.LogJSON, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	// Gateway
	gateway, err := flow.NewClient(flow.Config{
		BaseURL:   cfg.FlowBaseURL(),
		APIKey:    cfg.FlowAPIKey,
		SecretKey: cfg.FlowSecretKey,
		Log:       logger.With().Str("component", "flow").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("payment gateway")
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName, 1024, logger)
	prod.Start(ctx)

	repo := &orders.Repo{DB: db}
	stock := &inventory.Store{DB: db, Log: logger.With().Str("component", "inventory").Logger()}

	fallback, err := decimal.NewFromString(cfg.FXFallbackUSD)
	if err != nil {
		log.Warn().Str("value", cfg.FXFallbackUSD).Msg("invalid FX_FALLBACK_USD_CLP, no fallback rate")
	}
	fx := currency.NewRateClient(cfg.FXAPIURL, fallback, cfg.FXCacheTTL, logger)

	var mailer notify.Sender = &notify.LogSender{Log: logger, Render: notify.NewRenderer()}
	if cfg.ResendAPIKey != "" {
		mailer = notify.NewResendClient(cfg.ResendAPIKey, cfg.EmailFrom)
	}

	reconciler := &webhook.Reconciler{
		Gateway:   gateway,
		Orders:    repo,
		Inventory: stock,
		Mailer:    mailer,
		Events:    prod,
		SecretKey: cfg.FlowSecretKey,
		Log:       logger.With().Str("component", "webhook").Logger(),
	}
	ordersHandler := &httpx.OrdersHandler{Orders: repo}

	// Redis is optional: without it the email ledger is per process and
	// order status is read straight from the database.
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("redis ping")
		}
		cache := redisx.NewStatusCache(rdb)
		reconciler.Ledger = redisx.NewLedger(rdb)
		reconciler.Cache = cache
		ordersHandler.Cache = cache
	} else {
		log.Warn().Msg("REDIS_ADDR not set, using in-process email ledger")
		reconciler.Ledger = webhook.NewMemoryLedger(10000, redisx.TTLEmailSent)
	}

	router := httpx.NewRouter(logger)
	(&httpx.CheckoutHandler{
		Service: &checkout.Service{
			Inventory: stock,
			Gateway:   gateway,
			Orders:    repo,
			FX:        fx,
			Events:    prod,
			SiteURL:   cfg.SiteURL,
			Log:       logger.With().Str("component", "checkout").Logger(),
		},
		Limiter:   httpx.NewRateLimiter(float64(cfg.CheckoutRateRPS), cfg.CheckoutBurst),
		JWTSecret: cfg.JWTSecret,
	}).Register(router)
	(&httpx.PaymentsHandler{
		Reconciler: reconciler,
		Orders:     repo,
		Gateway:    gateway,
		SiteURL:    cfg.SiteURL,
	}).Register(router)
	ordersHandler.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("flow", cfg.FlowBaseURL()).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	prod.WaitClosed() // drain
	cancel()
}
