package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/selvaterra/checkout/internal/accounts"
	"github.com/selvaterra/checkout/internal/config"
	kafkax "github.com/selvaterra/checkout/internal/kafka"
	"github.com/selvaterra/checkout/internal/logging"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/selvaterra/checkout/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.Setup(cfg.ServiceName+"-linker", cfg.LogJSON, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	linker := &accounts.Linker{Orders: &orders.Repo{DB: db}, Log: logger}
	handle := func(ctx context.Context, m kafkago.Message) error {
		env, err := kafkax.UnmarshalEnvelope(m.Value)
		if err != nil {
			// poison message: log and commit so the partition keeps moving
			logger.Error().Err(err).Int64("offset", m.Offset).Msg("skip undecodable message")
			return nil
		}
		if env.EventType != orders.EventUserRegistered {
			return nil
		}
		p, err := kafkax.UnwrapPayload[orders.UserRegisteredPayload](env.Payload)
		if err != nil {
			logger.Error().Err(err).Str("event_id", env.EventID).Msg("skip bad payload")
			return nil
		}
		_, err = linker.LinkGuestOrders(ctx, p.UserID, p.Email)
		return err
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.LinkerGroup, orders.TopicUserRegistered, cfg.LinkerWorkers, logger)
	go func() {
		log.Info().Str("group", cfg.LinkerGroup).Str("topic", orders.TopicUserRegistered).Int("workers", cfg.LinkerWorkers).Msg("linker consumer started")
		if err := cons.Start(ctx, handle); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
