// Worker consumes accepted-batch records from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/config"
	"telemetry-ingest/backend/internal/logging"
	"telemetry-ingest/backend/internal/telemetry/loki"
)

const pushTimeout = 10 * time.Second

// messageReader is the part of *kafka.Reader the consume loop uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// recordPusher is the part of *loki.Client the consume loop uses.
type recordPusher interface {
	PushRecordJSON(ctx context.Context, raw []byte) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("worker exited", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		return errors.New("worker: KAFKA_BROKERS is required")
	}
	client, err := loki.NewClient(cfg.LokiURL, nil)
	if err != nil {
		return fmt.Errorf("worker: LOKI_URL: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("worker: close kafka reader", zap.Error(err))
		}
	}()

	logger.Info("worker: consuming",
		zap.String("topic", cfg.KafkaTopic), zap.String("group", cfg.KafkaGroupID), zap.String("loki", cfg.LokiURL))
	consume(ctx, reader, client, logger)
	logger.Info("worker: stopped")
	return nil
}

// consume forwards records until ctx is done. Read and push failures are logged and skipped.
func consume(ctx context.Context, reader messageReader, pusher recordPusher, logger *zap.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("worker: kafka read error", zap.Error(err))
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := pusher.PushRecordJSON(pushCtx, msg.Value); err != nil {
			logger.Warn("worker: loki push failed",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		cancel()
	}
}
