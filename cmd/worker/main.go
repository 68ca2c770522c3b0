package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/daraja/internal/bootstrap"
	"github.com/cassiomorais/daraja/internal/infrastructure/config"
	"github.com/cassiomorais/daraja/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/daraja/internal/infrastructure/redis"
	"github.com/cassiomorais/daraja/internal/repository/postgres"
	"github.com/cassiomorais/daraja/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "daraja-worker", "daraja_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	transactionRepo := postgres.NewTransactionRepository(app.Pool)
	streamProducer := infraRedis.NewStreamProducer(app.Redis)
	dedupeStore := infraRedis.NewDedupeStore(app.Redis, app.Config.Callback.DedupeTTL)

	txManager := postgres.NewTxManager(app.Pool)

	callbackService := service.NewCallbackService(transactionRepo, txManager, streamProducer, dedupeStore, app.Logger)

	// --- Callback stream consumer ---
	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.CallbackStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group (may already exist)")
	}

	app.Logger.Info().
		Str("stream", infraRedis.CallbackStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for callbacks...")

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Settlement processor (reads from Redis Streams).
	g.Go(func() error {
		settler := newSettler(app.Logger, consumer, streamProducer, callbackService, app.Metrics, workerCfg)
		return settler.run(gCtx)
	})

	// 2. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

// streamSource is the slice of the stream consumer the settler needs.
type streamSource interface {
	Read(ctx context.Context) ([]redis.XStream, error)
	Claim(ctx context.Context, minIdleTime time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
}

type dlqSink interface {
	PublishToDLQ(ctx context.Context, messageID, reason string, values map[string]any) error
}

type callbackSettler interface {
	Settle(ctx context.Context, kind, key string, payload []byte) error
}

// settler drains the callback stream and applies each outcome to its
// transaction row. Messages that keep failing are parked on the DLQ so a
// poison payload cannot wedge the stream.
type settler struct {
	logger          zerolog.Logger
	consumer        streamSource
	producer        dlqSink
	callbacks       callbackSettler
	metrics         *observability.Metrics
	maxAttempts     int
	reclaimInterval time.Duration
	reclaimMinIdle  time.Duration
	lastReclaim     time.Time
}

func newSettler(
	logger zerolog.Logger,
	consumer streamSource,
	producer dlqSink,
	callbacks callbackSettler,
	metrics *observability.Metrics,
	cfg config.WorkerConfig,
) *settler {
	return &settler{
		logger:          logger,
		consumer:        consumer,
		producer:        producer,
		callbacks:       callbacks,
		metrics:         metrics,
		maxAttempts:     cfg.MaxAttempts,
		reclaimInterval: cfg.ReclaimInterval,
		reclaimMinIdle:  cfg.ReclaimMinIdle,
	}
}

func (s *settler) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.reclaimStale(ctx)

		streams, err := s.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("Failed to read from stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.handle(ctx, msg)
			}
		}
	}
}

// reclaimStale takes over messages another consumer read but never acked,
// so a crashed worker's in-flight callbacks still get settled.
func (s *settler) reclaimStale(ctx context.Context) {
	if s.reclaimInterval <= 0 || time.Since(s.lastReclaim) < s.reclaimInterval {
		return
	}
	s.lastReclaim = time.Now()

	messages, err := s.consumer.Claim(ctx, s.reclaimMinIdle)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Failed to reclaim pending messages")
		}
		return
	}

	for _, msg := range messages {
		s.logger.Warn().Str("message_id", msg.ID).Msg("Reclaimed stale pending message")
		s.handle(ctx, msg)
	}
}

func (s *settler) handle(ctx context.Context, msg redis.XMessage) {
	start := time.Now()

	kind, _ := msg.Values["kind"].(string)
	key, _ := msg.Values["key"].(string)
	payload, _ := msg.Values["payload"].(string)
	if kind == "" || payload == "" {
		s.logger.Error().Str("message_id", msg.ID).Msg("Malformed stream message")
		s.park(ctx, msg, "malformed message")
		return
	}

	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.callbacks.Settle(ctx, kind, key, []byte(payload))
		if err == nil {
			s.consumer.Ack(ctx, msg.ID)
			s.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.CallbackStream, "success").Inc()
			s.metrics.WorkerProcessingDuration.WithLabelValues(infraRedis.CallbackStream).Observe(time.Since(start).Seconds())
			return
		}

		s.logger.Error().Err(err).
			Str("message_id", msg.ID).
			Str("kind", kind).
			Str("key", key).
			Int("attempt", attempt).
			Msg("Failed to settle callback")
		s.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.CallbackStream, "error").Inc()

		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	s.park(ctx, msg, err.Error())
}

// park moves a message to the DLQ and acks it off the main stream.
func (s *settler) park(ctx context.Context, msg redis.XMessage, reason string) {
	if err := s.producer.PublishToDLQ(ctx, msg.ID, reason, msg.Values); err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to publish to DLQ")
		return
	}
	if err := s.consumer.Ack(ctx, msg.ID); err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack parked message")
	}
	s.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.CallbackStream, "dlq").Inc()
}
