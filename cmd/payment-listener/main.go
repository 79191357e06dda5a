package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/field-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/field-booking/internal/adapters/mongo"
	"github.com/robertarktes/field-booking/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/field-booking/internal/adapters/redis"
	"github.com/robertarktes/field-booking/internal/booking"
	"github.com/robertarktes/field-booking/internal/calendar"
	"github.com/robertarktes/field-booking/internal/config"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/payments"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver != "crdb" {
		log.Fatalf("payment-listener needs STORE_DRIVER=crdb, got %q", cfg.StoreDriver)
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "field-booking-payment-listener")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	var slotCache calendar.SlotCache
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		slotCache = redisadapter.NewCache(redisClient)
	}

	var auditor booking.Auditor
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		auditor = mongoadapter.NewAuditLogger(mongoClient.Database("fieldbook"), logger)
	}

	orch := booking.New(repo, auditor, calendar.NewService(repo, slotCache, cfg.SlotCacheTTL, logger), logger, booking.Options{
		PendingGrace: cfg.PendingGrace,
		MaxRetries:   cfg.TxMaxRetries,
		RetryBackoff: 50 * time.Millisecond,
		Location:     loc,
	})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, cfg.EventsExchange, cfg.PaymentQueue, []string{payments.RoutingKey})
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", cfg.PaymentQueue, err)
	}

	if err := payments.NewListener(orch, logger).Run(ctx, deliveries); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("payment listener stopped")
		return
	}
	logger.Info("payment listener exited")
}
