package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/field-booking/internal/adapters/crdb"
	"github.com/robertarktes/field-booking/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/field-booking/internal/adapters/mongo"
	"github.com/robertarktes/field-booking/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/field-booking/internal/adapters/redis"
	"github.com/robertarktes/field-booking/internal/booking"
	"github.com/robertarktes/field-booking/internal/calendar"
	"github.com/robertarktes/field-booking/internal/config"
	httphandler "github.com/robertarktes/field-booking/internal/http"
	"github.com/robertarktes/field-booking/internal/idempotency"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/outbox"
	"github.com/robertarktes/field-booking/internal/payments"
	"github.com/robertarktes/field-booking/internal/pricing"
	"github.com/robertarktes/field-booking/internal/rateLimit"
	"github.com/robertarktes/field-booking/internal/schedule"
	"github.com/robertarktes/field-booking/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "field-booking-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	var (
		st     store.Store
		mem    *memory.Store
		checks = map[string]httphandler.ReadyCheck{}
	)
	switch cfg.StoreDriver {
	case "memory":
		mem = memory.New()
		field, err := mem.SeedDemo(time.Now())
		if err != nil {
			log.Fatalf("failed to seed memory store: %v", err)
		}
		logger.WithField("field_id", field.ID).Info("memory store seeded with demo field")
		st = mem
	default:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		st = repo
	}
	checks["store"] = st.Ping

	var (
		slotCache calendar.SlotCache
		limiter   httphandler.Limiter
		locker    schedule.Locker
		idemp     *idempotency.Idempotency
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		redisCache := redisadapter.NewCache(redisClient)
		slotCache, limiter, locker = redisCache, rateLimit.NewRateLimiter(redisCache), redisCache
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logger.Warn("REDIS_ADDR not set: slot cache, rate limiting and response replay are disabled")
	}

	var (
		auditor booking.Auditor
		history httphandler.HistoryService
	)
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		audit := mongoadapter.NewAuditLogger(mongoClient.Database("fieldbook"), logger)
		if err := audit.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("failed to create audit indexes")
		}
		auditor, history = audit, audit
		checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
	}

	if cfg.PaymentWebhookSecret == "" {
		logger.Warn("PAYMENT_WEBHOOK_SECRET not set: payment callbacks will be rejected")
	}

	auth, err := httphandler.NewAuthenticator(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to parse JWT_PUBLIC_KEY: %v", err)
	}

	cal := calendar.NewService(st, slotCache, cfg.SlotCacheTTL, logger)
	orch := booking.New(st, auditor, cal, logger, booking.Options{
		PendingGrace: cfg.PendingGrace,
		MaxRetries:   cfg.TxMaxRetries,
		RetryBackoff: 50 * time.Millisecond,
		Location:     loc,
	})
	handlers := httphandler.NewHandlers(cal, pricing.NewService(st), orch, history, checks, cfg.PendingGrace)
	router := httphandler.SetupRouter(handlers, httphandler.RouterOptions{
		Logger:        logger,
		Auth:          auth,
		Limiter:       limiter,
		Idempotency:   idemp,
		CORSOrigins:   cfg.CORSOrigins,
		RateLimitUser: cfg.RateLimitUser,
		RateLimitIP:   cfg.RateLimitIP,
		PaymentSecret: cfg.PaymentWebhookSecret,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// The memory store lives in this process only, so its background work does too.
	if mem != nil {
		gen := schedule.NewGenerator(mem, cal, cfg.SlotLength, cfg.GenerateDaysAhead, loc, time.Now, logger)
		updater := schedule.NewUpdater(orch, gen, locker, cfg.SweepTimeout, logger)
		g.Go(func() error {
			updater.Run(gctx, cfg.SweepInterval)
			return nil
		})

		if cfg.RabbitURL != "" {
			conn, err := amqp.Dial(cfg.RabbitURL)
			if err != nil {
				log.Fatalf("failed to connect to rabbitmq: %v", err)
			}
			defer conn.Close()
			pub, err := rabbit.NewPublisher(conn, cfg.EventsExchange)
			if err != nil {
				log.Fatalf("failed to create publisher: %v", err)
			}
			defer pub.Close()
			consumer, err := rabbit.NewConsumer(conn, cfg.EventsExchange, cfg.PaymentQueue, []string{payments.RoutingKey})
			if err != nil {
				log.Fatalf("failed to create consumer: %v", err)
			}
			defer consumer.Close()
			deliveries, err := consumer.Consume(gctx)
			if err != nil {
				log.Fatalf("failed to consume %s: %v", cfg.PaymentQueue, err)
			}

			relay := outbox.NewPublisher(mem, pub, logger)
			g.Go(func() error {
				relay.Run(gctx, cfg.OutboxInterval)
				return nil
			})
			g.Go(func() error {
				if err := payments.NewListener(orch, logger).Run(gctx, deliveries); err != nil && gctx.Err() == nil {
					return err
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped with error")
	}
	logger.Info("api exited")
}
