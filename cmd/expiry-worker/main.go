package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/field-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/field-booking/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/field-booking/internal/adapters/redis"
	"github.com/robertarktes/field-booking/internal/booking"
	"github.com/robertarktes/field-booking/internal/calendar"
	"github.com/robertarktes/field-booking/internal/config"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/schedule"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// expiry-worker runs the schedule updater against the shared store: it expires
// unpaid bookings, closes elapsed slots and keeps the calendar generated ahead.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver != "crdb" {
		log.Fatalf("expiry-worker needs STORE_DRIVER=crdb, got %q", cfg.StoreDriver)
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "field-booking-expiry-worker")
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

	var (
		slotCache calendar.SlotCache
		locker    schedule.Locker
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		redisCache := redisadapter.NewCache(redisClient)
		slotCache, locker = redisCache, redisCache
	} else {
		logger.Warn("REDIS_ADDR not set: running without the schedule lock")
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

	cal := calendar.NewService(repo, slotCache, cfg.SlotCacheTTL, logger)
	orch := booking.New(repo, auditor, cal, logger, booking.Options{
		PendingGrace: cfg.PendingGrace,
		MaxRetries:   cfg.TxMaxRetries,
		RetryBackoff: 50 * time.Millisecond,
		Location:     loc,
	})
	gen := schedule.NewGenerator(repo, cal, cfg.SlotLength, cfg.GenerateDaysAhead, loc, time.Now, logger)

	schedule.NewUpdater(orch, gen, locker, cfg.SweepTimeout, logger).Run(ctx, cfg.SweepInterval)
	logger.Info("expiry worker exited")
}
