package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/field-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/field-booking/internal/adapters/mongo"
	"github.com/robertarktes/field-booking/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/field-booking/internal/adapters/redis"
	"github.com/robertarktes/field-booking/internal/booking"
	"github.com/robertarktes/field-booking/internal/calendar"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/idempotency"
	"github.com/robertarktes/field-booking/internal/observability"
	"github.com/robertarktes/field-booking/internal/outbox"
	"github.com/robertarktes/field-booking/internal/payments"
	"github.com/robertarktes/field-booking/internal/pricing"
	"github.com/robertarktes/field-booking/internal/rateLimit"
	"github.com/robertarktes/field-booking/internal/schedule"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

const (
	e2eExchange       = "fieldbook.events"
	e2eCallbackSecret = "e2e-callback-secret"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

type e2eEnv struct {
	*server
	repo   *crdb.Repository
	orch   *booking.Orchestrator
	rabbit *amqp.Connection
	date   time.Time
}

func newE2E(t *testing.T) *e2eEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("container test skipped in short mode")
	}
	ctx := context.Background()
	logger := observability.NopLogger()

	crdbAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
	}, "6379")
	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
	}, "5672")

	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = mongoClient.Disconnect(context.Background()) })
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("fieldbook_e2e"), logger)
	if err := audit.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	redis := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = redis.Close() })
	cache := redisadapter.NewCache(redis)

	conn, err := amqp.Dial("amqp://guest:guest@" + rabbitAddr + "/")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	field := domain.Field{ID: uuid.New(), FacilityID: uuid.New(), Category: "football-7", Name: "Pitch A", BookingEnabled: true}
	if err := repo.CreateField(ctx, field); err != nil {
		t.Fatal(err)
	}
	err = repo.SetPricing(ctx, field.ID, []domain.FieldPricing{
		{ID: uuid.New(), FieldID: field.ID, Range: domain.TimeRange{Start: 6 * 60, End: 17 * 60}, PricePerHour: decimal.NewFromInt(100000)},
		{ID: uuid.New(), FieldID: field.ID, Range: domain.TimeRange{Start: 17 * 60, End: 22 * 60}, PricePerHour: decimal.NewFromInt(150000)},
	})
	if err != nil {
		t.Fatal(err)
	}

	cal := calendar.NewService(repo, cache, time.Minute, logger)
	date := domain.DateOf(time.Now().UTC()).AddDate(0, 0, 1)
	gen := schedule.NewGenerator(repo, cal, time.Hour, 1, time.UTC, time.Now, logger)
	if n, err := gen.Generate(ctx, field.ID, date, 1); err != nil || n != 16 {
		t.Fatalf("generated %d slots: %v", n, err)
	}

	orch := booking.New(repo, audit, cal, logger, booking.Options{
		PendingGrace: 15 * time.Minute,
		MaxRetries:   5,
		RetryBackoff: 20 * time.Millisecond,
		Location:     time.UTC,
	})
	h := NewHandlers(cal, pricing.NewService(repo), orch, audit, map[string]ReadyCheck{
		"crdb":  repo.Ping,
		"redis": func(ctx context.Context) error { return redis.Ping(ctx).Err() },
	}, 15*time.Minute)
	srv := httptest.NewServer(SetupRouter(h, RouterOptions{
		Logger:        logger,
		Limiter:       rateLimit.NewRateLimiter(cache),
		Idempotency:   idempotency.NewIdempotency(redisadapter.NewIdempotency(redis), time.Hour),
		CORSOrigins:   []string{"*"},
		RateLimitUser: 1000,
		RateLimitIP:   1000,
		PaymentSecret: e2eCallbackSecret,
	}))
	t.Cleanup(srv.Close)

	return &e2eEnv{
		server: &server{Server: srv, field: field},
		repo:   repo,
		orch:   orch,
		rabbit: conn,
		date:   date,
	}
}

func (e *e2eEnv) body(start, end string) map[string]any {
	b := e.bookingBody([2]string{start, end})
	b["date"] = domain.FormatDate(e.date)
	return b
}

func TestE2E_BookPayAndPublish(t *testing.T) {
	e := newE2E(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	slotsPath := fmt.Sprintf("/v1/fields/%s/slots?from=%s", e.field.ID, domain.FormatDate(e.date))
	resp, out := e.do(t, call{method: http.MethodGet, path: slotsPath})
	if resp.StatusCode != http.StatusOK || len(out["slots"].([]any)) != 16 {
		t.Fatalf("calendar: status %d: %v", resp.StatusCode, out)
	}

	// Concurrent requests for the same hours: one wins, the rest see the conflict.
	var created atomic.Int32
	keys := make([]string, 8)
	ids := make([]string, 8)
	var g errgroup.Group
	for i := range keys {
		keys[i] = fmt.Sprintf("e2e-concurrent-key-%02d", i)
		i := i
		g.Go(func() error {
			resp, out, err := e.send(call{method: http.MethodPost, path: "/v1/bookings", body: e.body("10:00", "12:00"), idemKey: keys[i]})
			if err != nil {
				return err
			}
			switch resp.StatusCode {
			case http.StatusCreated:
				created.Add(1)
				ids[i], _ = out["id"].(string)
			case http.StatusConflict, http.StatusServiceUnavailable:
			default:
				return fmt.Errorf("request %d: status %d: %v", i, resp.StatusCode, out)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if created.Load() != 1 {
		t.Fatalf("%d concurrent bookings succeeded, want 1", created.Load())
	}
	var winner int
	for i, id := range ids {
		if id != "" {
			winner = i
		}
	}
	bookingID := ids[winner]

	resp, out = e.do(t, call{method: http.MethodPost, path: "/v1/bookings", body: e.body("10:00", "12:00"), idemKey: keys[winner]})
	if resp.StatusCode != http.StatusCreated || resp.Header.Get("Idempotent-Replayed") != "true" || out["id"] != bookingID {
		t.Fatalf("replay: status %d: %v", resp.StatusCode, out)
	}
	ord, err := e.repo.GetOrderByBooking(ctx, uuid.MustParse(bookingID))
	if err != nil {
		t.Fatal(err)
	}
	paymentRef := ord.PaymentRef

	// Payment result arrives on the queue.
	consumer, err := rabbit.NewConsumer(e.rabbit, e2eExchange, "e2e.payments.q", []string{payments.RoutingKey})
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close()
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	go func() { _ = payments.NewListener(e.orch, observability.NopLogger()).Run(listenCtx, deliveries) }()

	pub, err := rabbit.NewPublisher(e.rabbit, e2eExchange)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	msg, _ := json.Marshal(payments.Message{BookingID: bookingID, PaymentRef: paymentRef, Status: payments.StatusSuccess})
	if err := pub.Publish(ctx, payments.RoutingKey, uuid.NewString(), msg); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		resp, out = e.do(t, call{method: http.MethodGet, path: "/v1/bookings/" + bookingID})
		if resp.StatusCode == http.StatusOK && out["status"] == string(domain.BookingBooked) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("booking not confirmed: status %d: %v", resp.StatusCode, out)
		}
		time.Sleep(200 * time.Millisecond)
	}

	// The same result through the HTTP callback is recognised as a duplicate.
	resp, out = e.do(t, call{method: http.MethodPost, path: "/v1/payments/callback", body: map[string]string{
		"booking_id": bookingID, "payment_ref": paymentRef, "status": payments.StatusSuccess,
	}, signWith: e2eCallbackSecret})
	if resp.StatusCode != http.StatusOK || out["duplicate"] != true {
		t.Fatalf("callback: status %d: %v", resp.StatusCode, out)
	}

	resp, out = e.do(t, call{method: http.MethodGet, path: slotsPath})
	booked := 0
	for _, s := range out["slots"].([]any) {
		if s.(map[string]any)["status"] == string(domain.SlotBooked) {
			booked++
		}
	}
	if booked != 2 {
		t.Fatalf("calendar shows %d booked slots after payment, want 2", booked)
	}

	resp, out = e.do(t, call{method: http.MethodGet, path: "/v1/bookings/" + bookingID + "/history"})
	if resp.StatusCode != http.StatusOK || len(out["history"].([]any)) < 2 {
		t.Fatalf("history: status %d: %v", resp.StatusCode, out)
	}

	// Outbox relay delivers the notification events.
	events, err := rabbit.NewConsumer(e.rabbit, e2eExchange, "e2e.events.q", []string{"booking.#", "slot.#"})
	if err != nil {
		t.Fatal(err)
	}
	defer events.Close()
	eventDeliveries, err := events.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	n, err := outbox.NewPublisher(e.repo, pub, observability.NopLogger()).PublishBatch(ctx)
	if err != nil || n < 2 {
		t.Fatalf("published %d events: %v", n, err)
	}

	seen := map[string]bool{}
	for !seen[domain.EventBookingPending] || !seen[domain.EventSlotBooked] {
		select {
		case d := <-eventDeliveries:
			_ = d.Ack(false)
			var p domain.BookingEventPayload
			if err := json.Unmarshal(d.Body, &p); err != nil {
				t.Fatal(err)
			}
			if p.BookingID.String() == bookingID {
				seen[d.RoutingKey] = true
			}
		case <-ctx.Done():
			t.Fatalf("events seen before timeout: %v", seen)
		}
	}

	if again, err := outbox.NewPublisher(e.repo, pub, observability.NopLogger()).PublishBatch(ctx); err != nil || again != 0 {
		t.Fatalf("second relay published %d events: %v", again, err)
	}
}
