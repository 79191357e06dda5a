package config

import (
	"time"
	_ "time/tzdata"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CRDBDSN      string `envconfig:"CRDB_DSN"`
	MongoURI     string `envconfig:"MONGO_URI"`
	RedisAddr    string `envconfig:"REDIS_ADDR"`
	RabbitURL    string `envconfig:"RABBIT_URL"`
	JWTPublicKey string `envconfig:"JWT_PUBLIC_KEY"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	HTTPAddr    string   `envconfig:"HTTP_ADDR" default:":8080"`
	StoreDriver string   `envconfig:"STORE_DRIVER" default:"crdb"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`

	PendingGrace      time.Duration `envconfig:"PENDING_GRACE" default:"15m"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	SweepTimeout      time.Duration `envconfig:"SWEEP_TIMEOUT" default:"30s"`
	TxMaxRetries      int           `envconfig:"TX_MAX_RETRIES" default:"3"`
	IdempotencyTTL    time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	SlotCacheTTL      time.Duration `envconfig:"SLOT_CACHE_TTL" default:"30s"`
	SlotLength        time.Duration `envconfig:"SLOT_LENGTH" default:"1h"`
	GenerateDaysAhead int           `envconfig:"GENERATE_DAYS_AHEAD" default:"14"`
	FacilityTimezone  string        `envconfig:"FACILITY_TIMEZONE" default:"Asia/Ho_Chi_Minh"`
	RateLimitUser     int           `envconfig:"RATE_LIMIT_USER" default:"60"`
	RateLimitIP       int           `envconfig:"RATE_LIMIT_IP" default:"120"`

	EventsExchange string        `envconfig:"EVENTS_EXCHANGE" default:"fieldbook.events"`
	PaymentQueue   string        `envconfig:"PAYMENT_QUEUE" default:"fieldbook.payments.q"`
	OutboxInterval time.Duration `envconfig:"OUTBOX_INTERVAL" default:"1s"`

	PaymentWebhookSecret string `envconfig:"PAYMENT_WEBHOOK_SECRET"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "crdb", "memory":
	default:
		return errors.Newf("STORE_DRIVER must be crdb or memory, got %q", c.StoreDriver)
	}
	if c.StoreDriver == "crdb" && c.CRDBDSN == "" {
		return errors.New("CRDB_DSN is required with the crdb store")
	}
	if c.SlotLength < time.Minute || c.SlotLength%time.Minute != 0 {
		return errors.Newf("SLOT_LENGTH must be a whole number of minutes, got %s", c.SlotLength)
	}
	if c.TxMaxRetries < 0 {
		return errors.New("TX_MAX_RETRIES must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the facility time zone that slot dates and times are expressed in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.FacilityTimezone)
	if err != nil {
		return nil, errors.Wrapf(err, "FACILITY_TIMEZONE %q", c.FacilityTimezone)
	}
	return loc, nil
}
