package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/field-booking/internal/observability"
)

const publishAttempts = 3

type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// Publish sends a persistent JSON message, retrying with exponential backoff.
func (p *Publisher) Publish(ctx context.Context, key, messageID string, body []byte) error {
	msg := amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	var err error
	for i := 0; i < publishAttempts; i++ {
		if err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err == nil {
			return nil
		}
		observability.RabbitPublishRetries.Inc()
		backoff := time.Duration(1<<i) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Wrapf(err, "publish %s after %d attempts", key, publishAttempts)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
