// Package outbox relays committed booking events to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
)

const defaultBatch = 50

type Source interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Sink interface {
	Publish(ctx context.Context, key, messageID string, body []byte) error
}

type Publisher struct {
	source Source
	sink   Sink
	logger observability.Logger
	batch  int
	now    func() time.Time
}

func NewPublisher(source Source, sink Sink, logger observability.Logger) *Publisher {
	return &Publisher{source: source, sink: sink, logger: logger, batch: defaultBatch, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	p.logger.Info("outbox publisher started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			for {
				n, err := p.PublishBatch(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox batch failed")
					break
				}
				if n < p.batch {
					break
				}
			}
		}
	}
}

// PublishBatch relays up to one batch of events in creation order. It stops at the
// first event the broker refuses so later events are not delivered ahead of it.
// The dedupe key travels as the message id for consumers to drop redeliveries.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	events, err := p.source.FetchUnpublished(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(events) > 0 {
		observability.OutboxLag.Set(p.now().Sub(events[0].CreatedAt).Seconds())
	} else {
		observability.OutboxLag.Set(0)
	}

	published := 0
	for _, e := range events {
		if err := p.sink.Publish(ctx, e.EventType, e.DedupeKey, e.Payload); err != nil {
			return published, err
		}
		if err := p.source.MarkPublished(ctx, e.ID, p.now()); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
