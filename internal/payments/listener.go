// Package payments applies payment results delivered by the payment provider's
// message queue.
package payments

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/field-booking/internal/booking"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"

	// RoutingKey is the key the payment provider publishes results under.
	RoutingKey = "payment.result"
)

// ErrMalformed marks a message that can never be applied.
var ErrMalformed = errors.New("malformed payment message")

type Message struct {
	BookingID  string `json:"booking_id" validate:"required,uuid"`
	PaymentRef string `json:"payment_ref" validate:"required,max=128"`
	Status     string `json:"status" validate:"required,oneof=SUCCESS FAILED"`
}

type Confirmer interface {
	ConfirmPayment(ctx context.Context, pr booking.PaymentResult) (domain.Booking, bool, error)
}

type Listener struct {
	confirmer Confirmer
	validate  *validator.Validate
	logger    observability.Logger
}

func NewListener(c Confirmer, logger observability.Logger) *Listener {
	return &Listener{confirmer: c, validate: validator.New(), logger: logger}
}

// Decode parses and validates one payment message.
func (l *Listener) Decode(body []byte) (booking.PaymentResult, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return booking.PaymentResult{}, errors.Mark(errors.Wrap(err, "decode payment message"), ErrMalformed)
	}
	if err := l.validate.Struct(m); err != nil {
		return booking.PaymentResult{}, errors.Mark(errors.Wrap(err, "validate payment message"), ErrMalformed)
	}
	return booking.PaymentResult{
		BookingID:  uuid.MustParse(m.BookingID),
		PaymentRef: m.PaymentRef,
		Success:    m.Status == StatusSuccess,
	}, nil
}

func (l *Listener) Handle(ctx context.Context, body []byte) error {
	pr, err := l.Decode(body)
	if err != nil {
		return err
	}
	b, duplicate, err := l.confirmer.ConfirmPayment(ctx, pr)
	log := l.logger.WithFields(observability.Fields{"booking_id": pr.BookingID, "payment_ref": pr.PaymentRef})
	if err != nil {
		return err
	}
	if duplicate {
		log.Info("payment result already applied")
		return nil
	}
	log.WithField("status", b.Status).Info("payment result applied")
	return nil
}

// Requeue reports whether a failed message is worth delivering again.
func Requeue(err error) bool {
	switch {
	case errors.Is(err, ErrMalformed),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrFatal):
		return false
	}
	return true
}

// Run handles deliveries until ctx is done or the channel closes.
func (l *Listener) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	l.logger.Info("payment listener started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("payment deliveries channel closed")
			}
			l.dispatch(ctx, d)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, d amqp.Delivery) {
	err := l.Handle(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			l.logger.WithError(ackErr).Warn("ack failed")
		}
		return
	}
	requeue := Requeue(err)
	l.logger.WithError(err).WithFields(observability.Fields{
		"message_id": d.MessageId,
		"requeue":    requeue,
	}).Error("failed to handle payment result")
	if nackErr := d.Nack(false, requeue); nackErr != nil {
		l.logger.WithError(nackErr).Warn("nack failed")
	}
}
