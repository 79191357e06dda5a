package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/field-booking/internal/domain"
	"github.com/robertarktes/field-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	BookingID string    `bson:"booking_id"`
	UserID    string    `bson:"user_id,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// EnsureIndexes creates the lookup index used to list a booking's history.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, b domain.Booking, data bson.M) error {
	log := AuditLog{
		ID:        uuid.New().String(),
		Action:    action,
		BookingID: b.ID.String(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if b.Requester.UserID != nil {
		log.UserID = b.Requester.UserID.String()
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).WithField("booking_id", b.ID).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogBooking(ctx context.Context, action string, b domain.Booking, o *domain.Order) error {
	ranges := make([]string, len(b.Ranges))
	for i, r := range b.Ranges {
		ranges[i] = r.String()
	}
	slotIDs := make([]string, len(b.SlotIDs))
	for i, id := range b.SlotIDs {
		slotIDs[i] = id.String()
	}
	data := bson.M{
		"field_id":       b.FieldID.String(),
		"date":           domain.FormatDate(b.Date),
		"ranges":         ranges,
		"slot_ids":       slotIDs,
		"status":         string(b.Status),
		"payment_status": string(b.PaymentStatus),
		"total_price":    b.TotalPrice.String(),
	}
	if b.Requester.IsGuest() {
		data["guest_name"] = b.Requester.GuestName
	}
	if o != nil {
		data["order_id"] = o.ID.String()
		data["order_total"] = o.Total.String()
		data["discount_amount"] = o.DiscountAmount.String()
	}
	return a.LogEvent(ctx, action, b, data)
}

// History returns the audit trail of one booking, oldest first.
func (a *AuditLogger) History(ctx context.Context, bookingID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx,
		bson.M{"booking_id": bookingID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
