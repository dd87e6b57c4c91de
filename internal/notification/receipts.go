package notification

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Receipt is the delivery log entry written after a successful send. It is
// an audit record, not the idempotency mechanism; the ledger owns dedup.
type Receipt struct {
	EventID   string    `bson:"event_id"`
	OrderID   string    `bson:"order_id"`
	Template  string    `bson:"template"`
	Recipient string    `bson:"recipient"`
	SentAt    time.Time `bson:"sent_at"`
}

type ReceiptStore interface {
	Record(ctx context.Context, r Receipt) error
}

type MongoReceiptStore struct {
	collection *mongo.Collection
}

const receiptsCollection = "notification_receipts"

func NewMongoReceiptStore(db *mongo.Database) *MongoReceiptStore {
	return &MongoReceiptStore{collection: db.Collection(receiptsCollection)}
}

func (s *MongoReceiptStore) Record(ctx context.Context, r Receipt) error {
	if _, err := s.collection.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// A prior delivery already logged this send.
			return nil
		}
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

var _ ReceiptStore = (*MongoReceiptStore)(nil)
