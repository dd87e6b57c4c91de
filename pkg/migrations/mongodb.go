package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureReceiptCollection creates the indexes the notification receipt
// store relies on. The unique event_id index backs duplicate detection.
func EnsureReceiptCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("notification_receipts")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_receipts_event_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "sent_at", Value: -1}},
			Options: options.Index().SetName("idx_receipts_order_sent_at"),
		},
		{
			Keys:    bson.D{{Key: "template", Value: 1}},
			Options: options.Index().SetName("idx_receipts_template"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create receipt indexes: %w", err)
		}
	}

	return nil
}
