// Package profile is the fire-and-forget "current room" sink on user
// profiles. The room document and the profile live in different
// documents with no cross-document ordering, so callers must treat
// every write here as best-effort.
package profile

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wisp-social/roomcore/internal/domain"
)

// MongoSink keeps currentRoomId on the users collection.
type MongoSink struct {
	users *mongo.Collection
}

func NewMongoSink(client *mongo.Client, database string) *MongoSink {
	return &MongoSink{users: client.Database(database).Collection("users")}
}

func (s *MongoSink) SetCurrentRoom(ctx context.Context, uid domain.UserID, room domain.RoomID) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": uid},
		bson.M{"$set": bson.M{"currentRoomId": room}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: set currentRoomId: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *MongoSink) ClearCurrentRoom(ctx context.Context, uid domain.UserID) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": uid},
		bson.M{"$unset": bson.M{"currentRoomId": ""}})
	if err != nil {
		return fmt.Errorf("%w: clear currentRoomId: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
