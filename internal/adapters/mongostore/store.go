// Package mongostore implements RoomStore on MongoDB. The store's
// conditional updates carry the join guards, so capacity and
// uniqueness are decided by the database, never by a read-check-write
// sequence in the client.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

// appendAttempts bounds the retry of a join whose guard branches both
// lost a race (e.g. the room emptied out between the two attempts).
const appendAttempts = 3

type Store struct {
	client *mongo.Client
	rooms  *mongo.Collection
}

func NewStore(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return &Store{
		client: client,
		rooms:  client.Database(database).Collection("rooms"),
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Client exposes the underlying connection for sibling collections
// (the profile sink shares it).
func (s *Store) Client() *mongo.Client { return s.client }

func (s *Store) Insert(ctx context.Context, room *domain.Room) (domain.RoomID, error) {
	doc := room.Clone()
	if doc.ID == "" {
		doc.ID = domain.RoomID(uuid.NewString())
	}
	doc.Version = 1
	doc.UserCount = len(doc.Participants)
	if doc.Participants == nil {
		doc.Participants = []domain.Participant{}
	}
	if _, err := s.rooms.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: insert: %v", domain.ErrStoreUnavailable, err)
	}
	return doc.ID, nil
}

func (s *Store) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	err := s.rooms.FindOne(ctx, bson.M{"_id": id, "isActive": true}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", domain.ErrStoreUnavailable, err)
	}
	return &room, nil
}

func (s *Store) AppendParticipant(ctx context.Context, id domain.RoomID, p domain.Participant) (*domain.Room, error) {
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for attempt := 0; attempt < appendAttempts; attempt++ {
		// First-joiner branch: only matches while the room is empty,
		// and assigns host in the same write.
		p.IsHost = true
		var room domain.Room
		err := s.rooms.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "isActive": true, "participants": bson.M{"$size": 0}},
			bson.M{
				"$push": bson.M{"participants": p},
				"$set":  bson.M{"hostId": p.UserID},
				"$inc":  bson.M{"userCount": 1, "version": 1},
			}, after).Decode(&room)
		if err == nil {
			return &room, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: append: %v", domain.ErrStoreUnavailable, err)
		}

		// Non-empty branch: capacity and uniqueness guards in the
		// filter commit together with the push or not at all.
		p.IsHost = false
		err = s.rooms.FindOneAndUpdate(ctx,
			bson.M{
				"_id":                 id,
				"isActive":            true,
				"participants.0":      bson.M{"$exists": true},
				"participants.userId": bson.M{"$ne": p.UserID},
				"$expr": bson.M{"$lt": bson.A{
					bson.M{"$size": "$participants"}, "$maxParticipants",
				}},
			},
			bson.M{
				"$push": bson.M{"participants": p},
				"$inc":  bson.M{"userCount": 1, "version": 1},
			}, after).Decode(&room)
		if err == nil {
			return &room, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: append: %v", domain.ErrStoreUnavailable, err)
		}

		// Neither guard matched: classify against the current document.
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.HasParticipant(p.UserID) {
			return nil, fmt.Errorf("append to %s: %w", id, domain.ErrAlreadyJoined)
		}
		if current.IsFull() {
			return nil, fmt.Errorf("append to %s: %w", id, domain.ErrRoomFull)
		}
		// The room changed shape between our two branches; try again.
	}
	return nil, fmt.Errorf("append to %s: %w", id, domain.ErrConcurrentModification)
}

func (s *Store) RemoveParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) (bool, *domain.Room, error) {
	var room domain.Room
	err := s.rooms.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "isActive": true, "participants.userId": uid},
		bson.M{
			"$pull": bson.M{"participants": bson.M{"userId": uid}},
			"$inc":  bson.M{"userCount": -1, "version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&room)
	if err == nil {
		return true, &room, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil, fmt.Errorf("%w: remove: %v", domain.ErrStoreUnavailable, err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return false, current, nil
}

func (s *Store) ReplaceMembership(ctx context.Context, id domain.RoomID, version int64, participants []domain.Participant, host domain.UserID) error {
	res, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": id, "isActive": true, "version": version},
		bson.M{
			"$set": bson.M{
				"participants": participants,
				"hostId":       host,
				"userCount":    len(participants),
			},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return fmt.Errorf("%w: replace membership: %v", domain.ErrStoreUnavailable, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("replace membership of %s: %w", id, domain.ErrConcurrentModification)
}

func (s *Store) SetParticipantFlags(ctx context.Context, id domain.RoomID, uid domain.UserID, flags core.ParticipantFlags) error {
	set := bson.M{}
	if flags.Muted != nil {
		set["participants.$.isMuted"] = *flags.Muted
	}
	if flags.Speaking != nil {
		set["participants.$.isSpeaking"] = *flags.Speaking
	}
	if len(set) == 0 {
		return nil
	}
	res, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": id, "isActive": true, "participants.userId": uid},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}})
	if err != nil {
		return fmt.Errorf("%w: set flags: %v", domain.ErrStoreUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("set flags in %s: %w", id, domain.ErrRoomNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.RoomID) error {
	if _, err := s.rooms.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) OpenRooms(ctx context.Context) ([]*domain.Room, error) {
	cursor, err := s.rooms.Find(ctx, bson.M{"isActive": true})
	if err != nil {
		return nil, fmt.Errorf("%w: open rooms: %v", domain.ErrStoreUnavailable, err)
	}
	defer cursor.Close(ctx)

	var rooms []*domain.Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("%w: open rooms: %v", domain.ErrStoreUnavailable, err)
	}
	return rooms, nil
}

// Watch tails the collection's change stream filtered to one document.
// The subscription runs on its own context so it outlives the request
// that opened it; the returned UnwatchFunc cancels it.
func (s *Store) Watch(ctx context.Context, id domain.RoomID, fn func(core.WatchEvent)) (core.UnwatchFunc, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": id}}},
	}
	stream, err := s.rooms.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("%w: watch: %v", domain.ErrStoreUnavailable, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			var ev struct {
				OperationType string       `bson:"operationType"`
				FullDocument  *domain.Room `bson:"fullDocument"`
			}
			if err := stream.Decode(&ev); err != nil {
				log.Warn().Err(err).Str("module", "mongostore").Str("room", string(id)).Msg("change stream decode")
				continue
			}
			switch ev.OperationType {
			case "delete":
				fn(core.WatchEvent{Deleted: true})
			default:
				if ev.FullDocument != nil {
					fn(core.WatchEvent{Room: ev.FullDocument})
				}
			}
		}
	}()
	return core.UnwatchFunc(cancel), nil
}
