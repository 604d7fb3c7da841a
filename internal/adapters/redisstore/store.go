// Package redisstore implements RoomStore on Redis. Redis has no
// conditional array append, so every mutation is an optimistic
// WATCH/MULTI compare-and-swap on the room key, retried a bounded
// number of times before surfacing ErrConcurrentModification. Change
// notification rides Pub/Sub.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

const casAttempts = 3

type Store struct {
	rdb *redis.Client
}

func NewStore(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %v", domain.ErrValidation, err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func roomKey(id domain.RoomID) string  { return "room:" + string(id) }
func roomCast(id domain.RoomID) string { return "roomcast:" + string(id) }

const openSetKey = "rooms:open"

// castEnvelope is what Pub/Sub carries: a snapshot or a tombstone.
type castEnvelope struct {
	Deleted bool         `json:"deleted"`
	Room    *domain.Room `json:"room,omitempty"`
}

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
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode room: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, roomKey(doc.ID), data, 0).Result()
	if err != nil {
		return "", fmt.Errorf("%w: insert: %v", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: duplicate room id %s", domain.ErrValidation, doc.ID)
	}
	if err := s.rdb.SAdd(ctx, openSetKey, string(doc.ID)).Err(); err != nil {
		return "", fmt.Errorf("%w: insert index: %v", domain.ErrStoreUnavailable, err)
	}
	s.publish(ctx, doc.ID, castEnvelope{Room: doc})
	return doc.ID, nil
}

func (s *Store) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := s.rdb.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", domain.ErrStoreUnavailable, err)
	}
	room, err := decodeRoom(data)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	return room, nil
}

func (s *Store) AppendParticipant(ctx context.Context, id domain.RoomID, p domain.Participant) (*domain.Room, error) {
	return s.casUpdate(ctx, id, func(room *domain.Room) error {
		if room.HasParticipant(p.UserID) {
			return fmt.Errorf("append to %s: %w", id, domain.ErrAlreadyJoined)
		}
		if room.IsFull() {
			return fmt.Errorf("append to %s: %w", id, domain.ErrRoomFull)
		}
		p.IsHost = len(room.Participants) == 0
		room.Participants = append(room.Participants, p)
		room.UserCount++
		if p.IsHost {
			room.HostID = p.UserID
		}
		return nil
	})
}

func (s *Store) RemoveParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) (bool, *domain.Room, error) {
	removed := false
	after, err := s.casUpdate(ctx, id, func(room *domain.Room) error {
		removed = false
		for i := range room.Participants {
			if room.Participants[i].UserID == uid {
				room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
				room.UserCount--
				removed = true
				return nil
			}
		}
		return errNoChange
	})
	if errors.Is(err, errNoChange) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return false, nil, getErr
		}
		return false, current, nil
	}
	if err != nil {
		return false, nil, err
	}
	return removed, after, nil
}

func (s *Store) ReplaceMembership(ctx context.Context, id domain.RoomID, version int64, participants []domain.Participant, host domain.UserID) error {
	_, err := s.casUpdate(ctx, id, func(room *domain.Room) error {
		if room.Version != version {
			return fmt.Errorf("replace membership of %s: %w", id, domain.ErrConcurrentModification)
		}
		room.Participants = make([]domain.Participant, len(participants))
		copy(room.Participants, participants)
		room.HostID = host
		room.UserCount = len(participants)
		return nil
	})
	return err
}

func (s *Store) SetParticipantFlags(ctx context.Context, id domain.RoomID, uid domain.UserID, flags core.ParticipantFlags) error {
	_, err := s.casUpdate(ctx, id, func(room *domain.Room) error {
		for i := range room.Participants {
			if room.Participants[i].UserID != uid {
				continue
			}
			if flags.Muted != nil {
				room.Participants[i].IsMuted = *flags.Muted
			}
			if flags.Speaking != nil {
				room.Participants[i].IsSpeaking = *flags.Speaking
			}
			return nil
		}
		return fmt.Errorf("set flags in %s: user %s: %w", id, uid, domain.ErrRoomNotFound)
	})
	return err
}

func (s *Store) Delete(ctx context.Context, id domain.RoomID) error {
	deleted, err := s.rdb.Del(ctx, roomKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrStoreUnavailable, err)
	}
	if err := s.rdb.SRem(ctx, openSetKey, string(id)).Err(); err != nil {
		return fmt.Errorf("%w: delete index: %v", domain.ErrStoreUnavailable, err)
	}
	if deleted > 0 {
		s.publish(ctx, id, castEnvelope{Deleted: true})
	}
	return nil
}

func (s *Store) OpenRooms(ctx context.Context) ([]*domain.Room, error) {
	ids, err := s.rdb.SMembers(ctx, openSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: open rooms: %v", domain.ErrStoreUnavailable, err)
	}
	rooms := make([]*domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.Get(ctx, domain.RoomID(id))
		if errors.Is(err, domain.ErrRoomNotFound) {
			// Index entry outlived its room; drop it lazily.
			s.rdb.SRem(ctx, openSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (s *Store) Watch(ctx context.Context, id domain.RoomID, fn func(core.WatchEvent)) (core.UnwatchFunc, error) {
	sub := s.rdb.Subscribe(ctx, roomCast(id))
	// Force the subscription onto the wire before returning, so no
	// update published after Watch returns can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: watch: %v", domain.ErrStoreUnavailable, err)
	}

	go func() {
		for msg := range sub.Channel() {
			var env castEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Str("module", "redisstore").Str("room", string(id)).Msg("bad cast payload")
				continue
			}
			if env.Deleted {
				fn(core.WatchEvent{Deleted: true})
				continue
			}
			fn(core.WatchEvent{Room: env.Room})
		}
	}()
	return func() { _ = sub.Close() }, nil
}

// errNoChange aborts a CAS transaction without writing.
var errNoChange = errors.New("no change")

// casUpdate runs one optimistic read-mutate-write cycle under WATCH,
// retrying on transaction conflicts. The mutate callback sees a fresh
// decode each attempt.
func (s *Store) casUpdate(ctx context.Context, id domain.RoomID, mutate func(*domain.Room) error) (*domain.Room, error) {
	key := roomKey(id)
	var result *domain.Room

	for attempt := 0; attempt < casAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
			}
			if err != nil {
				return fmt.Errorf("%w: cas read: %v", domain.ErrStoreUnavailable, err)
			}
			room, err := decodeRoom(data)
			if err != nil {
				return err
			}
			if !room.IsActive {
				return fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
			}
			if err := mutate(room); err != nil {
				return err
			}
			room.Version++

			encoded, err := json.Marshal(room)
			if err != nil {
				return fmt.Errorf("encode room: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				pipe.Publish(ctx, roomCast(id), encodeCast(castEnvelope{Room: room}))
				return nil
			})
			if err != nil {
				return err
			}
			result = room
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("update of %s: %w", id, domain.ErrConcurrentModification)
}

func (s *Store) publish(ctx context.Context, id domain.RoomID, env castEnvelope) {
	if err := s.rdb.Publish(ctx, roomCast(id), encodeCast(env)).Err(); err != nil {
		log.Warn().Err(err).Str("module", "redisstore").Str("room", string(id)).Msg("publish failed")
	}
}

func encodeCast(env castEnvelope) []byte {
	data, _ := json.Marshal(env)
	return data
}

func decodeRoom(data []byte) (*domain.Room, error) {
	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	return &room, nil
}
