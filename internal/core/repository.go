package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/domain"
)

// CreateRoomParams is the validated input for a new room.
type CreateRoomParams struct {
	Name            string
	Description     string
	Visibility      domain.Visibility
	MaxParticipants int
	CreatedBy       domain.UserID
	Location        *domain.Coordinates
}

// RepositoryOptions bounds the internal retries. Zero values fall back
// to the defaults below.
type RepositoryOptions struct {
	// ReadAttempts bounds retries of reads on transient store errors.
	ReadAttempts int
	// ReadBackoff is the delay between read retries.
	ReadBackoff time.Duration
}

const (
	defaultReadAttempts = 3
	defaultReadBackoff  = 100 * time.Millisecond
)

// Repository exposes typed room operations over a RoomStore: input
// validation, error classification and bounded read retries live here,
// atomicity lives in the store.
type Repository struct {
	store RoomStore
	opts  RepositoryOptions
}

func NewRepository(store RoomStore, opts RepositoryOptions) *Repository {
	if opts.ReadAttempts <= 0 {
		opts.ReadAttempts = defaultReadAttempts
	}
	if opts.ReadBackoff <= 0 {
		opts.ReadBackoff = defaultReadBackoff
	}
	return &Repository{store: store, opts: opts}
}

// CreateRoom validates params and writes an empty room. The first
// successful joiner becomes host; until then the room has none.
func (r *Repository) CreateRoom(ctx context.Context, params CreateRoomParams) (domain.RoomID, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", domain.ErrValidation)
	}
	if params.MaxParticipants <= 0 {
		return "", fmt.Errorf("%w: maxParticipants must be positive", domain.ErrValidation)
	}
	visibility := params.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	if !visibility.Valid() {
		return "", fmt.Errorf("%w: unknown visibility %q", domain.ErrValidation, params.Visibility)
	}

	room := &domain.Room{
		Name:            name,
		Description:     params.Description,
		Visibility:      visibility,
		Participants:    []domain.Participant{},
		MaxParticipants: params.MaxParticipants,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
		CreatedBy:       params.CreatedBy,
		Location:        params.Location,
	}
	id, err := r.store.Insert(ctx, room)
	if err != nil {
		return "", err
	}
	log.Info().Str("module", "core.repository").Str("room", string(id)).Str("name", name).Msg("room created")
	return id, nil
}

// GetRoom reads one room, retrying transient store errors.
func (r *Repository) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var lastErr error
	for attempt := 0; attempt < r.opts.ReadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.opts.ReadBackoff):
			}
		}
		room, err := r.store.Get(ctx, id)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// AddParticipant delegates to the store's atomic conditional append.
// Never a read-check-write sequence: concurrent joiners racing for the
// last seat are decided inside the store.
func (r *Repository) AddParticipant(ctx context.Context, id domain.RoomID, p domain.Participant) (*domain.Room, error) {
	return r.store.AppendParticipant(ctx, id, p)
}

// RemoveParticipant atomically removes uid, returning whether it was
// present and the post-removal snapshot.
func (r *Repository) RemoveParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) (bool, *domain.Room, error) {
	return r.store.RemoveParticipant(ctx, id, uid)
}

// ReplaceMembership installs a corrected participant list under a
// version guard. Used by host migration.
func (r *Repository) ReplaceMembership(ctx context.Context, id domain.RoomID, version int64, participants []domain.Participant, host domain.UserID) error {
	return r.store.ReplaceMembership(ctx, id, version, participants, host)
}

// SetParticipantFlags updates mute/speaking state for one member.
func (r *Repository) SetParticipantFlags(ctx context.Context, id domain.RoomID, uid domain.UserID, flags ParticipantFlags) error {
	return r.store.SetParticipantFlags(ctx, id, uid, flags)
}

// DeleteRoom is idempotent; deleting an already-deleted room succeeds.
func (r *Repository) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("module", "core.repository").Str("room", string(id)).Msg("room deleted")
	return nil
}

// OpenRooms lists active rooms, retrying transient store errors.
func (r *Repository) OpenRooms(ctx context.Context) ([]*domain.Room, error) {
	var lastErr error
	for attempt := 0; attempt < r.opts.ReadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.opts.ReadBackoff):
			}
		}
		rooms, err := r.store.OpenRooms(ctx)
		if err == nil {
			return rooms, nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Watch registers a push listener for one room.
func (r *Repository) Watch(ctx context.Context, id domain.RoomID, fn func(WatchEvent)) (UnwatchFunc, error) {
	return r.store.Watch(ctx, id, fn)
}
