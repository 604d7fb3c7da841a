// Package core holds the coordinator's algorithms and the boundary
// interfaces its adapters implement.
package core

import (
	"context"

	"github.com/wisp-social/roomcore/internal/domain"
)

// WatchEvent is one push from the store: either a full room snapshot
// or a tombstone after deletion.
type WatchEvent struct {
	Room    *domain.Room
	Deleted bool
}

// UnwatchFunc tears down one subscription. Safe to call twice.
type UnwatchFunc func()

// ParticipantFlags carries the transient voice-state fields; nil means
// leave the field untouched.
type ParticipantFlags struct {
	Muted    *bool
	Speaking *bool
}

// RoomStore is the document-store boundary. Implementations must make
// every mutation atomic with respect to concurrent callers on the same
// room: the capacity and uniqueness guards of AppendParticipant commit
// together with the append or not at all. Stores without native
// conditional updates satisfy this with a version-guarded
// read-modify-write loop and report exhaustion as
// domain.ErrConcurrentModification.
type RoomStore interface {
	// Insert writes a new room document and returns its id. The store
	// assigns the id when room.ID is empty.
	Insert(ctx context.Context, room *domain.Room) (domain.RoomID, error)

	// Get returns a snapshot of an active room, or
	// domain.ErrRoomNotFound for missing or deactivated documents.
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)

	// AppendParticipant atomically appends p, increments userCount and,
	// when the room was empty at commit time, assigns p as host
	// (p.IsHost is ignored on input). Fails with domain.ErrRoomFull,
	// domain.ErrAlreadyJoined or domain.ErrRoomNotFound; returns the
	// post-append snapshot on success.
	AppendParticipant(ctx context.Context, id domain.RoomID, p domain.Participant) (*domain.Room, error)

	// RemoveParticipant atomically removes uid and decrements
	// userCount. removed reports whether uid was present; the returned
	// snapshot is the post-removal document, so the caller can decide
	// auto-delete or host migration without a second read.
	RemoveParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) (removed bool, after *domain.Room, err error)

	// ReplaceMembership is the compare-and-swap write used by host
	// migration: it installs the given participant list and host id
	// (and a matching userCount) only when the document version still
	// equals version, else domain.ErrConcurrentModification.
	ReplaceMembership(ctx context.Context, id domain.RoomID, version int64, participants []domain.Participant, host domain.UserID) error

	// SetParticipantFlags updates a member's voice-state flags without
	// touching membership.
	SetParticipantFlags(ctx context.Context, id domain.RoomID, uid domain.UserID, flags ParticipantFlags) error

	// Delete removes the room document. Deleting an absent room is a
	// no-op, not an error.
	Delete(ctx context.Context, id domain.RoomID) error

	// OpenRooms lists active rooms for proximity matching and the room
	// directory. Ordering is unspecified.
	OpenRooms(ctx context.Context) ([]*domain.Room, error)

	// Watch registers a push listener for one room. Every subscriber
	// receives every update, in order, until unsubscribed; deletion is
	// delivered as a tombstone event.
	Watch(ctx context.Context, id domain.RoomID, fn func(WatchEvent)) (UnwatchFunc, error)
}
