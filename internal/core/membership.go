package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/domain"
)

// ProfileSink is the fire-and-forget "current room" pointer on the
// user's profile. Failures are logged by the caller, never propagated:
// the store gives no cross-document ordering, so this update can only
// ever be best-effort.
type ProfileSink interface {
	SetCurrentRoom(ctx context.Context, uid domain.UserID, room domain.RoomID) error
	ClearCurrentRoom(ctx context.Context, uid domain.UserID) error
}

// NoopProfiles discards profile updates.
type NoopProfiles struct{}

func (NoopProfiles) SetCurrentRoom(context.Context, domain.UserID, domain.RoomID) error { return nil }
func (NoopProfiles) ClearCurrentRoom(context.Context, domain.UserID) error              { return nil }

// JoinRequest identifies who joins which room.
type JoinRequest struct {
	RoomID      domain.RoomID
	UserID      domain.UserID
	DisplayName string
	PhotoURL    string
	Level       int
}

// migrationAttempts bounds the compare-and-swap loop of a host
// migration racing other leavers.
const migrationAttempts = 3

// Membership is the room lifecycle state machine: join, leave, host
// migration and auto-teardown. All shared-state mutation goes through
// the repository's atomic operations; this type only decides what to
// write.
type Membership struct {
	repo     *Repository
	profiles ProfileSink
}

func NewMembership(repo *Repository, profiles ProfileSink) *Membership {
	if profiles == nil {
		profiles = NoopProfiles{}
	}
	return &Membership{repo: repo, profiles: profiles}
}

// Join adds the user to the room. Rejoining is a no-op success so
// callers can retry after timeouts without special-casing. The first
// successful joiner becomes host; in anonymous rooms the stored name
// and photo are replaced by the placeholder.
func (m *Membership) Join(ctx context.Context, req JoinRequest) (*domain.Room, error) {
	room, err := m.repo.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if room.HasParticipant(req.UserID) {
		return room, nil
	}
	if room.IsFull() {
		return nil, fmt.Errorf("join %s: %w", req.RoomID, domain.ErrRoomFull)
	}

	p := domain.NewParticipant(req.UserID, req.DisplayName, req.PhotoURL, req.Level, room.Visibility, time.Now().UTC())
	after, err := m.repo.AddParticipant(ctx, req.RoomID, p)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyJoined) {
			// Lost a race against our own retry; the membership is
			// there, which is all the caller asked for.
			return m.repo.GetRoom(ctx, req.RoomID)
		}
		return nil, err
	}

	if err := m.profiles.SetCurrentRoom(ctx, req.UserID, req.RoomID); err != nil {
		log.Warn().Err(err).Str("module", "core.membership").Str("user", string(req.UserID)).Msg("profile currentRoomId update failed")
	}
	log.Info().Str("module", "core.membership").Str("room", string(req.RoomID)).Str("user", string(req.UserID)).Bool("host", after.HostID == req.UserID).Msg("joined room")
	return after, nil
}

// Leave removes the user from the room. A missing room or membership
// is treated as already-left. Leaving as last participant deletes the
// room; leaving as host migrates host status to the earliest remaining
// joiner.
func (m *Membership) Leave(ctx context.Context, id domain.RoomID, uid domain.UserID) error {
	removed, after, err := m.repo.RemoveParticipant(ctx, id, uid)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	if len(after.Participants) == 0 {
		if err := m.repo.DeleteRoom(ctx, id); err != nil {
			return err
		}
		m.clearProfile(ctx, uid)
		log.Info().Str("module", "core.membership").Str("room", string(id)).Str("user", string(uid)).Msg("last participant left, room deleted")
		return nil
	}

	if err := m.migrateHostIfNeeded(ctx, id, uid, after); err != nil {
		return err
	}
	m.clearProfile(ctx, uid)
	log.Info().Str("module", "core.membership").Str("room", string(id)).Str("user", string(uid)).Msg("left room")
	return nil
}

// migrateHostIfNeeded rewrites host flags when the leaver held host
// status. Earliest joinedAt wins, deterministically, so redundant
// migrations computed by different clients converge. The write is a
// version-guarded swap retried a bounded number of times against
// concurrent leavers.
func (m *Membership) migrateHostIfNeeded(ctx context.Context, id domain.RoomID, left domain.UserID, snapshot *domain.Room) error {
	room := snapshot
	for attempt := 0; attempt < migrationAttempts; attempt++ {
		if room.HostID != left && hasHost(room.Participants) {
			return nil
		}
		participants := make([]domain.Participant, len(room.Participants))
		copy(participants, room.Participants)
		domain.SortByJoin(participants)
		host, ok := domain.ElectHost(participants)
		if !ok {
			return nil
		}
		domain.AssignHost(participants, host)

		err := m.repo.ReplaceMembership(ctx, id, room.Version, participants, host)
		if err == nil {
			log.Info().Str("module", "core.membership").Str("room", string(id)).Str("host", string(host)).Msg("host migrated")
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			if errors.Is(err, domain.ErrRoomNotFound) {
				return nil
			}
			return err
		}
		room, err = m.repo.GetRoom(ctx, id)
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(room.Participants) == 0 {
			return m.repo.DeleteRoom(ctx, id)
		}
	}
	return fmt.Errorf("host migration for %s: %w", id, domain.ErrConcurrentModification)
}

// SetFlags updates a member's transient voice state.
func (m *Membership) SetFlags(ctx context.Context, id domain.RoomID, uid domain.UserID, flags ParticipantFlags) error {
	return m.repo.SetParticipantFlags(ctx, id, uid, flags)
}

func (m *Membership) clearProfile(ctx context.Context, uid domain.UserID) {
	if err := m.profiles.ClearCurrentRoom(ctx, uid); err != nil {
		log.Warn().Err(err).Str("module", "core.membership").Str("user", string(uid)).Msg("profile currentRoomId clear failed")
	}
}

func hasHost(participants []domain.Participant) bool {
	for i := range participants {
		if participants[i].IsHost {
			return true
		}
	}
	return false
}
