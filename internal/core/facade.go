package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/domain"
)

// LocationFix is the best-effort answer of a location provider: device
// coordinates, or a network-derived approximation with a city name.
type LocationFix struct {
	Coords      domain.Coordinates
	City        string
	Approximate bool
}

// LocationProvider is a black-box boundary; absence of a fix is normal
// and degrades quick entry to "no distance filter".
type LocationProvider interface {
	Locate(ctx context.Context) (*LocationFix, error)
}

// Session is the explicit, caller-owned presence state of one client:
// identity, the room it is currently in, and its private JoinLock.
// Never package-level. A UI surface that wants its own presence owns
// its own Session.
type Session struct {
	UserID      domain.UserID
	DisplayName string
	PhotoURL    string
	Level       int

	CurrentRoomID domain.RoomID

	lock *JoinLock
}

func NewSession(uid domain.UserID, displayName string, cooldown time.Duration) *Session {
	return &Session{
		UserID:      uid,
		DisplayName: displayName,
		lock:        NewJoinLock(cooldown),
	}
}

// Lock exposes the session's join lock for UI concerns (remaining
// cooldown display, administrative reset).
func (s *Session) Lock() *JoinLock { return s.lock }

// EntryResult is the facade's terminal outcome. Err carries the
// classified failure; Message is a short, per-kind human answer so the
// UI can decide whether to retry, wait or pick another room.
type EntryResult struct {
	Success  bool
	RoomID   domain.RoomID
	RoomName string
	Created  bool
	Message  string
	Err      error
}

// Facade is the public entry point of the coordinator, composing
// JoinLock, proximity matching and the membership state machine.
// Errors are always returned inside the result, never panicked across
// this boundary.
type Facade struct {
	matcher    *Matcher
	membership *Membership
	locator    LocationProvider
}

func NewFacade(matcher *Matcher, membership *Membership, locator LocationProvider) *Facade {
	return &Facade{matcher: matcher, membership: membership, locator: locator}
}

// HandleQuickEntry runs the find-or-create-then-join flow for the
// session. The join lock is taken before any store call and released
// on every path. Cancellation observed after the join committed is
// compensated by an immediate leave: "cancel" means
// join-then-immediately-leave, not a mid-flight abort.
func (f *Facade) HandleQuickEntry(ctx context.Context, sess *Session) EntryResult {
	if !sess.lock.TryAcquire() {
		return entryFailure(domain.ErrLockBusy)
	}
	defer sess.lock.Release()

	req := QuickEntryRequest{
		UserID:      sess.UserID,
		DisplayName: sess.DisplayName,
		PhotoURL:    sess.PhotoURL,
		Level:       sess.Level,
	}
	if f.locator != nil {
		if fix, err := f.locator.Locate(ctx); err != nil {
			log.Warn().Err(err).Str("module", "core.facade").Msg("location unavailable, matching without distance filter")
		} else if fix != nil {
			coords := fix.Coords
			req.Coords = &coords
			req.City = fix.City
		}
	}

	res, err := f.matcher.QuickEntry(ctx, req)
	if err != nil {
		return entryFailure(err)
	}
	if ctx.Err() != nil {
		// Committed server-side, but the caller is gone: leave rather
		// than strand an orphaned membership.
		f.compensate(sess.UserID, res.RoomID)
		return entryFailure(ctx.Err())
	}

	sess.CurrentRoomID = res.RoomID
	return EntryResult{
		Success:  true,
		RoomID:   res.RoomID,
		RoomName: res.RoomName,
		Created:  res.Created,
	}
}

// HandleJoinRoom joins one specific room, lock-guarded like quick
// entry. This backs the room directory's explicit join.
func (f *Facade) HandleJoinRoom(ctx context.Context, sess *Session, id domain.RoomID) EntryResult {
	if !sess.lock.TryAcquire() {
		return entryFailure(domain.ErrLockBusy)
	}
	defer sess.lock.Release()

	room, err := f.membership.Join(ctx, JoinRequest{
		RoomID:      id,
		UserID:      sess.UserID,
		DisplayName: sess.DisplayName,
		PhotoURL:    sess.PhotoURL,
		Level:       sess.Level,
	})
	if err != nil {
		return entryFailure(err)
	}
	if ctx.Err() != nil {
		f.compensate(sess.UserID, id)
		return entryFailure(ctx.Err())
	}

	sess.CurrentRoomID = room.ID
	return EntryResult{Success: true, RoomID: room.ID, RoomName: room.Name}
}

// HandleSafeExit leaves the session's current room. Not being in any
// room is success, and leaving is never subject to the join cooldown.
func (f *Facade) HandleSafeExit(ctx context.Context, sess *Session) error {
	id := sess.CurrentRoomID
	if id == "" {
		return nil
	}
	if err := f.membership.Leave(ctx, id, sess.UserID); err != nil {
		return err
	}
	sess.CurrentRoomID = ""
	return nil
}

// compensate undoes a committed join whose caller vanished. Runs on a
// fresh context since the caller's one is already done.
func (f *Facade) compensate(uid domain.UserID, id domain.RoomID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.membership.Leave(ctx, id, uid); err != nil {
		log.Warn().Err(err).Str("module", "core.facade").Str("room", string(id)).Str("user", string(uid)).Msg("compensating leave failed")
	}
}

func entryFailure(err error) EntryResult {
	return EntryResult{Success: false, Err: err, Message: FailureMessage(err)}
}

// FailureMessage maps an error to the short per-kind text the UI
// shows. Each kind stays distinguishable so the UI can choose between
// retrying, waiting out the cooldown, or trying another room.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrLockBusy):
		return "already joining"
	case errors.Is(err, domain.ErrRoomFull):
		return "room is full"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, domain.ErrNoRoomAvailable):
		return "no room available right now"
	case errors.Is(err, domain.ErrValidation):
		return "invalid request"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "room is busy, try again"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "service unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "something went wrong"
	}
}
