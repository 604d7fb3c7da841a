package domain

import "errors"

// Sentinel errors for the coordinator. Callers classify with errors.Is;
// wrapping with fmt.Errorf("...: %w", err) is expected along the way.
var (
	// ErrValidation covers bad input rejected before any store call.
	ErrValidation = errors.New("invalid room parameters")

	// ErrRoomNotFound is a hard failure for join and a no-op for leave.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull means the capacity guard rejected the join.
	ErrRoomFull = errors.New("room is full")

	// ErrAlreadyJoined marks an idempotent rejoin. It never reaches a
	// well-behaved caller: the state machine converts it to success.
	ErrAlreadyJoined = errors.New("already joined")

	// ErrConcurrentModification surfaces only after the bounded
	// compare-and-swap retries are exhausted.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrStoreUnavailable wraps transport failures talking to the store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLockBusy means this client already has a join in flight or is
	// still inside the cooldown window.
	ErrLockBusy = errors.New("join already in progress")

	// ErrNoRoomAvailable means quick entry could neither join nor
	// create a room.
	ErrNoRoomAvailable = errors.New("no room available")
)
