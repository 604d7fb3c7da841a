package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

func seedRoom(t *testing.T, s *Store, capacity int) domain.RoomID {
	t.Helper()
	id, err := s.Insert(context.Background(), &domain.Room{
		Name:            "seed",
		Visibility:      domain.VisibilityPublic,
		Participants:    []domain.Participant{},
		MaxParticipants: capacity,
		IsActive:        true,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestAppendAssignsHostToFirstJoiner(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 3)

	room, err := s.AppendParticipant(ctx, id, domain.Participant{UserID: "A", JoinedAt: time.Now()})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if room.HostID != "A" || !room.Participants[0].IsHost {
		t.Error("first appended participant must be host")
	}

	room, err = s.AppendParticipant(ctx, id, domain.Participant{UserID: "B", IsHost: true, JoinedAt: time.Now()})
	if err != nil {
		t.Fatalf("append B: %v", err)
	}
	if room.Participants[1].IsHost {
		t.Error("input IsHost must be ignored for non-first joiners")
	}
	if room.HostID != "A" {
		t.Errorf("host moved unexpectedly to %s", room.HostID)
	}
}

func TestAppendGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 1)

	if _, err := s.AppendParticipant(ctx, id, domain.Participant{UserID: "A"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendParticipant(ctx, id, domain.Participant{UserID: "A"}); !errors.Is(err, domain.ErrAlreadyJoined) {
		t.Errorf("expected ErrAlreadyJoined, got %v", err)
	}
	if _, err := s.AppendParticipant(ctx, id, domain.Participant{UserID: "B"}); !errors.Is(err, domain.ErrRoomFull) {
		t.Errorf("expected ErrRoomFull, got %v", err)
	}
	if _, err := s.AppendParticipant(ctx, "missing", domain.Participant{UserID: "C"}); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRemoveReturnsRemaining(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 3)
	s.AppendParticipant(ctx, id, domain.Participant{UserID: "A"})
	s.AppendParticipant(ctx, id, domain.Participant{UserID: "B"})

	removed, after, err := s.RemoveParticipant(ctx, id, "A")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("expected removal")
	}
	if len(after.Participants) != 1 || after.Participants[0].UserID != "B" {
		t.Error("post-removal snapshot wrong")
	}
	if after.UserCount != 1 {
		t.Errorf("userCount not decremented: %d", after.UserCount)
	}

	removed, after, err = s.RemoveParticipant(ctx, id, "A")
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed {
		t.Error("removing an absent member must report removed=false")
	}
	if len(after.Participants) != 1 {
		t.Error("absent removal must not change the list")
	}
}

func TestReplaceMembershipVersionGuard(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 3)
	s.AppendParticipant(ctx, id, domain.Participant{UserID: "A"})
	room, _ := s.Get(ctx, id)

	participants := []domain.Participant{{UserID: "A", IsHost: true}}
	if err := s.ReplaceMembership(ctx, id, room.Version, participants, "A"); err != nil {
		t.Fatalf("replace with fresh version: %v", err)
	}
	if err := s.ReplaceMembership(ctx, id, room.Version, participants, "A"); !errors.Is(err, domain.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification on stale version, got %v", err)
	}
}

func TestSnapshotsDoNotAliasStoreState(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 3)
	s.AppendParticipant(ctx, id, domain.Participant{UserID: "A", DisplayName: "Alice"})

	snap, _ := s.Get(ctx, id)
	snap.Participants[0].DisplayName = "mutated"
	snap.Name = "mutated"

	fresh, _ := s.Get(ctx, id)
	if fresh.Participants[0].DisplayName != "Alice" || fresh.Name != "seed" {
		t.Error("caller mutation leaked into store state")
	}
}

func TestDeleteIdempotentAndTombstone(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 3)

	got := make(chan core.WatchEvent, 8)
	unwatch, err := s.Watch(ctx, id, func(ev core.WatchEvent) { got <- ev })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer unwatch()

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("repeat delete must be a no-op, got %v", err)
	}

	select {
	case ev := <-got:
		if !ev.Deleted {
			t.Error("expected tombstone event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tombstone")
	}

	if _, err := s.Get(ctx, id); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound after delete, got %v", err)
	}
}

func TestWatchOrderPreserved(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 10)

	counts := make(chan int, 16)
	unwatch, err := s.Watch(ctx, id, func(ev core.WatchEvent) {
		if ev.Room != nil {
			counts <- len(ev.Room.Participants)
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer unwatch()

	for i, uid := range []domain.UserID{"a", "b", "c", "d"} {
		if _, err := s.AppendParticipant(ctx, id, domain.Participant{UserID: uid}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	want := 1
	deadline := time.After(time.Second)
	for want <= 4 {
		select {
		case n := <-counts:
			if n != want {
				t.Fatalf("events out of order: got %d participants, want %d", n, want)
			}
			want++
		case <-deadline:
			t.Fatal("timed out waiting for ordered events")
		}
	}
}

func TestUnwatchStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := seedRoom(t, s, 10)

	events := make(chan struct{}, 8)
	unwatch, err := s.Watch(ctx, id, func(core.WatchEvent) {
		events <- struct{}{}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	s.AppendParticipant(ctx, id, domain.Participant{UserID: "a"})
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("first event never delivered")
	}

	unwatch()
	unwatch() // safe to call twice

	s.AppendParticipant(ctx, id, domain.Participant{UserID: "b"})
	select {
	case <-events:
		t.Error("event delivered after unwatch")
	case <-time.After(50 * time.Millisecond):
	}
}
