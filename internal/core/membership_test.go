package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wisp-social/roomcore/internal/adapters/memstore"
	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

func newMembership(t *testing.T) (*core.Membership, *core.Repository) {
	t.Helper()
	repo := core.NewRepository(memstore.New(), core.RepositoryOptions{})
	return core.NewMembership(repo, nil), repo
}

func createRoom(t *testing.T, repo *core.Repository, capacity int, visibility domain.Visibility) domain.RoomID {
	t.Helper()
	id, err := repo.CreateRoom(context.Background(), core.CreateRoomParams{
		Name:            "test room",
		Visibility:      visibility,
		MaxParticipants: capacity,
		CreatedBy:       "creator",
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return id
}

func join(t *testing.T, m *core.Membership, id domain.RoomID, uid domain.UserID) *domain.Room {
	t.Helper()
	room, err := m.Join(context.Background(), core.JoinRequest{
		RoomID:      id,
		UserID:      uid,
		DisplayName: string(uid),
		Level:       1,
	})
	if err != nil {
		t.Fatalf("join %s: %v", uid, err)
	}
	return room
}

func TestRoomLifecycleScenario(t *testing.T) {
	m, repo := newMembership(t)
	ctx := context.Background()
	id := createRoom(t, repo, 2, domain.VisibilityPublic)

	// A joins: 1 participant, A is host.
	room := join(t, m, id, "A")
	if len(room.Participants) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(room.Participants))
	}
	if room.HostID != "A" || !room.Participants[0].IsHost {
		t.Fatal("first joiner must become host")
	}

	// B joins: 2 participants, A still host.
	room = join(t, m, id, "B")
	if len(room.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(room.Participants))
	}
	if room.HostID != "A" {
		t.Errorf("host must stay A, got %s", room.HostID)
	}

	// C bounces off the full room.
	_, err := m.Join(ctx, core.JoinRequest{RoomID: id, UserID: "C", DisplayName: "C"})
	if !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}

	// A leaves: B inherits host.
	if err := m.Leave(ctx, id, "A"); err != nil {
		t.Fatalf("leave A: %v", err)
	}
	room, err = repo.GetRoom(ctx, id)
	if err != nil {
		t.Fatalf("get after A left: %v", err)
	}
	if len(room.Participants) != 1 || room.HostID != "B" || !room.Participants[0].IsHost {
		t.Fatalf("expected B as sole host, got host=%s participants=%d", room.HostID, len(room.Participants))
	}

	// B leaves: room is gone.
	if err := m.Leave(ctx, id, "B"); err != nil {
		t.Fatalf("leave B: %v", err)
	}
	if _, err := repo.GetRoom(ctx, id); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room deleted, got %v", err)
	}
}

func TestJoinIdempotent(t *testing.T) {
	m, repo := newMembership(t)
	id := createRoom(t, repo, 4, domain.VisibilityPublic)

	join(t, m, id, "A")
	room := join(t, m, id, "A")

	if len(room.Participants) != 1 {
		t.Fatalf("rejoin must not duplicate membership, got %d entries", len(room.Participants))
	}
	if room.UserCount != 1 {
		t.Errorf("userCount out of sync: %d", room.UserCount)
	}
}

func TestJoinMissingRoom(t *testing.T) {
	m, _ := newMembership(t)

	_, err := m.Join(context.Background(), core.JoinRequest{RoomID: "nope", UserID: "A"})
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestLeaveIsNoOpWhenAbsent(t *testing.T) {
	m, repo := newMembership(t)
	id := createRoom(t, repo, 4, domain.VisibilityPublic)
	join(t, m, id, "A")

	if err := m.Leave(context.Background(), "missing-room", "A"); err != nil {
		t.Errorf("leave of missing room must be a no-op, got %v", err)
	}
	if err := m.Leave(context.Background(), id, "stranger"); err != nil {
		t.Errorf("leave of non-member must be a no-op, got %v", err)
	}
}

func TestAnonymousRoomHidesIdentity(t *testing.T) {
	m, repo := newMembership(t)
	id := createRoom(t, repo, 4, domain.VisibilityAnonymous)

	room, err := m.Join(context.Background(), core.JoinRequest{
		RoomID:      id,
		UserID:      "u1",
		DisplayName: "Alice",
		PhotoURL:    "https://example.com/alice.png",
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	p := room.Participants[0]
	if p.DisplayName != domain.AnonymousDisplayName {
		t.Errorf("expected anonymous placeholder, got %q", p.DisplayName)
	}
	if p.PhotoURL != "" {
		t.Errorf("expected no photo, got %q", p.PhotoURL)
	}
}

func TestHostMigrationDeterminism(t *testing.T) {
	m, repo := newMembership(t)
	ctx := context.Background()
	id := createRoom(t, repo, 4, domain.VisibilityPublic)

	// Joins are sequential, so t1 < t2 < t3 in join order.
	join(t, m, id, "first")
	time.Sleep(2 * time.Millisecond)
	join(t, m, id, "second")
	time.Sleep(2 * time.Millisecond)
	join(t, m, id, "third")

	if err := m.Leave(ctx, id, "first"); err != nil {
		t.Fatalf("host leave: %v", err)
	}

	room, err := repo.GetRoom(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if room.HostID != "second" {
		t.Errorf("expected second-earliest joiner as host, got %s", room.HostID)
	}
	hosts := 0
	for _, p := range room.Participants {
		if p.IsHost {
			hosts++
			if p.UserID != "second" {
				t.Errorf("IsHost flag on %s, want second", p.UserID)
			}
		}
	}
	if hosts != 1 {
		t.Errorf("expected exactly one isHost flag, got %d", hosts)
	}
}

func TestNonHostLeaveKeepsHost(t *testing.T) {
	m, repo := newMembership(t)
	ctx := context.Background()
	id := createRoom(t, repo, 4, domain.VisibilityPublic)

	join(t, m, id, "A")
	join(t, m, id, "B")
	join(t, m, id, "C")

	if err := m.Leave(ctx, id, "B"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	room, _ := repo.GetRoom(ctx, id)
	if room.HostID != "A" {
		t.Errorf("host must not move when a non-host leaves, got %s", room.HostID)
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	m, repo := newMembership(t)
	ctx := context.Background()
	const capacity = 3
	const joiners = 20
	id := createRoom(t, repo, capacity, domain.VisibilityPublic)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := m.Join(ctx, core.JoinRequest{
				RoomID:      id,
				UserID:      domain.UserID(fmt.Sprintf("user-%02d", n)),
				DisplayName: "racer",
			})
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrRoomFull) {
				t.Errorf("unexpected join error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if admitted != capacity {
		t.Errorf("expected exactly %d admitted, got %d", capacity, admitted)
	}
	room, err := repo.GetRoom(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(room.Participants) != capacity {
		t.Errorf("committed participants %d exceed capacity %d", len(room.Participants), capacity)
	}
	if room.UserCount != capacity {
		t.Errorf("userCount out of sync: %d", room.UserCount)
	}
}

func TestConcurrentSameUserJoinsStayUnique(t *testing.T) {
	m, repo := newMembership(t)
	ctx := context.Background()
	id := createRoom(t, repo, 10, domain.VisibilityPublic)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Join(ctx, core.JoinRequest{RoomID: id, UserID: "dup", DisplayName: "dup"}); err != nil {
				t.Errorf("idempotent join errored: %v", err)
			}
		}()
	}
	wg.Wait()

	room, _ := repo.GetRoom(ctx, id)
	seen := 0
	for _, p := range room.Participants {
		if p.UserID == "dup" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("userId appears %d times, want 1", seen)
	}
}

func TestSetFlags(t *testing.T) {
	m, repo := newMembership(t)
	ctx := context.Background()
	id := createRoom(t, repo, 4, domain.VisibilityPublic)
	join(t, m, id, "A")

	muted := true
	speaking := true
	if err := m.SetFlags(ctx, id, "A", core.ParticipantFlags{Muted: &muted, Speaking: &speaking}); err != nil {
		t.Fatalf("set flags: %v", err)
	}

	room, _ := repo.GetRoom(ctx, id)
	p, _ := room.Participant("A")
	if !p.IsMuted || !p.IsSpeaking {
		t.Errorf("flags not applied: muted=%v speaking=%v", p.IsMuted, p.IsSpeaking)
	}
	if p.IsHost != true {
		t.Error("flag update must not disturb membership fields")
	}
}
