// Package memstore is the in-process RoomStore: versioned documents
// behind one mutex, watch fan-out over per-subscriber queues. It backs
// tests and single-node deployments.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

type Store struct {
	mu       sync.Mutex
	rooms    map[domain.RoomID]*domain.Room
	watchers map[domain.RoomID]map[int]*watcher
	nextSub  int
}

func New() *Store {
	return &Store{
		rooms:    make(map[domain.RoomID]*domain.Room),
		watchers: make(map[domain.RoomID]map[int]*watcher),
	}
}

func (s *Store) Insert(_ context.Context, room *domain.Room) (domain.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := room.Clone()
	if doc.ID == "" {
		doc.ID = domain.RoomID(uuid.NewString())
	}
	if _, exists := s.rooms[doc.ID]; exists {
		return "", fmt.Errorf("%w: duplicate room id %s", domain.ErrValidation, doc.ID)
	}
	doc.Version = 1
	doc.UserCount = len(doc.Participants)
	s.rooms[doc.ID] = doc
	s.notifyLocked(doc.ID, core.WatchEvent{Room: doc.Clone()})
	return doc.ID, nil
}

func (s *Store) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.activeLocked(id)
	if err != nil {
		return nil, err
	}
	return room.Clone(), nil
}

func (s *Store) AppendParticipant(_ context.Context, id domain.RoomID, p domain.Participant) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.activeLocked(id)
	if err != nil {
		return nil, err
	}
	if room.HasParticipant(p.UserID) {
		return nil, fmt.Errorf("append to %s: %w", id, domain.ErrAlreadyJoined)
	}
	if room.IsFull() {
		return nil, fmt.Errorf("append to %s: %w", id, domain.ErrRoomFull)
	}
	p.IsHost = len(room.Participants) == 0
	room.Participants = append(room.Participants, p)
	room.UserCount++
	room.Version++
	if p.IsHost {
		room.HostID = p.UserID
	}
	s.notifyLocked(id, core.WatchEvent{Room: room.Clone()})
	return room.Clone(), nil
}

func (s *Store) RemoveParticipant(_ context.Context, id domain.RoomID, uid domain.UserID) (bool, *domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.activeLocked(id)
	if err != nil {
		return false, nil, err
	}
	idx := -1
	for i := range room.Participants {
		if room.Participants[i].UserID == uid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, room.Clone(), nil
	}
	room.Participants = append(room.Participants[:idx], room.Participants[idx+1:]...)
	room.UserCount--
	room.Version++
	s.notifyLocked(id, core.WatchEvent{Room: room.Clone()})
	return true, room.Clone(), nil
}

func (s *Store) ReplaceMembership(_ context.Context, id domain.RoomID, version int64, participants []domain.Participant, host domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.activeLocked(id)
	if err != nil {
		return err
	}
	if room.Version != version {
		return fmt.Errorf("replace membership of %s: %w", id, domain.ErrConcurrentModification)
	}
	room.Participants = make([]domain.Participant, len(participants))
	copy(room.Participants, participants)
	room.HostID = host
	room.UserCount = len(participants)
	room.Version++
	s.notifyLocked(id, core.WatchEvent{Room: room.Clone()})
	return nil
}

func (s *Store) SetParticipantFlags(_ context.Context, id domain.RoomID, uid domain.UserID, flags core.ParticipantFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := s.activeLocked(id)
	if err != nil {
		return err
	}
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
		room.Version++
		s.notifyLocked(id, core.WatchEvent{Room: room.Clone()})
		return nil
	}
	return fmt.Errorf("set flags in %s: user %s: %w", id, uid, domain.ErrRoomNotFound)
}

func (s *Store) Delete(_ context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return nil
	}
	delete(s.rooms, id)
	s.notifyLocked(id, core.WatchEvent{Deleted: true})
	return nil
}

func (s *Store) OpenRooms(_ context.Context) ([]*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if room.IsActive {
			out = append(out, room.Clone())
		}
	}
	return out, nil
}

func (s *Store) Watch(_ context.Context, id domain.RoomID, fn func(core.WatchEvent)) (core.UnwatchFunc, error) {
	s.mu.Lock()
	w := newWatcher(fn)
	subID := s.nextSub
	s.nextSub++
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[int]*watcher)
	}
	s.watchers[id][subID] = w
	s.mu.Unlock()

	go w.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[id], subID)
			s.mu.Unlock()
			w.stop()
		})
	}, nil
}

func (s *Store) activeLocked(id domain.RoomID) (*domain.Room, error) {
	room, ok := s.rooms[id]
	if !ok || !room.IsActive {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
	}
	return room, nil
}

func (s *Store) notifyLocked(id domain.RoomID, ev core.WatchEvent) {
	for _, w := range s.watchers[id] {
		w.push(ev)
	}
}

// watcher delivers events to one subscriber in order without ever
// blocking the store mutex: pushes append to a queue, a dedicated
// goroutine drains it.
type watcher struct {
	mu    sync.Mutex
	queue []core.WatchEvent
	wake  chan struct{}
	done  chan struct{}
	fn    func(core.WatchEvent)
}

func newWatcher(fn func(core.WatchEvent)) *watcher {
	return &watcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		fn:   fn,
	}
}

func (w *watcher) push(ev core.WatchEvent) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			ev := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			select {
			case <-w.done:
				return
			default:
			}
			w.fn(ev)
		}
	}
}

func (w *watcher) stop() {
	close(w.done)
}
