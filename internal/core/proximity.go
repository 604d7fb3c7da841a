package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/domain"
)

// MatcherOptions tunes quick entry. Zero values fall back to the
// defaults below.
type MatcherOptions struct {
	// RadiusKm bounds candidate rooms around the caller's position.
	RadiusKm float64
	// CandidateAttempts bounds how many candidates a quick entry tries
	// before giving up and creating a room.
	CandidateAttempts int
	// QuickRoomCapacity is the maxParticipants of auto-created rooms.
	QuickRoomCapacity int
	// QuickRoomName names auto-created rooms; a city name from the
	// location provider is appended when known.
	QuickRoomName string
}

const (
	defaultRadiusKm          = 25.0
	defaultCandidateAttempts = 3
	defaultQuickRoomCapacity = 8
	defaultQuickRoomName     = "Quick Room"
)

// QuickEntryRequest is the find-or-create-then-join input.
type QuickEntryRequest struct {
	UserID      domain.UserID
	DisplayName string
	PhotoURL    string
	Level       int
	// Coords may be nil: proximity matching then degrades to "all open
	// rooms", per the location provider being best-effort.
	Coords *domain.Coordinates
	// City, when known, only flavors the name of an auto-created room.
	City string
}

// QuickEntryResult names the room the user ended up in.
type QuickEntryResult struct {
	RoomID   domain.RoomID
	RoomName string
	Created  bool
}

// Matcher implements proximity-based quick entry: pick the liveliest
// open room in range, fall through candidates that fill up mid-race,
// create a fresh room when none survives.
type Matcher struct {
	repo       *Repository
	membership *Membership
	opts       MatcherOptions
}

func NewMatcher(repo *Repository, membership *Membership, opts MatcherOptions) *Matcher {
	if opts.RadiusKm <= 0 {
		opts.RadiusKm = defaultRadiusKm
	}
	if opts.CandidateAttempts <= 0 {
		opts.CandidateAttempts = defaultCandidateAttempts
	}
	if opts.QuickRoomCapacity <= 0 {
		opts.QuickRoomCapacity = defaultQuickRoomCapacity
	}
	if opts.QuickRoomName == "" {
		opts.QuickRoomName = defaultQuickRoomName
	}
	return &Matcher{repo: repo, membership: membership, opts: opts}
}

// QuickEntry joins the best candidate room within range, or creates
// one. Candidates beaten to their last seat are skipped; exhaustion of
// both paths surfaces as domain.ErrNoRoomAvailable.
func (m *Matcher) QuickEntry(ctx context.Context, req QuickEntryRequest) (*QuickEntryResult, error) {
	candidates, err := m.candidates(ctx, req.Coords)
	if err != nil {
		return nil, err
	}

	attempts := m.opts.CandidateAttempts
	if attempts > len(candidates) {
		attempts = len(candidates)
	}
	for i := 0; i < attempts; i++ {
		cand := candidates[i]
		room, err := m.membership.Join(ctx, JoinRequest{
			RoomID:      cand.ID,
			UserID:      req.UserID,
			DisplayName: req.DisplayName,
			PhotoURL:    req.PhotoURL,
			Level:       req.Level,
		})
		if err == nil {
			return &QuickEntryResult{RoomID: room.ID, RoomName: room.Name}, nil
		}
		// Lost the race for a seat, or the room vanished under us;
		// both mean "try the next candidate".
		if errors.Is(err, domain.ErrRoomFull) || errors.Is(err, domain.ErrRoomNotFound) {
			log.Debug().Str("module", "core.matcher").Str("room", string(cand.ID)).Err(err).Msg("candidate skipped")
			continue
		}
		return nil, err
	}

	return m.createAndJoin(ctx, req)
}

// candidates returns joinable open rooms, liveliest first. The radius
// filter only applies when both sides know their position.
func (m *Matcher) candidates(ctx context.Context, coords *domain.Coordinates) ([]*domain.Room, error) {
	rooms, err := m.repo.OpenRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := rooms[:0]
	for _, room := range rooms {
		if room.Visibility == domain.VisibilityPrivate || room.IsFull() {
			continue
		}
		if coords != nil && room.Location != nil &&
			distanceKm(*coords, *room.Location) > m.opts.RadiusKm {
			continue
		}
		out = append(out, room)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Participants) > len(out[j].Participants)
	})
	return out, nil
}

func (m *Matcher) createAndJoin(ctx context.Context, req QuickEntryRequest) (*QuickEntryResult, error) {
	name := m.opts.QuickRoomName
	if req.City != "" {
		name = fmt.Sprintf("%s · %s", m.opts.QuickRoomName, req.City)
	}
	id, err := m.repo.CreateRoom(ctx, CreateRoomParams{
		Name:            name,
		Visibility:      domain.VisibilityPublic,
		MaxParticipants: m.opts.QuickRoomCapacity,
		CreatedBy:       req.UserID,
		Location:        req.Coords,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create failed: %v", domain.ErrNoRoomAvailable, err)
	}
	room, err := m.membership.Join(ctx, JoinRequest{
		RoomID:      id,
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		PhotoURL:    req.PhotoURL,
		Level:       req.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: join of fresh room failed: %v", domain.ErrNoRoomAvailable, err)
	}
	log.Info().Str("module", "core.matcher").Str("room", string(room.ID)).Str("user", string(req.UserID)).Msg("quick entry created room")
	return &QuickEntryResult{RoomID: room.ID, RoomName: room.Name, Created: true}, nil
}

const earthRadiusKm = 6371.0

// distanceKm is the haversine great-circle distance.
func distanceKm(a, b domain.Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
