// Package domain contains entities and their invariant helpers, no
// transport or storage logic.
package domain

import (
	"time"
)

type (
	RoomID string
	UserID string
)

// Visibility controls how a room and its participants are presented.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	// VisibilityAnonymous hides who is in the room: display names are
	// forced to AnonymousDisplayName and photos are dropped.
	VisibilityAnonymous Visibility = "anonymous"
)

// AnonymousDisplayName replaces every participant name in anonymous rooms.
const AnonymousDisplayName = "Anonymous"

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityAnonymous:
		return true
	}
	return false
}

// Coordinates is a plain lat/lon pair used for proximity matching.
type Coordinates struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Room is a capacity-bounded ephemeral group session. The participant
// slice is ordered by join time; host migration falls back on that
// order. Version is the store's compare-and-swap token, bumped on
// every write.
type Room struct {
	ID              RoomID        `bson:"_id" json:"id"`
	Name            string        `bson:"name" json:"name"`
	Description     string        `bson:"description" json:"description"`
	Visibility      Visibility    `bson:"visibility" json:"visibility"`
	Participants    []Participant `bson:"participants" json:"participants"`
	MaxParticipants int           `bson:"maxParticipants" json:"maxParticipants"`
	HostID          UserID        `bson:"hostId" json:"hostId"`
	IsActive        bool          `bson:"isActive" json:"isActive"`
	CreatedAt       time.Time     `bson:"createdAt" json:"createdAt"`
	CreatedBy       UserID        `bson:"createdBy" json:"createdBy"`
	UserCount       int           `bson:"userCount" json:"userCount"`
	Location        *Coordinates  `bson:"location,omitempty" json:"location,omitempty"`
	Version         int64         `bson:"version" json:"version"`
}

func (r *Room) IsFull() bool {
	return len(r.Participants) >= r.MaxParticipants
}

func (r *Room) HasParticipant(uid UserID) bool {
	for i := range r.Participants {
		if r.Participants[i].UserID == uid {
			return true
		}
	}
	return false
}

func (r *Room) Participant(uid UserID) (Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].UserID == uid {
			return r.Participants[i], true
		}
	}
	return Participant{}, false
}

// Clone returns a deep copy so snapshots handed to callers never alias
// store-owned state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Participants = make([]Participant, len(r.Participants))
	copy(cp.Participants, r.Participants)
	if r.Location != nil {
		loc := *r.Location
		cp.Location = &loc
	}
	return &cp
}
