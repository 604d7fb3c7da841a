package domain

import (
	"sort"
	"time"
)

// Participant is a user's membership record inside one room.
// IsMuted and IsSpeaking are transient voice flags mutated
// independently of membership.
type Participant struct {
	UserID      UserID    `bson:"userId" json:"userId"`
	DisplayName string    `bson:"displayName" json:"displayName"`
	PhotoURL    string    `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
	Level       int       `bson:"level" json:"level"`
	IsHost      bool      `bson:"isHost" json:"isHost"`
	IsMuted     bool      `bson:"isMuted" json:"isMuted"`
	IsSpeaking  bool      `bson:"isSpeaking" json:"isSpeaking"`
	JoinedAt    time.Time `bson:"joinedAt" json:"joinedAt"`
}

// NewParticipant builds a membership record, applying the room's
// visibility policy: anonymous rooms never store real names or photos.
func NewParticipant(uid UserID, displayName, photoURL string, level int, visibility Visibility, joinedAt time.Time) Participant {
	if visibility == VisibilityAnonymous {
		displayName = AnonymousDisplayName
		photoURL = ""
	}
	return Participant{
		UserID:      uid,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		Level:       level,
		JoinedAt:    joinedAt,
	}
}

// ElectHost picks the new host among the given participants: earliest
// JoinedAt wins, equal timestamps fall back to lexicographic UserID so
// every client computing the migration independently lands on the same
// answer. Returns false when the slice is empty.
func ElectHost(participants []Participant) (UserID, bool) {
	if len(participants) == 0 {
		return "", false
	}
	best := 0
	for i := 1; i < len(participants); i++ {
		a, b := participants[i], participants[best]
		if a.JoinedAt.Before(b.JoinedAt) ||
			(a.JoinedAt.Equal(b.JoinedAt) && a.UserID < b.UserID) {
			best = i
		}
	}
	return participants[best].UserID, true
}

// AssignHost rewrites the IsHost flags so exactly the given user holds
// host status. The slice is mutated in place.
func AssignHost(participants []Participant, host UserID) {
	for i := range participants {
		participants[i].IsHost = participants[i].UserID == host
	}
}

// SortByJoin orders participants by join time ascending, ties broken
// by UserID.
func SortByJoin(participants []Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].UserID < participants[j].UserID
	})
}
