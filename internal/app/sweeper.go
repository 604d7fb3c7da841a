package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/core"
)

// Sweeper is the best-effort maintenance task purging rooms a crashed
// client left behind: empty but never deleted, or deactivated but
// still present. It is not part of the state machine; steady-state
// teardown happens the instant the last participant leaves.
type Sweeper struct {
	repo     *core.Repository
	interval time.Duration
	// grace keeps freshly created rooms alive long enough for their
	// founding participant to arrive.
	grace time.Duration
}

func NewSweeper(repo *core.Repository, interval, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if grace <= 0 {
		grace = time.Minute
	}
	return &Sweeper{repo: repo, interval: interval, grace: grace}
}

// Run sweeps on a ticker until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	rooms, err := s.repo.OpenRooms(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.sweeper").Msg("sweep listing failed")
		return
	}
	purged := 0
	for _, room := range rooms {
		if len(room.Participants) > 0 {
			continue
		}
		if time.Since(room.CreatedAt) < s.grace {
			continue
		}
		if err := s.repo.DeleteRoom(ctx, room.ID); err != nil {
			log.Warn().Err(err).Str("module", "app.sweeper").Str("room", string(room.ID)).Msg("purge failed")
			continue
		}
		purged++
	}
	if purged > 0 {
		log.Info().Str("module", "app.sweeper").Int("purged", purged).Msg("swept stale rooms")
	}
}
