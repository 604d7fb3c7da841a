package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/wisp-social/roomcore/internal/adapters/http"
	"github.com/wisp-social/roomcore/internal/adapters/location"
	"github.com/wisp-social/roomcore/internal/adapters/memstore"
	"github.com/wisp-social/roomcore/internal/adapters/mongostore"
	"github.com/wisp-social/roomcore/internal/adapters/profile"
	"github.com/wisp-social/roomcore/internal/adapters/redisstore"
	"github.com/wisp-social/roomcore/internal/app"
	"github.com/wisp-social/roomcore/internal/config"
	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, profiles, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store init failed")
	}
	defer cleanup()

	repo := core.NewRepository(store, core.RepositoryOptions{
		ReadAttempts: cfg.ReadAttempts,
		ReadBackoff:  cfg.ReadBackoff,
	})
	membership := core.NewMembership(repo, profiles)
	matcher := core.NewMatcher(repo, membership, core.MatcherOptions{
		RadiusKm:          cfg.ProximityRadiusKm,
		CandidateAttempts: cfg.CandidateAttempts,
		QuickRoomCapacity: cfg.QuickRoomCapacity,
		QuickRoomName:     cfg.QuickRoomName,
	})
	facade := core.NewFacade(matcher, membership, buildLocator(cfg))
	registry := app.NewRegistry(cfg.JoinCooldown)

	sweeper := app.NewSweeper(repo, cfg.SweepInterval, cfg.SweepGrace)
	go sweeper.Run(ctx)

	r := router.SetupRouter(ctx, cfg, registry, facade, repo)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Msg("room coordinator started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

// buildStore picks the RoomStore driver. The profile sink rides along:
// only the mongo deployment has a users collection to write to.
func buildStore(ctx context.Context, cfg *config.Config) (core.RoomStore, core.ProfileSink, func(), error) {
	switch cfg.StoreDriver {
	case "memory", "":
		return memstore.New(), core.NoopProfiles{}, func() {}, nil
	case "mongo":
		store, err := mongostore.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		sink := profile.NewMongoSink(store.Client(), cfg.MongoDatabase)
		cleanup := func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := store.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("mongo disconnect")
			}
		}
		return store, sink, cleanup, nil
	case "redis":
		store, err := redisstore.NewStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("redis close")
			}
		}
		return store, core.NoopProfiles{}, cleanup, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func buildLocator(cfg *config.Config) core.LocationProvider {
	providers := make([]core.LocationProvider, 0, 2)
	if cfg.UseStaticLoc {
		providers = append(providers, location.NewStatic(
			domain.Coordinates{Latitude: cfg.StaticLat, Longitude: cfg.StaticLon},
			cfg.StaticCity,
		))
	}
	if cfg.LocationURL != "" {
		providers = append(providers, location.NewNetwork(cfg.LocationURL))
	}
	if len(providers) == 0 {
		return location.None{}
	}
	return location.NewChain(providers...)
}
