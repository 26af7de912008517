// cmd/clubsim/server.go
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/clubapi"
	"github.com/codr1/courtside/internal/clubsim"
	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/ratelimit"
)

// newServer builds the simulator from cfg. The returned cleanup releases the rate
// limiter.
func newServer(cfg *config.Config) (*http.Server, func(), error) {
	club := clubsim.NewClub(clubsim.Options{
		Courts:            cfg.Simulator.Courts,
		OpenHour:          cfg.Simulator.OpenHour,
		CloseHour:         cfg.Simulator.CloseHour,
		BookingLimit:      cfg.Simulator.BookingLimit,
		ShortNoticeWindow: cfg.Simulator.ShortNoticeWindow,
		Location:          cfg.Location(),
	})

	members := seedMembers(cfg.Simulator.Members)
	if len(members) == 0 {
		log.Info().Msg("No simulator members configured, seeding demo roster")
		members = clubsim.DemoMembers()
	}
	if err := clubsim.Seed(club, members); err != nil {
		return nil, nil, fmt.Errorf("seed members: %w", err)
	}

	limiter := newLimiter(cfg.Simulator.RateLimit)
	cleanup := func() {
		if limiter != nil {
			limiter.Close()
		}
	}

	handler := clubsim.NewServer(club, limiter, cfg.Simulator.RateLimit.TrustProxy)

	log.Info().
		Int("courts", cfg.Simulator.Courts).
		Int("members", len(members)).
		Int("booking_limit", cfg.Simulator.BookingLimit).
		Dur("short_notice_window", cfg.Simulator.ShortNoticeWindow).
		Bool("rate_limited", limiter != nil).
		Msg("Club simulator configured")

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Simulator.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, cleanup, nil
}

func seedMembers(configured []config.SimulatorMember) []clubsim.SeedMember {
	members := make([]clubsim.SeedMember, 0, len(configured))
	for _, m := range configured {
		members = append(members, clubsim.SeedMember{
			Member: clubapi.Member{
				ID:        m.ID,
				FirstName: m.FirstName,
				LastName:  m.LastName,
				Email:     m.Email,
				Phone:     m.Phone,
			},
			Token:     m.Token,
			Favorites: m.Favorites,
		})
	}
	return members
}

func newLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	if cfg.Disabled {
		return nil
	}
	limits := ratelimit.DefaultConfig()
	if cfg.SearchPerMinute > 0 {
		limits.SearchMaxPerMinute = cfg.SearchPerMinute
	}
	if cfg.SearchIPPerMinute > 0 {
		limits.SearchMaxIPPerMinute = cfg.SearchIPPerMinute
	}
	if cfg.WritesPerHour > 0 {
		limits.WriteMaxPerHour = cfg.WritesPerHour
	}
	if cfg.WritesIPPerHour > 0 {
		limits.WriteMaxIPPerHour = cfg.WritesIPPerHour
	}
	return ratelimit.New(limits)
}
