package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	revalidateJobName = "availability_revalidate"
	midnightJobName   = "availability_midnight_reload"
	midnightCron      = "0 0 * * *"
	jobTimeout        = 30 * time.Second
)

// AvailabilityRefresher is the part of the availability service the jobs drive.
type AvailabilityRefresher interface {
	RefreshInBackground(ctx context.Context, date string)
	ClearCache()
	InitialLoad(ctx context.Context) error
}

// RegisterAvailabilityJobs registers the focal-date revalidation job and the midnight
// reload. focal returns the date currently on screen. afterReload, when non-nil, runs
// once the midnight reload finished.
func RegisterAvailabilityJobs(s *Service, refresher AvailabilityRefresher, every time.Duration, focal func() string, afterReload func()) error {
	if refresher == nil {
		return fmt.Errorf("availability jobs require a refresher")
	}

	revalidateLogger := log.With().
		Str("component", "availability_revalidate_job").
		Str("job_name", revalidateJobName).
		Logger()

	_, err := s.AddIntervalJob(revalidateJobName, every, func() {
		date := focal()
		if date == "" {
			revalidateLogger.Debug().Msg("Revalidate job skipped: no focal date")
			return
		}
		ctx := revalidateLogger.WithContext(context.Background())
		refresher.RefreshInBackground(ctx, date)
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", revalidateJobName, err)
	}

	reloadLogger := log.With().
		Str("component", "availability_midnight_job").
		Str("job_name", midnightJobName).
		Str("cron", midnightCron).
		Logger()

	_, err = s.AddJob(midnightJobName, midnightCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		ctx = reloadLogger.WithContext(ctx)

		// Past slots and "today" both moved; start from an empty cache.
		refresher.ClearCache()
		if err := refresher.InitialLoad(ctx); err != nil {
			reloadLogger.Error().Err(err).Msg("Failed to reload availability after midnight")
			return
		}
		reloadLogger.Info().Msg("Availability reloaded for the new day")
		if afterReload != nil {
			afterReload()
		}
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", midnightJobName, err)
	}
	return nil
}
