package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/codr1/courtside/internal/availability"
	"github.com/codr1/courtside/internal/clubapi"
	"github.com/codr1/courtside/internal/scheduler"
)

var errQuit = errors.New("quit")

const watchHelp = "n next day, p previous day, t today, q quit"

// watcher keeps the grid for one focal date on screen and follows the user as they
// page through dates.
type watcher struct {
	app *app

	mu    sync.Mutex
	focal string
	// followToday moves the focal date forward at midnight.
	followToday bool
	unsubscribe func()
}

func (a *app) runWatch(ctx context.Context, args []string) error {
	date, err := a.dateArg(args)
	if err != nil {
		return err
	}
	w := &watcher{app: a, followToday: len(args) == 0}
	logger := log.With().Str("component", "watch").Logger()
	ctx = logger.WithContext(ctx)

	if err := a.svc.InitialLoad(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial availability load failed")
	}

	sched, err := scheduler.New(a.cfg.Location())
	if err != nil {
		return err
	}
	err = scheduler.RegisterAvailabilityJobs(sched, a.svc, a.cfg.Availability.RefreshInterval, w.focalDate, func() {
		w.mu.Lock()
		date := w.focal
		if w.followToday {
			date = a.svc.Today()
		}
		w.mu.Unlock()
		w.show(ctx, date)
	})
	if err != nil {
		return err
	}

	w.show(ctx, date)
	defer w.detach()

	sched.Start()
	defer sched.Stop()

	// Stdin reads cannot be interrupted, so the scanner lives outside the group.
	// It stops at the first line read after the watch ends.
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go readLines(a.in, lines, stop)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					// No more input; keep watching until interrupted.
					lines = nil
					continue
				}
				if err := w.handle(ctx, line); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func readLines(in io.Reader, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- strings.TrimSpace(scanner.Text()):
		case <-stop:
			return
		}
	}
}

func (w *watcher) handle(ctx context.Context, line string) error {
	var delta int
	switch line {
	case "n":
		delta = 1
	case "p":
		delta = -1
	case "t":
		w.setFollowToday(true)
		w.show(ctx, w.app.svc.Today())
		return nil
	case "q":
		return errQuit
	case "":
		w.show(ctx, w.focalDate())
		return nil
	default:
		fmt.Fprintln(w.app.out, watchHelp)
		return nil
	}

	next, err := availability.AddDays(w.focalDate(), delta)
	if err != nil {
		return err
	}
	w.setFollowToday(false)
	w.show(ctx, next)
	return nil
}

func (w *watcher) setFollowToday(follow bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.followToday = follow
}

func (w *watcher) focalDate() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.focal
}

// show makes date the focal date, renders it, prefetches around it and re-renders on
// every later cache write for it.
func (w *watcher) show(ctx context.Context, date string) {
	w.mu.Lock()
	changed := date != w.focal
	if changed {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
		w.focal = date
		w.unsubscribe = w.app.svc.Subscribe(date, func(snapshot clubapi.AvailabilitySnapshot) {
			w.render(snapshot, false)
		})
	}
	w.mu.Unlock()

	logger := log.Ctx(ctx)
	result, err := w.app.svc.GetForDate(ctx, date)
	if err != nil {
		logger.Error().Err(err).Str("date", date).Msg("Failed to load availability")
		fmt.Fprintf(w.app.out, "%s: %v\n", date, err)
		return
	}
	// A cold fetch already rendered through the subscription.
	if result.FromCache {
		w.render(result.Snapshot, result.Stale)
	}
	if err := w.app.svc.PrefetchAround(ctx, date); err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("Failed to prefetch availability")
	}
}

func (w *watcher) render(snapshot clubapi.AvailabilitySnapshot, stale bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if snapshot.Date != w.focal {
		return
	}
	fmt.Fprintf(w.app.out, "\n[%s]\n", time.Now().In(w.app.cfg.Location()).Format(clubapi.TimeLayout))
	if err := renderGrid(w.app.out, snapshot, w.app.cfg.Club.OpenHour, w.app.cfg.Club.CloseHour, stale); err != nil {
		log.Error().Err(err).Msg("Failed to render grid")
	}
	fmt.Fprintln(w.app.out, watchHelp)
}

func (w *watcher) detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}
