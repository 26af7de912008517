package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/clubapi"
)

const (
	DefaultInitialDays    = 14
	DefaultPrefetchOffset = 3
	DefaultPrefetchDays   = 7
)

// ErrDateMismatch is returned when the API answers a request for one date with a
// snapshot for another.
var ErrDateMismatch = errors.New("snapshot date does not match requested date")

// Fetcher is the slice of the club API the service reads from.
type Fetcher interface {
	FetchAvailability(ctx context.Context, date string) (clubapi.AvailabilitySnapshot, error)
	FetchAvailabilityRange(ctx context.Context, start string, days int) (map[string]clubapi.AvailabilitySnapshot, error)
}

type Options struct {
	TTL            time.Duration
	InitialDays    int
	PrefetchOffset int
	PrefetchDays   int
	// Location decides which calendar date "today" is. Nil uses time.Local.
	Location *time.Location
	Clock    Clock
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.InitialDays <= 0 {
		o.InitialDays = DefaultInitialDays
	}
	if o.PrefetchOffset <= 0 {
		o.PrefetchOffset = DefaultPrefetchOffset
	}
	if o.PrefetchDays <= 0 {
		o.PrefetchDays = DefaultPrefetchDays
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}

// Result is what GetForDate hands to the UI.
type Result struct {
	Snapshot  clubapi.AvailabilitySnapshot
	FromCache bool
	Stale     bool
}

// Service answers availability reads from the cache, refreshing stale dates in the
// background and prefetching around the date being viewed.
type Service struct {
	fetcher Fetcher
	cache   *Cache
	opts    Options
	logger  zerolog.Logger

	mu          sync.Mutex
	pending     map[string]struct{}
	subscribers map[string]map[uint64]func(clubapi.AvailabilitySnapshot)
	nextSubID   uint64
	// Fetch generations: seq is handed out when a fetch is issued, written records the
	// generation that last wrote each date.
	seq     uint64
	written map[string]uint64

	background sync.WaitGroup
}

func NewService(fetcher Fetcher, opts Options) (*Service, error) {
	if fetcher == nil {
		return nil, errors.New("availability service requires a fetcher")
	}
	opts = opts.withDefaults()
	return &Service{
		fetcher:     fetcher,
		cache:       NewCache(opts.TTL, opts.Clock),
		opts:        opts,
		logger:      log.With().Str("component", "availability_service").Logger(),
		pending:     make(map[string]struct{}),
		subscribers: make(map[string]map[uint64]func(clubapi.AvailabilitySnapshot)),
		written:     make(map[string]uint64),
	}, nil
}

// Cache exposes the underlying cache for read-only inspection.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Today is the current calendar date in the service's location.
func (s *Service) Today() string {
	return DateOf(s.opts.Clock.Now(), s.opts.Location)
}

// GetForDate returns the cached snapshot when there is one, kicking off a background
// refresh if it is stale. Only a cold miss blocks on the network.
func (s *Service) GetForDate(ctx context.Context, date string) (Result, error) {
	if _, err := ParseDate(date); err != nil {
		return Result{}, err
	}

	if entry, ok := s.cache.Get(date); ok {
		if entry.Stale {
			s.RefreshInBackground(ctx, date)
		}
		return Result{Snapshot: entry.Snapshot, FromCache: true, Stale: entry.Stale}, nil
	}

	snapshot, err := s.FetchSingle(ctx, date)
	if err != nil {
		return Result{}, err
	}
	return Result{Snapshot: snapshot}, nil
}

// InitialLoad fills the browsing window with one range request, falling back to
// today's date alone if the range request fails.
func (s *Service) InitialLoad(ctx context.Context) error {
	today := s.Today()
	err := s.FetchRange(ctx, today, s.opts.InitialDays)
	if err == nil {
		s.logger.Debug().Str("start", today).Int("cached_dates", s.cache.Len()).Msg("Initial availability loaded")
		return nil
	}

	s.logger.Warn().Err(err).Str("date", today).Msg("Initial availability range load failed, loading today only")
	if _, err := s.FetchSingle(ctx, today); err != nil {
		return fmt.Errorf("initial availability load: %w", err)
	}
	return nil
}

// PrefetchAround loads a PrefetchDays window on whichever side of center is not yet
// cached PrefetchOffset days out. It never blocks on the network.
func (s *Service) PrefetchAround(ctx context.Context, center string) error {
	ahead, err := AddDays(center, s.opts.PrefetchOffset)
	if err != nil {
		return err
	}
	behind, err := AddDays(center, -s.opts.PrefetchOffset)
	if err != nil {
		return err
	}

	if !s.cache.Has(ahead) {
		start, _ := AddDays(center, 1)
		s.goBackground(ctx, "prefetch_ahead", func(ctx context.Context) error {
			return s.FetchRange(ctx, start, s.opts.PrefetchDays)
		})
	}
	if !s.cache.Has(behind) {
		start, _ := AddDays(center, -s.opts.PrefetchDays)
		s.goBackground(ctx, "prefetch_behind", func(ctx context.Context) error {
			return s.FetchRange(ctx, start, s.opts.PrefetchDays)
		})
	}
	return nil
}

// FetchSingle fetches one date, writes it to the cache and notifies its subscribers.
func (s *Service) FetchSingle(ctx context.Context, date string) (clubapi.AvailabilitySnapshot, error) {
	if _, err := ParseDate(date); err != nil {
		return clubapi.AvailabilitySnapshot{}, err
	}

	seq := s.issue()
	snapshot, err := s.fetcher.FetchAvailability(ctx, date)
	if err != nil {
		return clubapi.AvailabilitySnapshot{}, err
	}
	if snapshot.Date == "" {
		snapshot.Date = date
	}
	if snapshot.Date != date {
		return clubapi.AvailabilitySnapshot{}, fmt.Errorf("%w: requested %s, got %s", ErrDateMismatch, date, snapshot.Date)
	}

	if !s.store(date, snapshot, seq) {
		// A newer fetch already landed; hand back what it wrote.
		if entry, ok := s.cache.Get(date); ok {
			return entry.Snapshot, nil
		}
	}
	return snapshot, nil
}

// FetchRange fetches days consecutive dates in one request. A call whose
// (start, days) pair is already in flight returns nil immediately; the in-flight
// request will fill the cache for both callers.
func (s *Service) FetchRange(ctx context.Context, start string, days int) error {
	if _, err := ParseDate(start); err != nil {
		return err
	}
	if days <= 0 {
		return fmt.Errorf("days must be greater than 0")
	}

	key := pendingKey(start, days)
	s.mu.Lock()
	if _, inFlight := s.pending[key]; inFlight {
		s.mu.Unlock()
		s.logger.Debug().Str("key", key).Msg("Availability range fetch already in flight")
		return nil
	}
	s.pending[key] = struct{}{}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	snapshots, err := s.fetcher.FetchAvailabilityRange(ctx, start, days)
	if err != nil {
		return err
	}

	for date, snapshot := range snapshots {
		if snapshot.Date == "" {
			snapshot.Date = date
		}
		if snapshot.Date != date {
			s.logger.Warn().
				Str("key", date).
				Str("snapshot_date", snapshot.Date).
				Msg("Skipping range entry with mismatched date")
			continue
		}
		s.store(date, snapshot, seq)
	}
	return nil
}

// RefreshInBackground refetches date without blocking the caller. Failures are logged
// and dropped; the caller already has the stale copy.
func (s *Service) RefreshInBackground(ctx context.Context, date string) {
	key := "refresh:" + date
	s.mu.Lock()
	if _, inFlight := s.pending[key]; inFlight {
		s.mu.Unlock()
		return
	}
	s.pending[key] = struct{}{}
	s.mu.Unlock()

	s.goBackground(ctx, "refresh", func(ctx context.Context) error {
		defer func() {
			s.mu.Lock()
			delete(s.pending, key)
			s.mu.Unlock()
		}()
		_, err := s.FetchSingle(ctx, date)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", date, err)
		}
		return nil
	})
}

// Subscribe registers fn to run after every cache write for date. The returned
// function detaches it and is safe to call more than once.
func (s *Service) Subscribe(date string, fn func(clubapi.AvailabilitySnapshot)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if s.subscribers[date] == nil {
		s.subscribers[date] = make(map[uint64]func(clubapi.AvailabilitySnapshot))
	}
	s.subscribers[date][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers[date], id)
			if len(s.subscribers[date]) == 0 {
				delete(s.subscribers, date)
			}
		})
	}
}

func (s *Service) ClearCache() {
	s.mu.Lock()
	dates := s.cache.Dates()
	s.cache.Clear()
	s.written = make(map[string]uint64)
	s.mu.Unlock()

	sort.Strings(dates)
	s.logger.Debug().Strs("dates", dates).Msg("Cleared availability cache")
}

// Wait blocks until every background fetch started so far has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// store writes snapshot unless a fetch issued after seq has already written date.
// Subscribers run synchronously, outside the lock.
func (s *Service) store(date string, snapshot clubapi.AvailabilitySnapshot, seq uint64) bool {
	s.mu.Lock()
	if last := s.written[date]; seq < last {
		s.mu.Unlock()
		s.logger.Debug().
			Str("date", date).
			Uint64("generation", seq).
			Uint64("current_generation", last).
			Msg("Discarding availability from an older fetch")
		return false
	}
	s.written[date] = seq
	s.cache.Set(date, snapshot)

	callbacks := make([]func(clubapi.AvailabilitySnapshot), 0, len(s.subscribers[date]))
	for _, fn := range s.subscribers[date] {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
	return true
}

func (s *Service) goBackground(ctx context.Context, task string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	taskLogger := s.logger.With().Str("task", task).Logger()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if p := recover(); p != nil {
				taskLogger.Error().Interface("panic", p).Msg("Background availability task panicked")
			}
		}()
		if err := fn(ctx); err != nil {
			taskLogger.Warn().Err(err).Msg("Background availability task failed")
		}
	}()
}

func pendingKey(start string, days int) string {
	return fmt.Sprintf("%s-%d", start, days)
}
