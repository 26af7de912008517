package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Service {
	t.Helper()
	s, err := New(time.UTC)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return s
}

func TestAddJobValidation(t *testing.T) {
	s := newTestScheduler(t)

	tests := []struct {
		name    string
		add     func() error
		wantErr error
	}{
		{
			name: "empty name",
			add: func() error {
				_, err := s.AddJob(" ", "* * * * *", func() {})
				return err
			},
			wantErr: ErrEmptyJobName,
		},
		{
			name: "empty cron",
			add: func() error {
				_, err := s.AddJob("job", "", func() {})
				return err
			},
			wantErr: ErrEmptyCronExpr,
		},
		{
			name: "zero interval",
			add: func() error {
				_, err := s.AddIntervalJob("job", 0, func() {})
				return err
			},
			wantErr: ErrInvalidEvery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.add(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := s.AddJob("bad", "not a cron", func() {}); err == nil {
		t.Fatal("invalid cron expression accepted")
	}
}

func TestNilService(t *testing.T) {
	var s *Service
	if err := s.Stop(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Stop err = %v", err)
	}
	if _, err := s.AddJob("job", "* * * * *", func() {}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("AddJob err = %v", err)
	}
	if _, err := s.AddIntervalJob("job", time.Second, func() {}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("AddIntervalJob err = %v", err)
	}
}

func TestIntervalJobRuns(t *testing.T) {
	s := newTestScheduler(t)
	ran := make(chan struct{}, 8)
	if _, err := s.AddIntervalJob("tick", 20*time.Millisecond, func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("AddIntervalJob: %v", err)
	}
	s.Start()

	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("interval job ran %d times, want at least 2", i)
		}
	}
}

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []string
	cleared   int
	loads     int
	loadErr   error
}

func (f *fakeRefresher) RefreshInBackground(ctx context.Context, date string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, date)
}

func (f *fakeRefresher) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeRefresher) InitialLoad(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.loadErr
}

func (f *fakeRefresher) counts() (refreshed []string, cleared, loads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshed...), f.cleared, f.loads
}

func TestRegisterAvailabilityJobs(t *testing.T) {
	s := newTestScheduler(t)
	refresher := &fakeRefresher{}
	reloaded := make(chan struct{}, 1)

	err := RegisterAvailabilityJobs(s, refresher, 20*time.Millisecond,
		func() string { return "2026-03-10" },
		func() { reloaded <- struct{}{} },
	)
	if err != nil {
		t.Fatalf("RegisterAvailabilityJobs: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		refreshed, _, _ := refresher.counts()
		if len(refreshed) > 0 {
			if refreshed[0] != "2026-03-10" {
				t.Fatalf("refreshed %v, want the focal date", refreshed)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("revalidate job never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var midnight bool
	for _, job := range s.scheduler.Jobs() {
		if job.Name() != midnightJobName {
			continue
		}
		midnight = true
		if err := job.RunNow(); err != nil {
			t.Fatalf("RunNow: %v", err)
		}
	}
	if !midnight {
		t.Fatal("midnight job not registered")
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("midnight reload never finished")
	}
	if _, cleared, loads := refresher.counts(); cleared != 1 || loads != 1 {
		t.Fatalf("cleared=%d loads=%d, want 1 and 1", cleared, loads)
	}
}

func TestRegisterAvailabilityJobsRequiresRefresher(t *testing.T) {
	s := newTestScheduler(t)
	if err := RegisterAvailabilityJobs(s, nil, time.Second, func() string { return "" }, nil); err == nil {
		t.Fatal("nil refresher accepted")
	}
}
