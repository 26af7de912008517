package clubapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/api/v1", Token: "secret-token"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://club.example.com"} {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Errorf("New(%q) returned nil error", raw)
		}
	}
}

func TestFetchAvailability(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/availability" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("date"); got != "2026-03-01" {
			t.Errorf("date = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("authorization = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"date":"2026-03-01","current_hour":9,"courts":{"1":[{"time":"10:00","status":"reserved","details":{"booked_by":"Dana","can_cancel":true}}]}}`))
	})

	snapshot, err := client.FetchAvailability(context.Background(), "2026-03-01")
	if err != nil {
		t.Fatalf("fetch availability: %v", err)
	}
	if snapshot.CurrentHour != 9 {
		t.Errorf("current hour = %d, want 9", snapshot.CurrentHour)
	}
	entry, ok := snapshot.Entry(1, "10:00")
	if !ok {
		t.Fatal("expected entry for court 1 at 10:00")
	}
	if entry.Status != StatusReserved || entry.Details == nil || entry.Details.BookedBy != "Dana" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !snapshot.IsPast("08:00") || snapshot.IsPast("09:00") {
		t.Error("IsPast should compare against current hour")
	}
}

func TestFetchAvailabilityRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/availability/range" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("start") != "2026-03-01" || q.Get("days") != "2" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"days":{"2026-03-01":{"date":"2026-03-01","courts":{}},"2026-03-02":{"date":"2026-03-02","courts":{}}}}`))
	})

	days, err := client.FetchAvailabilityRange(context.Background(), "2026-03-01", 2)
	if err != nil {
		t.Fatalf("fetch range: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("days = %d, want 2", len(days))
	}
	if _, err := client.FetchAvailabilityRange(context.Background(), "2026-03-01", 0); err == nil {
		t.Error("expected error for zero days")
	}
}

func TestCreateReservation_BookingLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req CreateReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.CourtID != 3 || req.Date != "2026-03-01" || req.StartTime != "18:00" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"booking limit reached","active_sessions":[{"id":7,"date":"2026-03-02","start_time":"10:00","court_number":1,"owner":"Dana"},{"id":8,"date":"2026-03-03","start_time":"11:00","court_number":2,"owner":"Dana","is_short_notice":true}]}`))
	})

	_, err := client.CreateReservation(context.Background(), CreateReservationRequest{
		CourtID:   3,
		Date:      "2026-03-01",
		StartTime: "18:00",
	})
	limitErr, ok := AsBookingLimit(err)
	if !ok {
		t.Fatalf("expected BookingLimitError, got %v", err)
	}
	if len(limitErr.Sessions) != 2 || limitErr.Sessions[0].ID != 7 {
		t.Errorf("unexpected sessions: %+v", limitErr.Sessions)
	}
	if limitErr.ShortNoticeOnly() {
		t.Error("mixed sessions should not be short-notice only")
	}
}

func TestCreateReservation_APIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json error body", http.StatusBadRequest, `{"error":"court_id is required"}`, "court_id is required"},
		{"plain text body", http.StatusInternalServerError, "boom\n", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.CreateReservation(context.Background(), CreateReservationRequest{CourtID: 1, Date: "2026-03-01", StartTime: "10:00"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != tt.status || apiErr.Message != tt.message {
				t.Errorf("got %d %q, want %d %q", apiErr.Status, apiErr.Message, tt.status, tt.message)
			}
		})
	}
}

func TestCancelReservation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/reservations/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"message":"Reservation cancelled"}`))
	})

	message, err := client.CancelReservation(context.Background(), 42)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if message != "Reservation cancelled" {
		t.Errorf("message = %q", message)
	}
}

func TestSearchMembers_NormalizesPhoneQueries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "+15551234567" {
			t.Errorf("q = %q, want +15551234567", got)
		}
		w.Write([]byte(`{"members":[{"id":5,"first_name":"Dana","last_name":"Reyes"}]}`))
	})

	members, err := client.SearchMembers(context.Background(), "(555) 123-4567")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(members) != 1 || members[0].DisplayName() != "Dana Reyes" {
		t.Errorf("unexpected members: %+v", members)
	}
}
