package clubsim

import (
	"errors"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/clubapi"
	"github.com/codr1/courtside/internal/testutil"
)

// 2026-03-10 09:30 UTC. Slots at 10:00 and 11:00 are short-notice with the
// default two-hour window.
var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestClub(t *testing.T) (*Club, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(testNow)
	club := NewClub(Options{Location: time.UTC, Clock: clock})
	if err := Seed(club, DemoMembers()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return club, clock
}

func book(courtID int64, date, start string) clubapi.CreateReservationRequest {
	return clubapi.CreateReservationRequest{CourtID: courtID, Date: date, StartTime: start}
}

func mustBook(t *testing.T, club *Club, member int64, req clubapi.CreateReservationRequest) clubapi.Reservation {
	t.Helper()
	r, err := club.CreateReservation(member, req)
	if err != nil {
		t.Fatalf("CreateReservation(%+v): %v", req, err)
	}
	return r
}

func TestCreateReservation_Rejects(t *testing.T) {
	club, _ := newTestClub(t)
	mustBook(t, club, 2, book(1, "2026-03-12", "18:00"))
	if err := club.Block(2, "2026-03-12", "18:00", "Maintenance", time.Time{}); err != nil {
		t.Fatalf("Block: %v", err)
	}
	unknown := int64(99)

	tests := []struct {
		name    string
		req     clubapi.CreateReservationRequest
		wantErr error
	}{
		{name: "taken", req: book(1, "2026-03-12", "18:00"), wantErr: ErrSlotUnavailable},
		{name: "blocked", req: book(2, "2026-03-12", "18:00"), wantErr: ErrSlotUnavailable},
		{name: "past", req: book(1, "2026-03-10", "08:00"), wantErr: ErrPastSlot},
		{name: "started", req: book(1, "2026-03-10", "09:00"), wantErr: ErrPastSlot},
		{name: "before opening", req: book(1, "2026-03-12", "06:00"), wantErr: ErrOutsideHours},
		{name: "half hour", req: book(1, "2026-03-12", "18:30"), wantErr: ErrOutsideHours},
		{name: "unknown court", req: book(9, "2026-03-12", "18:00"), wantErr: ErrUnknownCourt},
		{
			name:    "unknown member",
			req:     clubapi.CreateReservationRequest{CourtID: 1, Date: "2026-03-12", StartTime: "19:00", BookedForID: &unknown},
			wantErr: ErrUnknownMember,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := club.CreateReservation(1, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	var fieldErr clubapi.FieldError
	if _, err := club.CreateReservation(1, book(0, "2026-03-12", "18:00")); !errors.As(err, &fieldErr) {
		t.Fatalf("err = %v, want FieldError", err)
	}
}

func TestCreateReservation_BookingLimit(t *testing.T) {
	club, _ := newTestClub(t)
	first := mustBook(t, club, 1, book(1, "2026-03-12", "18:00"))
	second := mustBook(t, club, 1, book(2, "2026-03-11", "08:00"))

	_, err := club.CreateReservation(1, book(3, "2026-03-13", "18:00"))
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want LimitError", err)
	}
	if limitErr.ShortNotice {
		t.Fatal("limit reported as short-notice block")
	}
	if len(limitErr.Sessions) != 2 || limitErr.Sessions[0].ID != second.ID || limitErr.Sessions[1].ID != first.ID {
		t.Fatalf("sessions = %+v, want soonest first", limitErr.Sessions)
	}
	if limitErr.Sessions[0].Owner != "self" || limitErr.Sessions[0].CourtNumber != 2 {
		t.Fatalf("session = %+v", limitErr.Sessions[0])
	}

	// Other members are unaffected.
	mustBook(t, club, 4, book(3, "2026-03-13", "18:00"))

	if _, err := club.CancelReservation(1, first.ID); err != nil {
		t.Fatalf("CancelReservation: %v", err)
	}
	mustBook(t, club, 1, book(3, "2026-03-13", "19:00"))
}

func TestCreateReservation_OnBehalfCountsForBooker(t *testing.T) {
	club, _ := newTestClub(t)
	pat := int64(2)
	req := book(1, "2026-03-12", "18:00")
	req.BookedForID = &pat
	r := mustBook(t, club, 1, req)
	if r.BookedForID == nil || *r.BookedForID != 2 {
		t.Fatalf("booked_for_id = %v, want 2", r.BookedForID)
	}
	mustBook(t, club, 1, book(1, "2026-03-12", "19:00"))

	_, err := club.CreateReservation(1, book(1, "2026-03-12", "20:00"))
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("err = %v, want LimitError", err)
	}
	if limitErr.Sessions[0].Owner != "Pat Lee" {
		t.Fatalf("owner = %q, want Pat Lee", limitErr.Sessions[0].Owner)
	}
	// Pat can cancel a session booked for them.
	if _, err := club.CancelReservation(2, r.ID); err != nil {
		t.Fatalf("CancelReservation by player: %v", err)
	}
}

func TestShortNotice(t *testing.T) {
	club, clock := newTestClub(t)
	mustBook(t, club, 1, book(1, "2026-03-12", "18:00"))
	mustBook(t, club, 1, book(2, "2026-03-12", "18:00"))

	// Short-notice bookings skip the limit.
	short := mustBook(t, club, 1, book(3, "2026-03-10", "11:00"))
	if !short.IsShortNotice {
		t.Fatal("11:00 booking at 09:30 not short-notice")
	}

	if _, err := club.CancelReservation(1, short.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("cancel err = %v, want ErrNotCancellable", err)
	}

	// While it is active, anything else is hard-blocked with only that session.
	_, err := club.CreateReservation(1, book(4, "2026-03-14", "18:00"))
	var limitErr *LimitError
	if !errors.As(err, &limitErr) || !limitErr.ShortNotice {
		t.Fatalf("err = %v, want short-notice LimitError", err)
	}
	if len(limitErr.Sessions) != 1 || limitErr.Sessions[0].ID != short.ID || !limitErr.Sessions[0].IsShortNotice {
		t.Fatalf("sessions = %+v", limitErr.Sessions)
	}

	// Once it has started the block lifts, back to the normal limit.
	clock.Set(time.Date(2026, 3, 10, 11, 5, 0, 0, time.UTC))
	_, err = club.CreateReservation(1, book(4, "2026-03-14", "18:00"))
	if !errors.As(err, &limitErr) || limitErr.ShortNotice || len(limitErr.Sessions) != 2 {
		t.Fatalf("err = %v, want regular limit with 2 sessions", err)
	}
}

func TestCancelReservation(t *testing.T) {
	club, clock := newTestClub(t)
	r := mustBook(t, club, 1, book(1, "2026-03-12", "18:00"))

	if _, err := club.CancelReservation(1, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := club.CancelReservation(4, r.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	clock.Set(time.Date(2026, 3, 12, 18, 1, 0, 0, time.UTC))
	if _, err := club.CancelReservation(1, r.ID); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("err = %v, want ErrAlreadyStarted", err)
	}

	clock.Set(testNow)
	msg, err := club.CancelReservation(1, r.ID)
	if err != nil || msg == "" {
		t.Fatalf("CancelReservation = %q, %v", msg, err)
	}
	// The slot is free again.
	mustBook(t, club, 4, book(1, "2026-03-12", "18:00"))
}

func TestAvailability(t *testing.T) {
	club, _ := newTestClub(t)
	r := mustBook(t, club, 1, book(1, "2026-03-10", "18:00"))
	mustBook(t, club, 2, book(2, "2026-03-10", "18:00"))
	mustBook(t, club, 2, book(2, "2026-03-10", "10:00"))
	until := testNow.Add(3 * time.Hour)
	if err := club.Block(3, "2026-03-10", "12:00", "Lesson", until); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := club.Block(4, "2026-03-10", "20:00", "Resurfacing", time.Time{}); err != nil {
		t.Fatalf("Block: %v", err)
	}

	snap, err := club.Availability(1, "2026-03-10")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if snap.CurrentHour != 9 {
		t.Fatalf("current hour = %d, want 9", snap.CurrentHour)
	}
	if len(snap.Courts) != DefaultCourts {
		t.Fatalf("courts = %d, want %d", len(snap.Courts), DefaultCourts)
	}

	own, ok := snap.Entry(1, "18:00")
	if !ok || own.Status != clubapi.StatusReserved || own.Details == nil || !own.Details.CanCancel {
		t.Fatalf("own entry = %+v", own)
	}
	if own.Details.ReservationID == nil || *own.Details.ReservationID != r.ID {
		t.Fatalf("own reservation id = %v", own.Details.ReservationID)
	}

	other, ok := snap.Entry(2, "18:00")
	if !ok || other.Details.ReservationID != nil || other.Details.CanCancel || other.Details.BookedBy != "Pat Lee" {
		t.Fatalf("other entry = %+v", other.Details)
	}

	short, ok := snap.Entry(2, "10:00")
	if !ok || short.Status != clubapi.StatusShortNotice {
		t.Fatalf("short entry = %+v", short)
	}

	temp, ok := snap.Entry(3, "12:00")
	if !ok || temp.Status != clubapi.StatusBlockedTemporary || temp.Details.BlockedUntil == "" {
		t.Fatalf("temporary block = %+v", temp)
	}
	perm, ok := snap.Entry(4, "20:00")
	if !ok || perm.Status != clubapi.StatusBlocked || perm.Details.BlockReason != "Resurfacing" {
		t.Fatalf("block = %+v", perm)
	}
	if _, ok := snap.Entry(1, "07:00"); ok {
		t.Fatal("free slot listed")
	}
}

func TestAvailability_TemporaryBlockExpires(t *testing.T) {
	club, clock := newTestClub(t)
	if err := club.Block(1, "2026-03-11", "12:00", "Lesson", testNow.Add(time.Hour)); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if _, err := club.CreateReservation(1, book(1, "2026-03-11", "12:00")); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}

	clock.Advance(2 * time.Hour)
	snap, err := club.Availability(1, "2026-03-11")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if _, ok := snap.Entry(1, "12:00"); ok {
		t.Fatal("expired temporary block still listed")
	}
	mustBook(t, club, 1, book(1, "2026-03-11", "12:00"))
}

func TestCurrentHour(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"2026-03-09", 24},
		{"2026-03-10", 9},
		{"2026-03-11", 0},
	}
	club, _ := newTestClub(t)
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			snap, err := club.Availability(1, tt.date)
			if err != nil {
				t.Fatalf("Availability: %v", err)
			}
			if snap.CurrentHour != tt.want {
				t.Fatalf("current hour = %d, want %d", snap.CurrentHour, tt.want)
			}
		})
	}
}

func TestAvailabilityRange(t *testing.T) {
	club, _ := newTestClub(t)
	days, err := club.AvailabilityRange(1, "2026-02-27", 4)
	if err != nil {
		t.Fatalf("AvailabilityRange: %v", err)
	}
	for _, date := range []string{"2026-02-27", "2026-02-28", "2026-03-01", "2026-03-02"} {
		if snap, ok := days[date]; !ok || snap.Date != date {
			t.Fatalf("missing %s in %v", date, days)
		}
	}
}

func TestSearchMembers(t *testing.T) {
	club, _ := newTestClub(t)

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{name: "name substring", query: "pat", want: []int64{2, 3}},
		{name: "case insensitive", query: "ORTIZ", want: []int64{4}},
		{name: "email", query: "sam.ortiz@", want: []int64{4}},
		{name: "phone formatted", query: "(555) 555-0103", want: []int64{3}},
		{name: "phone e164", query: "+15555550102", want: []int64{2}},
		{name: "excludes caller", query: "dana", want: nil},
		{name: "empty", query: "  ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := club.SearchMembers(1, tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want ids %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Fatalf("result %d = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestSeedRejectsDuplicates(t *testing.T) {
	club := NewClub(Options{})
	members := DemoMembers()
	members = append(members, SeedMember{Member: clubapi.Member{ID: 50, FirstName: "X"}, Token: members[0].Token})
	if err := Seed(club, members); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("err = %v, want ErrDuplicateToken", err)
	}

	club = NewClub(Options{})
	bad := []SeedMember{{Member: clubapi.Member{ID: 1, FirstName: "A"}, Token: "a", Favorites: []int64{7}}}
	if err := Seed(club, bad); !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("err = %v, want ErrUnknownMember", err)
	}
}

func TestFavorites(t *testing.T) {
	club, _ := newTestClub(t)
	got := club.Favorites(1)
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("favorites = %+v", got)
	}
	if got := club.Favorites(4); len(got) != 0 {
		t.Fatalf("favorites = %+v, want none", got)
	}
}
