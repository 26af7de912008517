package clubapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type SlotStatus string

const (
	StatusReserved         SlotStatus = "reserved"
	StatusBlocked          SlotStatus = "blocked"
	StatusBlockedTemporary SlotStatus = "blocked_temporary"
	StatusShortNotice      SlotStatus = "short_notice"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case StatusReserved, StatusBlocked, StatusBlockedTemporary, StatusShortNotice:
		return true
	default:
		return false
	}
}

// SlotDetails carries whatever the server is willing to tell the caller about an
// occupied slot. Fields are omitted for slots the caller has no visibility into.
type SlotDetails struct {
	ReservationID *int64 `json:"reservation_id,omitempty"`
	BookedBy      string `json:"booked_by,omitempty"`
	BookedForID   *int64 `json:"booked_for_id,omitempty"`
	IsShortNotice bool   `json:"is_short_notice,omitempty"`
	CanCancel     bool   `json:"can_cancel,omitempty"`
	BlockReason   string `json:"block_reason,omitempty"`
	BlockedUntil  string `json:"blocked_until,omitempty"`
}

type SlotEntry struct {
	Time    string       `json:"time"`
	Status  SlotStatus   `json:"status"`
	Details *SlotDetails `json:"details,omitempty"`
}

// AvailabilitySnapshot is the occupancy of every court for one date. Only occupied
// slots are listed; a court/time pair with no entry is free.
type AvailabilitySnapshot struct {
	Date        string              `json:"date"`
	CurrentHour int                 `json:"current_hour"`
	Courts      map[int][]SlotEntry `json:"courts"`
}

// Entry returns the occupied entry for a court and "HH:MM" start time.
func (s AvailabilitySnapshot) Entry(court int, slotTime string) (SlotEntry, bool) {
	for _, entry := range s.Courts[court] {
		if entry.Time == slotTime {
			return entry, true
		}
	}
	return SlotEntry{}, false
}

// IsPast reports whether a slot starting at slotTime is before the server's current hour.
func (s AvailabilitySnapshot) IsPast(slotTime string) bool {
	hour, err := SlotHour(slotTime)
	if err != nil {
		return false
	}
	return hour < s.CurrentHour
}

func (s AvailabilitySnapshot) SortedCourts() []int {
	courts := make([]int, 0, len(s.Courts))
	for court := range s.Courts {
		courts = append(courts, court)
	}
	sort.Ints(courts)
	return courts
}

// SlotHour parses the hour out of an "HH:MM" slot time.
func SlotHour(slotTime string) (int, error) {
	hourPart, _, ok := strings.Cut(strings.TrimSpace(slotTime), ":")
	if !ok {
		return 0, fmt.Errorf("invalid slot time %q", slotTime)
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid slot time %q", slotTime)
	}
	return hour, nil
}

type RangeResponse struct {
	Days map[string]AvailabilitySnapshot `json:"days"`
}

// ActiveSession is one of the caller's existing reservations, returned only inside a
// booking-limit conflict.
type ActiveSession struct {
	ID            int64  `json:"id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	CourtNumber   int    `json:"court_number"`
	Owner         string `json:"owner"`
	IsShortNotice bool   `json:"is_short_notice"`
}

type CreateReservationRequest struct {
	CourtID     int64  `json:"court_id" validate:"gt=0"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time" validate:"required,datetime=15:04"`
	BookedForID *int64 `json:"booked_for_id,omitempty" validate:"omitempty,gt=0"`
}

type Reservation struct {
	ID            int64  `json:"id"`
	CourtID       int64  `json:"court_id"`
	CourtNumber   int    `json:"court_number"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	BookedForID   *int64 `json:"booked_for_id,omitempty"`
	IsShortNotice bool   `json:"is_short_notice"`
}

type ReservationResponse struct {
	Reservation Reservation `json:"reservation"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type Member struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (m Member) DisplayName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

type MembersResponse struct {
	Members []Member `json:"members"`
}

// ErrorResponse is the error body shape shared by every endpoint.
type ErrorResponse struct {
	Error          string          `json:"error"`
	ActiveSessions []ActiveSession `json:"active_sessions,omitempty"`
}
