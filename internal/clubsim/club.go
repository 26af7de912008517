// Package clubsim is an in-memory club server that speaks the club API. It backs
// local development and the end-to-end tests of the client.
package clubsim

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/clubapi"
)

const (
	DefaultBookingLimit      = 2
	DefaultShortNoticeWindow = 2 * time.Hour
	DefaultCourts            = 4
	DefaultOpenHour          = 7
	DefaultCloseHour         = 22
	maxSearchResults         = 10
)

var (
	ErrNotFound          = errors.New("reservation not found")
	ErrForbidden         = errors.New("reservation belongs to another member")
	ErrUnknownCourt      = errors.New("court does not exist")
	ErrUnknownMember     = errors.New("member does not exist")
	ErrOutsideHours      = errors.New("the club is closed at that time")
	ErrPastSlot          = errors.New("cannot book a time in the past")
	ErrSlotUnavailable   = errors.New("court is not available at that time")
	ErrNotCancellable    = errors.New("short-notice reservations cannot be cancelled")
	ErrAlreadyStarted    = errors.New("reservation has already started")
	ErrDuplicateToken    = errors.New("token already assigned")
	ErrDuplicateMemberID = errors.New("member id already exists")
)

// LimitError rejects a booking because the caller holds too many active sessions,
// or holds an active short-notice session.
type LimitError struct {
	Sessions    []clubapi.ActiveSession
	ShortNotice bool
	Limit       int
}

func (e *LimitError) Error() string {
	if e.ShortNotice {
		return "You have an active short-notice reservation; no other bookings are allowed until it has passed"
	}
	return fmt.Sprintf("You already have %d active reservations. Cancel one to book another.", e.Limit)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Options struct {
	Courts            int
	OpenHour          int
	CloseHour         int
	BookingLimit      int
	ShortNoticeWindow time.Duration
	Location          *time.Location
	Clock             Clock
}

func (o Options) withDefaults() Options {
	if o.Courts <= 0 {
		o.Courts = DefaultCourts
	}
	if o.OpenHour == 0 && o.CloseHour == 0 {
		o.OpenHour, o.CloseHour = DefaultOpenHour, DefaultCloseHour
	}
	if o.BookingLimit <= 0 {
		o.BookingLimit = DefaultBookingLimit
	}
	if o.ShortNoticeWindow <= 0 {
		o.ShortNoticeWindow = DefaultShortNoticeWindow
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}

type court struct {
	ID     int64
	Number int
}

type slotKey struct {
	CourtID int64
	Date    string
	Time    string
}

type block struct {
	Reason string
	// Until is zero for permanent blocks.
	Until time.Time
}

type reservation struct {
	ID          int64
	CourtID     int64
	Date        string
	StartTime   string
	Start       time.Time
	BookedBy    int64
	PlayerID    int64
	ShortNotice bool
}

// Club is the simulator's state. All methods are safe for concurrent use.
type Club struct {
	opts   Options
	logger zerolog.Logger

	mu           sync.RWMutex
	courts       []court
	members      map[int64]clubapi.Member
	tokens       map[string]int64
	favorites    map[int64][]int64
	blocks       map[slotKey]block
	reservations map[int64]*reservation
	bySlot       map[slotKey]int64
	nextID       int64
}

func NewClub(opts Options) *Club {
	opts = opts.withDefaults()
	c := &Club{
		opts:         opts,
		logger:       log.With().Str("component", "clubsim").Logger(),
		members:      make(map[int64]clubapi.Member),
		tokens:       make(map[string]int64),
		favorites:    make(map[int64][]int64),
		blocks:       make(map[slotKey]block),
		reservations: make(map[int64]*reservation),
		bySlot:       make(map[slotKey]int64),
		nextID:       1,
	}
	for n := 1; n <= opts.Courts; n++ {
		c.courts = append(c.courts, court{ID: int64(n), Number: n})
	}
	return c
}

// AddMember registers a member who authenticates with token.
func (c *Club) AddMember(member clubapi.Member, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[member.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateMemberID, member.ID)
	}
	if _, ok := c.tokens[token]; ok {
		return ErrDuplicateToken
	}
	c.members[member.ID] = member
	c.tokens[token] = member.ID
	return nil
}

// AddFavorite adds favorite to member's favorites list.
func (c *Club) AddFavorite(memberID, favoriteID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[memberID]; !ok {
		return ErrUnknownMember
	}
	if _, ok := c.members[favoriteID]; !ok {
		return ErrUnknownMember
	}
	for _, id := range c.favorites[memberID] {
		if id == favoriteID {
			return nil
		}
	}
	c.favorites[memberID] = append(c.favorites[memberID], favoriteID)
	return nil
}

// MemberForToken implements api.MemberResolver.
func (c *Club) MemberForToken(token string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.tokens[token]
	return id, ok
}

// Block marks a court slot unavailable. A non-zero until makes the block temporary;
// it disappears once until has passed.
func (c *Club) Block(courtID int64, date, startTime, reason string, until time.Time) error {
	if _, err := c.slotStart(date, startTime); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.courtByID(courtID); !ok {
		return ErrUnknownCourt
	}
	c.blocks[slotKey{CourtID: courtID, Date: date, Time: startTime}] = block{Reason: reason, Until: until}
	return nil
}

// Availability returns the snapshot for date as seen by memberID.
func (c *Club) Availability(memberID int64, date string) (clubapi.AvailabilitySnapshot, error) {
	day, err := time.ParseInLocation(clubapi.DateLayout, date, c.opts.Location)
	if err != nil {
		return clubapi.AvailabilitySnapshot{}, fmt.Errorf("date must be a date (YYYY-MM-DD)")
	}
	now := c.opts.Clock.Now().In(c.opts.Location)

	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := clubapi.AvailabilitySnapshot{
		Date:        date,
		CurrentHour: currentHour(day, now),
		Courts:      make(map[int][]clubapi.SlotEntry, len(c.courts)),
	}
	for _, ct := range c.courts {
		entries := []clubapi.SlotEntry{}
		for hour := c.opts.OpenHour; hour < c.opts.CloseHour; hour++ {
			slot := fmt.Sprintf("%02d:00", hour)
			key := slotKey{CourtID: ct.ID, Date: date, Time: slot}
			if entry, ok := c.entryFor(key, memberID, now); ok {
				entries = append(entries, entry)
			}
		}
		snapshot.Courts[ct.Number] = entries
	}
	return snapshot, nil
}

// AvailabilityRange returns snapshots for days consecutive dates from start.
func (c *Club) AvailabilityRange(memberID int64, start string, days int) (map[string]clubapi.AvailabilitySnapshot, error) {
	first, err := time.ParseInLocation(clubapi.DateLayout, start, c.opts.Location)
	if err != nil {
		return nil, fmt.Errorf("start must be a date (YYYY-MM-DD)")
	}
	out := make(map[string]clubapi.AvailabilitySnapshot, days)
	for i := 0; i < days; i++ {
		date := first.AddDate(0, 0, i).Format(clubapi.DateLayout)
		snapshot, err := c.Availability(memberID, date)
		if err != nil {
			return nil, err
		}
		out[date] = snapshot
	}
	return out, nil
}

// CreateReservation books a slot for memberID, or for req.BookedForID on their
// behalf.
func (c *Club) CreateReservation(memberID int64, req clubapi.CreateReservationRequest) (clubapi.Reservation, error) {
	if err := req.Validate(); err != nil {
		return clubapi.Reservation{}, err
	}
	start, err := c.slotStart(req.Date, req.StartTime)
	if err != nil {
		return clubapi.Reservation{}, err
	}
	now := c.opts.Clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	ct, ok := c.courtByID(req.CourtID)
	if !ok {
		return clubapi.Reservation{}, ErrUnknownCourt
	}
	playerID := memberID
	if req.BookedForID != nil {
		if _, ok := c.members[*req.BookedForID]; !ok {
			return clubapi.Reservation{}, ErrUnknownMember
		}
		playerID = *req.BookedForID
	}
	if !start.After(now) {
		return clubapi.Reservation{}, ErrPastSlot
	}
	key := slotKey{CourtID: ct.ID, Date: req.Date, Time: req.StartTime}
	if _, taken := c.bySlot[key]; taken {
		return clubapi.Reservation{}, ErrSlotUnavailable
	}
	if b, blocked := c.blocks[key]; blocked && b.active(now) {
		return clubapi.Reservation{}, ErrSlotUnavailable
	}

	shortNotice := start.Sub(now) <= c.opts.ShortNoticeWindow
	active := c.activeSessions(memberID, now)
	if held := filterShortNotice(active); len(held) > 0 {
		return clubapi.Reservation{}, &LimitError{Sessions: held, ShortNotice: true, Limit: c.opts.BookingLimit}
	}
	if !shortNotice && len(active) >= c.opts.BookingLimit {
		return clubapi.Reservation{}, &LimitError{Sessions: active, Limit: c.opts.BookingLimit}
	}

	r := &reservation{
		ID:          c.nextID,
		CourtID:     ct.ID,
		Date:        req.Date,
		StartTime:   req.StartTime,
		Start:       start,
		BookedBy:    memberID,
		PlayerID:    playerID,
		ShortNotice: shortNotice,
	}
	c.nextID++
	c.reservations[r.ID] = r
	c.bySlot[key] = r.ID

	c.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("member_id", memberID).
		Int64("player_id", playerID).
		Int("court_number", ct.Number).
		Str("date", r.Date).
		Str("start_time", r.StartTime).
		Bool("short_notice", shortNotice).
		Msg("Reservation created")

	return c.toReservation(r, ct), nil
}

// CancelReservation cancels a future, non-short-notice reservation that memberID
// booked or plays in.
func (c *Club) CancelReservation(memberID, id int64) (string, error) {
	now := c.opts.Clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reservations[id]
	if !ok {
		return "", ErrNotFound
	}
	if r.BookedBy != memberID && r.PlayerID != memberID {
		return "", ErrForbidden
	}
	if !r.Start.After(now) {
		return "", ErrAlreadyStarted
	}
	if r.ShortNotice {
		return "", ErrNotCancellable
	}

	delete(c.reservations, id)
	delete(c.bySlot, slotKey{CourtID: r.CourtID, Date: r.Date, Time: r.StartTime})

	c.logger.Info().
		Int64("reservation_id", id).
		Int64("member_id", memberID).
		Str("date", r.Date).
		Str("start_time", r.StartTime).
		Msg("Reservation cancelled")
	return fmt.Sprintf("Reservation for %s at %s cancelled", r.Date, r.StartTime), nil
}

// SearchMembers matches name and email substrings, or the phone number when query
// looks like one. The caller is excluded.
func (c *Club) SearchMembers(memberID int64, query string) []clubapi.Member {
	query = strings.TrimSpace(query)
	if query == "" {
		return []clubapi.Member{}
	}
	phone := clubapi.NormalizePhone(query)
	needle := strings.ToLower(query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []clubapi.Member{}
	for _, m := range c.members {
		if m.ID == memberID {
			continue
		}
		if phone != "" {
			if clubapi.NormalizePhone(m.Phone) == phone {
				out = append(out, m)
			}
			continue
		}
		if strings.Contains(strings.ToLower(m.DisplayName()), needle) ||
			strings.Contains(strings.ToLower(m.Email), needle) {
			out = append(out, m)
		}
	}
	sortMembers(out)
	if len(out) > maxSearchResults {
		out = out[:maxSearchResults]
	}
	return out
}

func (c *Club) Favorites(memberID int64) []clubapi.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []clubapi.Member{}
	for _, id := range c.favorites[memberID] {
		if m, ok := c.members[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (c *Club) slotStart(date, startTime string) (time.Time, error) {
	start, err := time.ParseInLocation(clubapi.DateLayout+" "+clubapi.TimeLayout, date+" "+startTime, c.opts.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot %s %s", date, startTime)
	}
	if start.Minute() != 0 || start.Hour() < c.opts.OpenHour || start.Hour() >= c.opts.CloseHour {
		return time.Time{}, ErrOutsideHours
	}
	return start, nil
}

func (c *Club) courtByID(id int64) (court, bool) {
	for _, ct := range c.courts {
		if ct.ID == id {
			return ct, true
		}
	}
	return court{}, false
}

func (c *Club) entryFor(key slotKey, memberID int64, now time.Time) (clubapi.SlotEntry, bool) {
	if id, ok := c.bySlot[key]; ok {
		r := c.reservations[id]
		status := clubapi.StatusReserved
		if r.ShortNotice {
			status = clubapi.StatusShortNotice
		}
		details := &clubapi.SlotDetails{
			BookedBy:      c.displayName(r.PlayerID),
			IsShortNotice: r.ShortNotice,
		}
		if r.BookedBy == memberID || r.PlayerID == memberID {
			rid := r.ID
			details.ReservationID = &rid
			if r.PlayerID != r.BookedBy {
				player := r.PlayerID
				details.BookedForID = &player
			}
			details.CanCancel = !r.ShortNotice && r.Start.After(now)
		}
		return clubapi.SlotEntry{Time: key.Time, Status: status, Details: details}, true
	}

	b, ok := c.blocks[key]
	if !ok || !b.active(now) {
		return clubapi.SlotEntry{}, false
	}
	entry := clubapi.SlotEntry{
		Time:    key.Time,
		Status:  clubapi.StatusBlocked,
		Details: &clubapi.SlotDetails{BlockReason: b.Reason},
	}
	if !b.Until.IsZero() {
		entry.Status = clubapi.StatusBlockedTemporary
		entry.Details.BlockedUntil = b.Until.In(c.opts.Location).Format(time.RFC3339)
	}
	return entry, true
}

// activeSessions lists memberID's future reservations, soonest first.
func (c *Club) activeSessions(memberID int64, now time.Time) []clubapi.ActiveSession {
	var active []*reservation
	for _, r := range c.reservations {
		if (r.BookedBy == memberID || r.PlayerID == memberID) && r.Start.After(now) {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].Start.Equal(active[j].Start) {
			return active[i].Start.Before(active[j].Start)
		}
		return active[i].ID < active[j].ID
	})

	sessions := make([]clubapi.ActiveSession, 0, len(active))
	for _, r := range active {
		ct, _ := c.courtByID(r.CourtID)
		owner := "self"
		if r.PlayerID != memberID {
			owner = c.displayName(r.PlayerID)
		}
		sessions = append(sessions, clubapi.ActiveSession{
			ID:            r.ID,
			Date:          r.Date,
			StartTime:     r.StartTime,
			CourtNumber:   ct.Number,
			Owner:         owner,
			IsShortNotice: r.ShortNotice,
		})
	}
	return sessions
}

func (c *Club) displayName(memberID int64) string {
	if m, ok := c.members[memberID]; ok {
		return m.DisplayName()
	}
	return fmt.Sprintf("Member %d", memberID)
}

func (c *Club) toReservation(r *reservation, ct court) clubapi.Reservation {
	out := clubapi.Reservation{
		ID:            r.ID,
		CourtID:       ct.ID,
		CourtNumber:   ct.Number,
		Date:          r.Date,
		StartTime:     r.StartTime,
		IsShortNotice: r.ShortNotice,
	}
	if r.PlayerID != r.BookedBy {
		player := r.PlayerID
		out.BookedForID = &player
	}
	return out
}

func (b block) active(now time.Time) bool {
	return b.Until.IsZero() || now.Before(b.Until)
}

// currentHour is the first hour of day that is not yet past: 0 for future dates and
// 24 for past ones.
func currentHour(day, now time.Time) int {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch {
	case day.Before(today):
		return 24
	case day.After(today):
		return 0
	default:
		return now.Hour()
	}
}

func filterShortNotice(sessions []clubapi.ActiveSession) []clubapi.ActiveSession {
	var out []clubapi.ActiveSession
	for _, s := range sessions {
		if s.IsShortNotice {
			out = append(out, s)
		}
	}
	return out
}

func sortMembers(members []clubapi.Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].LastName != members[j].LastName {
			return members[i].LastName < members[j].LastName
		}
		if members[i].FirstName != members[j].FirstName {
			return members[i].FirstName < members[j].FirstName
		}
		return members[i].ID < members[j].ID
	})
}
