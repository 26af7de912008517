package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/clubapi"
)

var (
	ErrRequestInFlight = errors.New("a booking request is already in flight")
	ErrNoReserver      = errors.New("booking dialog requires a reserver")
)

// Reserver creates and cancels reservations.
type Reserver interface {
	CreateReservation(ctx context.Context, req clubapi.CreateReservationRequest) (clubapi.Reservation, error)
	CancelReservation(ctx context.Context, id int64) (string, error)
}

// Slot is the court/date/time a dialog was opened against.
type Slot struct {
	CourtID     int64
	CourtNumber int
	Date        string
	StartTime   string
}

type Options struct {
	// Directory backs the member picker. Nil disables member search.
	Directory      MemberDirectory
	MinQueryLength int
	// OnSuccess runs after the server accepts the reservation. Callers use it to
	// refresh availability for the reservation's date; the dialog does not touch
	// any cache itself.
	OnSuccess func(ctx context.Context, reservation clubapi.Reservation)
	// OnCancelled runs after a conflicting session was cancelled, before the
	// original request is resubmitted.
	OnCancelled func(ctx context.Context, session clubapi.ActiveSession)
}

// Dialog is one booking dialog instance. State only resets in Reopen and Close, so
// nothing a caller does between renders can wipe in-progress work.
type Dialog struct {
	reserver Reserver
	opts     Options
	picker   *Picker
	logger   zerolog.Logger

	mu     sync.Mutex
	slot   Slot
	target *clubapi.Member
	state  State
	// session increments on every Reopen and Close so late responses from a
	// previous opening are ignored.
	session uint64
}

// Open creates a dialog for slot in its initial form state.
func Open(slot Slot, reserver Reserver, opts Options) (*Dialog, error) {
	if reserver == nil {
		return nil, ErrNoReserver
	}
	d := &Dialog{
		reserver: reserver,
		opts:     opts,
		picker:   NewPicker(opts.Directory, opts.MinQueryLength),
		logger:   log.With().Str("component", "booking_dialog").Logger(),
	}
	d.Reopen(slot)
	return d, nil
}

// Reopen discards all dialog state and starts over against slot.
func (d *Dialog) Reopen(slot Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session++
	d.slot = slot
	d.target = nil
	d.state = Initial()
	d.picker.Reset()
}

func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dialog) Slot() Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slot
}

// Target is the member the booking is for, or nil when booking for the caller.
func (d *Dialog) Target() *clubapi.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.target == nil {
		return nil
	}
	target := *d.target
	return &target
}

func (d *Dialog) Picker() *Picker {
	return d.picker
}

// Request is the create-reservation request the dialog would send right now.
func (d *Dialog) Request() clubapi.CreateReservationRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.request()
}

func (d *Dialog) request() clubapi.CreateReservationRequest {
	req := clubapi.CreateReservationRequest{
		CourtID:   d.slot.CourtID,
		Date:      d.slot.Date,
		StartTime: d.slot.StartTime,
	}
	if d.target != nil {
		id := d.target.ID
		req.BookedForID = &id
	}
	return req
}

// Search updates the member search query. An empty query lists the caller's
// favorites, fetched on first use.
func (d *Dialog) Search(ctx context.Context, query string) error {
	if err := d.apply(SearchChanged{Query: query}); err != nil {
		return err
	}
	if strings.TrimSpace(query) == "" {
		if err := d.LoadFavorites(ctx); err != nil {
			return err
		}
	}
	return d.picker.SetQuery(ctx, query)
}

// LoadFavorites fetches the caller's favorites unless an earlier call already did.
func (d *Dialog) LoadFavorites(ctx context.Context) error {
	if d.picker.FavoritesLoaded() {
		return nil
	}
	if err := d.picker.LoadFavorites(ctx); err != nil {
		return fmt.Errorf("load favorites: %w", err)
	}
	return nil
}

// Key forwards a key press to the member picker.
func (d *Dialog) Key(key Key) error {
	member, chosen := d.picker.HandleKey(key)
	switch {
	case chosen:
		return d.Choose(member)
	case key == KeyEscape:
		if d.State().Step() == StepSearching {
			return d.apply(SearchDismissed{})
		}
	}
	return nil
}

// Choose books on behalf of member.
func (d *Dialog) Choose(member clubapi.Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.guardEditable(); err != nil {
		return err
	}
	if d.state.Step() == StepSearching {
		next, err := Transition(d.state, MemberChosen{Member: member})
		if err != nil {
			return err
		}
		d.state = next
	}
	d.target = &member
	d.picker.Reset()
	return nil
}

// ChooseSelf books for the caller.
func (d *Dialog) ChooseSelf() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.guardEditable(); err != nil {
		return err
	}
	d.target = nil
	return nil
}

// Submit sends the booking. A booking-limit rejection moves the dialog to the
// conflict step and is not returned as an error; any other failure returns the
// dialog to the form with the message and is returned.
func (d *Dialog) Submit(ctx context.Context) error {
	d.mu.Lock()
	if d.inFlight() {
		d.mu.Unlock()
		return ErrRequestInFlight
	}
	req := d.request()
	if err := req.Validate(); err != nil {
		if d.state.Step() == StepForm || d.state.Step() == StepSearching {
			d.state = FormState{Error: err.Error()}
		}
		d.mu.Unlock()
		return err
	}
	next, err := Transition(d.state, SubmitRequested{Request: req})
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = next
	session := d.session
	d.mu.Unlock()

	return d.send(ctx, session, req)
}

// SelectSession picks a conflicting session to cancel.
func (d *Dialog) SelectSession(id int64) error {
	return d.apply(SessionSelected{ID: id})
}

// Back returns from the cancel confirmation to the conflict list.
func (d *Dialog) Back() error {
	return d.apply(BackRequested{})
}

// ConfirmCancel cancels the selected session and, if that succeeds, resubmits the
// original request once. A failed cancellation keeps the dialog on the
// confirmation step with the error.
func (d *Dialog) ConfirmCancel(ctx context.Context) error {
	d.mu.Lock()
	if d.inFlight() {
		d.mu.Unlock()
		return ErrRequestInFlight
	}
	confirm, ok := d.state.(ConfirmCancelState)
	if !ok {
		current := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: confirm cancel in %s", ErrInvalidTransition, current.Step())
	}
	next, err := Transition(d.state, CancelRequested{})
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = next
	session := d.session
	d.mu.Unlock()

	logger := d.logger.With().
		Int64("session_id", confirm.Selected.ID).
		Str("session_date", confirm.Selected.Date).
		Logger()

	if _, err := d.reserver.CancelReservation(ctx, confirm.Selected.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to cancel conflicting reservation")
		d.applyIfCurrent(session, CancelFailed{Err: err})
		return fmt.Errorf("cancel reservation %d: %w", confirm.Selected.ID, err)
	}
	logger.Info().Msg("Cancelled conflicting reservation")

	if d.opts.OnCancelled != nil {
		d.opts.OnCancelled(ctx, confirm.Selected)
	}
	if !d.applyIfCurrent(session, CancelSucceeded{}) {
		return nil
	}
	return d.send(ctx, session, confirm.Request)
}

// Close discards the dialog's state. In-flight responses still run OnSuccess but no
// longer change the state.
func (d *Dialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session++
	d.state = Initial()
	d.target = nil
	d.picker.Reset()
}

func (d *Dialog) send(ctx context.Context, session uint64, req clubapi.CreateReservationRequest) error {
	logger := d.logger.With().
		Int64("court_id", req.CourtID).
		Str("date", req.Date).
		Str("start_time", req.StartTime).
		Logger()

	reservation, err := d.reserver.CreateReservation(ctx, req)
	if err == nil {
		logger.Info().Int64("reservation_id", reservation.ID).Msg("Reservation created")
		d.applyIfCurrent(session, SubmitSucceeded{Reservation: reservation})
		if d.opts.OnSuccess != nil {
			d.opts.OnSuccess(ctx, reservation)
		}
		return nil
	}

	if limitErr, ok := clubapi.AsBookingLimit(err); ok {
		logger.Info().
			Int("active_sessions", len(limitErr.Sessions)).
			Bool("short_notice_only", limitErr.ShortNoticeOnly()).
			Msg("Reservation rejected by booking limit")
		d.applyIfCurrent(session, SubmitConflicted{Sessions: limitErr.Sessions})
		return nil
	}

	logger.Warn().Err(err).Msg("Failed to create reservation")
	d.applyIfCurrent(session, SubmitFailed{Err: err})
	return err
}

func (d *Dialog) apply(event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := Transition(d.state, event)
	if err != nil {
		return err
	}
	d.state = next
	return nil
}

// applyIfCurrent applies event unless the dialog was closed or reopened since
// session began. It reports whether the event was applied.
func (d *Dialog) applyIfCurrent(session uint64, event Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != session {
		return false
	}
	next, err := Transition(d.state, event)
	if err != nil {
		d.logger.Error().Err(err).Str("step", d.state.Step().String()).Msg("Dropped booking dialog event")
		return false
	}
	d.state = next
	return true
}

func (d *Dialog) inFlight() bool {
	switch s := d.state.(type) {
	case SubmittingState:
		return true
	case ConfirmCancelState:
		return s.Cancelling
	}
	return false
}

func (d *Dialog) guardEditable() error {
	switch d.state.Step() {
	case StepForm, StepSearching:
		return nil
	}
	return fmt.Errorf("%w: member can only change on the form", ErrInvalidTransition)
}
