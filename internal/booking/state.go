// Package booking drives the reservation dialog: form entry, member search,
// submission and the booking-limit conflict flow that cancels one reservation and
// retries the original request.
package booking

import (
	"errors"
	"fmt"

	"github.com/codr1/courtside/internal/clubapi"
)

var (
	ErrInvalidTransition     = errors.New("invalid booking dialog transition")
	ErrUnknownSession        = errors.New("session is not part of the conflict")
	ErrSessionNotCancellable = errors.New("short-notice sessions cannot be cancelled")
)

type Step int

const (
	StepForm Step = iota
	StepSearching
	StepSubmitting
	StepConflict
	StepConfirmCancel
	StepClosed
)

func (s Step) String() string {
	switch s {
	case StepForm:
		return "form"
	case StepSearching:
		return "searching"
	case StepSubmitting:
		return "submitting"
	case StepConflict:
		return "conflict"
	case StepConfirmCancel:
		return "confirmCancel"
	case StepClosed:
		return "closed"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// State is one of FormState, SearchingState, SubmittingState, ConflictState,
// ConfirmCancelState or ClosedState.
type State interface {
	Step() Step
	isState()
}

// FormState is initial entry. Error holds the message from the last failed
// submission, if any.
type FormState struct {
	Error string
}

// SearchingState is form entry while the member search list is open.
type SearchingState struct {
	Query string
}

// SubmittingState has a create-reservation request in flight. Retry marks the
// automatic resubmission after a conflicting reservation was cancelled.
type SubmittingState struct {
	Request clubapi.CreateReservationRequest
	Retry   bool
}

// ConflictState lists the caller's active sessions returned by a booking-limit
// rejection of Request.
type ConflictState struct {
	Request  clubapi.CreateReservationRequest
	Sessions []clubapi.ActiveSession
}

// ConfirmCancelState asks the user to confirm cancelling Selected. Sessions is kept
// so the user can go back to the conflict list.
type ConfirmCancelState struct {
	Request    clubapi.CreateReservationRequest
	Selected   clubapi.ActiveSession
	Sessions   []clubapi.ActiveSession
	Cancelling bool
	Error      string
}

// ClosedState ends the dialog after a successful booking.
type ClosedState struct {
	Reservation clubapi.Reservation
}

func (FormState) Step() Step          { return StepForm }
func (SearchingState) Step() Step     { return StepSearching }
func (SubmittingState) Step() Step    { return StepSubmitting }
func (ConflictState) Step() Step      { return StepConflict }
func (ConfirmCancelState) Step() Step { return StepConfirmCancel }
func (ClosedState) Step() Step        { return StepClosed }

func (FormState) isState()          {}
func (SearchingState) isState()     {}
func (SubmittingState) isState()    {}
func (ConflictState) isState()      {}
func (ConfirmCancelState) isState() {}
func (ClosedState) isState()        {}

// HardBlocked reports an active short-notice session: nothing can be cancelled to
// make room.
func (s ConflictState) HardBlocked() bool {
	if len(s.Sessions) == 0 {
		return false
	}
	for _, session := range s.Sessions {
		if !session.IsShortNotice {
			return false
		}
	}
	return true
}

// Cancellable returns the sessions that may be offered a cancel action.
func (s ConflictState) Cancellable() []clubapi.ActiveSession {
	out := make([]clubapi.ActiveSession, 0, len(s.Sessions))
	for _, session := range s.Sessions {
		if !session.IsShortNotice {
			out = append(out, session)
		}
	}
	return out
}

// CanCancel reports whether the session with id may be offered a cancel action.
func (s ConflictState) CanCancel(id int64) bool {
	for _, session := range s.Sessions {
		if session.ID == id {
			return !session.IsShortNotice
		}
	}
	return false
}

// Event is an input to Transition.
type Event interface {
	isEvent()
}

type (
	// SearchChanged opens or updates the member search with Query.
	SearchChanged struct{ Query string }
	// SearchDismissed closes the member search without choosing.
	SearchDismissed struct{}
	// MemberChosen closes the member search after a member was picked.
	MemberChosen struct{ Member clubapi.Member }
	// SubmitRequested sends Request.
	SubmitRequested struct{ Request clubapi.CreateReservationRequest }
	SubmitSucceeded struct{ Reservation clubapi.Reservation }
	SubmitConflicted struct{ Sessions []clubapi.ActiveSession }
	SubmitFailed     struct{ Err error }
	SessionSelected  struct{ ID int64 }
	BackRequested    struct{}
	CancelRequested  struct{}
	CancelSucceeded  struct{}
	CancelFailed     struct{ Err error }
)

func (SearchChanged) isEvent()    {}
func (SearchDismissed) isEvent()  {}
func (MemberChosen) isEvent()     {}
func (SubmitRequested) isEvent()  {}
func (SubmitSucceeded) isEvent()  {}
func (SubmitConflicted) isEvent() {}
func (SubmitFailed) isEvent()     {}
func (SessionSelected) isEvent()  {}
func (BackRequested) isEvent()    {}
func (CancelRequested) isEvent()  {}
func (CancelSucceeded) isEvent()  {}
func (CancelFailed) isEvent()     {}

// Initial is the state every freshly opened dialog starts in.
func Initial() State {
	return FormState{}
}

// Transition is the dialog's pure step function. It never performs I/O; an event
// that is not valid in the current state returns ErrInvalidTransition and the
// unchanged state.
func Transition(current State, event Event) (State, error) {
	switch s := current.(type) {
	case FormState:
		switch e := event.(type) {
		case SearchChanged:
			return SearchingState{Query: e.Query}, nil
		case SubmitRequested:
			return SubmittingState{Request: e.Request}, nil
		}

	case SearchingState:
		switch e := event.(type) {
		case SearchChanged:
			return SearchingState{Query: e.Query}, nil
		case SearchDismissed, MemberChosen:
			return FormState{}, nil
		case SubmitRequested:
			return SubmittingState{Request: e.Request}, nil
		}

	case SubmittingState:
		switch e := event.(type) {
		case SubmitSucceeded:
			return ClosedState{Reservation: e.Reservation}, nil
		case SubmitConflicted:
			return ConflictState{Request: s.Request, Sessions: e.Sessions}, nil
		case SubmitFailed:
			return FormState{Error: errorMessage(e.Err)}, nil
		}

	case ConflictState:
		switch e := event.(type) {
		case SessionSelected:
			selected, ok := findSession(s.Sessions, e.ID)
			if !ok {
				return current, ErrUnknownSession
			}
			if selected.IsShortNotice {
				return current, ErrSessionNotCancellable
			}
			return ConfirmCancelState{Request: s.Request, Selected: selected, Sessions: s.Sessions}, nil
		}

	case ConfirmCancelState:
		switch e := event.(type) {
		case BackRequested:
			if s.Cancelling {
				break
			}
			return ConflictState{Request: s.Request, Sessions: s.Sessions}, nil
		case CancelRequested:
			if s.Cancelling {
				break
			}
			next := s
			next.Cancelling = true
			next.Error = ""
			return next, nil
		case CancelSucceeded:
			if !s.Cancelling {
				break
			}
			return SubmittingState{Request: s.Request, Retry: true}, nil
		case CancelFailed:
			if !s.Cancelling {
				break
			}
			next := s
			next.Cancelling = false
			next.Error = errorMessage(e.Err)
			return next, nil
		}

	case ClosedState:
	}

	return current, fmt.Errorf("%w: %T in %s", ErrInvalidTransition, event, current.Step())
}

func findSession(sessions []clubapi.ActiveSession, id int64) (clubapi.ActiveSession, bool) {
	for _, session := range sessions {
		if session.ID == id {
			return session, true
		}
	}
	return clubapi.ActiveSession{}, false
}

func errorMessage(err error) string {
	if err == nil {
		return "Something went wrong"
	}
	return err.Error()
}
