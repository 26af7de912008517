package clubapi

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the club API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("club api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("club api: %d %s", e.Status, e.Message)
}

// BookingLimitError is returned when a reservation is rejected because the caller
// already holds the maximum number of active sessions, or holds an active
// short-notice session.
type BookingLimitError struct {
	Status   int
	Message  string
	Sessions []ActiveSession
}

func (e *BookingLimitError) Error() string {
	if e.Message == "" {
		return "booking limit reached"
	}
	return e.Message
}

// ShortNoticeOnly reports whether every returned session is short-notice, which the
// server treats as a hard block rather than a limit the caller can free up.
func (e *BookingLimitError) ShortNoticeOnly() bool {
	if len(e.Sessions) == 0 {
		return false
	}
	for _, session := range e.Sessions {
		if !session.IsShortNotice {
			return false
		}
	}
	return true
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
