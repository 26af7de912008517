package apiutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/clubapi"
)

type HandlerError struct {
	Status  int
	Message string
	Err     error
	// ActiveSessions is sent with booking-limit rejections.
	ActiveSessions []clubapi.ActiveSession
}

func (e HandlerError) Error() string {
	return e.Message
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteError writes err as the shared error body. A HandlerError keeps its status
// and message; anything else becomes a 500 with the detail only in the log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.Ctx(r.Context())

	var handlerErr HandlerError
	if !errors.As(err, &handlerErr) {
		logger.Error().Err(err).Msg("Unhandled request error")
		handlerErr = HandlerError{Status: http.StatusInternalServerError, Message: "Internal Server Error"}
	}
	if handlerErr.Status == 0 {
		handlerErr.Status = http.StatusInternalServerError
	}
	if handlerErr.Err != nil {
		logger.Debug().Err(handlerErr.Err).Int("status", handlerErr.Status).Msg("Request failed")
	}

	body := clubapi.ErrorResponse{
		Error:          handlerErr.Message,
		ActiveSessions: handlerErr.ActiveSessions,
	}
	if writeErr := WriteJSON(w, handlerErr.Status, body); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write error response")
	}
}

// BadRequest wraps err as a 400 whose message is err's text.
func BadRequest(err error) HandlerError {
	return HandlerError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
}
