package clubsim

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api"
	"github.com/codr1/courtside/internal/api/apiutil"
	"github.com/codr1/courtside/internal/clubapi"
	"github.com/codr1/courtside/internal/ratelimit"
)

const (
	BasePath       = "/api/v1"
	maxRangeDays   = 31
	defaultRange   = 7
	maxRequestBody = 64 << 10
)

type Handler struct {
	club       *Club
	limiter    *ratelimit.Limiter
	trustProxy bool
}

func NewHandler(club *Club, limiter *ratelimit.Limiter, trustProxy bool) *Handler {
	return &Handler{club: club, limiter: limiter, trustProxy: trustProxy}
}

// NewServer wires the router behind the middleware chain. The chain is applied
// outermost last: request id, logging, recovery, then bearer auth.
func NewServer(club *Club, limiter *ratelimit.Limiter, trustProxy bool) http.Handler {
	router := httprouter.New()
	NewHandler(club, limiter, trustProxy).RegisterRoutes(router)

	return api.ChainMiddleware(
		router,
		api.WithBearerAuth(club),
		api.WithRecovery,
		api.WithLogging,
		api.WithRequestID,
	)
}

func (h *Handler) RegisterRoutes(router *httprouter.Router) {
	search := api.WithRateLimit(h.limiter, ratelimit.KindSearch, h.trustProxy)
	write := api.WithRateLimit(h.limiter, ratelimit.KindWrite, h.trustProxy)

	router.GET("/health", h.Health)
	router.GET(BasePath+"/availability", h.Availability)
	router.GET(BasePath+"/availability/range", h.AvailabilityRange)
	router.Handler(http.MethodPost, BasePath+"/reservations", write(http.HandlerFunc(h.CreateReservation)))
	router.Handler(http.MethodDelete, BasePath+"/reservations/:id", write(http.HandlerFunc(h.CancelReservation)))
	router.Handler(http.MethodGet, BasePath+"/members/search", search(http.HandlerFunc(h.SearchMembers)))
	router.GET(BasePath+"/members/favorites", h.Favorites)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusNotFound, Message: "Not found"})
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"})
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.writeJSON(w, r, http.StatusOK, clubapi.MessageResponse{Message: "OK"})
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	date := r.URL.Query().Get("date")
	if _, err := apiutil.ParseDateField(date, "date", h.club.opts.Location); err != nil {
		apiutil.WriteError(w, r, apiutil.BadRequest(err))
		return
	}

	snapshot, err := h.club.Availability(memberID(r), date)
	if err != nil {
		apiutil.WriteError(w, r, apiutil.BadRequest(err))
		return
	}
	h.writeJSON(w, r, http.StatusOK, snapshot)
}

func (h *Handler) AvailabilityRange(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	start := query.Get("start")
	if _, err := apiutil.ParseDateField(start, "start", h.club.opts.Location); err != nil {
		apiutil.WriteError(w, r, apiutil.BadRequest(err))
		return
	}
	days, err := apiutil.ParseBoundedIntField(query.Get("days"), "days", defaultRange, 1, maxRangeDays)
	if err != nil {
		apiutil.WriteError(w, r, apiutil.BadRequest(err))
		return
	}

	snapshots, err := h.club.AvailabilityRange(memberID(r), start, days)
	if err != nil {
		apiutil.WriteError(w, r, apiutil.BadRequest(err))
		return
	}
	h.writeJSON(w, r, http.StatusOK, clubapi.RangeResponse{Days: snapshots})
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req clubapi.CreateReservationRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		apiutil.WriteError(w, r, apiutil.HandlerError{Status: http.StatusBadRequest, Message: "Invalid JSON body", Err: err})
		return
	}

	reservation, err := h.club.CreateReservation(memberID(r), req)
	if err != nil {
		apiutil.WriteError(w, r, toHandlerError(err))
		return
	}
	h.writeJSON(w, r, http.StatusCreated, clubapi.ReservationResponse{Reservation: reservation})
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	id, err := apiutil.ParsePositiveInt64Field(ps.ByName("id"), "id")
	if err != nil {
		apiutil.WriteError(w, r, apiutil.BadRequest(err))
		return
	}

	message, err := h.club.CancelReservation(memberID(r), id)
	if err != nil {
		apiutil.WriteError(w, r, toHandlerError(err))
		return
	}
	h.writeJSON(w, r, http.StatusOK, clubapi.MessageResponse{Message: message})
}

func (h *Handler) SearchMembers(w http.ResponseWriter, r *http.Request) {
	members := h.club.SearchMembers(memberID(r), r.URL.Query().Get("q"))
	h.writeJSON(w, r, http.StatusOK, clubapi.MembersResponse{Members: members})
}

func (h *Handler) Favorites(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.writeJSON(w, r, http.StatusOK, clubapi.MembersResponse{Members: h.club.Favorites(memberID(r))})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if err := apiutil.WriteJSON(w, status, payload); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to write response")
	}
}

func memberID(r *http.Request) int64 {
	id, _ := api.MemberIDFromContext(r.Context())
	return id
}

func toHandlerError(err error) apiutil.HandlerError {
	var limitErr *LimitError
	if errors.As(err, &limitErr) {
		return apiutil.HandlerError{
			Status:         http.StatusConflict,
			Message:        limitErr.Error(),
			Err:            err,
			ActiveSessions: limitErr.Sessions,
		}
	}
	var fieldErr clubapi.FieldError
	if errors.As(err, &fieldErr) {
		return apiutil.BadRequest(err)
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrSlotUnavailable):
		status = http.StatusConflict
	case errors.Is(err, ErrUnknownCourt),
		errors.Is(err, ErrUnknownMember),
		errors.Is(err, ErrOutsideHours),
		errors.Is(err, ErrPastSlot),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrAlreadyStarted):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		return apiutil.HandlerError{Status: status, Message: "Internal Server Error", Err: err}
	}
	return apiutil.HandlerError{Status: status, Message: sentence(err.Error()), Err: err}
}

func sentence(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
