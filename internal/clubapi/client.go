// Package clubapi is the HTTP client for the club's reservation API.
package clubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxErrorBodyBytes = 64 << 10

type Config struct {
	BaseURL string
	Token   string
	// Timeout of zero leaves the http.Client default (no timeout).
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("club api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse club api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("club api base url must be http or https, got %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// FetchAvailability returns the snapshot for a single date.
func (c *Client) FetchAvailability(ctx context.Context, date string) (AvailabilitySnapshot, error) {
	q := url.Values{}
	q.Set("date", date)

	var snapshot AvailabilitySnapshot
	if err := c.do(ctx, http.MethodGet, "availability", q, nil, &snapshot); err != nil {
		return AvailabilitySnapshot{}, fmt.Errorf("fetch availability for %s: %w", date, err)
	}
	return snapshot, nil
}

// FetchAvailabilityRange returns snapshots keyed by date for days consecutive dates.
func (c *Client) FetchAvailabilityRange(ctx context.Context, start string, days int) (map[string]AvailabilitySnapshot, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be greater than 0")
	}
	q := url.Values{}
	q.Set("start", start)
	q.Set("days", strconv.Itoa(days))

	var resp RangeResponse
	if err := c.do(ctx, http.MethodGet, "availability/range", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch availability range %s+%d: %w", start, days, err)
	}
	if resp.Days == nil {
		resp.Days = map[string]AvailabilitySnapshot{}
	}
	return resp.Days, nil
}

// CreateReservation books a court. A booking-limit rejection is returned as
// *BookingLimitError.
func (c *Client) CreateReservation(ctx context.Context, req CreateReservationRequest) (Reservation, error) {
	var resp ReservationResponse
	if err := c.do(ctx, http.MethodPost, "reservations", nil, req, &resp); err != nil {
		return Reservation{}, err
	}
	return resp.Reservation, nil
}

func (c *Client) CancelReservation(ctx context.Context, id int64) (string, error) {
	var resp MessageResponse
	path := "reservations/" + url.PathEscape(strconv.FormatInt(id, 10))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) SearchMembers(ctx context.Context, query string) ([]Member, error) {
	q := url.Values{}
	q.Set("q", NormalizeSearchQuery(query))

	var resp MembersResponse
	if err := c.do(ctx, http.MethodGet, "members/search", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("search members: %w", err)
	}
	return resp.Members, nil
}

func (c *Client) Favorites(ctx context.Context) ([]Member, error) {
	var resp MembersResponse
	if err := c.do(ctx, http.MethodGet, "members/favorites", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return resp.Members, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dst any) error {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Ctx(ctx).Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("request_id", requestID).
		Msg("Club API request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &APIError{Status: resp.StatusCode}
	}

	var body ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if len(body.ActiveSessions) > 0 {
		return &BookingLimitError{
			Status:   resp.StatusCode,
			Message:  body.Error,
			Sessions: body.ActiveSessions,
		}
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

// AsBookingLimit unwraps a *BookingLimitError from err.
func AsBookingLimit(err error) (*BookingLimitError, bool) {
	var limitErr *BookingLimitError
	if errors.As(err, &limitErr) {
		return limitErr, true
	}
	return nil, false
}
