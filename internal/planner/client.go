// Package planner is a client for the trip planner API. Every call is made on
// behalf of a signed-in member using their broker-issued bearer token.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeout bounds a single planner request.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 4 << 20

var tracer = otel.Tracer("github.com/dgellow/ebo-bff/internal/planner")

// RSVPResponse is a member's answer for a trip.
type RSVPResponse string

const (
	RSVPYes   RSVPResponse = "YES"
	RSVPNo    RSVPResponse = "NO"
	RSVPUnset RSVPResponse = "UNSET"
)

// Valid reports whether r is a known response.
func (r RSVPResponse) Valid() bool {
	switch r {
	case RSVPYes, RSVPNo, RSVPUnset:
		return true
	}
	return false
}

// TripStatus is a trip's lifecycle state.
type TripStatus string

const (
	TripDraft     TripStatus = "DRAFT"
	TripPublished TripStatus = "PUBLISHED"
	TripCanceled  TripStatus = "CANCELED"
)

func (s TripStatus) Valid() bool {
	switch s {
	case TripDraft, TripPublished, TripCanceled:
		return true
	}
	return false
}

// Trip is one entry of GET /trips.
type Trip struct {
	TripID    string     `json:"tripId"`
	Name      *string    `json:"name"`
	StartDate *string    `json:"startDate"`
	EndDate   *string    `json:"endDate"`
	Status    TripStatus `json:"status"`
}

// StatusError is returned when the planner answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("planner %s: status %d", e.Op, e.Status)
}

// Client calls the planner API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a planner client. A zero timeout means DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("planner base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid planner base URL: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, httpClient: httpClient}, nil
}

func tripPath(tripID string, rest ...string) string {
	return "/trips/" + url.PathEscape(tripID) + strings.Join(rest, "")
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req inside a span named op. The caller owns the response body.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	ctx, span := tracer.Start(req.Context(), "planner."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.URL.Path),
	)

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("planner %s: %w", op, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

func ok(status int) bool {
	return status >= 200 && status <= 299
}

// MembersMe fetches the member profile. The raw response is returned so it
// can be proxied unchanged; the caller must close its body.
func (c *Client) MembersMe(ctx context.Context, token string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/members/me", token, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, "members_me")
}

// ListTrips returns the member's trips.
func (c *Client) ListTrips(ctx context.Context, token string) ([]Trip, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/trips", token, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "list_trips")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !ok(resp.StatusCode) {
		return nil, &StatusError{Op: "list trips", Status: resp.StatusCode}
	}

	var body struct {
		Trips []Trip `json:"trips"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("planner list trips: decoding: %w", err)
	}
	return body.Trips, nil
}

// GetMyRSVP returns the member's RSVP for a trip. A 200 without a
// recognizable response reads as RSVPUnset. Any non-2xx status, 404
// included, is a *StatusError.
func (c *Client) GetMyRSVP(ctx context.Context, token, tripID string) (RSVPResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, tripPath(tripID, "/rsvp/me"), token, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req, "get_my_rsvp")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !ok(resp.StatusCode) {
		return "", &StatusError{Op: "get rsvp", Status: resp.StatusCode}
	}

	var body struct {
		MyRSVP *struct {
			Response RSVPResponse `json:"response"`
		} `json:"myRsvp"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return RSVPUnset, nil
	}
	if body.MyRSVP == nil || !body.MyRSVP.Response.Valid() {
		return RSVPUnset, nil
	}
	return body.MyRSVP.Response, nil
}

// SetMyRSVP records the member's RSVP. idempotencyKey is forwarded as the
// Idempotency-Key header.
func (c *Client) SetMyRSVP(ctx context.Context, token, tripID string, response RSVPResponse, idempotencyKey string) error {
	req, err := c.newRequest(ctx, http.MethodPut, tripPath(tripID, "/rsvp"), token, map[string]RSVPResponse{"response": response})
	if err != nil {
		return err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := c.do(req, "set_my_rsvp")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if !ok(resp.StatusCode) {
		return &StatusError{Op: "set rsvp", Status: resp.StatusCode}
	}
	return nil
}
