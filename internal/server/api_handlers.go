package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsonwriter "github.com/dgellow/ebo-bff/internal/json"
	"github.com/dgellow/ebo-bff/internal/log"
	"github.com/dgellow/ebo-bff/internal/planner"
	"github.com/dgellow/ebo-bff/internal/session"
	"github.com/google/uuid"
)

const maxRSVPBodyBytes = 64 << 10

// Planner is the subset of the planner client the API handlers call.
type Planner interface {
	MembersMe(ctx context.Context, token string) (*http.Response, error)
	GetMyRSVP(ctx context.Context, token, tripID string) (planner.RSVPResponse, error)
	SetMyRSVP(ctx context.Context, token, tripID string, response planner.RSVPResponse, idempotencyKey string) error
	UpcomingTripsPage(ctx context.Context, token string) (*planner.UpcomingTripsPage, error)
}

// APIHandlers serves the SPA's JSON API on behalf of the signed-in member.
type APIHandlers struct {
	sessions *session.Manager
	planner  Planner
}

// NewAPIHandlers creates the API handlers. planner may be nil when only the
// session endpoint is served.
func NewAPIHandlers(sessions *session.Manager, p Planner) *APIHandlers {
	return &APIHandlers{
		sessions: sessions,
		planner:  p,
	}
}

type sessionResponse struct {
	Authenticated bool `json:"authenticated"`
}

type rsvpRequest struct {
	Response planner.RSVPResponse `json:"response"`
}

type widgetResponse struct {
	TripID string               `json:"tripId"`
	MyRSVP planner.RSVPResponse `json:"myRsvp"`
}

// SessionHandler reports whether the browser holds a usable session. It
// never creates one, and any failure reads as signed out.
func (h *APIHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	authenticated := false
	loaded, err := h.sessions.LoadIfExists(r.Context(), r)
	if err != nil {
		log.LogWarnWithFieldsCtx(r.Context(), "api", "Session lookup failed", map[string]any{
			"error": err.Error(),
		})
	} else if loaded != nil {
		authenticated = loaded.Session.HasTokens()
	}
	_ = jsonwriter.WriteNoStore(w, sessionResponse{Authenticated: authenticated})
}

// authorize resolves the member's bearer token, writing the error response
// itself when there is none.
func (h *APIHandlers) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, err := h.sessions.Authorize(r.Context(), w, r)
	if err == nil {
		return token, true
	}
	if errors.Is(err, session.ErrUnauthenticated) {
		jsonwriter.WriteUnauthorized(w)
		return "", false
	}
	log.LogErrorWithFieldsCtx(r.Context(), "api", "Failed to authorize request", map[string]any{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	jsonwriter.WriteInternalServerError(w, "Internal error")
	return "", false
}

// MembersMeHandler proxies the member profile from the planner unchanged.
func (h *APIHandlers) MembersMeHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := h.authorize(w, r)
	if !ok {
		return
	}

	resp, err := h.planner.MembersMe(r.Context(), token)
	if err != nil {
		log.LogErrorWithFieldsCtx(r.Context(), "api", "Planner members/me failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteUpstreamError(w, http.StatusBadGateway, "Planner unavailable.")
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.LogWarnWithFieldsCtx(r.Context(), "api", "Streaming members/me response failed", map[string]any{
			"error": err.Error(),
		})
	}
}

// UpcomingTripsHandler serves the upcoming trips page model.
func (h *APIHandlers) UpcomingTripsHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := h.authorize(w, r)
	if !ok {
		return
	}
	h.writeUpcomingTrips(w, r, token)
}

func (h *APIHandlers) writeUpcomingTrips(w http.ResponseWriter, r *http.Request, token string) {
	page, err := h.planner.UpcomingTripsPage(r.Context(), token)
	if err != nil {
		log.LogErrorWithFieldsCtx(r.Context(), "api", "Failed to build upcoming trips page", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteUpstreamError(w, http.StatusBadGateway, "Failed to build upcoming trips page.")
		return
	}
	_ = jsonwriter.Write(w, page)
}

// PutUpcomingTripRSVPHandler records an RSVP from the trips page and answers
// with the refreshed page model.
func (h *APIHandlers) PutUpcomingTripRSVPHandler(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("tripId")

	token, ok := h.authorize(w, r)
	if !ok {
		return
	}

	body, err := decodeRSVPRequest(w, r)
	if err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid RSVP request.")
		return
	}

	if err := h.planner.SetMyRSVP(r.Context(), token, tripID, body.Response, idempotencyKey(r)); err != nil {
		var se *planner.StatusError
		if errors.As(err, &se) {
			jsonwriter.WriteUpstreamError(w, se.Status, fmt.Sprintf("Planner error: %d", se.Status))
			return
		}
		log.LogErrorWithFieldsCtx(r.Context(), "api", "Planner RSVP update failed", map[string]any{
			"trip_id": tripID,
			"error":   err.Error(),
		})
		jsonwriter.WriteUpstreamError(w, http.StatusBadGateway, "Planner unavailable.")
		return
	}

	h.writeUpcomingTrips(w, r, token)
}

// GetMyRSVPWidgetHandler serves the member's RSVP for one trip.
func (h *APIHandlers) GetMyRSVPWidgetHandler(w http.ResponseWriter, r *http.Request) {
	tripID, ok := requireTripID(w, r)
	if !ok {
		return
	}
	token, ok := h.authorize(w, r)
	if !ok {
		return
	}

	rsvp, err := h.planner.GetMyRSVP(r.Context(), token, tripID)
	if err != nil {
		var se *planner.StatusError
		switch {
		case errors.As(err, &se) && se.Status == http.StatusNotFound:
			rsvp = planner.RSVPUnset
		case errors.As(err, &se) && se.Status == http.StatusUnauthorized:
			jsonwriter.WriteUnauthorized(w)
			return
		case errors.As(err, &se):
			jsonwriter.WriteUpstreamError(w, http.StatusBadGateway, fmt.Sprintf("Planner error: %d", se.Status))
			return
		default:
			log.LogErrorWithFieldsCtx(r.Context(), "api", "Planner RSVP lookup failed", map[string]any{
				"trip_id": tripID,
				"error":   err.Error(),
			})
			jsonwriter.WriteUpstreamError(w, http.StatusBadGateway, "Planner unavailable.")
			return
		}
	}

	_ = jsonwriter.WriteNoStore(w, widgetResponse{TripID: tripID, MyRSVP: rsvp})
}

// PutMyRSVPWidgetHandler records the member's RSVP for one trip.
func (h *APIHandlers) PutMyRSVPWidgetHandler(w http.ResponseWriter, r *http.Request) {
	tripID, ok := requireTripID(w, r)
	if !ok {
		return
	}
	token, ok := h.authorize(w, r)
	if !ok {
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	body, err := decodeRSVPRequest(w, r)
	if err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid RSVP request.")
		return
	}

	if err := h.planner.SetMyRSVP(r.Context(), token, tripID, body.Response, idempotencyKey(r)); err != nil {
		var se *planner.StatusError
		if !errors.As(err, &se) {
			log.LogErrorWithFieldsCtx(r.Context(), "api", "Planner RSVP update failed", map[string]any{
				"trip_id": tripID,
				"error":   err.Error(),
			})
			jsonwriter.WriteUpstreamError(w, http.StatusBadGateway, "Planner unavailable.")
			return
		}
		switch se.Status {
		case http.StatusUnauthorized:
			jsonwriter.WriteUnauthorized(w)
		case http.StatusBadRequest:
			jsonwriter.WriteBadRequest(w, "Invalid RSVP request.")
		case http.StatusConflict:
			jsonwriter.WriteConflict(w, "RSVP not allowed.")
		default:
			jsonwriter.WriteUpstreamError(w, http.StatusBadGateway, fmt.Sprintf("Planner error: %d", se.Status))
		}
		return
	}

	_ = jsonwriter.Write(w, widgetResponse{TripID: tripID, MyRSVP: body.Response})
}

func requireTripID(w http.ResponseWriter, r *http.Request) (string, bool) {
	tripID := strings.TrimSpace(r.URL.Query().Get("tripId"))
	if tripID == "" {
		jsonwriter.WriteBadRequest(w, "Missing required query param: tripId")
		return "", false
	}
	return tripID, true
}

func decodeRSVPRequest(w http.ResponseWriter, r *http.Request) (*rsvpRequest, error) {
	var body rsvpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRSVPBodyBytes)).Decode(&body); err != nil {
		return nil, err
	}
	if !body.Response.Valid() {
		return nil, fmt.Errorf("invalid response %q", body.Response)
	}
	return &body, nil
}

func idempotencyKey(r *http.Request) string {
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		return key
	}
	return uuid.NewString()
}
