package planner

import (
	"context"
	"fmt"

	"github.com/dgellow/ebo-bff/internal/log"
	"golang.org/x/sync/errgroup"
)

// maxRSVPLookups bounds concurrent per-trip RSVP requests.
const maxRSVPLookups = 8

// UpcomingTrip is one row of the upcoming trips page.
type UpcomingTrip struct {
	TripID         string       `json:"tripId"`
	Name           *string      `json:"name"`
	StartDate      *string      `json:"startDate"`
	EndDate        *string      `json:"endDate"`
	Status         TripStatus   `json:"status"`
	MyRSVPResponse RSVPResponse `json:"myRsvpResponse"`
}

// UpcomingTripsPage is the view model served to the SPA.
type UpcomingTripsPage struct {
	Trips []UpcomingTrip `json:"trips"`
}

// UpcomingTripsPage lists trips and enriches each with the member's RSVP.
// RSVP lookups run concurrently; a failed lookup leaves that trip UNSET
// instead of failing the page. Failing to list trips, or a trip with an
// unknown status, fails the page.
func (c *Client) UpcomingTripsPage(ctx context.Context, token string) (*UpcomingTripsPage, error) {
	trips, err := c.ListTrips(ctx, token)
	if err != nil {
		return nil, err
	}

	page := &UpcomingTripsPage{Trips: make([]UpcomingTrip, len(trips))}
	for i, t := range trips {
		if t.TripID == "" {
			return nil, fmt.Errorf("planner list trips: trip %d has no id", i)
		}
		if !t.Status.Valid() {
			return nil, fmt.Errorf("planner list trips: trip %q has unknown status %q", t.TripID, t.Status)
		}
		page.Trips[i] = UpcomingTrip{
			TripID:         t.TripID,
			Name:           t.Name,
			StartDate:      t.StartDate,
			EndDate:        t.EndDate,
			Status:         t.Status,
			MyRSVPResponse: RSVPUnset,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRSVPLookups)
	for i := range page.Trips {
		g.Go(func() error {
			row := &page.Trips[i]
			resp, err := c.GetMyRSVP(gctx, token, row.TripID)
			if err != nil {
				log.LogDebugWithFieldsCtx(ctx, "planner", "RSVP lookup failed, using UNSET", map[string]any{
					"tripId": row.TripID,
					"error":  err.Error(),
				})
				return nil
			}
			row.MyRSVPResponse = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return page, nil
}
