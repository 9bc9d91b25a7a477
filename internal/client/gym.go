package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
)

type performResetRequest struct {
	PhotoURL        string `json:"photo_url,omitempty"`
	PreviousResetID string `json:"previous_reset_id,omitempty"`
	ResetDate       string `json:"reset_date,omitempty"`
}

type resetDateRequest struct {
	ResetDate string `json:"reset_date"`
}

type createRouteRequest struct {
	WallID      string   `json:"wall_id"`
	WallResetID string   `json:"wall_reset_id"`
	Grade       string   `json:"grade"`
	TapeColor   string   `json:"tape_color"`
	HoldColors  []string `json:"hold_color"`
	DateSet     string   `json:"date_set"`
	IsActive    bool     `json:"is_active"`
}

type climbLogInsertRequest struct {
	RouteID    string `json:"route_id"`
	IsComplete bool   `json:"is_complete"`
}

type climbLogUpdateRequest struct {
	IsComplete bool `json:"is_complete"`
}

type countsResponse struct {
	Counts []gym.GradeCount `json:"counts"`
}

func wallPath(wallID string) string {
	return "/walls/" + url.PathEscape(wallID)
}

func userPath(userID string) string {
	return "/users/" + url.PathEscape(userID)
}

// ListResets returns the wall's resets, newest first.
func (c *Client) ListResets(ctx context.Context, wallID string) ([]gym.WallReset, error) {
	var response struct {
		Resets []gym.WallReset `json:"resets"`
	}
	if err := c.doJSON(ctx, http.MethodGet, wallPath(wallID)+"/resets", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Resets, nil
}

// CurrentReset returns the wall's current reset or an error matching gym.ErrNotFound.
func (c *Client) CurrentReset(ctx context.Context, wallID string) (gym.WallReset, error) {
	var reset gym.WallReset
	if err := c.doJSON(ctx, http.MethodGet, wallPath(wallID)+"/resets/current", nil, nil, &reset); err != nil {
		return gym.WallReset{}, err
	}
	return reset, nil
}

// PerformWallReset calls the atomic reset procedure.
func (c *Client) PerformWallReset(ctx context.Context, request gym.ResetRequest) (gym.WallReset, error) {
	payload := performResetRequest{PhotoURL: request.PhotoURL, PreviousResetID: request.PreviousResetID}
	if !request.ResetDate.IsZero() {
		payload.ResetDate = gym.FormatDate(request.ResetDate)
	}
	var created gym.WallReset
	if err := c.doJSON(ctx, http.MethodPost, wallPath(request.WallID)+"/resets", nil, payload, &created); err != nil {
		return gym.WallReset{}, err
	}
	return created, nil
}

// UpdateResetDate moves a reset to another calendar date.
func (c *Client) UpdateResetDate(ctx context.Context, resetID string, resetDate time.Time) (gym.WallReset, error) {
	var updated gym.WallReset
	payload := resetDateRequest{ResetDate: gym.FormatDate(resetDate)}
	if err := c.doJSON(ctx, http.MethodPatch, "/resets/"+url.PathEscape(resetID), nil, payload, &updated); err != nil {
		return gym.WallReset{}, err
	}
	return updated, nil
}

// ListRoutes queries routes with the given filters.
func (c *Client) ListRoutes(ctx context.Context, query gym.RouteQuery) ([]gym.Route, error) {
	values := url.Values{}
	if query.WallID != "" {
		values.Set("wall_id", query.WallID)
	}
	if query.WallResetID != "" {
		values.Set("wall_reset_id", query.WallResetID)
	}
	if query.ActiveOnly {
		values.Set("active", "true")
	}
	var response struct {
		Routes []gym.Route `json:"routes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/routes", values, nil, &response); err != nil {
		return nil, err
	}
	return response.Routes, nil
}

// GetRoute returns one route.
func (c *Client) GetRoute(ctx context.Context, routeID string) (gym.Route, error) {
	var route gym.Route
	if err := c.doJSON(ctx, http.MethodGet, "/routes/"+url.PathEscape(routeID), nil, nil, &route); err != nil {
		return gym.Route{}, err
	}
	return route, nil
}

// CreateRoute adds a route to a wall reset.
func (c *Client) CreateRoute(ctx context.Context, route gym.Route) (gym.Route, error) {
	payload := createRouteRequest{
		WallID:      route.WallID,
		WallResetID: route.WallResetID,
		Grade:       route.Grade,
		TapeColor:   route.TapeColor,
		HoldColors:  route.HoldColors,
		DateSet:     gym.FormatDate(route.DateSet),
		IsActive:    route.IsActive,
	}
	var created gym.Route
	if err := c.doJSON(ctx, http.MethodPost, "/routes", nil, payload, &created); err != nil {
		return gym.Route{}, err
	}
	return created, nil
}

// DeleteRoute removes a route and its climb logs.
func (c *Client) DeleteRoute(ctx context.Context, routeID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/routes/"+url.PathEscape(routeID), nil, nil, nil)
}

// CountActiveRoutesByGrade returns the gym-wide active route counts.
func (c *Client) CountActiveRoutesByGrade(ctx context.Context) ([]gym.GradeCount, error) {
	var response countsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/stats/active-routes-by-grade", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Counts, nil
}

// ListClimbLogs returns every climb log of the user.
func (c *Client) ListClimbLogs(ctx context.Context, userID string) ([]gym.ClimbLog, error) {
	var response struct {
		ClimbLogs []gym.ClimbLog `json:"climb_logs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, userPath(userID)+"/climb-logs", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.ClimbLogs, nil
}

// FindClimbLog returns the user's log for a route or an error matching gym.ErrNotFound.
func (c *Client) FindClimbLog(ctx context.Context, userID, routeID string) (gym.ClimbLog, error) {
	var log gym.ClimbLog
	if err := c.doJSON(ctx, http.MethodGet, userPath(userID)+"/climb-logs/"+url.PathEscape(routeID), nil, nil, &log); err != nil {
		return gym.ClimbLog{}, err
	}
	return log, nil
}

// InsertClimbLog creates the user's first log for a route.
func (c *Client) InsertClimbLog(ctx context.Context, userID, routeID string, isComplete bool) (gym.ClimbLog, error) {
	var log gym.ClimbLog
	payload := climbLogInsertRequest{RouteID: routeID, IsComplete: isComplete}
	if err := c.doJSON(ctx, http.MethodPost, userPath(userID)+"/climb-logs", nil, payload, &log); err != nil {
		return gym.ClimbLog{}, err
	}
	return log, nil
}

// UpdateClimbLog flips an existing log.
func (c *Client) UpdateClimbLog(ctx context.Context, userID, logID string, isComplete bool) (gym.ClimbLog, error) {
	var log gym.ClimbLog
	payload := climbLogUpdateRequest{IsComplete: isComplete}
	if err := c.doJSON(ctx, http.MethodPatch, userPath(userID)+"/climb-logs/"+url.PathEscape(logID), nil, payload, &log); err != nil {
		return gym.ClimbLog{}, err
	}
	return log, nil
}

// CompletedRoutesByGrade returns the user's completed route counts.
func (c *Client) CompletedRoutesByGrade(ctx context.Context, userID string) ([]gym.GradeCount, error) {
	var response countsResponse
	if err := c.doJSON(ctx, http.MethodGet, userPath(userID)+"/stats/completed-by-grade", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Counts, nil
}
