package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultRouteCacheSize = 256

// WallView is the resolved content of one wall page.
type WallView struct {
	WallID         string
	TargetResetID  string
	CurrentResetID string
	Historical     bool
	Routes         []gym.Route
}

// Controls reports which interactive elements a view enables.
type Controls struct {
	CanToggle bool
	CanDelete bool
	CanAdd    bool
}

// Controls derives the enabled controls. Historical views are read-only for everyone.
func (v WallView) Controls(isAdmin bool) Controls {
	if v.Historical {
		return Controls{}
	}
	return Controls{CanToggle: true, CanDelete: isAdmin, CanAdd: isAdmin}
}

// AddRouteRequest carries the admin add-route form.
type AddRouteRequest struct {
	WallID      string
	WallResetID string
	Grade       string
	TapeColor   string
	HoldColors  string
	DateSet     time.Time
	Inactive    bool
}

// IsHistoricalView reports whether a view targets something other than the current reset.
// A wall without a current reset is always historical.
func IsHistoricalView(targetResetID, currentResetID string) bool {
	if currentResetID == "" {
		return true
	}
	if targetResetID == "" {
		return false
	}
	return targetResetID != currentResetID
}

// ResolverConfig wires the Resolver.
type ResolverConfig struct {
	Registry       *ResetRegistry
	Routes         RouteStore
	Logger         *zap.Logger
	RouteCacheSize int
}

// Resolver decides which routes a wall view shows and whether the view is editable.
type Resolver struct {
	registry *ResetRegistry
	routes   RouteStore
	details  *lru.Cache[string, gym.Route]
	logger   *zap.Logger
}

// NewResolver builds a Resolver with an LRU of route details.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Registry == nil || cfg.Routes == nil {
		return nil, ErrMissingBackend
	}
	size := cfg.RouteCacheSize
	if size <= 0 {
		size = defaultRouteCacheSize
	}
	details, err := lru.New[string, gym.Route](size)
	if err != nil {
		return nil, fmt.Errorf("tracker: route cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		registry: cfg.Registry,
		routes:   cfg.Routes,
		details:  details,
		logger:   logger,
	}, nil
}

// ResolveRoutes returns the active routes of the target reset, or of the wall's current
// reset when no target is given. An unreset wall resolves to no routes.
func (r *Resolver) ResolveRoutes(ctx context.Context, wallID, targetResetID string) ([]gym.Route, error) {
	view, err := r.ResolveView(ctx, wallID, targetResetID)
	if err != nil {
		return nil, err
	}
	return view.Routes, nil
}

// ResolveView resolves the routes together with the view's historical flag.
func (r *Resolver) ResolveView(ctx context.Context, wallID, targetResetID string) (WallView, error) {
	targetResetID = strings.TrimSpace(targetResetID)
	view := WallView{WallID: wallID, Routes: []gym.Route{}}

	current, err := r.registry.CurrentReset(ctx, wallID)
	if err != nil {
		return WallView{}, err
	}
	if current != nil {
		view.CurrentResetID = current.ID
	}
	view.Historical = IsHistoricalView(targetResetID, view.CurrentResetID)

	view.TargetResetID = targetResetID
	if view.TargetResetID == "" {
		view.TargetResetID = view.CurrentResetID
	}
	if view.TargetResetID == "" {
		return view, nil
	}

	routes, err := r.routes.ListRoutes(ctx, gym.RouteQuery{
		WallID:      wallID,
		WallResetID: view.TargetResetID,
		ActiveOnly:  true,
	})
	if err != nil {
		r.logger.Warn("list routes failed", zap.String("wall_id", wallID), zap.String("reset_id", view.TargetResetID), zap.Error(err))
		return WallView{}, fetchError("list_routes", err)
	}
	for _, route := range routes {
		if route.IsActive && route.WallResetID == view.TargetResetID {
			view.Routes = append(view.Routes, route)
			r.details.Add(route.ID, route)
		}
	}
	gym.SortRoutes(view.Routes)
	return view, nil
}

// AddRoute validates the add-route form against the selected reset and creates the route.
// Nothing is written when validation fails.
func (r *Resolver) AddRoute(ctx context.Context, request AddRouteRequest) (gym.Route, error) {
	wallID := strings.TrimSpace(request.WallID)
	resetID := strings.TrimSpace(request.WallResetID)
	grade := strings.TrimSpace(request.Grade)
	tape := strings.TrimSpace(request.TapeColor)
	holds := gym.ParseHoldColors(request.HoldColors)
	switch {
	case wallID == "":
		return gym.Route{}, fmt.Errorf("%w: wall is required", gym.ErrInvalidInput)
	case resetID == "":
		return gym.Route{}, fmt.Errorf("%w: select a wall version", gym.ErrInvalidInput)
	case grade == "":
		return gym.Route{}, fmt.Errorf("%w: grade is required", gym.ErrInvalidInput)
	case tape == "":
		return gym.Route{}, fmt.Errorf("%w: tape color is required", gym.ErrInvalidInput)
	case len(holds) == 0:
		return gym.Route{}, fmt.Errorf("%w: at least one hold color is required", gym.ErrInvalidInput)
	case request.DateSet.IsZero():
		return gym.Route{}, fmt.Errorf("%w: date set is required", gym.ErrInvalidInput)
	}
	if !gym.ParseGrade(grade).Valid() {
		return gym.Route{}, fmt.Errorf("%w: grade %q", gym.ErrInvalidInput, grade)
	}

	resets, err := r.registry.ListResets(ctx, wallID)
	if err != nil {
		return gym.Route{}, err
	}
	var selected *gym.WallReset
	for index := range resets {
		if resets[index].ID == resetID {
			selected = &resets[index]
			break
		}
	}
	if selected == nil {
		return gym.Route{}, fmt.Errorf("%w: reset %s does not belong to %s", gym.ErrInvalidInput, resetID, wallID)
	}
	if err := gym.ValidateRouteDate(request.DateSet, selected.ResetDate); err != nil {
		return gym.Route{}, err
	}

	created, err := r.routes.CreateRoute(ctx, gym.Route{
		WallID:      wallID,
		WallResetID: resetID,
		Grade:       grade,
		TapeColor:   tape,
		HoldColors:  holds,
		DateSet:     gym.CalendarDate(request.DateSet),
		IsActive:    !request.Inactive,
	})
	if err != nil {
		r.logger.Warn("route creation failed", zap.String("wall_id", wallID), zap.Error(err))
		return gym.Route{}, writeError("create_route", err)
	}
	r.details.Add(created.ID, created)
	return created, nil
}

// DeleteRoute removes a route permanently and evicts it from the detail cache.
func (r *Resolver) DeleteRoute(ctx context.Context, routeID string) error {
	if err := r.routes.DeleteRoute(ctx, routeID); err != nil {
		r.logger.Warn("route deletion failed", zap.String("route_id", routeID), zap.Error(err))
		return writeError("delete_route", err)
	}
	r.details.Remove(routeID)
	return nil
}

// RouteDetails returns one route, served from the cache when it was seen recently.
// A missing route still matches gym.ErrNotFound through the FetchError.
func (r *Resolver) RouteDetails(ctx context.Context, routeID string) (gym.Route, error) {
	if route, ok := r.details.Get(routeID); ok {
		return route, nil
	}
	route, err := r.routes.GetRoute(ctx, routeID)
	if err != nil {
		return gym.Route{}, fetchError("get_route", err)
	}
	r.details.Add(route.ID, route)
	return route, nil
}
