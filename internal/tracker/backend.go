package tracker

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
)

// User is the signed-in identity as reported by the auth backend.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// AuthBackend signs users in and out of the data service. CurrentUser reports
// ErrNotLoggedIn when the backend holds no session.
type AuthBackend interface {
	CurrentUser(ctx context.Context) (User, error)
	SignIn(ctx context.Context, email, password string) (User, error)
	SignUp(ctx context.Context, email, password, username string) (User, error)
	SignOut(ctx context.Context) error
}

// ResetStore answers wall reset queries. CurrentReset reports gym.ErrNotFound for an
// unreset wall; PerformWallReset must be a single atomic call on the store side.
type ResetStore interface {
	ListResets(ctx context.Context, wallID string) ([]gym.WallReset, error)
	CurrentReset(ctx context.Context, wallID string) (gym.WallReset, error)
	PerformWallReset(ctx context.Context, request gym.ResetRequest) (gym.WallReset, error)
	UpdateResetDate(ctx context.Context, resetID string, resetDate time.Time) (gym.WallReset, error)
}

// RouteStore answers route queries and the active-by-grade aggregation.
type RouteStore interface {
	ListRoutes(ctx context.Context, query gym.RouteQuery) ([]gym.Route, error)
	GetRoute(ctx context.Context, routeID string) (gym.Route, error)
	CreateRoute(ctx context.Context, route gym.Route) (gym.Route, error)
	DeleteRoute(ctx context.Context, routeID string) error
	CountActiveRoutesByGrade(ctx context.Context) ([]gym.GradeCount, error)
}

// ClimbLogStore reads and writes one user's completion records. FindClimbLog reports
// gym.ErrNotFound when the user never logged the route.
type ClimbLogStore interface {
	ListClimbLogs(ctx context.Context, userID string) ([]gym.ClimbLog, error)
	FindClimbLog(ctx context.Context, userID, routeID string) (gym.ClimbLog, error)
	InsertClimbLog(ctx context.Context, userID, routeID string, isComplete bool) (gym.ClimbLog, error)
	UpdateClimbLog(ctx context.Context, userID, logID string, isComplete bool) (gym.ClimbLog, error)
	CompletedRoutesByGrade(ctx context.Context, userID string) ([]gym.GradeCount, error)
}

// Subscription is one open change stream. Events is closed once the stream ends.
type Subscription interface {
	Events() <-chan gym.ClimbLogChange
	Close() error
}

// ChangeFeed opens the per-user climb log change stream.
type ChangeFeed interface {
	SubscribeClimbLogs(ctx context.Context, userID string) (Subscription, error)
}

// Backend bundles the data service contracts a Session consumes.
type Backend struct {
	Auth      AuthBackend
	Resets    ResetStore
	Routes    RouteStore
	ClimbLogs ClimbLogStore
	Changes   ChangeFeed
}
