package gym

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

var (
	// ErrNotFound marks an expected "no row" answer (no current reset, no climb log yet).
	ErrNotFound = errors.New("gym: not found")
	// ErrInvalidInput indicates a request failed field validation.
	ErrInvalidInput = errors.New("gym: invalid input")
	// ErrUnknownWall indicates the wall identifier is not part of the configured gym.
	ErrUnknownWall = errors.New("gym: unknown wall")
	// ErrStaleReset indicates the caller's view of the current reset is out of date.
	ErrStaleReset = errors.New("gym: stale current reset")
	// ErrDuplicateClimbLog indicates a climb log already exists for the user and route.
	ErrDuplicateClimbLog = errors.New("gym: duplicate climb log")
	// ErrRouteDateBeforeReset indicates a route set date earlier than its reset date.
	ErrRouteDateBeforeReset = errors.New("gym: route set date precedes reset date")
)

// WallReset is one setting session of a wall. Routes are scoped to a reset.
type WallReset struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	WallID    string    `gorm:"column:wall_id;size:190;not null;index:idx_wall_resets_wall_date,priority:1" json:"wall_id"`
	ResetDate time.Time `gorm:"column:reset_date;not null;index:idx_wall_resets_wall_date,priority:2" json:"reset_date"`
	PhotoURL  string    `gorm:"column:photo_url;size:1024;not null;default:''" json:"photo_url,omitempty"`
	IsCurrent bool      `gorm:"column:is_current;not null;default:false" json:"is_current"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (WallReset) TableName() string {
	return "wall_resets"
}

// Route is a climbing line set on a specific wall reset.
type Route struct {
	ID          string                      `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	WallID      string                      `gorm:"column:wall_id;size:190;not null;index:idx_routes_wall_reset,priority:1" json:"wall_id"`
	WallResetID string                      `gorm:"column:wall_reset_id;size:190;not null;index:idx_routes_wall_reset,priority:2" json:"wall_reset_id"`
	Grade       string                      `gorm:"column:grade;size:32;not null" json:"grade"`
	TapeColor   string                      `gorm:"column:tape_color;size:64;not null" json:"tape_color"`
	HoldColors  datatypes.JSONSlice[string] `gorm:"column:hold_color;not null" json:"hold_color"`
	DateSet     time.Time                   `gorm:"column:date_set;not null" json:"date_set"`
	IsActive    bool                        `gorm:"column:is_active;not null;index" json:"is_active"`
	CreatedAt   time.Time                   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Route) TableName() string {
	return "routes"
}

// ClimbLog is one user's completion record for one route.
type ClimbLog struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID      string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_climb_logs_user_route,priority:1" json:"user_id"`
	RouteID     string    `gorm:"column:route_id;size:190;not null;uniqueIndex:idx_climb_logs_user_route,priority:2;index" json:"route_id"`
	IsComplete  bool      `gorm:"column:is_complete;not null;default:false" json:"is_complete"`
	CompletedAt time.Time `gorm:"column:completed_at;not null" json:"completed_at"`
}

// TableName provides the explicit table binding for GORM.
func (ClimbLog) TableName() string {
	return "climb_logs"
}

// GradeCount is one row of a per-grade aggregation.
type GradeCount struct {
	Grade string `json:"grade"`
	Count int64  `json:"count"`
}

// ClimbLogChange is the push payload emitted whenever a user's climb log changes.
type ClimbLogChange struct {
	UserID     string    `json:"user_id"`
	RouteID    string    `json:"route_id"`
	IsComplete bool      `json:"is_complete"`
	Deleted    bool      `json:"deleted,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RouteQuery filters a route listing. Empty fields are not applied.
type RouteQuery struct {
	WallID      string
	WallResetID string
	ActiveOnly  bool
}

// ResetRequest carries the arguments of the atomic wall reset procedure.
type ResetRequest struct {
	WallID          string    `json:"wall_id"`
	PhotoURL        string    `json:"photo_url"`
	PreviousResetID string    `json:"previous_reset_id,omitempty"`
	ResetDate       time.Time `json:"reset_date"`
}

// ValidateIdentifier trims and bounds an identifier supplied by a caller.
func ValidateIdentifier(kind, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidInput, kind)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, kind, maxIdentifierLength)
	}
	return trimmed, nil
}

// ParseHoldColors splits a comma separated list, trimming entries and dropping empties.
func ParseHoldColors(raw string) []string {
	parts := strings.Split(raw, ",")
	colors := make([]string, 0, len(parts))
	for _, part := range parts {
		if color := strings.TrimSpace(part); color != "" {
			colors = append(colors, color)
		}
	}
	return colors
}
