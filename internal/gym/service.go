package gym

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingWalls      = errors.New("at least one wall is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable "operation.reason" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "gym.service.new"
	opListResets          = "gym.list_resets"
	opCurrentReset        = "gym.current_reset"
	opGetReset            = "gym.get_reset"
	opPerformReset        = "gym.perform_wall_reset"
	opUpdateResetDate     = "gym.update_reset_date"
	opListRoutes          = "gym.list_routes"
	opGetRoute            = "gym.get_route"
	opCreateRoute         = "gym.create_route"
	opDeleteRoute         = "gym.delete_route"
	opListClimbLogs       = "gym.list_climb_logs"
	opFindClimbLog        = "gym.find_climb_log"
	opInsertClimbLog      = "gym.insert_climb_log"
	opUpdateClimbLog      = "gym.update_climb_log"
	opCountActiveByGrade  = "gym.count_active_routes_by_grade"
	opCompletedByGrade    = "gym.completed_routes_by_grade"
	reasonMissingDatabase = "missing_database"
	reasonInvalidInput    = "invalid_input"
	reasonUnknownWall     = "unknown_wall"
	reasonNotFound        = "not_found"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
	reasonStaleReset      = "stale_reset"
	reasonDuplicate       = "duplicate"
	reasonIDFailed        = "id_generation_failed"
	queryWallCurrent      = "wall_id = ? AND is_current = ?"
	queryUserRoute        = "user_id = ? AND route_id = ?"
	orderResetsNewest     = "reset_date DESC, created_at DESC"
	orderRoutesDefault    = "date_set DESC, grade ASC"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ChangePublisher receives climb log changes after they are committed.
type ChangePublisher interface {
	PublishClimbLogChange(change ClimbLogChange)
}

// ServiceConfig describes the dependencies of the gym data service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Walls      []string
	Publisher  ChangePublisher
}

// Service owns wall resets, routes and climb logs.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	walls      []string
	wallSet    map[string]struct{}
	publisher  ChangePublisher
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	walls := make([]string, 0, len(cfg.Walls))
	wallSet := make(map[string]struct{}, len(cfg.Walls))
	for _, raw := range cfg.Walls {
		wall := strings.TrimSpace(raw)
		if wall == "" {
			continue
		}
		if _, seen := wallSet[wall]; seen {
			continue
		}
		wallSet[wall] = struct{}{}
		walls = append(walls, wall)
	}
	if len(walls) == 0 {
		return nil, newServiceError(opServiceNew, "missing_walls", errMissingWalls)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		walls:      walls,
		wallSet:    wallSet,
		publisher:  cfg.Publisher,
	}, nil
}

// SetPublisher attaches the realtime publisher once the transport is built.
func (s *Service) SetPublisher(publisher ChangePublisher) {
	s.publisher = publisher
}

// Walls returns the configured wall identifiers in configuration order.
func (s *Service) Walls() []string {
	return append([]string(nil), s.walls...)
}

// ValidateWall reports ErrUnknownWall for identifiers outside the configured gym.
func (s *Service) ValidateWall(wallID string) error {
	if _, ok := s.wallSet[strings.TrimSpace(wallID)]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWall, wallID)
	}
	return nil
}

// ListResets returns every reset of a wall, most recent reset date first.
func (s *Service) ListResets(ctx context.Context, wallID string) ([]WallReset, error) {
	if err := s.ready(opListResets); err != nil {
		return nil, err
	}
	if err := s.ValidateWall(wallID); err != nil {
		return nil, newServiceError(opListResets, reasonUnknownWall, err)
	}

	resets := make([]WallReset, 0)
	if err := s.db.WithContext(ctx).
		Where("wall_id = ?", wallID).
		Order(orderResetsNewest).
		Find(&resets).Error; err != nil {
		s.logError(opListResets, reasonQueryFailed, err, zap.String("wall_id", wallID))
		return nil, newServiceError(opListResets, reasonQueryFailed, err)
	}
	return resets, nil
}

// CurrentReset returns the wall's current reset or ErrNotFound for an unreset wall.
func (s *Service) CurrentReset(ctx context.Context, wallID string) (WallReset, error) {
	if err := s.ready(opCurrentReset); err != nil {
		return WallReset{}, err
	}
	if err := s.ValidateWall(wallID); err != nil {
		return WallReset{}, newServiceError(opCurrentReset, reasonUnknownWall, err)
	}

	var current WallReset
	err := s.db.WithContext(ctx).Where(queryWallCurrent, wallID, true).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WallReset{}, newServiceError(opCurrentReset, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opCurrentReset, reasonQueryFailed, err, zap.String("wall_id", wallID))
		return WallReset{}, newServiceError(opCurrentReset, reasonQueryFailed, err)
	}
	return current, nil
}

// GetReset loads a reset by identifier.
func (s *Service) GetReset(ctx context.Context, resetID string) (WallReset, error) {
	if err := s.ready(opGetReset); err != nil {
		return WallReset{}, err
	}
	var reset WallReset
	err := s.db.WithContext(ctx).Where("id = ?", resetID).Take(&reset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WallReset{}, newServiceError(opGetReset, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetReset, reasonQueryFailed, err, zap.String("reset_id", resetID))
		return WallReset{}, newServiceError(opGetReset, reasonQueryFailed, err)
	}
	return reset, nil
}

// PerformWallReset demotes the wall's current reset and inserts a new current one in a
// single transaction. A non-empty PreviousResetID must still be the current reset.
func (s *Service) PerformWallReset(ctx context.Context, request ResetRequest) (WallReset, error) {
	if err := s.ready(opPerformReset); err != nil {
		return WallReset{}, err
	}
	if err := s.ValidateWall(request.WallID); err != nil {
		return WallReset{}, newServiceError(opPerformReset, reasonUnknownWall, err)
	}

	resetDate := request.ResetDate
	if resetDate.IsZero() {
		resetDate = s.clock()
	}
	resetID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPerformReset, reasonIDFailed, err)
		return WallReset{}, newServiceError(opPerformReset, reasonIDFailed, err)
	}
	created := WallReset{
		ID:        resetID,
		WallID:    request.WallID,
		ResetDate: CalendarDate(resetDate),
		PhotoURL:  strings.TrimSpace(request.PhotoURL),
		IsCurrent: true,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var currents []WallReset
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryWallCurrent, request.WallID, true).
			Find(&currents).Error; err != nil {
			return newServiceError(opPerformReset, reasonQueryFailed, err)
		}
		previous := strings.TrimSpace(request.PreviousResetID)
		if previous != "" && (len(currents) == 0 || currents[0].ID != previous) {
			return newServiceError(opPerformReset, reasonStaleReset, ErrStaleReset)
		}
		if err := tx.Model(&WallReset{}).
			Where(queryWallCurrent, request.WallID, true).
			Update("is_current", false).Error; err != nil {
			return newServiceError(opPerformReset, reasonWriteFailed, err)
		}
		if err := tx.Create(&created).Error; err != nil {
			return newServiceError(opPerformReset, reasonWriteFailed, err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrStaleReset) {
			s.logError(opPerformReset, "transaction_failed", txErr, zap.String("wall_id", request.WallID))
		}
		return WallReset{}, txErr
	}

	s.logger.Info("wall reset performed",
		zap.String("wall_id", created.WallID),
		zap.String("reset_id", created.ID),
		zap.String("reset_date", FormatDate(created.ResetDate)))
	return created, nil
}

// UpdateResetDate changes a reset's date without touching which reset is current.
// Routes already linked to the reset are not re-validated.
func (s *Service) UpdateResetDate(ctx context.Context, resetID string, resetDate time.Time) (WallReset, error) {
	if err := s.ready(opUpdateResetDate); err != nil {
		return WallReset{}, err
	}
	if resetDate.IsZero() {
		return WallReset{}, newServiceError(opUpdateResetDate, reasonInvalidInput, fmt.Errorf("%w: reset date required", ErrInvalidInput))
	}

	result := s.db.WithContext(ctx).
		Model(&WallReset{}).
		Where("id = ?", resetID).
		Update("reset_date", CalendarDate(resetDate))
	if result.Error != nil {
		s.logError(opUpdateResetDate, reasonWriteFailed, result.Error, zap.String("reset_id", resetID))
		return WallReset{}, newServiceError(opUpdateResetDate, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return WallReset{}, newServiceError(opUpdateResetDate, reasonNotFound, ErrNotFound)
	}
	return s.GetReset(ctx, resetID)
}

// ListRoutes returns routes matching the query ordered by set date, newest first.
func (s *Service) ListRoutes(ctx context.Context, query RouteQuery) ([]Route, error) {
	if err := s.ready(opListRoutes); err != nil {
		return nil, err
	}
	statement := s.db.WithContext(ctx).Model(&Route{})
	if query.WallID != "" {
		if err := s.ValidateWall(query.WallID); err != nil {
			return nil, newServiceError(opListRoutes, reasonUnknownWall, err)
		}
		statement = statement.Where("wall_id = ?", query.WallID)
	}
	if query.WallResetID != "" {
		statement = statement.Where("wall_reset_id = ?", query.WallResetID)
	}
	if query.ActiveOnly {
		statement = statement.Where("is_active = ?", true)
	}

	routes := make([]Route, 0)
	if err := statement.Order(orderRoutesDefault).Find(&routes).Error; err != nil {
		s.logError(opListRoutes, reasonQueryFailed, err,
			zap.String("wall_id", query.WallID),
			zap.String("wall_reset_id", query.WallResetID))
		return nil, newServiceError(opListRoutes, reasonQueryFailed, err)
	}
	SortRoutes(routes)
	return routes, nil
}

// GetRoute loads a route by identifier.
func (s *Service) GetRoute(ctx context.Context, routeID string) (Route, error) {
	if err := s.ready(opGetRoute); err != nil {
		return Route{}, err
	}
	var route Route
	err := s.db.WithContext(ctx).Where("id = ?", routeID).Take(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Route{}, newServiceError(opGetRoute, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opGetRoute, reasonQueryFailed, err, zap.String("route_id", routeID))
		return Route{}, newServiceError(opGetRoute, reasonQueryFailed, err)
	}
	return route, nil
}

// CreateRoute inserts a route on an existing reset of the same wall. The set date may not
// precede the reset date.
func (s *Service) CreateRoute(ctx context.Context, route Route) (Route, error) {
	if err := s.ready(opCreateRoute); err != nil {
		return Route{}, err
	}
	if err := s.ValidateWall(route.WallID); err != nil {
		return Route{}, newServiceError(opCreateRoute, reasonUnknownWall, err)
	}
	route.Grade = ParseGrade(route.Grade).String()
	route.TapeColor = strings.TrimSpace(route.TapeColor)
	if route.Grade == "" || route.TapeColor == "" || len(route.HoldColors) == 0 || route.DateSet.IsZero() {
		return Route{}, newServiceError(opCreateRoute, reasonInvalidInput,
			fmt.Errorf("%w: grade, tape color, hold colors and set date are required", ErrInvalidInput))
	}

	reset, err := s.GetReset(ctx, route.WallResetID)
	if err != nil {
		return Route{}, err
	}
	if reset.WallID != route.WallID {
		return Route{}, newServiceError(opCreateRoute, reasonInvalidInput,
			fmt.Errorf("%w: reset %s belongs to %s", ErrInvalidInput, reset.ID, reset.WallID))
	}
	if err := ValidateRouteDate(route.DateSet, reset.ResetDate); err != nil {
		return Route{}, newServiceError(opCreateRoute, reasonInvalidInput, err)
	}

	routeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRoute, reasonIDFailed, err)
		return Route{}, newServiceError(opCreateRoute, reasonIDFailed, err)
	}
	route.ID = routeID
	route.DateSet = CalendarDate(route.DateSet)

	if err := s.db.WithContext(ctx).Create(&route).Error; err != nil {
		s.logError(opCreateRoute, reasonWriteFailed, err, zap.String("wall_id", route.WallID))
		return Route{}, newServiceError(opCreateRoute, reasonWriteFailed, err)
	}
	return route, nil
}

// DeleteRoute hard-deletes a route together with every climb log that references it.
func (s *Service) DeleteRoute(ctx context.Context, routeID string) error {
	if err := s.ready(opDeleteRoute); err != nil {
		return err
	}

	var removedLogs []ClimbLog
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("route_id = ?", routeID).Find(&removedLogs).Error; err != nil {
			return newServiceError(opDeleteRoute, reasonQueryFailed, err)
		}
		if err := tx.Where("route_id = ?", routeID).Delete(&ClimbLog{}).Error; err != nil {
			return newServiceError(opDeleteRoute, reasonWriteFailed, err)
		}
		result := tx.Where("id = ?", routeID).Delete(&Route{})
		if result.Error != nil {
			return newServiceError(opDeleteRoute, reasonWriteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteRoute, reasonNotFound, ErrNotFound)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrNotFound) {
			s.logError(opDeleteRoute, "transaction_failed", txErr, zap.String("route_id", routeID))
		}
		return txErr
	}

	now := s.clock().UTC()
	for _, log := range removedLogs {
		s.publish(ClimbLogChange{UserID: log.UserID, RouteID: log.RouteID, Deleted: true, Timestamp: now})
	}
	return nil
}

// ListClimbLogs returns every climb log of a user.
func (s *Service) ListClimbLogs(ctx context.Context, userID string) ([]ClimbLog, error) {
	if err := s.ready(opListClimbLogs); err != nil {
		return nil, err
	}
	logs := make([]ClimbLog, 0)
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&logs).Error; err != nil {
		s.logError(opListClimbLogs, reasonQueryFailed, err, zap.String("user_id", userID))
		return nil, newServiceError(opListClimbLogs, reasonQueryFailed, err)
	}
	return logs, nil
}

// FindClimbLog returns the user's log for a route or ErrNotFound.
func (s *Service) FindClimbLog(ctx context.Context, userID, routeID string) (ClimbLog, error) {
	if err := s.ready(opFindClimbLog); err != nil {
		return ClimbLog{}, err
	}
	var log ClimbLog
	err := s.db.WithContext(ctx).Where(queryUserRoute, userID, routeID).Take(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClimbLog{}, newServiceError(opFindClimbLog, reasonNotFound, ErrNotFound)
	}
	if err != nil {
		s.logError(opFindClimbLog, reasonQueryFailed, err, zap.String("user_id", userID), zap.String("route_id", routeID))
		return ClimbLog{}, newServiceError(opFindClimbLog, reasonQueryFailed, err)
	}
	return log, nil
}

// InsertClimbLog creates the first log for a user and route. A second insert for the same
// pair fails with ErrDuplicateClimbLog.
func (s *Service) InsertClimbLog(ctx context.Context, userID, routeID string, isComplete bool) (ClimbLog, error) {
	if err := s.ready(opInsertClimbLog); err != nil {
		return ClimbLog{}, err
	}
	if _, err := s.GetRoute(ctx, routeID); err != nil {
		return ClimbLog{}, err
	}
	logID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opInsertClimbLog, reasonIDFailed, err)
		return ClimbLog{}, newServiceError(opInsertClimbLog, reasonIDFailed, err)
	}

	log := ClimbLog{
		ID:          logID,
		UserID:      userID,
		RouteID:     routeID,
		IsComplete:  isComplete,
		CompletedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&log).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ClimbLog{}, newServiceError(opInsertClimbLog, reasonDuplicate, ErrDuplicateClimbLog)
		}
		s.logError(opInsertClimbLog, reasonWriteFailed, err, zap.String("user_id", userID), zap.String("route_id", routeID))
		return ClimbLog{}, newServiceError(opInsertClimbLog, reasonWriteFailed, err)
	}

	s.publish(ClimbLogChange{UserID: userID, RouteID: routeID, IsComplete: isComplete, Timestamp: log.CompletedAt})
	return log, nil
}

// UpdateClimbLog sets the completion flag of an existing log and refreshes completed_at.
func (s *Service) UpdateClimbLog(ctx context.Context, userID, logID string, isComplete bool) (ClimbLog, error) {
	if err := s.ready(opUpdateClimbLog); err != nil {
		return ClimbLog{}, err
	}
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&ClimbLog{}).
		Where("id = ? AND user_id = ?", logID, userID).
		Updates(map[string]interface{}{"is_complete": isComplete, "completed_at": now})
	if result.Error != nil {
		s.logError(opUpdateClimbLog, reasonWriteFailed, result.Error, zap.String("user_id", userID), zap.String("log_id", logID))
		return ClimbLog{}, newServiceError(opUpdateClimbLog, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return ClimbLog{}, newServiceError(opUpdateClimbLog, reasonNotFound, ErrNotFound)
	}

	var log ClimbLog
	if err := s.db.WithContext(ctx).Where("id = ?", logID).Take(&log).Error; err != nil {
		s.logError(opUpdateClimbLog, reasonQueryFailed, err, zap.String("log_id", logID))
		return ClimbLog{}, newServiceError(opUpdateClimbLog, reasonQueryFailed, err)
	}

	s.publish(ClimbLogChange{UserID: userID, RouteID: log.RouteID, IsComplete: log.IsComplete, Timestamp: now})
	return log, nil
}

// CountActiveRoutesByGrade counts active routes on current resets across the gym.
func (s *Service) CountActiveRoutesByGrade(ctx context.Context) ([]GradeCount, error) {
	if err := s.ready(opCountActiveByGrade); err != nil {
		return nil, err
	}
	counts := make([]GradeCount, 0)
	if err := s.db.WithContext(ctx).
		Model(&Route{}).
		Select("routes.grade AS grade, COUNT(*) AS count").
		Joins("JOIN wall_resets ON wall_resets.id = routes.wall_reset_id").
		Where("routes.is_active = ? AND wall_resets.is_current = ?", true, true).
		Group("routes.grade").
		Scan(&counts).Error; err != nil {
		s.logError(opCountActiveByGrade, reasonQueryFailed, err)
		return nil, newServiceError(opCountActiveByGrade, reasonQueryFailed, err)
	}
	SortGradeCounts(counts)
	return counts, nil
}

// CompletedRoutesByGrade counts a user's completed active routes on current resets.
func (s *Service) CompletedRoutesByGrade(ctx context.Context, userID string) ([]GradeCount, error) {
	if err := s.ready(opCompletedByGrade); err != nil {
		return nil, err
	}
	counts := make([]GradeCount, 0)
	if err := s.db.WithContext(ctx).
		Model(&ClimbLog{}).
		Select("routes.grade AS grade, COUNT(*) AS count").
		Joins("JOIN routes ON routes.id = climb_logs.route_id").
		Joins("JOIN wall_resets ON wall_resets.id = routes.wall_reset_id").
		Where("climb_logs.user_id = ? AND climb_logs.is_complete = ?", userID, true).
		Where("routes.is_active = ? AND wall_resets.is_current = ?", true, true).
		Group("routes.grade").
		Scan(&counts).Error; err != nil {
		s.logError(opCompletedByGrade, reasonQueryFailed, err, zap.String("user_id", userID))
		return nil, newServiceError(opCompletedByGrade, reasonQueryFailed, err)
	}
	SortGradeCounts(counts)
	return counts, nil
}

func (s *Service) ready(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	return nil
}

func (s *Service) publish(change ClimbLogChange) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishClimbLogChange(change)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("gym service error", attrs...)
}
