package tracker

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"go.uber.org/zap"
)

// ResetRegistry tracks the per-wall reset history and which reset is current.
type ResetRegistry struct {
	store  ResetStore
	logger *zap.Logger
}

// NewResetRegistry builds a registry over the given store.
func NewResetRegistry(store ResetStore, logger *zap.Logger) (*ResetRegistry, error) {
	if store == nil {
		return nil, ErrMissingBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResetRegistry{store: store, logger: logger}, nil
}

// ListResets returns the wall's resets, most recent reset date first. An unreset wall
// yields an empty slice.
func (r *ResetRegistry) ListResets(ctx context.Context, wallID string) ([]gym.WallReset, error) {
	resets, err := r.store.ListResets(ctx, wallID)
	if err != nil {
		r.logger.Warn("list resets failed", zap.String("wall_id", wallID), zap.Error(err))
		return nil, fetchError("list_resets", err)
	}
	if resets == nil {
		resets = []gym.WallReset{}
	}
	sort.SliceStable(resets, func(i, j int) bool {
		return resets[i].ResetDate.After(resets[j].ResetDate)
	})
	return resets, nil
}

// CurrentReset returns the wall's current reset, or nil when the wall was never reset.
func (r *ResetRegistry) CurrentReset(ctx context.Context, wallID string) (*gym.WallReset, error) {
	current, err := r.store.CurrentReset(ctx, wallID)
	if errors.Is(err, gym.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Warn("current reset lookup failed", zap.String("wall_id", wallID), zap.Error(err))
		return nil, fetchError("current_reset", err)
	}
	return &current, nil
}

// PerformReset makes a new reset current for the wall. A zero date lets the store use
// today. The swap of currency happens in a
// single store call; the previous current id lets the store reject a stale view.
func (r *ResetRegistry) PerformReset(ctx context.Context, wallID, photoURL string, resetDate time.Time) (gym.WallReset, error) {
	previous, err := r.CurrentReset(ctx, wallID)
	if err != nil {
		return gym.WallReset{}, err
	}
	request := gym.ResetRequest{WallID: wallID, PhotoURL: photoURL}
	if !resetDate.IsZero() {
		request.ResetDate = gym.CalendarDate(resetDate)
	}
	if previous != nil {
		request.PreviousResetID = previous.ID
	}
	created, err := r.store.PerformWallReset(ctx, request)
	if err != nil {
		r.logger.Warn("wall reset failed", zap.String("wall_id", wallID), zap.Error(err))
		return gym.WallReset{}, writeError("perform_reset", err)
	}
	r.logger.Info("wall reset", zap.String("wall_id", wallID), zap.String("reset_id", created.ID))
	return created, nil
}

// EditResetDate moves a reset to another calendar date. Currency is untouched and routes
// already linked to the reset are not re-validated.
func (r *ResetRegistry) EditResetDate(ctx context.Context, resetID string, resetDate time.Time) error {
	if _, err := r.store.UpdateResetDate(ctx, resetID, gym.CalendarDate(resetDate)); err != nil {
		r.logger.Warn("reset date update failed", zap.String("reset_id", resetID), zap.Error(err))
		return writeError("edit_reset_date", err)
	}
	return nil
}
