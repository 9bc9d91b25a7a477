package tracker

import (
	"context"
	"sort"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
)

// GradeProgress is one row of the profile progress table.
type GradeProgress struct {
	Grade     string `json:"grade"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// Progress combines the gym-wide active route counts with the signed-in user's
// completions, one row per grade in grade order.
func (s *Session) Progress(ctx context.Context) ([]GradeProgress, error) {
	user, ok := s.CurrentUser()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	totals, err := s.backend.Routes.CountActiveRoutesByGrade(ctx)
	if err != nil {
		return nil, fetchError("active_routes_by_grade", err)
	}
	completed, err := s.backend.ClimbLogs.CompletedRoutesByGrade(ctx, user.ID)
	if err != nil {
		return nil, fetchError("completed_routes_by_grade", err)
	}

	rows := make(map[string]*GradeProgress, len(totals))
	for _, count := range totals {
		rows[count.Grade] = &GradeProgress{Grade: count.Grade, Total: count.Count}
	}
	for _, count := range completed {
		row, ok := rows[count.Grade]
		if !ok {
			row = &GradeProgress{Grade: count.Grade}
			rows[count.Grade] = row
		}
		row.Completed = count.Count
	}

	progress := make([]GradeProgress, 0, len(rows))
	for _, row := range rows {
		progress = append(progress, *row)
	}
	sort.SliceStable(progress, func(i, j int) bool {
		return gym.CompareGrades(progress[i].Grade, progress[j].Grade) < 0
	})
	return progress, nil
}
