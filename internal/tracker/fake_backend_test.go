package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
)

var errBackendDown = errors.New("backend unavailable")

// memoryBackend is an in-memory data service used across tracker tests.
type memoryBackend struct {
	mu sync.Mutex

	users    map[string]User
	password map[string]string
	signedIn *User

	resets    []gym.WallReset
	routes    []gym.Route
	climbLogs []gym.ClimbLog
	nextID    int

	writes        int
	resetCalls    []gym.ResetRequest
	failReads     bool
	failWrites    bool
	insertErr     error
	subscriptions []*memorySubscription

	// insertStarted and insertRelease, when set, hold InsertClimbLog until released.
	insertStarted chan struct{}
	insertRelease chan struct{}
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{users: map[string]User{}, password: map[string]string{}}
}

func (b *memoryBackend) backend() Backend {
	return Backend{Auth: b, Resets: b, Routes: b, ClimbLogs: b, Changes: b}
}

func (b *memoryBackend) id(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s-%d", prefix, b.nextID)
}

func (b *memoryBackend) addUser(id, email, password string, isAdmin bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[email] = User{ID: id, Email: email, Username: id, IsAdmin: isAdmin}
	b.password[email] = password
}

func (b *memoryBackend) addReset(id, wallID string, date time.Time, current bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets = append(b.resets, gym.WallReset{ID: id, WallID: wallID, ResetDate: date, IsCurrent: current})
}

func (b *memoryBackend) addRoute(route gym.Route) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = append(b.routes, route)
}

func (b *memoryBackend) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *memoryBackend) currentCount(wallID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, reset := range b.resets {
		if reset.WallID == wallID && reset.IsCurrent {
			count++
		}
	}
	return count
}

func (b *memoryBackend) push(change gym.ClimbLogChange) {
	b.mu.Lock()
	subscriptions := append([]*memorySubscription(nil), b.subscriptions...)
	b.mu.Unlock()
	for _, subscription := range subscriptions {
		if subscription.userID == change.UserID {
			subscription.deliver(change)
		}
	}
}

func (b *memoryBackend) openSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := 0
	for _, subscription := range b.subscriptions {
		if !subscription.isClosed() {
			open++
		}
	}
	return open
}

func (b *memoryBackend) CurrentUser(context.Context) (User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signedIn == nil {
		return User{}, ErrNotLoggedIn
	}
	return *b.signedIn, nil
}

func (b *memoryBackend) SignIn(_ context.Context, email, password string) (User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.users[email]
	if !ok || b.password[email] != password {
		return User{}, errors.New("invalid credentials")
	}
	b.signedIn = &user
	return user, nil
}

func (b *memoryBackend) SignUp(_ context.Context, email, password, username string) (User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[email]; exists {
		return User{}, errors.New("email taken")
	}
	user := User{ID: b.id("user"), Email: email, Username: username}
	b.users[email] = user
	b.password[email] = password
	b.signedIn = &user
	return user, nil
}

func (b *memoryBackend) SignOut(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signedIn = nil
	return nil
}

func (b *memoryBackend) ListResets(_ context.Context, wallID string) ([]gym.WallReset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return nil, errBackendDown
	}
	var resets []gym.WallReset
	for _, reset := range b.resets {
		if reset.WallID == wallID {
			resets = append(resets, reset)
		}
	}
	return resets, nil
}

func (b *memoryBackend) CurrentReset(_ context.Context, wallID string) (gym.WallReset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return gym.WallReset{}, errBackendDown
	}
	for _, reset := range b.resets {
		if reset.WallID == wallID && reset.IsCurrent {
			return reset, nil
		}
	}
	return gym.WallReset{}, gym.ErrNotFound
}

func (b *memoryBackend) PerformWallReset(_ context.Context, request gym.ResetRequest) (gym.WallReset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetCalls = append(b.resetCalls, request)
	if b.failWrites {
		return gym.WallReset{}, errBackendDown
	}
	b.writes++
	for index := range b.resets {
		if b.resets[index].WallID == request.WallID && b.resets[index].IsCurrent {
			if b.resets[index].ID != request.PreviousResetID {
				return gym.WallReset{}, gym.ErrStaleReset
			}
			b.resets[index].IsCurrent = false
		}
	}
	created := gym.WallReset{
		ID:        b.id("reset"),
		WallID:    request.WallID,
		ResetDate: request.ResetDate,
		PhotoURL:  request.PhotoURL,
		IsCurrent: true,
	}
	b.resets = append(b.resets, created)
	return created, nil
}

func (b *memoryBackend) UpdateResetDate(_ context.Context, resetID string, resetDate time.Time) (gym.WallReset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return gym.WallReset{}, errBackendDown
	}
	b.writes++
	for index := range b.resets {
		if b.resets[index].ID == resetID {
			b.resets[index].ResetDate = resetDate
			return b.resets[index], nil
		}
	}
	return gym.WallReset{}, gym.ErrNotFound
}

func (b *memoryBackend) ListRoutes(_ context.Context, query gym.RouteQuery) ([]gym.Route, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return nil, errBackendDown
	}
	var routes []gym.Route
	for _, route := range b.routes {
		if query.WallID != "" && route.WallID != query.WallID {
			continue
		}
		if query.WallResetID != "" && route.WallResetID != query.WallResetID {
			continue
		}
		if query.ActiveOnly && !route.IsActive {
			continue
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func (b *memoryBackend) GetRoute(_ context.Context, routeID string) (gym.Route, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return gym.Route{}, errBackendDown
	}
	for _, route := range b.routes {
		if route.ID == routeID {
			return route, nil
		}
	}
	return gym.Route{}, gym.ErrNotFound
}

func (b *memoryBackend) CreateRoute(_ context.Context, route gym.Route) (gym.Route, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return gym.Route{}, errBackendDown
	}
	b.writes++
	route.ID = b.id("route")
	b.routes = append(b.routes, route)
	return route, nil
}

func (b *memoryBackend) DeleteRoute(_ context.Context, routeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return errBackendDown
	}
	b.writes++
	for index, route := range b.routes {
		if route.ID == routeID {
			b.routes = append(b.routes[:index], b.routes[index+1:]...)
			return nil
		}
	}
	return gym.ErrNotFound
}

func (b *memoryBackend) CountActiveRoutesByGrade(context.Context) ([]gym.GradeCount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return nil, errBackendDown
	}
	counts := map[string]int64{}
	for _, route := range b.routes {
		if route.IsActive {
			counts[route.Grade]++
		}
	}
	return gradeCounts(counts), nil
}

func (b *memoryBackend) ListClimbLogs(_ context.Context, userID string) ([]gym.ClimbLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return nil, errBackendDown
	}
	var logs []gym.ClimbLog
	for _, log := range b.climbLogs {
		if log.UserID == userID {
			logs = append(logs, log)
		}
	}
	return logs, nil
}

func (b *memoryBackend) FindClimbLog(_ context.Context, userID, routeID string) (gym.ClimbLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return gym.ClimbLog{}, errBackendDown
	}
	for _, log := range b.climbLogs {
		if log.UserID == userID && log.RouteID == routeID {
			return log, nil
		}
	}
	return gym.ClimbLog{}, gym.ErrNotFound
}

func (b *memoryBackend) holdInserts() (started, release chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertStarted = make(chan struct{}, 1)
	b.insertRelease = make(chan struct{})
	return b.insertStarted, b.insertRelease
}

func (b *memoryBackend) endStreams() {
	b.mu.Lock()
	subscriptions := append([]*memorySubscription(nil), b.subscriptions...)
	b.mu.Unlock()
	for _, subscription := range subscriptions {
		_ = subscription.Close()
	}
}

func (b *memoryBackend) InsertClimbLog(_ context.Context, userID, routeID string, isComplete bool) (gym.ClimbLog, error) {
	b.mu.Lock()
	started, release := b.insertStarted, b.insertRelease
	b.mu.Unlock()
	if release != nil {
		started <- struct{}{}
		<-release
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.insertErr != nil {
		return gym.ClimbLog{}, b.insertErr
	}
	if b.failWrites {
		return gym.ClimbLog{}, errBackendDown
	}
	b.writes++
	log := gym.ClimbLog{ID: b.id("log"), UserID: userID, RouteID: routeID, IsComplete: isComplete, CompletedAt: time.Now().UTC()}
	b.climbLogs = append(b.climbLogs, log)
	return log, nil
}

func (b *memoryBackend) UpdateClimbLog(_ context.Context, userID, logID string, isComplete bool) (gym.ClimbLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return gym.ClimbLog{}, errBackendDown
	}
	b.writes++
	for index := range b.climbLogs {
		if b.climbLogs[index].ID == logID && b.climbLogs[index].UserID == userID {
			b.climbLogs[index].IsComplete = isComplete
			b.climbLogs[index].CompletedAt = time.Now().UTC()
			return b.climbLogs[index], nil
		}
	}
	return gym.ClimbLog{}, gym.ErrNotFound
}

func (b *memoryBackend) CompletedRoutesByGrade(_ context.Context, userID string) ([]gym.GradeCount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failReads {
		return nil, errBackendDown
	}
	grades := map[string]string{}
	for _, route := range b.routes {
		grades[route.ID] = route.Grade
	}
	counts := map[string]int64{}
	for _, log := range b.climbLogs {
		if log.UserID == userID && log.IsComplete {
			counts[grades[log.RouteID]]++
		}
	}
	return gradeCounts(counts), nil
}

func (b *memoryBackend) SubscribeClimbLogs(_ context.Context, userID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subscription := &memorySubscription{userID: userID, events: make(chan gym.ClimbLogChange, 16)}
	b.subscriptions = append(b.subscriptions, subscription)
	return subscription, nil
}

func gradeCounts(counts map[string]int64) []gym.GradeCount {
	rows := make([]gym.GradeCount, 0, len(counts))
	for grade, count := range counts {
		rows = append(rows, gym.GradeCount{Grade: grade, Count: count})
	}
	gym.SortGradeCounts(rows)
	return rows
}

type memorySubscription struct {
	userID string

	mu     sync.Mutex
	closed bool
	events chan gym.ClimbLogChange
}

func (s *memorySubscription) Events() <-chan gym.ClimbLogChange {
	return s.events
}

func (s *memorySubscription) deliver(change gym.ClimbLogChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- change
	}
}

func (s *memorySubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func date(value string) time.Time {
	parsed, err := gym.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return parsed
}
