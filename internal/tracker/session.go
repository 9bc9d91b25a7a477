package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"go.uber.org/zap"
)

// SessionConfig wires a Session to its backend.
type SessionConfig struct {
	Backend        Backend
	Logger         *zap.Logger
	RouteCacheSize int
}

// Session owns everything scoped to one signed-in user: the identity, the completion cache,
// the change subscription and the views watching routes.
type Session struct {
	backend  Backend
	logger   *zap.Logger
	registry *ResetRegistry
	resolver *Resolver
	cache    *CompletionCache

	mu           sync.Mutex
	user         *User
	subscription Subscription
	consumerDone chan struct{}

	watchMu      sync.Mutex
	nextWatchID  int
	routeWatches map[string]map[int]chan bool
	authWatches  map[int]chan *User
}

// NewSession builds a signed-out session.
func NewSession(cfg SessionConfig) (*Session, error) {
	backend := cfg.Backend
	if backend.Auth == nil || backend.Resets == nil || backend.Routes == nil || backend.ClimbLogs == nil || backend.Changes == nil {
		return nil, ErrMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry, err := NewResetRegistry(backend.Resets, logger)
	if err != nil {
		return nil, err
	}
	resolver, err := NewResolver(ResolverConfig{
		Registry:       registry,
		Routes:         backend.Routes,
		Logger:         logger,
		RouteCacheSize: cfg.RouteCacheSize,
	})
	if err != nil {
		return nil, err
	}
	cache, err := NewCompletionCache(backend.ClimbLogs, logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		backend:      backend,
		logger:       logger,
		registry:     registry,
		resolver:     resolver,
		cache:        cache,
		routeWatches: map[string]map[int]chan bool{},
		authWatches:  map[int]chan *User{},
	}, nil
}

// Registry returns the wall reset registry.
func (s *Session) Registry() *ResetRegistry {
	return s.registry
}

// Resolver returns the route visibility resolver.
func (s *Session) Resolver() *Resolver {
	return s.resolver
}

// Cache returns the signed-in user's completion cache.
func (s *Session) Cache() *CompletionCache {
	return s.cache
}

// Restore adopts a session the auth backend already holds. A signed-out backend is not
// an error.
func (s *Session) Restore(ctx context.Context) error {
	user, err := s.backend.Auth.CurrentUser(ctx)
	if errors.Is(err, ErrNotLoggedIn) {
		return nil
	}
	if err != nil {
		return fetchError("current_user", err)
	}
	s.establish(ctx, user)
	return nil
}

// SignIn authenticates and then loads the user's completions and opens their change stream.
func (s *Session) SignIn(ctx context.Context, email, password string) (User, error) {
	user, err := s.backend.Auth.SignIn(ctx, email, password)
	if err != nil {
		return User{}, err
	}
	s.establish(ctx, user)
	return user, nil
}

// SignUp registers a new account and signs it in.
func (s *Session) SignUp(ctx context.Context, email, password, username string) (User, error) {
	user, err := s.backend.Auth.SignUp(ctx, email, password, username)
	if err != nil {
		return User{}, err
	}
	s.establish(ctx, user)
	return user, nil
}

// SignOut tears down the subscription, empties the cache and forgets the user. Local state
// is cleared even when the backend call fails.
func (s *Session) SignOut(ctx context.Context) error {
	err := s.backend.Auth.SignOut(ctx)
	s.mu.Lock()
	s.teardownLocked()
	s.user = nil
	s.mu.Unlock()
	s.cache.Clear()
	s.notifyAuth(nil)
	if err != nil {
		s.logger.Warn("sign out failed", zap.Error(err))
		return writeError("sign_out", err)
	}
	return nil
}

// Close releases the change subscription without signing out.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// CurrentUser returns the signed-in user.
func (s *Session) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// IsAdmin reports whether the signed-in user carries the admin flag.
func (s *Session) IsAdmin() bool {
	user, ok := s.CurrentUser()
	return ok && user.IsAdmin
}

// Completed reports the cached completion state of a route.
func (s *Session) Completed(routeID string) bool {
	return s.cache.Get(routeID)
}

func (s *Session) establish(ctx context.Context, user User) {
	s.mu.Lock()
	if s.user != nil && s.user.ID != user.ID {
		s.teardownLocked()
	}
	s.user = &user
	s.mu.Unlock()

	s.cache.Clear()
	if err := s.cache.Load(ctx, user.ID); err != nil {
		s.logger.Warn("completion cache starts empty", zap.String("user_id", user.ID), zap.Error(err))
	}
	if err := s.Subscribe(ctx); err != nil {
		s.logger.Warn("climb log subscription failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	userCopy := user
	s.notifyAuth(&userCopy)
}

// Subscribe opens the signed-in user's change stream, replacing any previous one. Changes
// are applied to the cache and forwarded to route watchers in delivery order. The context
// only bounds opening the stream.
func (s *Session) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ErrNotLoggedIn
	}
	s.teardownLocked()

	userID := s.user.ID
	subscription, err := s.backend.Changes.SubscribeClimbLogs(ctx, userID)
	if err != nil {
		return fetchError("subscribe_climb_logs", err)
	}
	done := make(chan struct{})
	s.subscription = subscription
	s.consumerDone = done
	go s.consume(userID, subscription, done)
	s.logger.Debug("climb log subscription opened", zap.String("user_id", userID))
	return nil
}

// Subscribed reports whether a change stream is open for the signed-in user.
func (s *Session) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscription != nil
}

func (s *Session) consume(userID string, subscription Subscription, done chan struct{}) {
	for change := range subscription.Events() {
		if change.UserID != userID {
			continue
		}
		s.cache.Apply(change)
		s.notifyRoute(change.RouteID, change.IsComplete && !change.Deleted)
	}
	close(done)

	// teardownLocked waits on done while holding s.mu, so done closes before locking.
	// A torn down subscription is already detached here.
	s.mu.Lock()
	if s.subscription != subscription {
		s.mu.Unlock()
		return
	}
	s.subscription = nil
	s.consumerDone = nil
	s.logger.Warn("climb log stream ended", zap.String("user_id", userID))
	s.mu.Unlock()
	if err := subscription.Close(); err != nil {
		s.logger.Debug("climb log subscription close failed", zap.Error(err))
	}
}

// teardownLocked closes the active subscription and waits for its consumer. Callers hold s.mu.
func (s *Session) teardownLocked() {
	if s.subscription == nil {
		return
	}
	if err := s.subscription.Close(); err != nil {
		s.logger.Debug("climb log subscription close failed", zap.Error(err))
	}
	<-s.consumerDone
	s.subscription = nil
	s.consumerDone = nil
}

// SetCompletion records the route as completed or not for the signed-in user. An existing
// climb log is updated, otherwise one is inserted; a concurrent insert from elsewhere
// surfaces as a WriteError wrapping gym.ErrDuplicateClimbLog. A write that lands after
// the user signed out or switched accounts is not applied to the cache.
func (s *Session) SetCompletion(ctx context.Context, routeID string, isComplete bool) error {
	user, ok := s.CurrentUser()
	if !ok {
		return ErrNotLoggedIn
	}
	log, err := s.writeCompletion(ctx, user.ID, routeID, isComplete)
	if err != nil {
		if errors.Is(err, ErrNotLoggedIn) {
			return ErrNotLoggedIn
		}
		s.logger.Warn("completion write failed", zap.String("route_id", routeID), zap.Error(err))
		return writeError("set_completion", err)
	}
	if !s.commitCompletion(user.ID, routeID, log.IsComplete) {
		s.logger.Debug("completion write dropped after user change", zap.String("user_id", user.ID), zap.String("route_id", routeID))
		return nil
	}
	s.notifyRoute(routeID, log.IsComplete)
	return nil
}

// commitCompletion caches the value only while userID is still signed in. Holding s.mu
// orders it against SignOut and establish, which clear the cache after swapping the user.
func (s *Session) commitCompletion(userID, routeID string, isComplete bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.ID != userID {
		return false
	}
	s.cache.set(routeID, isComplete)
	return true
}

func (s *Session) writeCompletion(ctx context.Context, userID, routeID string, isComplete bool) (gym.ClimbLog, error) {
	existing, err := s.backend.ClimbLogs.FindClimbLog(ctx, userID, routeID)
	switch {
	case errors.Is(err, gym.ErrNotFound):
		return s.backend.ClimbLogs.InsertClimbLog(ctx, userID, routeID, isComplete)
	case err != nil:
		return gym.ClimbLog{}, err
	default:
		return s.backend.ClimbLogs.UpdateClimbLog(ctx, userID, existing.ID, isComplete)
	}
}

// ToggleCompletion shows desired on the toggle, writes it and settles the toggle. On
// failure the toggle reverts and the error is returned; ErrNotLoggedIn tells the caller
// to send the user to sign in.
func (s *Session) ToggleCompletion(ctx context.Context, toggle *Toggle, desired bool) error {
	if err := toggle.Begin(desired); err != nil {
		return err
	}
	if err := s.SetCompletion(ctx, toggle.RouteID(), desired); err != nil {
		toggle.Revert()
		return err
	}
	toggle.Confirm(s.cache.Get(toggle.RouteID()))
	return nil
}

// Watch registers interest in one route. The channel carries the latest completion
// state; stale values are replaced rather than queued.
func (s *Session) Watch(routeID string) (<-chan bool, func()) {
	updates := make(chan bool, 1)
	s.watchMu.Lock()
	id := s.nextWatchID
	s.nextWatchID++
	if s.routeWatches[routeID] == nil {
		s.routeWatches[routeID] = map[int]chan bool{}
	}
	s.routeWatches[routeID][id] = updates
	s.watchMu.Unlock()

	var once sync.Once
	return updates, func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			delete(s.routeWatches[routeID], id)
			if len(s.routeWatches[routeID]) == 0 {
				delete(s.routeWatches, routeID)
			}
			close(updates)
		})
	}
}

// WatchAuth registers interest in sign-in state. A nil user means signed out.
func (s *Session) WatchAuth() (<-chan *User, func()) {
	updates := make(chan *User, 1)
	s.watchMu.Lock()
	id := s.nextWatchID
	s.nextWatchID++
	s.authWatches[id] = updates
	s.watchMu.Unlock()

	var once sync.Once
	return updates, func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			delete(s.authWatches, id)
			close(updates)
		})
	}
}

func (s *Session) notifyRoute(routeID string, isComplete bool) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, updates := range s.routeWatches[routeID] {
		replaceLatest(updates, isComplete)
	}
}

func (s *Session) notifyAuth(user *User) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, updates := range s.authWatches {
		replaceLatest(updates, user)
	}
}

func replaceLatest[T any](updates chan T, value T) {
	select {
	case <-updates:
	default:
	}
	select {
	case updates <- value:
	default:
	}
}
