package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"go.uber.org/zap"
)

const defaultRealtimeBufferSize = 64

// RealtimeDispatcher fans climb log changes out to the subscribers of the affected user.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	logger      *zap.Logger
}

type realtimeSubscriber struct {
	id     int64
	stream chan gym.ClimbLogChange
}

// NewRealtimeDispatcher constructs an empty dispatcher.
func NewRealtimeDispatcher(logger *zap.Logger) *RealtimeDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBufferSize,
		logger:      logger,
	}
}

// Subscribe registers interest in a user's changes until ctx ends or the returned
// cleanup runs. Changes are delivered in publish order.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan gym.ClimbLogChange, func()) {
	if userID == "" {
		ch := make(chan gym.ClimbLogChange)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan gym.ClimbLogChange, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishClimbLogChange delivers the change to every subscriber of its user. A subscriber
// whose buffer is full misses the change.
func (d *RealtimeDispatcher) PublishClimbLogChange(change gym.ClimbLogChange) {
	if change.UserID == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[change.UserID] {
		select {
		case subscriber.stream <- change:
		default:
			d.logger.Warn("realtime subscriber lagging, change dropped",
				zap.String("user_id", change.UserID),
				zap.String("route_id", change.RouteID))
		}
	}
}

// SubscriberCount reports the number of live subscriptions for a user.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
