package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/tracker"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamBufferSize = 64

type streamSubscription struct {
	conn   *websocket.Conn
	events chan gym.ClimbLogChange
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// SubscribeClimbLogs opens the user's climb log change stream over a websocket.
func (c *Client) SubscribeClimbLogs(ctx context.Context, userID string) (tracker.Subscription, error) {
	token := c.Token()
	if token == "" {
		return nil, tracker.ErrNotLoggedIn
	}
	target := c.endpoint(userPath(userID)+"/climb-logs/stream", nil)
	target = "ws" + strings.TrimPrefix(target, "http")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, response, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if response != nil {
			defer response.Body.Close()
			return nil, decodeAPIError(response)
		}
		return nil, fmt.Errorf("client: dial climb log stream: %w", err)
	}

	subscription := &streamSubscription{
		conn:   conn,
		events: make(chan gym.ClimbLogChange, streamBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go subscription.read(c.logger.With(zap.String("user_id", userID)))
	return subscription, nil
}

func (s *streamSubscription) read(logger *zap.Logger) {
	defer close(s.done)
	defer close(s.events)
	for {
		var change gym.ClimbLogChange
		if err := s.conn.ReadJSON(&change); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Debug("climb log stream ended", zap.Error(err))
			}
			return
		}
		select {
		case s.events <- change:
		case <-s.stop:
			return
		}
	}
}

func (s *streamSubscription) Events() <-chan gym.ClimbLogChange {
	return s.events
}

// Close ends the stream and waits for the reader to finish.
func (s *streamSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.conn.Close()
	})
	<-s.done
	return err
}
