package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/monitoring"
)

// EventType names a session event.
type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventSessionFinished EventType = "session_finished"
	EventError           EventType = "error"
	EventTokenCompleted  EventType = "token_completed"
	EventContentRemoved  EventType = "content_removed"
)

// Event is pushed to session subscribers.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id"`
	Error     string            `json:"error,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	Children  []string          `json:"children,omitempty"`
	UIContext map[string]string `json:"ui_context,omitempty"`
	Time      time.Time         `json:"time"`
}

// Info is a listing entry.
type Info struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one provider plus its event subscribers.
type Session struct {
	id        string
	createdAt time.Time
	provider  *feed.Provider
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
	closed      bool
}

func newSession(id string, provider *feed.Provider, metrics *monitoring.Metrics, logger *zap.Logger) *Session {
	return &Session{
		id:          id,
		createdAt:   time.Now(),
		provider:    provider,
		metrics:     metrics,
		logger:      logger,
		subscribers: make(map[int]chan Event),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Provider returns the session's model provider.
func (s *Session) Provider() *feed.Provider { return s.provider }

// Info describes the session.
func (s *Session) Info() Info {
	return Info{ID: s.id, State: s.provider.CurrentState().String(), CreatedAt: s.createdAt}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. The channel is closed when the session ends.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	key := s.nextSub
	s.nextSub++
	s.subscribers[key] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subscribers[key]; ok {
				delete(s.subscribers, key)
				close(c)
			}
		})
	}
}

// WatchToken forwards the token's outcome to subscribers. It reports false
// if the token was already watched.
func (s *Session) WatchToken(token *feed.Token) bool {
	return token.RegisterObserver(s)
}

// UnwatchToken stops forwarding the token's outcome.
func (s *Session) UnwatchToken(token *feed.Token) {
	token.UnregisterObserver(s)
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	e.Time = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			s.logger.Warn("subscriber is full, dropping event", zap.String("event", string(e.Type)))
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, ch := range s.subscribers {
		delete(s.subscribers, key)
		close(ch)
	}
}

// OnSessionStart implements feed.Observer.
func (s *Session) OnSessionStart(uiContext feed.UIContext) {
	s.publish(Event{Type: EventSessionStart, UIContext: uiContext.Payload})
}

// OnSessionFinished implements feed.Observer. It is the last event.
func (s *Session) OnSessionFinished(uiContext feed.UIContext) {
	s.publish(Event{Type: EventSessionFinished, UIContext: uiContext.Payload})
	s.closeSubscribers()
}

// OnError implements feed.Observer and feed.TokenCompletedObserver.
func (s *Session) OnError(err feed.ModelError) {
	s.metrics.RecordModelError(err.Type)
	s.publish(Event{Type: EventError, Error: err.Type.String()})
}

// OnTokenCompleted implements feed.TokenCompletedObserver.
func (s *Session) OnTokenCompleted(completed feed.TokenCompleted) {
	e := Event{Type: EventTokenCompleted}
	if completed.Cursor != nil {
		e.ParentID = completed.Cursor.ParentContentID()
		for _, child := range completed.Cursor.Drain() {
			e.Children = append(e.Children, child.ContentID())
		}
	}
	s.publish(e)
}

// trackRemovals is the session's feed.RemoveTrackerFactory.
func (s *Session) trackRemovals(feed.MutationContext) feed.RemoveTracker {
	return &removalTracker{session: s}
}

// removalTracker publishes the features one mutation removed.
type removalTracker struct {
	session *Session
	removed []string
}

func (t *removalTracker) FilterStreamFeature(f feed.StreamFeature) {
	t.removed = append(t.removed, f.ContentID)
}

func (t *removalTracker) TriggerConsumerUpdate() {
	if len(t.removed) == 0 {
		return
	}
	t.session.publish(Event{Type: EventContentRemoved, Children: t.removed})
}
