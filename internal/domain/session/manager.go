package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/feedmodel/internal/concurrent"
	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/feedmodel/internal/shared/id"
	"github.com/GriffinCanCode/feedmodel/internal/store"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Options configures a Manager. Store is required.
type Options struct {
	Store   store.ContentStore
	Config  feed.Configuration
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// Tracer is optional; store calls are traced when set.
	Tracer  *tracing.Tracer
	Breaker *resilience.Breaker
	// TaskQueue runs provider work and page loads.
	TaskQueue concurrent.TaskQueue
	// MainThread delivers observer callbacks.
	MainThread concurrent.MainThreadRunner
}

// Stats summarizes the manager.
type Stats struct {
	Active    int            `json:"active"`
	Created   uint64         `json:"created"`
	Refreshes uint64         `json:"refreshes"`
	ByState   map[string]int `json:"by_state"`
	Breaker   string         `json:"breaker"`
}

// Manager owns the live sessions and serves their providers.
type Manager struct {
	store      store.ContentStore
	config     feed.Configuration
	logger     *logging.Logger
	log        *zap.Logger
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	breaker    *resilience.Breaker
	taskQueue  concurrent.TaskQueue
	mainThread concurrent.MainThreadRunner

	mu       sync.RWMutex
	sessions map[string]*Session

	created   atomic.Uint64
	refreshes atomic.Uint64
}

var _ feed.SessionManager = (*Manager)(nil)

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.Config == nil {
		opts.Config = feed.ConfigMap{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.New("content-store", resilience.Settings{
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, context.Canceled)
			},
		})
	}
	if opts.TaskQueue == nil {
		opts.TaskQueue = concurrent.TaskQueueFunc(concurrent.Immediate{}.ExecuteTask)
	}
	if opts.MainThread == nil {
		opts.MainThread = concurrent.Immediate{}
	}
	return &Manager{
		store:      opts.Store,
		config:     opts.Config,
		logger:     opts.Logger,
		log:        opts.Logger.Component("session"),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		breaker:    opts.Breaker,
		taskQueue:  opts.TaskQueue,
		mainThread: opts.MainThread,
		sessions:   make(map[string]*Session),
	}
}

// Create starts a session and commits the head content into its provider.
// An empty head still produces a READY session, which then reports NO_CARDS.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	head, err := call(ctx, m, "head", m.store.Head)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load head: %w", err)
	}

	sessionID := id.NewSessionID().String()
	logger := m.logger.Session("feed", sessionID)
	provider := feed.NewProvider(feed.Deps{
		SessionManager: m,
		Config:         m.config,
		TaskQueue:      m.taskQueue,
		MainThread:     m.mainThread,
		Logger:         logger,
		Diagnostics:    m.metrics,
		Recorder:       m.metrics,
	})
	sess := newSession(sessionID, provider, m.metrics, logger)
	provider.RegisterObserver(sess)
	provider.EnableRemoveTracking(sess.trackRemovals)

	m.mu.Lock()
	m.sessions[sessionID] = sess
	active := len(m.sessions)
	m.mu.Unlock()
	m.created.Add(1)
	m.metrics.IncSessionsCreated()
	m.metrics.SetSessionsActive(active)

	mutation := provider.Edit().SetSessionID(sessionID)
	for _, s := range head {
		mutation.AddChild(s)
	}
	mutation.Commit(ctx)
	if len(head) == 0 {
		provider.RaiseError(feed.NewModelError(feed.NoCardsError, nil))
	}

	m.log.Info("session created", zap.String("session", sessionID), zap.Int("structures", len(head)))
	return sess, nil
}

// Get returns a live session.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// List returns the live sessions in creation order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.Info())
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return infos
}

// Stats returns manager statistics.
func (m *Manager) Stats() Stats {
	stats := Stats{
		Created:   m.created.Load(),
		Refreshes: m.refreshes.Load(),
		ByState:   make(map[string]int),
		Breaker:   m.breaker.State().String(),
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats.Active = len(m.sessions)
	for _, sess := range m.sessions {
		stats.ByState[sess.provider.CurrentState().String()]++
	}
	return stats
}

// Close invalidates a session and forgets it.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.provider.Invalidate(ctx)
	m.forget(sessionID, false)
	return nil
}

// Shutdown invalidates every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for sessionID := range m.sessions {
		ids = append(ids, sessionID)
	}
	m.mu.RUnlock()

	for _, sessionID := range ids {
		_ = m.Close(ctx, sessionID)
	}
}

// GetStreamFeatures implements feed.SessionManager.
func (m *Manager) GetStreamFeatures(ctx context.Context, contentIDs []string) ([]feed.PayloadWithID, error) {
	return call(ctx, m, "payloads", func(ctx context.Context) ([]feed.PayloadWithID, error) {
		return m.store.Payloads(ctx, contentIDs)
	})
}

// GetSharedState implements feed.SessionManager.
func (m *Manager) GetSharedState(ctx context.Context, contentID string) *feed.StreamSharedState {
	shared, err := call(ctx, m, "shared_state", func(ctx context.Context) (*feed.StreamSharedState, error) {
		return m.store.SharedState(ctx, contentID)
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warn("failed to load shared state", zap.String("content", contentID), zap.Error(err))
		}
		return nil
	}
	return shared
}

// HandleToken implements feed.SessionManager. The page is loaded on the task
// queue and committed with the token in its mutation context.
func (m *Manager) HandleToken(ctx context.Context, sessionID string, token feed.StreamToken) {
	sess, ok := m.Get(sessionID)
	if !ok {
		m.log.Warn("token for unknown session", zap.String("session", sessionID), zap.String("token", token.ContentID))
		return
	}
	hctx := context.WithoutCancel(ctx)
	m.taskQueue.Execute(concurrent.TaskHandleToken, concurrent.TaskTypeUserFacing, func() {
		m.loadPage(hctx, sess, token)
	})
}

func (m *Manager) loadPage(ctx context.Context, sess *Session, token feed.StreamToken) {
	page, err := call(ctx, m, "page", func(ctx context.Context) ([]feed.StreamStructure, error) {
		return m.store.Page(ctx, token.NextPageToken)
	})
	if err != nil {
		m.log.Warn("failed to load page",
			zap.String("session", sess.id),
			zap.String("token", token.ContentID),
			zap.Error(err),
		)
		sess.provider.RaiseError(feed.NewModelError(feed.PaginationError, token.NextPageToken))
		return
	}

	parentID := token.ParentID
	if child := sess.provider.ModelChild(token.ContentID); child != nil {
		parentID = child.ParentID()
	}
	mutation := sess.provider.Edit().RemoveChild(feed.Remove(token.ContentID, parentID))
	for _, s := range page {
		mutation.AddChild(s)
	}
	mutation.SetMutationContext(feed.MutationContext{
		ContinuationToken:   &token,
		RequestingSessionID: sess.id,
	}).Commit(ctx)
}

// TriggerRefresh implements feed.SessionManager. Refreshing ends the session;
// the client starts a new one.
func (m *Manager) TriggerRefresh(ctx context.Context, sessionID string, reason feed.RequestReason, uiContext feed.UIContext) {
	m.refreshes.Add(1)
	m.metrics.RecordRefresh(reason)
	m.log.Info("refresh requested", zap.String("session", sessionID), zap.Stringer("reason", reason))

	if sess, ok := m.Get(sessionID); ok {
		sess.provider.InvalidateWithContext(ctx, uiContext)
	}
}

// InvalidateSession implements feed.SessionManager.
func (m *Manager) InvalidateSession(_ context.Context, sessionID string) {
	m.forget(sessionID, false)
}

// DetachSession implements feed.SessionManager. Detached sessions get no
// finished event, so their subscribers are closed here.
func (m *Manager) DetachSession(_ context.Context, sessionID string) {
	m.forget(sessionID, true)
}

func (m *Manager) forget(sessionID string, closeSubscribers bool) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	active := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}
	if closeSubscribers {
		sess.closeSubscribers()
	}
	m.metrics.SetSessionsActive(active)
	m.log.Info("session ended", zap.String("session", sessionID), zap.Bool("detached", closeSubscribers))
}

// call runs a store method behind the breaker, timing and tracing it.
func call[T any](ctx context.Context, m *Manager, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	var span *tracing.Span
	if m.tracer != nil {
		span, ctx = m.tracer.StartSpan(ctx, "store."+method)
	}
	timer := monitoring.NewTimer(m.metrics, method)

	v, err := resilience.Do(ctx, m.breaker, fn)

	timer.Stop(err)
	if span != nil {
		if err != nil {
			span.SetError(err)
		}
		m.tracer.Finish(span)
	}
	return v, err
}
