package feed

import (
	"context"
	"strings"
	"sync"
	"time"
	"weak"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/feedmodel/internal/concurrent"
	"github.com/GriffinCanCode/feedmodel/internal/shared/observable"
)

const syntheticTokenPrefix = "_token:"

// cursorPruneThreshold bounds how many dead cursor references accumulate
// between update mutations.
const cursorPruneThreshold = 64

// State is the session state of a Provider.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateInvalidated
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

type modelState struct {
	state     State
	uiContext UIContext
}

// container is the ordered child list of one parent. Token tracking keeps a
// pointer to it so later appends are visible.
type container struct {
	children []*Child
}

type tokenTracking struct {
	token    *Token
	parentID string
	location *container
}

// Recorder receives operational measurements. It is optional.
type Recorder interface {
	CommitApplied(kind string, duration time.Duration)
	TokenHandled(synthetic bool)
}

type nopRecorder struct{}

func (nopRecorder) CommitApplied(string, time.Duration) {}
func (nopRecorder) TokenHandled(bool)                   {}

// Deps are the collaborators of a Provider. SessionManager is required.
type Deps struct {
	SessionManager SessionManager
	Config         Configuration
	TaskQueue      concurrent.TaskQueue
	MainThread     concurrent.MainThreadRunner
	Logger         *zap.Logger
	Diagnostics    Diagnostics
	Recorder       Recorder
	// Filter drops structure changes for which it returns false.
	Filter func(StreamStructure) bool
}

// Provider holds one session's feed tree in memory.
type Provider struct {
	sessionManager SessionManager
	taskQueue      concurrent.TaskQueue
	mainThread     concurrent.MainThreadRunner
	logger         *zap.Logger
	diagnostics    Diagnostics
	recorder       Recorder
	filter         func(StreamStructure) bool
	binder         *binder

	initialPageSize int
	pageSize        int
	minPageSize     int

	// commitMu serializes everything that restructures the tree.
	commitMu sync.Mutex

	mu              sync.Mutex
	root            *Child
	containers      map[string]*container
	contents        map[string]*Child
	tokens          map[string]*tokenTracking
	inFlight        map[string]bool
	syntheticTokens map[string]*syntheticTracker
	cursors         []weak.Pointer[Cursor]
	state           modelState
	sessionID       string

	delayedTriggerRefresh bool
	requestReason         RequestReason
	requestUIContext      UIContext

	removeTracking RemoveTrackerFactory

	counters dumpCounters

	observers observable.Registry[Observer]
	started   map[Observer]bool
	finished  map[Observer]bool

	outbox   []notice
	holds    int
	flushing bool
}

type dumpCounters struct {
	removedChildren   int
	removeScans       int
	commits           int
	tokenCommits      int
	updateCommits     int
	cursorsRemoved    int
	syntheticHandled  int
	serverTokensAsked int
}

// NewProvider creates a provider in the INITIALIZING state.
func NewProvider(deps Deps) *Provider {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config == nil {
		deps.Config = ConfigMap{}
	}
	if deps.TaskQueue == nil {
		deps.TaskQueue = concurrent.TaskQueueFunc(concurrent.Immediate{}.ExecuteTask)
	}
	if deps.MainThread == nil {
		deps.MainThread = concurrent.Immediate{}
	}
	if deps.Diagnostics == nil {
		deps.Diagnostics = DiagnosticsFunc(func(InternalError) {})
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	p := &Provider{
		sessionManager:  deps.SessionManager,
		taskQueue:       deps.TaskQueue,
		mainThread:      deps.MainThread,
		logger:          deps.Logger,
		diagnostics:     deps.Diagnostics,
		recorder:        deps.Recorder,
		filter:          deps.Filter,
		initialPageSize: int(deps.Config.ValueOrDefault(ConfigInitialNonCachedPageSize, 0)),
		pageSize:        int(deps.Config.ValueOrDefault(ConfigNonCachedPageSize, 0)),
		minPageSize:     int(deps.Config.ValueOrDefault(ConfigNonCachedMinPageSize, 0)),
		containers:      make(map[string]*container),
		contents:        make(map[string]*Child),
		tokens:          make(map[string]*tokenTracking),
		inFlight:        make(map[string]bool),
		syntheticTokens: make(map[string]*syntheticTracker),
		state:           modelState{state: StateInitializing},
		started:         make(map[Observer]bool),
		finished:        make(map[Observer]bool),
	}
	p.binder = &binder{sessionManager: deps.SessionManager, cursors: p.provideCursor, logger: deps.Logger}
	return p
}

func (p *Provider) provideCursor(parentID string) *Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cursor *Cursor
	if list := p.containers[parentID]; list != nil {
		cursor = newCursor(parentID, list.children)
	} else {
		p.logger.Debug("no children found for cursor", zap.String("parent", parentID))
		cursor = newCursor(parentID, nil)
	}
	if p.state.state == StateInvalidated {
		cursor.release()
		return cursor
	}
	if len(p.cursors) >= cursorPruneThreshold {
		p.pruneCursorsLocked()
	}
	p.cursors = append(p.cursors, weak.Make(cursor))
	return cursor
}

func (p *Provider) pruneCursorsLocked() {
	live := p.cursors[:0]
	for _, ref := range p.cursors {
		if ref.Value() != nil {
			live = append(live, ref)
		} else {
			p.counters.cursorsRemoved++
		}
	}
	clear(p.cursors[len(live):])
	p.cursors = live
}

// Edit starts a new mutation.
func (p *Provider) Edit() *Mutation {
	return &Mutation{commit: p.commit}
}

// CurrentState returns the session state.
func (p *Provider) CurrentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.state
}

// SessionID returns the bound session id, empty before the first commit that carried one.
func (p *Provider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionID == "" {
		p.logger.Debug("session id requested before it was set")
	}
	return p.sessionID
}

// RootFeature returns the root feature, or nil when there is no root or the
// root is not bound to a feature.
func (p *Provider) RootFeature() *Feature {
	p.mu.Lock()
	root := p.root
	p.mu.Unlock()

	if root == nil {
		p.logger.Debug("found empty stream")
		return nil
	}
	if root.Type() != ChildFeature {
		p.diagnostics.OnInternalError(InternalRootNotBoundToFeature)
		p.logger.Error("root is bound to the wrong type", zap.Stringer("type", root.Type()))
		return nil
	}
	return root.Feature()
}

// ModelChild returns the child with the given content id, including pending
// synthetic tokens.
func (p *Provider) ModelChild(contentID string) *Child {
	p.mu.Lock()
	defer p.mu.Unlock()

	if child := p.contents[contentID]; child != nil {
		return child
	}
	if tracker := p.syntheticTokens[contentID]; tracker != nil {
		return tracker.tokenChild
	}
	return nil
}

// AllRootChildren returns a copy of the root's child list, including children
// not yet revealed by pagination.
func (p *Provider) AllRootChildren() []*Child {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.root == nil {
		return nil
	}
	list := p.containers[p.root.contentID]
	if list == nil {
		return nil
	}
	out := make([]*Child, len(list.children))
	copy(out, list.children)
	return out
}

// SharedState resolves out-of-band shared state through the session manager.
func (p *Provider) SharedState(ctx context.Context, contentID string) *StreamSharedState {
	return p.sessionManager.GetSharedState(ctx, contentID)
}

// HandleToken requests the children behind a token. Synthetic tokens are
// handled locally on the task queue; server tokens go to the session manager.
func (p *Provider) HandleToken(ctx context.Context, token *Token) bool {
	if token == nil {
		return false
	}
	st := token.StreamToken()

	if token.IsSynthetic() {
		p.mu.Lock()
		tracker := p.syntheticTokens[st.ContentID]
		p.mu.Unlock()
		if tracker == nil {
			p.logger.Error("unable to find the synthetic token tracker", zap.String("token", st.ContentID))
			return false
		}
		hctx := context.WithoutCancel(ctx)
		p.taskQueue.Execute(concurrent.TaskHandleSyntheticToken, concurrent.TaskTypeUserFacing, func() {
			p.handleSyntheticToken(hctx, token)
		})
		p.recorder.TokenHandled(true)
		return true
	}

	key := string(st.NextPageToken)
	p.mu.Lock()
	sessionID := p.sessionID
	if sessionID != "" && p.inFlight[key] {
		p.mu.Unlock()
		p.logger.Warn("token is already being handled", zap.String("token", st.ContentID))
		return false
	}
	if sessionID != "" {
		p.inFlight[key] = true
		p.counters.serverTokensAsked++
	}
	p.mu.Unlock()

	if sessionID == "" {
		p.logger.Error("cannot handle token", zap.String("token", st.ContentID), zap.Error(ErrNoSession))
		return false
	}
	p.recorder.TokenHandled(false)
	p.sessionManager.HandleToken(ctx, sessionID, st)
	return true
}

// TriggerRefresh asks the session manager for fresh content.
func (p *Provider) TriggerRefresh(ctx context.Context, reason RequestReason) {
	p.TriggerRefreshWithContext(ctx, reason, UIContext{})
}

// TriggerRefreshWithContext asks for fresh content. Until the session is READY
// and bound to a session id the request is deferred; only the latest one is kept.
func (p *Provider) TriggerRefreshWithContext(ctx context.Context, reason RequestReason, uiContext UIContext) {
	p.mu.Lock()
	if p.state.state == StateInvalidated {
		p.mu.Unlock()
		p.logger.Debug("ignoring refresh on an invalidated model provider", zap.Stringer("reason", reason))
		return
	}
	if p.sessionID == "" || p.state.state != StateReady {
		p.delayedTriggerRefresh = true
		p.requestReason = reason
		p.requestUIContext = uiContext
		p.mu.Unlock()
		p.logger.Debug("deferring refresh until session is bound", zap.Stringer("reason", reason))
		return
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	p.sessionManager.TriggerRefresh(ctx, sessionID, reason, uiContext)
}

// RegisterObserver registers a session observer. If the session is already
// READY or INVALIDATED the matching callback fires before this returns. Each
// observer gets OnSessionStart and OnSessionFinished at most once, whether
// from here or from a broadcast still queued on the main thread runner.
func (p *Provider) RegisterObserver(o Observer) {
	p.observers.Register(o)

	p.mu.Lock()
	st := p.state
	p.mu.Unlock()

	switch st.state {
	case StateReady:
		if p.markStarted(o) {
			o.OnSessionStart(st.uiContext)
		}
	case StateInvalidated:
		if p.markFinished(o) {
			o.OnSessionFinished(st.uiContext)
		}
	}
}

// UnregisterObserver removes a session observer. Callbacks already queued on
// the main thread runner are not delivered to it.
func (p *Provider) UnregisterObserver(o Observer) {
	p.observers.Unregister(o)

	p.mu.Lock()
	delete(p.started, o)
	delete(p.finished, o)
	p.mu.Unlock()
}

// EnableRemoveTracking installs a factory whose trackers see every feature
// removed by a mutation that carries a MutationContext. A nil factory turns
// tracking off.
func (p *Provider) EnableRemoveTracking(factory RemoveTrackerFactory) {
	p.mu.Lock()
	p.removeTracking = factory
	p.mu.Unlock()
}

// Invalidate ends the session.
func (p *Provider) Invalidate(ctx context.Context) {
	p.InvalidateWithContext(ctx, UIContext{})
}

// InvalidateWithContext ends the session. Invalidating twice is a no-op.
func (p *Provider) InvalidateWithContext(ctx context.Context, uiContext UIContext) {
	if !p.moveToInvalidated(uiContext) {
		p.logger.Debug("invalidated an already invalid model provider")
		return
	}
	if sessionID := p.SessionID(); sessionID != "" {
		p.logger.Info("invalidating model provider", zap.String("session", sessionID))
		p.sessionManager.InvalidateSession(ctx, sessionID)
	}
	p.notifySessionFinished(uiContext)
}

// Detach ends the session without notifying observers and tells the session
// manager the session is no longer attached.
func (p *Provider) Detach(ctx context.Context) {
	if !p.moveToInvalidated(UIContext{}) {
		p.logger.Debug("unable to detach an invalid model provider")
		return
	}
	if sessionID := p.SessionID(); sessionID != "" {
		p.logger.Info("detaching model provider", zap.String("session", sessionID))
		p.sessionManager.DetachSession(ctx, sessionID)
	}
}

func (p *Provider) moveToInvalidated(uiContext UIContext) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.state == StateInvalidated {
		return false
	}
	p.logger.Info("moving to invalidated", zap.String("session", p.sessionID))
	p.invalidateLocked(uiContext)
	return true
}

func (p *Provider) invalidateLocked(uiContext UIContext) {
	p.state = modelState{state: StateInvalidated, uiContext: uiContext}
	for _, ref := range p.cursors {
		if cursor := ref.Value(); cursor != nil {
			cursor.release()
		}
	}
	p.cursors = nil
	clear(p.tokens)
	clear(p.inFlight)
	clear(p.syntheticTokens)
	clear(p.containers)
}

func (p *Provider) notifySessionStart(uiContext UIContext) {
	p.post("onSessionStart", func() {
		for _, o := range p.observers.Snapshot() {
			if p.markStarted(o) {
				o.OnSessionStart(uiContext)
			}
		}
	})
}

func (p *Provider) notifySessionFinished(uiContext UIContext) {
	p.post("onSessionFinished", func() {
		for _, o := range p.observers.Snapshot() {
			if p.markFinished(o) {
				o.OnSessionFinished(uiContext)
			}
		}
	})
}

// RaiseError routes a model error. Session scoped errors reach every session
// observer; token scoped errors reach only the observers of the token tracked
// under the error's continuation token.
func (p *Provider) RaiseError(err ModelError) {
	switch {
	case err.Type == NoCardsError:
		p.post("onError", func() {
			for _, o := range p.observers.Snapshot() {
				o.OnError(err)
			}
		})
	case err.Type.TokenScoped():
		key := string(err.ContinuationToken)
		p.mu.Lock()
		tracking := p.tokens[key]
		delete(p.inFlight, key)
		p.mu.Unlock()
		if tracking == nil {
			p.logger.Error("token observer not found for error", zap.Stringer("type", err.Type))
			p.diagnostics.OnInternalError(InternalTokenNotFound)
			return
		}
		p.raiseErrorOnToken(err, tracking.token)
	default:
		p.logger.Warn("ignoring unknown model error", zap.Error(err))
	}
}

func (p *Provider) raiseErrorOnToken(err ModelError, token *Token) {
	p.post("onTokenError", func() {
		for _, o := range token.observers.Snapshot() {
			o.OnError(err)
		}
	})
}

func (p *Provider) notifyTokenCompleted(token *Token, completed TokenCompleted) {
	p.post("onTokenChange", func() {
		for _, o := range token.observers.Snapshot() {
			o.OnTokenCompleted(completed)
		}
	})
}

// ViewDepthProvider wraps a UI depth provider so the reported content id is
// always a direct child of the root. A nil delegate yields nil.
func (p *Provider) ViewDepthProvider(delegate ViewDepthProvider) ViewDepthProvider {
	if delegate == nil {
		return nil
	}
	return ViewDepthFunc(func() string {
		cid := delegate.ChildViewDepth()

		p.mu.Lock()
		defer p.mu.Unlock()
		if cid == "" || p.root == nil {
			return ""
		}
		rootID := p.root.contentID
		child := p.contents[cid]
		for child != nil {
			if !child.HasParent() {
				return ""
			}
			if child.parentID == rootID {
				return child.contentID
			}
			child = p.contents[child.parentID]
		}
		return ""
	})
}

func isSyntheticID(contentID string) bool {
	return strings.HasPrefix(contentID, syntheticTokenPrefix)
}
