package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/feedmodel/internal/concurrent"
)

type fakeSessionManager struct {
	mu          sync.Mutex
	err         error
	missing     map[string]bool
	tokens      []StreamToken
	refreshes   []RequestReason
	invalidated []string
	detached    []string
	requested   [][]string
}

func newFakeSessionManager() *fakeSessionManager {
	return &fakeSessionManager{missing: make(map[string]bool)}
}

func (f *fakeSessionManager) GetStreamFeatures(_ context.Context, ids []string) ([]PayloadWithID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, ids)
	if f.err != nil {
		return nil, f.err
	}
	var out []PayloadWithID
	for _, id := range ids {
		if f.missing[id] {
			continue
		}
		if strings.HasPrefix(id, "token::") {
			out = append(out, PayloadWithID{ContentID: id, Token: &StreamToken{ContentID: id, NextPageToken: []byte("next-" + id)}})
			continue
		}
		out = append(out, PayloadWithID{ContentID: id, Feature: &StreamFeature{ContentID: id}})
	}
	return out, nil
}

func (f *fakeSessionManager) GetSharedState(_ context.Context, id string) *StreamSharedState {
	return &StreamSharedState{ContentID: id, Payload: []byte("shared")}
}

func (f *fakeSessionManager) HandleToken(_ context.Context, _ string, token StreamToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
}

func (f *fakeSessionManager) TriggerRefresh(_ context.Context, _ string, reason RequestReason, _ UIContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, reason)
}

func (f *fakeSessionManager) InvalidateSession(_ context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, sessionID)
}

func (f *fakeSessionManager) DetachSession(_ context.Context, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, sessionID)
}

type recordingObserver struct {
	started  int
	finished int
	errors   []ModelError
}

func (o *recordingObserver) OnSessionStart(UIContext)    { o.started++ }
func (o *recordingObserver) OnSessionFinished(UIContext) { o.finished++ }
func (o *recordingObserver) OnError(err ModelError)      { o.errors = append(o.errors, err) }

type tokenRecorder struct {
	completed []TokenCompleted
	errors    []ModelError
}

func (o *tokenRecorder) OnTokenCompleted(c TokenCompleted) { o.completed = append(o.completed, c) }
func (o *tokenRecorder) OnError(err ModelError)            { o.errors = append(o.errors, err) }

type changeRecorder struct {
	changes []FeatureChange
}

func (o *changeRecorder) OnChange(c FeatureChange) { o.changes = append(o.changes, c) }

type diagnosticsRecorder struct {
	kinds []InternalError
}

func (d *diagnosticsRecorder) OnInternalError(kind InternalError) { d.kinds = append(d.kinds, kind) }

var ids ContentIDGenerators

func newTestProvider(t *testing.T, sm SessionManager, deps Deps) *Provider {
	t.Helper()
	deps.SessionManager = sm
	deps.Logger = zaptest.NewLogger(t)
	return NewProvider(deps)
}

func contentIDs(children []*Child) []string {
	out := make([]string, 0, len(children))
	for _, c := range children {
		out = append(out, c.ContentID())
	}
	return out
}

func commitRootWith(ctx context.Context, p *Provider, children ...string) {
	m := p.Edit().AddChild(Append(ids.RootID(0), ""))
	for _, id := range children {
		m.AddChild(Append(id, ids.RootID(0)))
	}
	m.SetSessionID("session-1").Commit(ctx)
}

func TestEmptyCommitBecomesReady(t *testing.T) {
	diag := &diagnosticsRecorder{}
	p := newTestProvider(t, newFakeSessionManager(), Deps{Diagnostics: diag})

	p.Edit().Commit(context.Background())

	assert.Equal(t, StateReady, p.CurrentState())
	assert.Nil(t, p.RootFeature())
	assert.Contains(t, diag.kinds, InternalRootNotBoundToFeature)
}

func TestInitialCommit(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	p := newTestProvider(t, sm, Deps{})
	obs := &recordingObserver{}
	p.RegisterObserver(obs)

	commitRootWith(ctx, p, ids.FeatureID(1), ids.FeatureID(2))

	require.Equal(t, StateReady, p.CurrentState())
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, "session-1", p.SessionID())

	root := p.RootFeature()
	require.NotNil(t, root)
	assert.Equal(t, ids.RootID(0), root.ContentID())
	assert.Equal(t, []string{ids.FeatureID(1), ids.FeatureID(2)}, contentIDs(root.Cursor().Drain()))
	assert.Len(t, p.AllRootChildren(), 2)
}

func TestRootUniqueness(t *testing.T) {
	ctx := context.Background()

	t.Run("same root is ignored", func(t *testing.T) {
		p := newTestProvider(t, newFakeSessionManager(), Deps{})
		commitRootWith(ctx, p, ids.FeatureID(1))
		p.Edit().AddChild(Append(ids.RootID(0), "")).Commit(ctx)

		assert.Equal(t, StateReady, p.CurrentState())
		assert.Equal(t, ids.RootID(0), p.RootFeature().ContentID())
	})

	t.Run("different root invalidates", func(t *testing.T) {
		diag := &diagnosticsRecorder{}
		sm := newFakeSessionManager()
		p := newTestProvider(t, sm, Deps{Diagnostics: diag})
		obs := &recordingObserver{}
		p.RegisterObserver(obs)
		commitRootWith(ctx, p, ids.FeatureID(1))

		p.Edit().AddChild(Append(ids.RootID(1), "")).Commit(ctx)

		assert.Equal(t, StateInvalidated, p.CurrentState())
		assert.Equal(t, 1, obs.started)
		assert.Equal(t, 1, obs.finished)
		assert.Contains(t, diag.kinds, InternalMultipleRoots)
		assert.Equal(t, []string{"session-1"}, sm.invalidated)
	})

	t.Run("two roots in one commit never become ready", func(t *testing.T) {
		p := newTestProvider(t, newFakeSessionManager(), Deps{})
		obs := &recordingObserver{}
		p.RegisterObserver(obs)

		p.Edit().
			AddChild(Append(ids.RootID(0), "")).
			AddChild(Append(ids.RootID(1), "")).
			Commit(ctx)

		assert.Equal(t, StateInvalidated, p.CurrentState())
		assert.Zero(t, obs.started)
		assert.Equal(t, 1, obs.finished)
	})
}

func TestCursorExhaustion(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{})
	commitRootWith(ctx, p, ids.FeatureID(1))

	cursor := p.RootFeature().Cursor()
	assert.False(t, cursor.IsAtEnd())
	require.NotNil(t, cursor.Next())
	assert.True(t, cursor.IsAtEnd())
	for range 3 {
		assert.Nil(t, cursor.Next())
		assert.True(t, cursor.IsAtEnd())
	}
}

func TestRemoveThenAddOrdering(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{})
	root := ids.RootID(0)
	commitRootWith(ctx, p, "c1", "c2", "c3")

	p.Edit().
		RemoveChild(Remove("c2", root)).
		RemoveChild(Remove("c3", root)).
		AddChild(Append("c4", root)).
		AddChild(Append("c5", root)).
		Commit(ctx)

	assert.Equal(t, []string{"c1", "c4", "c5"}, contentIDs(p.RootFeature().Cursor().Drain()))
	assert.Nil(t, p.ModelChild("c2"))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	root := ids.RootID(0)

	t.Run("unknown id is a no-op", func(t *testing.T) {
		p := newTestProvider(t, newFakeSessionManager(), Deps{})
		commitRootWith(ctx, p, "c1")
		p.Edit().RemoveChild(Remove("missing", root)).Commit(ctx)

		assert.Equal(t, StateReady, p.CurrentState())
		assert.Equal(t, []string{"c1"}, contentIDs(p.RootFeature().Cursor().Drain()))
	})

	t.Run("root cannot be removed", func(t *testing.T) {
		p := newTestProvider(t, newFakeSessionManager(), Deps{})
		commitRootWith(ctx, p, "c1")
		p.Edit().RemoveChild(Remove(root, "")).Commit(ctx)

		require.NotNil(t, p.RootFeature())
		assert.Equal(t, root, p.RootFeature().ContentID())
	})

	t.Run("descendants are pruned but live cursors finish", func(t *testing.T) {
		p := newTestProvider(t, newFakeSessionManager(), Deps{})
		commitRootWith(ctx, p, "c1")
		p.Edit().AddChild(Append("c1a", "c1")).AddChild(Append("c1b", "c1")).Commit(ctx)

		inner := p.ModelChild("c1").Feature().Cursor()
		require.Equal(t, "c1a", inner.Next().ContentID())

		p.Edit().RemoveChild(Remove("c1", root)).Commit(ctx)

		assert.Nil(t, p.ModelChild("c1"))
		assert.Nil(t, p.ModelChild("c1a"))
		assert.Equal(t, "c1b", inner.Next().ContentID())
		assert.Nil(t, inner.Next())
	})
}

func TestSyntheticPagination(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{Config: ConfigMap{
		ConfigInitialNonCachedPageSize: 4,
		ConfigNonCachedPageSize:        4,
		ConfigNonCachedMinPageSize:     2,
	}})

	features := make([]string, 0, 11)
	for i := 1; i <= 11; i++ {
		features = append(features, ids.FeatureID(i))
	}
	commitRootWith(ctx, p, features...)

	children := p.RootFeature().Cursor().Drain()
	require.Len(t, children, 5)
	assert.Equal(t, features[:4], contentIDs(children[:4]))
	token := children[4]
	require.Equal(t, ChildToken, token.Type())
	require.True(t, token.Token().IsSynthetic())

	obs := &tokenRecorder{}
	token.Token().RegisterObserver(obs)
	require.True(t, p.HandleToken(ctx, token.Token()))
	require.Len(t, obs.completed, 1)
	revealed := obs.completed[0].Cursor.Drain()
	require.Len(t, revealed, 5)
	assert.Equal(t, features[4:8], contentIDs(revealed[:4]))

	children = p.RootFeature().Cursor().Drain()
	require.Len(t, children, 9)
	assert.Equal(t, features[:8], contentIDs(children[:8]))
	token = children[8]
	require.True(t, token.Token().IsSynthetic())

	require.True(t, p.HandleToken(ctx, token.Token()))
	children = p.RootFeature().Cursor().Drain()
	require.Len(t, children, 11)
	assert.Equal(t, features, contentIDs(children))
	assert.Equal(t, ChildFeature, children[10].Type())
	assert.Zero(t, p.Dump().SyntheticTokens)
}

func TestSyntheticPaginationDisabled(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{})
	features := make([]string, 0, 11)
	for i := 1; i <= 11; i++ {
		features = append(features, ids.FeatureID(i))
	}
	commitRootWith(ctx, p, features...)

	assert.Equal(t, features, contentIDs(p.RootFeature().Cursor().Drain()))
}

func TestSyntheticTokenRemovedBeforeHandling(t *testing.T) {
	ctx := context.Background()
	queue := &concurrent.Queued{}
	p := newTestProvider(t, newFakeSessionManager(), Deps{
		TaskQueue: concurrent.TaskQueueFunc(queue.ExecuteTask),
		Config: ConfigMap{
			ConfigInitialNonCachedPageSize: 2,
			ConfigNonCachedPageSize:        2,
		},
	})
	commitRootWith(ctx, p, "c1", "c2", "c3", "c4", "c5")

	children := p.RootFeature().Cursor().Drain()
	require.Len(t, children, 3)
	token := children[2]
	obs := &tokenRecorder{}
	token.Token().RegisterObserver(obs)

	require.True(t, p.HandleToken(ctx, token.Token()))
	p.Edit().RemoveChild(Remove(token.ContentID(), ids.RootID(0))).Commit(ctx)
	queue.RunAll()

	assert.Empty(t, obs.completed)
	require.Len(t, obs.errors, 1)
	assert.Equal(t, SyntheticTokenError, obs.errors[0].Type)
}

func commitServerPage(ctx context.Context, p *Provider, token StreamToken, children ...string) {
	root := ids.RootID(0)
	m := p.Edit().RemoveChild(Remove(token.ContentID, root))
	for _, id := range children {
		m.AddChild(Append(id, root))
	}
	m.SetMutationContext(MutationContext{ContinuationToken: &token}).Commit(ctx)
}

func TestServerToken(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	p := newTestProvider(t, sm, Deps{})
	commitRootWith(ctx, p, "c1", ids.TokenID(1))

	children := p.RootFeature().Cursor().Drain()
	require.Len(t, children, 2)
	token := children[1].Token()
	require.NotNil(t, token)
	require.False(t, token.IsSynthetic())

	obs := &tokenRecorder{}
	token.RegisterObserver(obs)
	require.True(t, p.HandleToken(ctx, token))
	require.Len(t, sm.tokens, 1)
	assert.Equal(t, ids.TokenID(1), sm.tokens[0].ContentID)

	commitServerPage(ctx, p, token.StreamToken(), "c2", "c3")

	require.Len(t, obs.completed, 1)
	assert.Equal(t, []string{"c2", "c3"}, contentIDs(obs.completed[0].Cursor.Drain()))
	assert.Equal(t, []string{"c1", "c2", "c3"}, contentIDs(p.RootFeature().Cursor().Drain()))
	assert.Zero(t, p.Dump().Tokens)
}

func TestServerTokenHandledAtMostOnce(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	p := newTestProvider(t, sm, Deps{})
	commitRootWith(ctx, p, "c1", ids.TokenID(1))
	token := p.ModelChild(ids.TokenID(1)).Token()
	obs := &tokenRecorder{}
	token.RegisterObserver(obs)

	assert.True(t, p.HandleToken(ctx, token))
	assert.False(t, p.HandleToken(ctx, token))
	assert.Len(t, sm.tokens, 1)

	commitServerPage(ctx, p, token.StreamToken(), "c2", "c3")
	commitServerPage(ctx, p, token.StreamToken(), "c2", "c3")

	assert.Len(t, obs.completed, 1)
	assert.Equal(t, []string{"c1", "c2", "c3"}, contentIDs(p.RootFeature().Cursor().Drain()))
}

func TestHandleTokenWithoutSession(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	p := newTestProvider(t, sm, Deps{})
	p.Edit().AddChild(Append(ids.RootID(0), "")).AddChild(Append(ids.TokenID(1), ids.RootID(0))).Commit(ctx)

	assert.False(t, p.HandleToken(ctx, p.ModelChild(ids.TokenID(1)).Token()))
	assert.Empty(t, sm.tokens)
	assert.False(t, p.HandleToken(ctx, nil))
}

func TestObserverLateJoin(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{})

	early := &recordingObserver{}
	p.RegisterObserver(early)
	assert.Zero(t, early.started)
	assert.Zero(t, early.finished)

	commitRootWith(ctx, p, "c1")
	late := &recordingObserver{}
	p.RegisterObserver(late)
	assert.Equal(t, 1, late.started)
	assert.Zero(t, late.finished)

	p.Invalidate(ctx)
	afterEnd := &recordingObserver{}
	p.RegisterObserver(afterEnd)
	assert.Zero(t, afterEnd.started)
	assert.Equal(t, 1, afterEnd.finished)
	assert.Equal(t, 1, early.started)
	assert.Equal(t, 1, early.finished)
}

func TestObserverLateJoinWithQueuedBroadcast(t *testing.T) {
	ctx := context.Background()
	main := &concurrent.Queued{}
	p := newTestProvider(t, newFakeSessionManager(), Deps{MainThread: main})

	commitRootWith(ctx, p, "c1")
	require.Equal(t, 1, main.Pending())

	late := &recordingObserver{}
	p.RegisterObserver(late)
	assert.Equal(t, 1, late.started)
	main.RunAll()
	assert.Equal(t, 1, late.started)

	p.Invalidate(ctx)
	afterEnd := &recordingObserver{}
	p.RegisterObserver(afterEnd)
	assert.Equal(t, 1, afterEnd.finished)
	main.RunAll()

	assert.Equal(t, 1, late.finished)
	assert.Zero(t, afterEnd.started)
	assert.Equal(t, 1, afterEnd.finished)
}

// autoPager handles every token it is shown from inside its own callback.
type autoPager struct {
	ctx   context.Context
	p     *Provider
	pages int
}

func (a *autoPager) OnTokenCompleted(c TokenCompleted) {
	a.pages++
	for _, child := range c.Cursor.Drain() {
		if child.Type() == ChildToken {
			child.Token().RegisterObserver(a)
			a.p.HandleToken(a.ctx, child.Token())
		}
	}
}

func (a *autoPager) OnError(ModelError) {}

type committingObserver struct {
	ctx     context.Context
	p       *Provider
	started int
}

func (o *committingObserver) OnSessionStart(UIContext) {
	o.started++
	o.p.Edit().AddChild(Append("added-on-start", ids.RootID(0))).Commit(o.ctx)
}

func (o *committingObserver) OnSessionFinished(UIContext) {}
func (o *committingObserver) OnError(ModelError)          {}

func runWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call did not return")
	}
}

func TestObserversMayCallBackInline(t *testing.T) {
	ctx := context.Background()

	t.Run("handle token from token completion", func(t *testing.T) {
		p := newTestProvider(t, newFakeSessionManager(), Deps{Config: ConfigMap{
			ConfigInitialNonCachedPageSize: 2,
			ConfigNonCachedPageSize:        2,
		}})
		features := make([]string, 0, 7)
		for i := 1; i <= 7; i++ {
			features = append(features, ids.FeatureID(i))
		}
		commitRootWith(ctx, p, features...)

		children := p.RootFeature().Cursor().Drain()
		require.Len(t, children, 3)
		first := children[2].Token()
		require.NotNil(t, first)

		pager := &autoPager{ctx: ctx, p: p}
		first.RegisterObserver(pager)
		runWithin(t, 2*time.Second, func() { p.HandleToken(ctx, first) })

		assert.Equal(t, 3, pager.pages)
		assert.Equal(t, features, contentIDs(p.RootFeature().Cursor().Drain()))
	})

	t.Run("commit from session start", func(t *testing.T) {
		p := newTestProvider(t, newFakeSessionManager(), Deps{})
		obs := &committingObserver{ctx: ctx, p: p}
		p.RegisterObserver(obs)

		runWithin(t, 2*time.Second, func() { commitRootWith(ctx, p, "c1") })

		assert.Equal(t, 1, obs.started)
		assert.Equal(t, []string{"c1", "added-on-start"}, contentIDs(p.RootFeature().Cursor().Drain()))
	})
}

type removalRecorder struct {
	contexts []MutationContext
	removed  []string
	updates  int
}

func (r *removalRecorder) track(mc MutationContext) RemoveTracker {
	r.contexts = append(r.contexts, mc)
	return r
}

func (r *removalRecorder) FilterStreamFeature(f StreamFeature) {
	r.removed = append(r.removed, f.ContentID)
}

func (r *removalRecorder) TriggerConsumerUpdate() { r.updates++ }

func TestRemoveTracking(t *testing.T) {
	ctx := context.Background()
	root := ids.RootID(0)
	p := newTestProvider(t, newFakeSessionManager(), Deps{})
	commitRootWith(ctx, p, "c1", "c2", "c3")
	p.Edit().AddChild(Append("c1a", "c1")).AddChild(Append("c1b", "c1")).Commit(ctx)

	rec := &removalRecorder{}
	p.EnableRemoveTracking(rec.track)

	p.Edit().RemoveChild(Remove("c3", root)).Commit(ctx)
	assert.Empty(t, rec.contexts, "mutations without a context are not tracked")

	mc := MutationContext{RequestingSessionID: "session-1"}
	p.Edit().AddChild(Append("c4", root)).SetMutationContext(mc).Commit(ctx)
	assert.Empty(t, rec.contexts, "mutations without removals are not tracked")

	p.Edit().RemoveChild(Remove("c1", root)).SetMutationContext(mc).Commit(ctx)
	require.Len(t, rec.contexts, 1)
	assert.Equal(t, "session-1", rec.contexts[0].RequestingSessionID)
	assert.Equal(t, []string{"c1", "c1a", "c1b"}, rec.removed)
	assert.Equal(t, 1, rec.updates)
	assert.Equal(t, []string{"c2", "c4"}, contentIDs(p.RootFeature().Cursor().Drain()))
}

func TestUnregisterCancelsQueuedNotification(t *testing.T) {
	ctx := context.Background()
	main := &concurrent.Queued{}
	p := newTestProvider(t, newFakeSessionManager(), Deps{MainThread: main})
	obs := &recordingObserver{}

	p.RegisterObserver(obs)
	p.Invalidate(ctx)
	require.Equal(t, 1, main.Pending())
	p.UnregisterObserver(obs)
	main.RunAll()

	assert.Zero(t, obs.started)
	assert.Zero(t, obs.finished)
	assert.Empty(t, obs.errors)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	p := newTestProvider(t, sm, Deps{})
	obs := &recordingObserver{}
	p.RegisterObserver(obs)
	commitRootWith(ctx, p, "c1")
	cursor := p.RootFeature().Cursor()

	p.Invalidate(ctx)
	p.Invalidate(ctx)

	assert.Equal(t, 1, obs.finished)
	assert.Equal(t, []string{"session-1"}, sm.invalidated)
	assert.True(t, cursor.IsAtEnd())
	assert.Nil(t, cursor.Next())

	p.Edit().AddChild(Append("c2", ids.RootID(0))).Commit(ctx)
	assert.Equal(t, StateInvalidated, p.CurrentState())
	assert.Nil(t, p.ModelChild("c2"))
}

func TestDetach(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	p := newTestProvider(t, sm, Deps{})
	obs := &recordingObserver{}
	p.RegisterObserver(obs)
	commitRootWith(ctx, p, "c1")

	p.Detach(ctx)

	assert.Equal(t, StateInvalidated, p.CurrentState())
	assert.Equal(t, []string{"session-1"}, sm.detached)
	assert.Empty(t, sm.invalidated)
	assert.Zero(t, obs.finished)
}

func TestRaiseError(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{})
	session := &recordingObserver{}
	p.RegisterObserver(session)
	commitRootWith(ctx, p, "c1", ids.TokenID(1))
	token := p.ModelChild(ids.TokenID(1)).Token()
	tokenObs := &tokenRecorder{}
	token.RegisterObserver(tokenObs)

	p.RaiseError(NewModelError(NoCardsError, nil))
	require.Len(t, session.errors, 1)
	assert.Equal(t, NoCardsError, session.errors[0].Type)
	assert.Empty(t, tokenObs.errors)

	p.RaiseError(NewModelError(PaginationError, token.StreamToken().NextPageToken))
	require.Len(t, tokenObs.errors, 1)
	assert.Equal(t, PaginationError, tokenObs.errors[0].Type)
	assert.Len(t, session.errors, 1)
	assert.Equal(t, StateReady, p.CurrentState())
}

func TestPaginationErrorAllowsRetry(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	p := newTestProvider(t, sm, Deps{})
	commitRootWith(ctx, p, ids.TokenID(1))
	token := p.ModelChild(ids.TokenID(1)).Token()

	require.True(t, p.HandleToken(ctx, token))
	p.RaiseError(NewModelError(PaginationError, token.StreamToken().NextPageToken))
	assert.True(t, p.HandleToken(ctx, token))
	assert.Len(t, sm.tokens, 2)
}

func TestTriggerRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("deferred until ready keeps latest reason", func(t *testing.T) {
		sm := newFakeSessionManager()
		p := newTestProvider(t, sm, Deps{})

		p.TriggerRefresh(ctx, ReasonZeroState)
		p.TriggerRefresh(ctx, ReasonManualRefresh)
		assert.Empty(t, sm.refreshes)

		commitRootWith(ctx, p, "c1")
		assert.Equal(t, []RequestReason{ReasonManualRefresh}, sm.refreshes)

		p.Edit().AddChild(Append("c2", ids.RootID(0))).Commit(ctx)
		assert.Len(t, sm.refreshes, 1)
	})

	t.Run("ready delegates immediately", func(t *testing.T) {
		sm := newFakeSessionManager()
		p := newTestProvider(t, sm, Deps{})
		commitRootWith(ctx, p, "c1")

		p.TriggerRefresh(ctx, ReasonHostRequested)
		assert.Equal(t, []RequestReason{ReasonHostRequested}, sm.refreshes)
	})
}

func TestUpdateMutation(t *testing.T) {
	ctx := context.Background()
	main := &concurrent.Queued{}
	p := newTestProvider(t, newFakeSessionManager(), Deps{MainThread: main})
	root := ids.RootID(0)
	commitRootWith(ctx, p, "c1", "c2")
	main.RunAll()

	rootFeature := p.RootFeature()
	changes := &changeRecorder{}
	rootFeature.RegisterObserver(changes)
	cursor := rootFeature.Cursor()
	require.Equal(t, "c1", cursor.Next().ContentID())

	p.Edit().
		RemoveChild(Remove("c2", root)).
		AddChild(Append("c3", root)).
		AddChild(Append("c3a", "c3")).
		UpdateChild(Append(root, "")).
		Commit(ctx)
	assert.Empty(t, changes.changes)
	main.RunAll()

	require.Len(t, changes.changes, 1)
	change := changes.changes[0]
	assert.Equal(t, root, change.ContentID)
	assert.True(t, change.FeatureChanged)
	assert.Equal(t, []string{"c3"}, contentIDs(change.ChildChanges.Appended))
	assert.Equal(t, []string{"c2"}, contentIDs(change.ChildChanges.Removed))

	assert.Equal(t, []string{"c3"}, contentIDs(cursor.Drain()))
	assert.Equal(t, ChildFeature, p.ModelChild("c3a").Type())
}

func TestBindFailureInvalidates(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	sm.err = errors.New("store unavailable")
	diag := &diagnosticsRecorder{}
	p := newTestProvider(t, sm, Deps{Diagnostics: diag})

	commitRootWith(ctx, p, "c1")

	assert.Equal(t, StateInvalidated, p.CurrentState())
	assert.Contains(t, diag.kinds, InternalBindFailed)
}

func TestMissingPayloadLeavesChildUnbound(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSessionManager()
	sm.missing["c2"] = true
	p := newTestProvider(t, sm, Deps{})

	commitRootWith(ctx, p, "c1", "c2", "c3")

	assert.Equal(t, StateReady, p.CurrentState())
	assert.Equal(t, ChildUnbound, p.ModelChild("c2").Type())
	assert.Equal(t, []string{"c1", "c3"}, contentIDs(p.RootFeature().Cursor().Drain()))
}

func TestFilterDropsStructures(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{
		Filter: func(s StreamStructure) bool { return s.ContentID != "hidden" },
	})

	commitRootWith(ctx, p, "c1", "hidden", "c2")

	assert.Equal(t, []string{"c1", "c2"}, contentIDs(p.RootFeature().Cursor().Drain()))
}

func TestViewDepthProvider(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{})
	commitRootWith(ctx, p, "c1")
	p.Edit().AddChild(Append("c1a", "c1")).Commit(ctx)

	assert.Nil(t, p.ViewDepthProvider(nil))

	depth := "c1a"
	vdp := p.ViewDepthProvider(ViewDepthFunc(func() string { return depth }))
	assert.Equal(t, "c1", vdp.ChildViewDepth())

	depth = ids.RootID(0)
	assert.Empty(t, vdp.ChildViewDepth())

	depth = "unknown"
	assert.Empty(t, vdp.ChildViewDepth())
}

func TestSharedState(t *testing.T) {
	p := newTestProvider(t, newFakeSessionManager(), Deps{})

	state := p.SharedState(context.Background(), ids.SharedStateID(1))
	require.NotNil(t, state)
	assert.Equal(t, ids.SharedStateID(1), state.ContentID)
}

func TestDump(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, newFakeSessionManager(), Deps{})
	commitRootWith(ctx, p, "c1", "c2")
	p.Edit().RemoveChild(Remove("c2", ids.RootID(0))).Commit(ctx)
	cursor := p.RootFeature().Cursor()

	info := p.Dump()
	assert.Equal(t, "ready", info.State)
	assert.Equal(t, "session-1", info.SessionID)
	assert.Equal(t, ids.RootID(0), info.RootID)
	assert.Equal(t, 2, info.Commits)
	assert.Equal(t, 1, info.UpdateCommits)
	assert.Equal(t, 1, info.RemovedChildren)
	assert.Equal(t, 1, info.SingleChildContainers)
	assert.Equal(t, 1, info.Cursors)
	assert.False(t, cursor.IsAtEnd())
}
