package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/feedmodel/internal/store"
)

func feature(contentID, parentID string) feed.PayloadWithID {
	return feed.PayloadWithID{
		ContentID: contentID,
		Feature:   &feed.StreamFeature{ContentID: contentID, ParentID: parentID, Card: &feed.Card{Title: contentID}},
	}
}

func token(contentID, parentID, next string) feed.PayloadWithID {
	return feed.PayloadWithID{
		ContentID: contentID,
		Token:     &feed.StreamToken{ContentID: contentID, ParentID: parentID, NextPageToken: []byte(next)},
	}
}

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.PutPayloads(ctx, []feed.PayloadWithID{
		feature("root", ""),
		feature("a", "root"),
		feature("b", "root"),
		feature("c", "root"),
		token("token::p2", "root", "p2"),
		token("token::gone", "root", "gone"),
		{ContentID: "theme", SharedState: &feed.StreamSharedState{ContentID: "theme", Payload: []byte("dark")}},
	}))
	require.NoError(t, s.SetHead(ctx, []feed.StreamStructure{
		feed.Append("root", ""),
		feed.Append("a", "root"),
		feed.Append("b", "root"),
		feed.Append("token::p2", "root"),
	}))
	require.NoError(t, s.PutPage(ctx, []byte("p2"), []feed.StreamStructure{feed.Append("c", "root")}))
	return s
}

func newTestManager(t *testing.T, s store.ContentStore) *Manager {
	t.Helper()
	return NewManager(Options{
		Store:  s,
		Logger: &logging.Logger{Logger: zaptest.NewLogger(t)},
	})
}

func rootIDs(p *feed.Provider) []string {
	var out []string
	for _, child := range p.AllRootChildren() {
		out = append(out, child.ContentID())
	}
	return out
}

func TestCreateCommitsHead(t *testing.T) {
	m := newTestManager(t, seededStore(t))

	sess, err := m.Create(context.Background())
	require.NoError(t, err)

	p := sess.Provider()
	assert.Equal(t, feed.StateReady, p.CurrentState())
	assert.Equal(t, sess.ID(), p.SessionID())
	require.NotNil(t, p.RootFeature())
	assert.Equal(t, []string{"a", "b", "token::p2"}, rootIDs(p))

	got, ok := m.Get(sess.ID())
	require.True(t, ok)
	assert.Same(t, sess, got)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, uint64(1), stats.Created)
	assert.Equal(t, 1, stats.ByState["ready"])
	assert.Equal(t, "closed", stats.Breaker)
}

func TestCreateWithoutHead(t *testing.T) {
	m := newTestManager(t, store.NewMemory())

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, feed.StateReady, sess.Provider().CurrentState())
	assert.Nil(t, sess.Provider().RootFeature())
}

func TestHandleTokenCommitsPage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, seededStore(t))
	sess, err := m.Create(ctx)
	require.NoError(t, err)
	p := sess.Provider()

	events, cancel := sess.Subscribe(8)
	defer cancel()

	tok := p.ModelChild("token::p2").Token()
	require.NotNil(t, tok)
	sess.WatchToken(tok)
	require.True(t, p.HandleToken(ctx, tok))

	assert.Equal(t, []string{"a", "b", "c"}, rootIDs(p))
	e := <-events
	assert.Equal(t, EventTokenCompleted, e.Type)
	assert.Equal(t, sess.ID(), e.SessionID)
	assert.Equal(t, []string{"c"}, e.Children)
}

func TestPageRemovalsArePublished(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	require.NoError(t, s.PutPage(ctx, []byte("p2"), []feed.StreamStructure{
		feed.Remove("a", "root"),
		feed.Append("c", "root"),
	}))
	m := newTestManager(t, s)
	sess, err := m.Create(ctx)
	require.NoError(t, err)
	p := sess.Provider()

	events, cancel := sess.Subscribe(8)
	defer cancel()

	tok := p.ModelChild("token::p2").Token()
	require.NotNil(t, tok)
	sess.WatchToken(tok)
	require.True(t, p.HandleToken(ctx, tok))

	assert.Equal(t, []string{"b", "c"}, rootIDs(p))
	e := <-events
	assert.Equal(t, EventContentRemoved, e.Type)
	assert.Equal(t, []string{"a"}, e.Children)
	e = <-events
	assert.Equal(t, EventTokenCompleted, e.Type)
}

func TestHandleTokenMissingPage(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	require.NoError(t, s.SetHead(ctx, []feed.StreamStructure{
		feed.Append("root", ""),
		feed.Append("a", "root"),
		feed.Append("token::gone", "root"),
	}))
	m := newTestManager(t, s)
	sess, err := m.Create(ctx)
	require.NoError(t, err)
	p := sess.Provider()

	events, cancel := sess.Subscribe(8)
	defer cancel()

	tok := p.ModelChild("token::gone").Token()
	sess.WatchToken(tok)
	require.True(t, p.HandleToken(ctx, tok))

	e := <-events
	assert.Equal(t, EventError, e.Type)
	assert.Equal(t, feed.PaginationError.String(), e.Error)
	assert.Equal(t, []string{"a", "token::gone"}, rootIDs(p))

	// The error cleared the in-flight guard.
	assert.True(t, p.HandleToken(ctx, tok))
}

func TestTriggerRefreshEndsSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, seededStore(t))
	sess, err := m.Create(ctx)
	require.NoError(t, err)

	events, cancel := sess.Subscribe(8)
	defer cancel()

	sess.Provider().TriggerRefresh(ctx, feed.ReasonManualRefresh)

	assert.Equal(t, feed.StateInvalidated, sess.Provider().CurrentState())
	_, ok := m.Get(sess.ID())
	assert.False(t, ok)
	assert.Equal(t, uint64(1), m.Stats().Refreshes)

	e, open := <-events
	require.True(t, open)
	assert.Equal(t, EventSessionFinished, e.Type)
	_, open = <-events
	assert.False(t, open)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, seededStore(t))
	sess, err := m.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, sess.ID()))
	assert.Equal(t, feed.StateInvalidated, sess.Provider().CurrentState())
	assert.Empty(t, m.List())

	err = m.Close(ctx, sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDetachClosesSubscribers(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, seededStore(t))
	sess, err := m.Create(ctx)
	require.NoError(t, err)

	events, cancel := sess.Subscribe(8)
	defer cancel()

	sess.Provider().Detach(ctx)

	_, open := <-events
	assert.False(t, open)
	_, ok := m.Get(sess.ID())
	assert.False(t, ok)
}

func TestListAndShutdown(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, seededStore(t))
	first, err := m.Create(ctx)
	require.NoError(t, err)
	second, err := m.Create(ctx)
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, first.ID(), infos[0].ID)
	assert.Equal(t, second.ID(), infos[1].ID)
	assert.Equal(t, "ready", infos[0].State)

	m.Shutdown(ctx)
	assert.Empty(t, m.List())
	assert.Equal(t, feed.StateInvalidated, first.Provider().CurrentState())
	assert.Equal(t, feed.StateInvalidated, second.Provider().CurrentState())
}

func TestSharedState(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, seededStore(t))
	sess, err := m.Create(ctx)
	require.NoError(t, err)

	shared := sess.Provider().SharedState(ctx, "theme")
	require.NotNil(t, shared)
	assert.Equal(t, []byte("dark"), shared.Payload)
	assert.Nil(t, sess.Provider().SharedState(ctx, "missing"))
}

type failingStore struct {
	*store.Memory
}

func (failingStore) Payloads(context.Context, []string) ([]feed.PayloadWithID, error) {
	return nil, errors.New("connection refused")
}

func TestBindFailureEndsSession(t *testing.T) {
	m := newTestManager(t, failingStore{seededStore(t)})

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, feed.StateInvalidated, sess.Provider().CurrentState())
	_, ok := m.Get(sess.ID())
	assert.False(t, ok)
}

func TestStoreCallsAreTraced(t *testing.T) {
	tracer := tracing.New(zaptest.NewLogger(t))
	defer tracer.Close()

	m := NewManager(Options{Store: seededStore(t), Tracer: tracer})
	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sess.Provider().RootFeature())
}

func TestSubscribeAfterEnd(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, seededStore(t))
	sess, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, sess.ID()))

	events, cancel := sess.Subscribe(1)
	defer cancel()
	_, open := <-events
	assert.False(t, open)
}
