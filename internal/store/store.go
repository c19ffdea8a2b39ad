// Package store holds feed content: payloads keyed by content id, the head
// structures of a fresh session and the pages behind continuation tokens.
package store

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
)

// ErrNotFound is returned when a head, page or shared state does not exist.
var ErrNotFound = errors.New("content not found")

// ContentStore is the backing storage of the session manager.
type ContentStore interface {
	// PutPayloads stores payloads under their content ids.
	PutPayloads(ctx context.Context, payloads []feed.PayloadWithID) error
	// Payloads returns the payloads that exist for ids, in request order.
	// Unknown ids are skipped.
	Payloads(ctx context.Context, ids []string) ([]feed.PayloadWithID, error)
	SetHead(ctx context.Context, structures []feed.StreamStructure) error
	Head(ctx context.Context) ([]feed.StreamStructure, error)
	PutPage(ctx context.Context, token []byte, structures []feed.StreamStructure) error
	Page(ctx context.Context, token []byte) ([]feed.StreamStructure, error)
	SharedState(ctx context.Context, id string) (*feed.StreamSharedState, error)
}

// PageKey is the printable key of a continuation token.
func PageKey(token []byte) string {
	return hex.EncodeToString(token)
}

// Memory is an in-process ContentStore.
type Memory struct {
	mu       sync.RWMutex
	payloads map[string]feed.PayloadWithID
	head     []feed.StreamStructure
	hasHead  bool
	pages    map[string][]feed.StreamStructure
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		payloads: make(map[string]feed.PayloadWithID),
		pages:    make(map[string][]feed.StreamStructure),
	}
}

// PutPayloads implements ContentStore.
func (m *Memory) PutPayloads(_ context.Context, payloads []feed.PayloadWithID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payloads {
		m.payloads[p.ContentID] = p
	}
	return nil
}

// Payloads implements ContentStore.
func (m *Memory) Payloads(_ context.Context, ids []string) ([]feed.PayloadWithID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]feed.PayloadWithID, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.payloads[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SetHead implements ContentStore.
func (m *Memory) SetHead(_ context.Context, structures []feed.StreamStructure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = append([]feed.StreamStructure(nil), structures...)
	m.hasHead = true
	return nil
}

// Head implements ContentStore.
func (m *Memory) Head(_ context.Context) ([]feed.StreamStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasHead {
		return nil, ErrNotFound
	}
	return append([]feed.StreamStructure(nil), m.head...), nil
}

// PutPage implements ContentStore.
func (m *Memory) PutPage(_ context.Context, token []byte, structures []feed.StreamStructure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[PageKey(token)] = append([]feed.StreamStructure(nil), structures...)
	return nil
}

// Page implements ContentStore.
func (m *Memory) Page(_ context.Context, token []byte) ([]feed.StreamStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[PageKey(token)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]feed.StreamStructure(nil), page...), nil
}

// SharedState implements ContentStore.
func (m *Memory) SharedState(_ context.Context, id string) (*feed.StreamSharedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payloads[id]
	if !ok || p.SharedState == nil {
		return nil, ErrNotFound
	}
	shared := *p.SharedState
	return &shared, nil
}
