package feed

import (
	"sync"

	"github.com/GriffinCanCode/feedmodel/internal/shared/observable"
)

// ChildType is the binding state of a Child.
type ChildType int

const (
	ChildUnbound ChildType = iota
	ChildFeature
	ChildToken
)

// String returns the string representation of the child type
func (t ChildType) String() string {
	switch t {
	case ChildFeature:
		return "FEATURE"
	case ChildToken:
		return "TOKEN"
	default:
		return "UNBOUND"
	}
}

// Child is one node of the tree. It starts unbound and is bound once its
// payload has been resolved to either a feature or a token.
type Child struct {
	contentID string
	parentID  string

	mu      sync.RWMutex
	typ     ChildType
	feature *Feature
	token   *Token
}

func newChild(contentID, parentID string) *Child {
	return &Child{contentID: contentID, parentID: parentID}
}

// ContentID returns the child's content id.
func (c *Child) ContentID() string { return c.contentID }

// ParentID returns the parent content id, empty for the root.
func (c *Child) ParentID() string { return c.parentID }

// HasParent reports whether the child has a parent.
func (c *Child) HasParent() bool { return c.parentID != "" }

// Type returns the binding state.
func (c *Child) Type() ChildType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.typ
}

// Feature returns the bound feature, or nil.
func (c *Child) Feature() *Feature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feature
}

// Token returns the bound token, or nil.
func (c *Child) Token() *Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Child) bindFeature(f *Feature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typ != ChildUnbound {
		return false
	}
	c.typ = ChildFeature
	c.feature = f
	return true
}

func (c *Child) bindToken(t *Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typ != ChildUnbound {
		return false
	}
	c.typ = ChildToken
	c.token = t
	return true
}

// updateFeature replaces the payload of an already bound feature.
func (c *Child) updateFeature(sf StreamFeature) bool {
	c.mu.RLock()
	f := c.feature
	c.mu.RUnlock()
	if f == nil {
		return false
	}
	f.setStreamFeature(sf)
	return true
}

// Feature is a bound tree node with its own children.
type Feature struct {
	contentID string
	cursors   cursorProvider

	mu            sync.RWMutex
	streamFeature StreamFeature

	observers observable.Registry[FeatureChangeObserver]
}

type cursorProvider func(parentID string) *Cursor

func newFeature(contentID string, sf StreamFeature, cursors cursorProvider) *Feature {
	return &Feature{contentID: contentID, streamFeature: sf, cursors: cursors}
}

// ContentID returns the content id of the child the feature is bound to.
func (f *Feature) ContentID() string { return f.contentID }

// StreamFeature returns the feature payload.
func (f *Feature) StreamFeature() StreamFeature {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.streamFeature
}

func (f *Feature) setStreamFeature(sf StreamFeature) {
	f.mu.Lock()
	f.streamFeature = sf
	f.mu.Unlock()
}

// Cursor returns a new cursor over the feature's children.
func (f *Feature) Cursor() *Cursor {
	return f.cursors(f.contentID)
}

// RegisterObserver registers a feature change observer.
func (f *Feature) RegisterObserver(o FeatureChangeObserver) { f.observers.Register(o) }

// UnregisterObserver removes a feature change observer.
func (f *Feature) UnregisterObserver(o FeatureChangeObserver) { f.observers.Unregister(o) }

// Token is a continuation handle, either issued by the server or synthesized
// locally at a synthetic page boundary.
type Token struct {
	streamToken StreamToken
	synthetic   bool

	observers observable.Registry[TokenCompletedObserver]
}

func newToken(st StreamToken, synthetic bool) *Token {
	return &Token{streamToken: st, synthetic: synthetic}
}

// StreamToken returns the token payload.
func (t *Token) StreamToken() StreamToken { return t.streamToken }

// IsSynthetic reports whether the token was generated locally.
func (t *Token) IsSynthetic() bool { return t.synthetic }

// RegisterObserver registers a token observer. It reports false if the
// observer was already registered.
func (t *Token) RegisterObserver(o TokenCompletedObserver) bool { return t.observers.Register(o) }

// UnregisterObserver removes a token observer.
func (t *Token) UnregisterObserver(o TokenCompletedObserver) { t.observers.Unregister(o) }

// ChildChanges lists the structural changes to one feature's children.
type ChildChanges struct {
	Appended []*Child
	Removed  []*Child
}

// FeatureChange describes what an update mutation did to one feature.
type FeatureChange struct {
	ContentID      string
	Feature        *Feature
	FeatureChanged bool
	ChildChanges   ChildChanges
}

// TokenCompleted carries a cursor over the children a token revealed.
type TokenCompleted struct {
	Cursor *Cursor
}
