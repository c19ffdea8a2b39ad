package feed

import "sync"

// Cursor is a single-pass, forward-only iterator over one feature's children.
//
// A cursor works on its own copy of the child list, so removing a subtree never
// invalidates a traversal in progress. Update mutations adjust live cursors:
// removed children disappear and appended children show up at the end.
// Unbound children (not yet revealed by pagination) are skipped.
type Cursor struct {
	parentID string

	mu       sync.Mutex
	children []*Child
	position int
	released bool
}

func newCursor(parentID string, children []*Child) *Cursor {
	cp := make([]*Child, len(children))
	copy(cp, children)
	return &Cursor{parentID: parentID, children: cp}
}

// ParentContentID returns the content id of the feature being traversed.
func (c *Cursor) ParentContentID() string { return c.parentID }

// Next returns the next bound child, or nil once the cursor is at its end.
func (c *Cursor) Next() *Child {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil
	}
	for c.position < len(c.children) {
		child := c.children[c.position]
		c.position++
		if child.Type() != ChildUnbound {
			return child
		}
	}
	return nil
}

// IsAtEnd reports whether no bound child remains at or after the read position.
func (c *Cursor) IsAtEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return true
	}
	for i := c.position; i < len(c.children); i++ {
		if c.children[i].Type() != ChildUnbound {
			return false
		}
	}
	return true
}

// Drain reads the cursor to its end.
func (c *Cursor) Drain() []*Child {
	var out []*Child
	for child := c.Next(); child != nil; child = c.Next() {
		out = append(out, child)
	}
	return out
}

// release permanently ends the cursor.
func (c *Cursor) release() {
	c.mu.Lock()
	c.released = true
	c.children = nil
	c.mu.Unlock()
}

// apply folds a feature change into the cursor's view.
func (c *Cursor) apply(changes ChildChanges) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return
	}
	for _, removed := range changes.Removed {
		for i, child := range c.children {
			if child != removed {
				continue
			}
			if i < c.position {
				c.position--
			}
			c.children = append(c.children[:i], c.children[i+1:]...)
			break
		}
	}
	c.children = append(c.children, changes.Appended...)
}

func (c *Cursor) remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return 0
	}
	return len(c.children) - c.position
}
