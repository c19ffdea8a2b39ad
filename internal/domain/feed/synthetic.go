package feed

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// syntheticTracker reveals one page of a paging child's children and, if more
// remain, marks the boundary with a locally generated token.
type syntheticTracker struct {
	p          *Provider
	paging     *Child
	start      int
	end        int
	insert     bool
	toBind     []*Child
	tokenChild *Child
}

// newSyntheticTrackerLocked sizes the page [start, start+pageSize). When fewer
// than minPageSize children would remain after the page, they are folded in.
func (p *Provider) newSyntheticTrackerLocked(paging *Child, start, pageSize int) *syntheticTracker {
	t := &syntheticTracker{p: p, paging: paging}
	list := p.containers[paging.contentID]
	if list == nil {
		p.logger.Debug("paging child has no children", zap.String("content", paging.contentID))
		return t
	}

	n := len(list.children)
	start = max(start, 0)
	switch {
	case n <= start:
		t.start, t.end = 0, n
	case pageSize <= 0, start+pageSize > n, start+pageSize+p.minPageSize > n:
		t.start, t.end = start, n
	default:
		t.start, t.end = start, start+pageSize
	}
	t.insert = t.end < n
	return t
}

// insertTokenLocked collects the unbound children of the page and their
// unbound descendants, then places a synthetic token at the page boundary.
func (t *syntheticTracker) insertTokenLocked() []*Child {
	p := t.p
	t.traverse(t.paging, t.start, t.end)
	if !t.insert {
		return t.toBind
	}

	list := p.containers[t.paging.contentID]
	id := syntheticTokenPrefix + uuid.NewString()
	t.tokenChild = newChild(id, t.paging.contentID)
	t.tokenChild.bindToken(newToken(StreamToken{ContentID: id, ParentID: t.paging.contentID}, true))

	list.children = append(list.children, nil)
	copy(list.children[t.end+1:], list.children[t.end:])
	list.children[t.end] = t.tokenChild
	p.syntheticTokens[id] = t
	p.logger.Debug("inserted synthetic token",
		zap.String("token", id),
		zap.Int("start", t.start),
		zap.Int("end", t.end),
	)
	return t.toBind
}

func (t *syntheticTracker) traverse(node *Child, start, end int) {
	if node.Type() == ChildUnbound {
		t.toBind = append(t.toBind, node)
	}
	list := t.p.containers[node.contentID]
	if list == nil {
		return
	}
	end = min(end, len(list.children))
	for i := start; i < end; i++ {
		t.traverse(list.children[i], 0, math.MaxInt)
	}
}

// firstUnboundChild returns the index of the first unbound child, or the last
// index when every child before it is bound.
func firstUnboundChild(list *container) int {
	if list == nil {
		return 0
	}
	for i := 0; i < len(list.children)-1; i++ {
		if list.children[i].Type() == ChildUnbound {
			return i
		}
	}
	return max(len(list.children)-1, 0)
}

// revealLocked decides which of the commit's children get bound. With
// synthetic pagination enabled only the next page of root children is
// revealed; root children behind the page, and their descendants, stay unbound.
func (p *Provider) revealLocked(toBind []*Child) []*Child {
	if p.root == nil || p.initialPageSize <= 0 {
		return toBind
	}

	var revealed []*Child
	if len(p.syntheticTokens) == 0 {
		start := firstUnboundChild(p.containers[p.root.contentID])
		pageSize := p.pageSize
		if start < p.initialPageSize {
			pageSize = p.initialPageSize
		}
		revealed = p.newSyntheticTrackerLocked(p.root, start, pageSize).insertTokenLocked()
	}

	seen := make(map[*Child]bool, len(revealed)+len(toBind))
	for _, child := range revealed {
		seen[child] = true
	}
	out := revealed
	for _, child := range toBind {
		if seen[child] || p.hiddenLocked(child, seen) {
			continue
		}
		seen[child] = true
		out = append(out, child)
	}
	return out
}

// hiddenLocked reports whether child sits under an unbound root child that is
// not part of the revealed set.
func (p *Provider) hiddenLocked(child *Child, revealed map[*Child]bool) bool {
	rootID := p.root.contentID
	for node := child; node != nil && node.HasParent(); node = p.contents[node.parentID] {
		if node.parentID == rootID {
			return node.Type() == ChildUnbound && !revealed[node]
		}
	}
	return false
}

func (p *Provider) handleSyntheticToken(ctx context.Context, token *Token) {
	p.commitMu.Lock()
	p.hold()
	defer p.release()
	defer p.commitMu.Unlock()

	st := token.StreamToken()

	p.mu.Lock()
	var (
		list *container
		pos  = -1
	)
	tracker := p.syntheticTokens[st.ContentID]
	if tracker != nil && p.root != nil {
		list = p.containers[p.root.contentID]
		if list != nil {
			pos = list.index(tracker.tokenChild)
		}
	}
	if pos < 0 {
		p.mu.Unlock()
		p.logger.Error("synthetic token not found in the tree", zap.String("token", st.ContentID))
		p.diagnostics.OnInternalError(InternalTokenNotFound)
		p.raiseErrorOnToken(NewModelError(SyntheticTokenError, nil), token)
		return
	}

	delete(p.syntheticTokens, st.ContentID)
	list.children = append(list.children[:pos], list.children[pos+1:]...)
	toBind := p.newSyntheticTrackerLocked(p.root, pos, p.pageSize).insertTokenLocked()
	p.counters.syntheticHandled++
	p.mu.Unlock()

	if !p.bindChildrenAndTokens(ctx, toBind) {
		p.logger.Error("binding failed while handling synthetic token", zap.String("token", st.ContentID))
		p.diagnostics.OnInternalError(InternalBindFailed)
	}

	p.mu.Lock()
	var cursor *Cursor
	if pos <= len(list.children) {
		cursor = newCursor(st.ParentID, list.children[pos:])
	} else {
		cursor = newCursor(st.ParentID, nil)
	}
	p.mu.Unlock()

	p.notifyTokenCompleted(token, TokenCompleted{Cursor: cursor})
}
