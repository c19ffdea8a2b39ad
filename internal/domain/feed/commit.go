package feed

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// mutationHandler observes the structural operations of one commit.
// preMutation, appendChild and removeChild run with the provider locked.
type mutationHandler interface {
	kind() string
	preMutation()
	appendChild(parentID string, child *Child)
	removeChild(parentID string, child *Child)
	postMutation(ctx context.Context)
}

func (p *Provider) commit(ctx context.Context, change Change) {
	start := time.Now()

	p.commitMu.Lock()
	p.hold()
	defer p.release()
	defer p.commitMu.Unlock()

	p.mu.Lock()
	if p.state.state == StateInvalidated {
		p.mu.Unlock()
		p.logger.Warn("ignoring mutation on an invalidated model provider",
			zap.Int("structures", len(change.StructureChanges)))
		return
	}
	p.counters.commits++

	if change.SessionID != "" {
		p.sessionID = change.SessionID
	}

	structures := make([]StreamStructure, 0, len(change.StructureChanges))
	appended := make(map[string]*Child)
	removed := make(map[string]bool)
	var (
		toBind      []*Child
		hasRemovals bool
	)
	for _, s := range change.StructureChanges {
		if p.filter != nil && !p.filter(s) {
			continue
		}
		structures = append(structures, s)
		if s.Operation == OperationRemove {
			removed[s.ContentID] = true
			hasRemovals = true
			continue
		}
		if s.Operation != OperationUpdateOrAppend {
			continue
		}
		if existing := p.placedChildLocked(s); existing != nil && !removed[s.ContentID] {
			// Re-appending a child that is already in place refreshes its content.
			toBind = append(toBind, existing)
			continue
		}
		if _, dup := appended[s.ContentID]; dup {
			p.logger.Warn("duplicate append in one mutation", zap.String("content", s.ContentID))
			continue
		}
		child := newChild(s.ContentID, s.ParentContentID)
		appended[s.ContentID] = child
		toBind = append(toBind, child)
	}

	for _, u := range change.UpdateChanges {
		child := p.contents[u.ContentID]
		if child == nil {
			p.logger.Warn("update for unknown child", zap.String("content", u.ContentID))
			continue
		}
		toBind = append(toBind, child)
	}

	var (
		sourceToken *StreamToken
		uiContext   UIContext
	)
	if change.MutationContext != nil {
		sourceToken = change.MutationContext.ContinuationToken
		uiContext = change.MutationContext.UIContext
	}

	var (
		handler     mutationHandler
		diagnostics []InternalError
	)
	switch {
	case p.state.state == StateInitializing:
		if sourceToken != nil {
			p.logger.Error("initializing the model provider from a continuation token")
			diagnostics = append(diagnostics, InternalInvalidState)
		}
		handler = &initializeHandler{p: p, uiContext: uiContext}
	case sourceToken != nil:
		p.counters.tokenCommits++
		handler = &tokenHandler{p: p, source: *sourceToken}
	default:
		p.counters.updateCommits++
		handler = newUpdateHandler(p, change.UpdateChanges)
	}

	var (
		tracker         RemoveTrackerFactory
		removedFeatures *[]StreamFeature
	)
	if p.removeTracking != nil && change.MutationContext != nil && hasRemovals {
		tracker = p.removeTracking
		removedFeatures = new([]StreamFeature)
	}

	multipleRoots := !p.processMutationLocked(handler, structures, appended, removedFeatures)
	if multipleRoots {
		p.invalidateLocked(uiContext)
	} else {
		toBind = p.revealLocked(toBind)
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	for _, d := range diagnostics {
		p.diagnostics.OnInternalError(d)
	}
	if multipleRoots {
		p.diagnostics.OnInternalError(InternalMultipleRoots)
		if sessionID != "" {
			p.sessionManager.InvalidateSession(ctx, sessionID)
		}
		p.notifySessionFinished(uiContext)
		return
	}

	if tracker != nil {
		mc, features := *change.MutationContext, *removedFeatures
		p.post("removeTracking", func() {
			t := tracker(mc)
			if t == nil {
				return
			}
			for _, f := range features {
				t.FilterStreamFeature(f)
			}
			t.TriggerConsumerUpdate()
		})
	}

	if !p.bindChildrenAndTokens(ctx, toBind) {
		p.logger.Error("binding failed, invalidating the model provider")
		p.diagnostics.OnInternalError(InternalBindFailed)
		p.Invalidate(ctx)
		return
	}

	handler.postMutation(ctx)
	p.replayDeferredRefresh(ctx)

	p.mu.Lock()
	root := p.root
	p.mu.Unlock()
	if root == nil || root.Type() != ChildFeature {
		p.diagnostics.OnInternalError(InternalRootNotBoundToFeature)
	}

	elapsed := time.Since(start)
	p.recorder.CommitApplied(handler.kind(), elapsed)
	p.logger.Debug("mutation committed",
		zap.String("handler", handler.kind()),
		zap.Int("structures", len(structures)),
		zap.Int("bound", len(toBind)),
		zap.Duration("elapsed", elapsed),
	)
}

// replayDeferredRefresh issues a refresh requested before the session was
// ready. Only the latest reason is kept.
func (p *Provider) replayDeferredRefresh(ctx context.Context) {
	p.mu.Lock()
	if !p.delayedTriggerRefresh || p.sessionID == "" || p.state.state != StateReady {
		p.mu.Unlock()
		return
	}
	p.delayedTriggerRefresh = false
	reason, uiContext := p.requestReason, p.requestUIContext
	p.requestReason, p.requestUIContext = ReasonUnknown, UIContext{}
	p.mu.Unlock()

	rctx := context.WithoutCancel(ctx)
	p.post("triggerRefresh", func() {
		p.TriggerRefreshWithContext(rctx, reason, uiContext)
	})
}

// placedChildLocked returns the existing child for an append that names a
// content id already in place under the same parent.
func (p *Provider) placedChildLocked(s StreamStructure) *Child {
	existing := p.contents[s.ContentID]
	if existing == nil || existing.parentID != s.ParentContentID {
		return nil
	}
	if !existing.HasParent() {
		return existing
	}
	if list := p.containers[existing.parentID]; list != nil && list.index(existing) >= 0 {
		return existing
	}
	return nil
}

// processMutationLocked applies the structural operations in order. It
// reports false if the mutation tried to install a second root. When removed
// is not nil the features of every removed subtree are collected into it.
func (p *Provider) processMutationLocked(h mutationHandler, structures []StreamStructure, appended map[string]*Child, removed *[]StreamFeature) bool {
	h.preMutation()

	var (
		currentParent string
		list          *container
		appends       int
		removes       int
	)
	for _, s := range structures {
		switch s.Operation {
		case OperationUpdateOrAppend:
			child, ok := appended[s.ContentID]
			if !ok {
				continue
			}
			delete(appended, s.ContentID)

			if !child.HasParent() {
				if !p.createRootLocked(child) {
					p.logger.Error("found multiple roots", zap.String("content", child.contentID))
					return false
				}
				p.contents[child.contentID] = child
				appends++
				continue
			}
			if list == nil || s.ParentContentID != currentParent {
				list = p.childListLocked(s.ParentContentID)
				currentParent = s.ParentContentID
			}
			list.children = append(list.children, child)
			p.contents[child.contentID] = child
			h.appendChild(s.ParentContentID, child)
			appends++
		case OperationRemove:
			if p.removeLocked(h, s, removed) {
				removes++
			}
		default:
			p.logger.Warn("unknown structure operation", zap.String("content", s.ContentID))
		}
	}
	p.logger.Debug("processed mutation", zap.Int("appends", appends), zap.Int("removes", removes))
	return true
}

func (p *Provider) createRootLocked(child *Child) bool {
	if p.root == nil {
		p.root = child
		return true
	}
	if p.root.contentID == child.contentID {
		p.logger.Warn("ignoring duplicate root", zap.String("content", child.contentID))
		return true
	}
	return false
}

func (p *Provider) childListLocked(parentID string) *container {
	list := p.containers[parentID]
	if list == nil {
		list = &container{}
		p.containers[parentID] = list
	}
	return list
}

func (p *Provider) removeLocked(h mutationHandler, s StreamStructure, tracked *[]StreamFeature) bool {
	if !s.HasParent() {
		p.logger.Error("unable to remove the root", zap.String("content", s.ContentID))
		return false
	}
	list := p.containers[s.ParentContentID]
	if list == nil {
		p.logger.Warn("parent of removed child not found", zap.String("parent", s.ParentContentID))
		return false
	}

	target := p.contents[s.ContentID]
	if target == nil {
		if !isSyntheticID(s.ContentID) {
			p.logger.Debug("removed child not found", zap.String("content", s.ContentID))
			return false
		}
		tracker := p.syntheticTokens[s.ContentID]
		if tracker == nil {
			p.logger.Error("synthetic token not found", zap.String("content", s.ContentID))
			return false
		}
		target = tracker.tokenChild
		delete(p.syntheticTokens, s.ContentID)
	}

	if tracked != nil {
		p.collectRemovedLocked(target, tracked)
	}
	if target.Type() != ChildUnbound {
		h.removeChild(s.ParentContentID, target)
	}

	// Removals usually target the tail of the list.
	removed := false
	for i := len(list.children) - 1; i >= 0; i-- {
		p.counters.removeScans++
		if list.children[i] == target {
			list.children = append(list.children[:i], list.children[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		p.logger.Warn("child not found in parent", zap.String("content", s.ContentID))
		return false
	}
	p.counters.removedChildren++
	delete(p.contents, s.ContentID)
	p.pruneLocked(s.ContentID)
	return true
}

// collectRemovedLocked walks a removed feature and its feature descendants.
func (p *Provider) collectRemovedLocked(node *Child, out *[]StreamFeature) {
	feature := node.Feature()
	if feature == nil {
		return
	}
	*out = append(*out, feature.StreamFeature())
	if list := p.containers[node.contentID]; list != nil {
		for _, child := range list.children {
			p.collectRemovedLocked(child, out)
		}
	}
}

// pruneLocked drops the descendants of a removed child from the index.
// Cursors already holding them keep working on their own copies.
func (p *Provider) pruneLocked(contentID string) {
	list := p.containers[contentID]
	if list == nil {
		return
	}
	delete(p.containers, contentID)
	for _, child := range list.children {
		if p.contents[child.contentID] == child {
			delete(p.contents, child.contentID)
		}
		p.pruneLocked(child.contentID)
	}
}

func (c *container) index(child *Child) int {
	for i, candidate := range c.children {
		if candidate == child {
			return i
		}
	}
	return -1
}

func (p *Provider) bindChildrenAndTokens(ctx context.Context, toBind []*Child) bool {
	ok := p.binder.bind(ctx, toBind)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.state == StateInvalidated {
		return ok
	}
	for _, child := range toBind {
		if child.Type() != ChildToken {
			continue
		}
		token := child.Token()
		if token.IsSynthetic() {
			continue
		}
		if !child.HasParent() {
			p.logger.Warn("found a token without a parent", zap.String("content", child.contentID))
			continue
		}
		key := string(token.StreamToken().NextPageToken)
		p.tokens[key] = &tokenTracking{
			token:    token,
			parentID: child.parentID,
			location: p.childListLocked(child.parentID),
		}
	}
	return ok
}

type initializeHandler struct {
	p         *Provider
	uiContext UIContext
}

func (h *initializeHandler) kind() string               { return "initialize" }
func (h *initializeHandler) preMutation()               {}
func (h *initializeHandler) appendChild(string, *Child) {}
func (h *initializeHandler) removeChild(string, *Child) {}

func (h *initializeHandler) postMutation(context.Context) {
	p := h.p
	p.mu.Lock()
	if p.state.state != StateInitializing {
		p.mu.Unlock()
		return
	}
	p.state = modelState{state: StateReady, uiContext: h.uiContext}
	p.mu.Unlock()

	p.logger.Info("model provider ready", zap.String("session", p.SessionID()))
	p.notifySessionStart(h.uiContext)
}

type tokenHandler struct {
	p              *Provider
	source         StreamToken
	tracking       *tokenTracking
	newCursorStart int
}

func (h *tokenHandler) kind() string               { return "token" }
func (h *tokenHandler) appendChild(string, *Child) {}
func (h *tokenHandler) removeChild(string, *Child) {}

func (h *tokenHandler) preMutation() {
	key := string(h.source.NextPageToken)
	h.tracking = h.p.tokens[key]
	delete(h.p.tokens, key)
	delete(h.p.inFlight, key)
	if h.tracking == nil {
		h.p.logger.Error("token was not found, positioning to end of list",
			zap.String("token", h.source.ContentID))
		return
	}
	// The page is appended after the token itself.
	h.newCursorStart = len(h.tracking.location.children) - 1
}

func (h *tokenHandler) postMutation(context.Context) {
	p := h.p
	if h.tracking == nil {
		p.logger.Error("token mutation is being ignored", zap.String("token", h.source.ContentID))
		return
	}

	p.mu.Lock()
	children := h.tracking.location.children
	start := min(max(h.newCursorStart, 0), len(children))
	cursor := newCursor(h.tracking.parentID, children[start:])
	p.mu.Unlock()

	p.notifyTokenCompleted(h.tracking.token, TokenCompleted{Cursor: cursor})
}

type updateHandler struct {
	p          *Provider
	updates    []StreamStructure
	changes    map[string]*FeatureChange
	order      []string
	newParents map[string]bool
}

func newUpdateHandler(p *Provider, updates []StreamStructure) *updateHandler {
	return &updateHandler{
		p:          p,
		updates:    updates,
		changes:    make(map[string]*FeatureChange),
		newParents: make(map[string]bool),
	}
}

func (h *updateHandler) kind() string { return "update" }

func (h *updateHandler) preMutation() {
	for _, u := range h.updates {
		if change := h.change(u.ContentID); change != nil {
			change.FeatureChanged = true
		}
	}
}

func (h *updateHandler) removeChild(parentID string, child *Child) {
	if change := h.change(parentID); change != nil {
		change.ChildChanges.Removed = append(change.ChildChanges.Removed, child)
	}
}

func (h *updateHandler) appendChild(parentID string, child *Child) {
	// Children of children added in this mutation are reported through their
	// new ancestor, not as separate changes.
	if h.newParents[parentID] {
		h.newParents[child.contentID] = true
		return
	}
	h.newParents[child.contentID] = true
	if change := h.change(parentID); change != nil {
		change.ChildChanges.Appended = append(change.ChildChanges.Appended, child)
	}
}

func (h *updateHandler) change(contentID string) *FeatureChange {
	if change, ok := h.changes[contentID]; ok {
		return change
	}
	child := h.p.contents[contentID]
	if child == nil {
		h.p.logger.Debug("feature change for unknown child", zap.String("content", contentID))
		return nil
	}
	if child.Type() != ChildFeature {
		h.p.logger.Debug("feature change for child that is not a feature",
			zap.String("content", contentID), zap.Stringer("type", child.Type()))
		return nil
	}
	change := &FeatureChange{ContentID: contentID, Feature: child.Feature()}
	h.changes[contentID] = change
	h.order = append(h.order, contentID)
	return change
}

func (h *updateHandler) postMutation(context.Context) {
	p := h.p

	p.mu.Lock()
	live := p.cursors[:0]
	for _, ref := range p.cursors {
		cursor := ref.Value()
		if cursor == nil {
			p.counters.cursorsRemoved++
			continue
		}
		live = append(live, ref)
		if change, ok := h.changes[cursor.ParentContentID()]; ok {
			cursor.apply(change.ChildChanges)
		}
	}
	clear(p.cursors[len(live):])
	p.cursors = live
	p.mu.Unlock()

	if len(h.order) == 0 {
		return
	}
	changes := make([]FeatureChange, 0, len(h.order))
	for _, id := range h.order {
		changes = append(changes, *h.changes[id])
	}
	p.post("onFeatureChange", func() {
		for _, change := range changes {
			for _, o := range change.Feature.observers.Snapshot() {
				o.OnChange(change)
			}
		}
	})
}
