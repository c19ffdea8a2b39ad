package feed

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// binder resolves children's payloads through the session manager and binds
// them to features or tokens.
type binder struct {
	sessionManager SessionManager
	cursors        cursorProvider
	logger         *zap.Logger
}

// bind resolves every child in one request. Children whose payload is missing
// stay unbound. It reports false only if the request itself failed.
func (b *binder) bind(ctx context.Context, children []*Child) bool {
	if len(children) == 0 {
		return true
	}

	byID := make(map[string][]*Child, len(children))
	ids := make([]string, 0, len(children))
	for _, child := range children {
		if child.Type() == ChildToken {
			continue
		}
		if _, ok := byID[child.contentID]; !ok {
			ids = append(ids, child.contentID)
		}
		byID[child.contentID] = append(byID[child.contentID], child)
	}
	if len(ids) == 0 {
		return true
	}

	payloads, err := b.sessionManager.GetStreamFeatures(ctx, ids)
	if err != nil {
		b.logger.Error("failed to resolve payloads",
			zap.Int("count", len(ids)),
			zap.Error(fmt.Errorf("%w: %w", ErrBindFailed, err)),
		)
		return false
	}

	resolved := 0
	for _, payload := range payloads {
		for _, child := range byID[payload.ContentID] {
			if b.bindOne(child, payload) {
				resolved++
			}
		}
	}
	if resolved < len(ids) {
		b.logger.Debug("some children were left unbound",
			zap.Int("requested", len(ids)),
			zap.Int("resolved", resolved),
		)
	}
	return true
}

func (b *binder) bindOne(child *Child, payload PayloadWithID) bool {
	switch {
	case payload.Feature != nil:
		if child.Type() == ChildFeature {
			return child.updateFeature(*payload.Feature)
		}
		if !child.bindFeature(newFeature(child.contentID, *payload.Feature, b.cursors)) {
			b.logger.Warn("child already bound", zap.String("content", child.contentID), zap.Stringer("type", child.Type()))
			return false
		}
		return true
	case payload.Token != nil:
		if !child.bindToken(newToken(*payload.Token, false)) {
			b.logger.Warn("child already bound", zap.String("content", child.contentID), zap.Stringer("type", child.Type()))
			return false
		}
		return true
	default:
		b.logger.Warn("payload has neither feature nor token", zap.String("content", payload.ContentID))
		return false
	}
}
