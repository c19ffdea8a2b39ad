package feed

import "context"

// Observer receives session lifecycle events from a Provider.
type Observer interface {
	OnSessionStart(uiContext UIContext)
	OnSessionFinished(uiContext UIContext)
	OnError(err ModelError)
}

// TokenCompletedObserver receives the outcome of handling one token.
type TokenCompletedObserver interface {
	OnTokenCompleted(completed TokenCompleted)
	OnError(err ModelError)
}

// FeatureChangeObserver receives update mutations affecting one feature.
type FeatureChangeObserver interface {
	OnChange(change FeatureChange)
}

// SessionManager is the host side of the provider. It resolves payloads and
// serves continuation pages.
type SessionManager interface {
	// GetStreamFeatures resolves content ids to payloads.
	GetStreamFeatures(ctx context.Context, contentIDs []string) ([]PayloadWithID, error)
	// GetSharedState returns shared state, or nil if absent.
	GetSharedState(ctx context.Context, contentID string) *StreamSharedState
	// HandleToken requests the page behind a server token. The page is
	// delivered later as a mutation carrying the token in its context.
	HandleToken(ctx context.Context, sessionID string, token StreamToken)
	TriggerRefresh(ctx context.Context, sessionID string, reason RequestReason, uiContext UIContext)
	InvalidateSession(ctx context.Context, sessionID string)
	DetachSession(ctx context.Context, sessionID string)
}

// RemoveTracker sees the features removed by one mutation. Both methods run
// on the main thread runner, FilterStreamFeature once per removed feature and
// then TriggerConsumerUpdate.
type RemoveTracker interface {
	FilterStreamFeature(feature StreamFeature)
	TriggerConsumerUpdate()
}

// RemoveTrackerFactory creates the tracker for a mutation. Returning nil skips
// the mutation.
type RemoveTrackerFactory func(mc MutationContext) RemoveTracker

// ConfigKey names a pagination setting.
type ConfigKey string

const (
	ConfigInitialNonCachedPageSize ConfigKey = "INITIAL_NON_CACHED_PAGE_SIZE"
	ConfigNonCachedPageSize        ConfigKey = "NON_CACHED_PAGE_SIZE"
	ConfigNonCachedMinPageSize     ConfigKey = "NON_CACHED_MIN_PAGE_SIZE"
)

// Configuration supplies pagination settings.
type Configuration interface {
	ValueOrDefault(key ConfigKey, def int64) int64
}

// ConfigMap is a Configuration backed by a map.
type ConfigMap map[ConfigKey]int64

// ValueOrDefault implements Configuration.
func (m ConfigMap) ValueOrDefault(key ConfigKey, def int64) int64 {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

// Diagnostics is a side channel for internal errors. It never affects control flow.
type Diagnostics interface {
	OnInternalError(kind InternalError)
}

// DiagnosticsFunc adapts a function to Diagnostics.
type DiagnosticsFunc func(kind InternalError)

// OnInternalError implements Diagnostics.
func (f DiagnosticsFunc) OnInternalError(kind InternalError) { f(kind) }

// ViewDepthProvider reports the content id of the deepest visible child.
// An empty string means unknown.
type ViewDepthProvider interface {
	ChildViewDepth() string
}

// ViewDepthFunc adapts a function to ViewDepthProvider.
type ViewDepthFunc func() string

// ChildViewDepth implements ViewDepthProvider.
func (f ViewDepthFunc) ChildViewDepth() string { return f() }
