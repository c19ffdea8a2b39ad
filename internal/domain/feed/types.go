package feed

import "fmt"

// Operation is the structural instruction carried by a StreamStructure.
type Operation int

const (
	OperationUnknown Operation = iota
	OperationUpdateOrAppend
	OperationRemove
)

// String returns the string representation of the operation
func (o Operation) String() string {
	switch o {
	case OperationUpdateOrAppend:
		return "UPDATE_OR_APPEND"
	case OperationRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// StreamStructure shapes the tree. It carries no payload.
type StreamStructure struct {
	ContentID       string    `json:"content_id"`
	ParentContentID string    `json:"parent_content_id,omitempty"`
	Operation       Operation `json:"operation"`
}

// HasParent reports whether the structure names a parent.
func (s StreamStructure) HasParent() bool {
	return s.ParentContentID != ""
}

// Append returns an UPDATE_OR_APPEND structure.
func Append(contentID, parentID string) StreamStructure {
	return StreamStructure{ContentID: contentID, ParentContentID: parentID, Operation: OperationUpdateOrAppend}
}

// Remove returns a REMOVE structure.
func Remove(contentID, parentID string) StreamStructure {
	return StreamStructure{ContentID: contentID, ParentContentID: parentID, Operation: OperationRemove}
}

// Card is the renderable content attached to a feature.
type Card struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// StreamFeature is the payload of a feature node.
type StreamFeature struct {
	ContentID string `json:"content_id"`
	ParentID  string `json:"parent_id,omitempty"`
	Card      *Card  `json:"card,omitempty"`
}

// StreamToken is the payload of a continuation token node.
type StreamToken struct {
	ContentID     string `json:"content_id"`
	ParentID      string `json:"parent_id,omitempty"`
	NextPageToken []byte `json:"next_page_token,omitempty"`
}

// StreamSharedState is out-of-band state keyed outside the tree.
type StreamSharedState struct {
	ContentID string `json:"content_id"`
	Payload   []byte `json:"payload,omitempty"`
}

// PayloadWithID pairs a content id with exactly one payload.
type PayloadWithID struct {
	ContentID   string             `json:"content_id"`
	Feature     *StreamFeature     `json:"feature,omitempty"`
	Token       *StreamToken       `json:"token,omitempty"`
	SharedState *StreamSharedState `json:"shared_state,omitempty"`
}

// UIContext is opaque UI state passed through session transitions.
type UIContext struct {
	Payload map[string]string `json:"payload,omitempty"`
}

// RequestReason explains why a refresh was requested.
type RequestReason int

const (
	ReasonUnknown RequestReason = iota
	ReasonManualRefresh
	ReasonZeroState
	ReasonHostRequested
	ReasonOpenWithContent
)

// String returns the string representation of the reason
func (r RequestReason) String() string {
	switch r {
	case ReasonManualRefresh:
		return "manual_refresh"
	case ReasonZeroState:
		return "zero_state"
	case ReasonHostRequested:
		return "host_requested"
	case ReasonOpenWithContent:
		return "open_with_content"
	default:
		return "unknown"
	}
}

// ParseRequestReason converts the string form back into a RequestReason.
func ParseRequestReason(s string) RequestReason {
	for r := ReasonUnknown; r <= ReasonOpenWithContent; r++ {
		if r.String() == s {
			return r
		}
	}
	return ReasonUnknown
}

// MutationContext describes where a mutation came from.
type MutationContext struct {
	// ContinuationToken is set when the mutation is the response to a page request.
	ContinuationToken   *StreamToken
	UIContext           UIContext
	RequestingSessionID string
}

// ContentIDGenerators builds deterministic content ids.
type ContentIDGenerators struct{}

// RootID returns the content id of the n-th root.
func (ContentIDGenerators) RootID(n int) string { return fmt.Sprintf("root::%d", n) }

// FeatureID returns the content id of the n-th feature.
func (ContentIDGenerators) FeatureID(n int) string { return fmt.Sprintf("feature::%d", n) }

// TokenID returns the content id of the n-th token.
func (ContentIDGenerators) TokenID(n int) string { return fmt.Sprintf("token::%d", n) }

// SharedStateID returns the content id of the n-th shared state.
func (ContentIDGenerators) SharedStateID(n int) string { return fmt.Sprintf("shared::%d", n) }
