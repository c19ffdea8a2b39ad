package feed

// DumpInfo is a point-in-time summary of a provider for debugging.
type DumpInfo struct {
	State           string `json:"state"`
	SessionID       string `json:"session_id"`
	RootID          string `json:"root_id,omitempty"`
	Contents        int    `json:"contents"`
	Containers      int    `json:"containers"`
	Tokens          int    `json:"tokens"`
	SyntheticTokens int    `json:"synthetic_tokens"`
	Observers       int    `json:"observers"`

	Commits          int `json:"commits"`
	TokenCommits     int `json:"token_commits"`
	UpdateCommits    int `json:"update_commits"`
	RemovedChildren  int `json:"removed_children"`
	RemoveScans      int `json:"remove_scans"`
	SyntheticHandled int `json:"synthetic_handled"`
	ServerTokens     int `json:"server_tokens"`

	SingleChildContainers int `json:"single_child_containers"`
	LargestContainer      int `json:"largest_container"`

	Cursors          int `json:"cursors"`
	CursorsAtEnd     int `json:"cursors_at_end"`
	ReclaimedCursors int `json:"reclaimed_cursors"`
	CursorsRemoved   int `json:"cursors_removed"`
}

// Dump summarizes the provider's current state.
func (p *Provider) Dump() DumpInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := DumpInfo{
		State:            p.state.state.String(),
		SessionID:        p.sessionID,
		Contents:         len(p.contents),
		Containers:       len(p.containers),
		Tokens:           len(p.tokens),
		SyntheticTokens:  len(p.syntheticTokens),
		Observers:        p.observers.Len(),
		Commits:          p.counters.commits,
		TokenCommits:     p.counters.tokenCommits,
		UpdateCommits:    p.counters.updateCommits,
		RemovedChildren:  p.counters.removedChildren,
		RemoveScans:      p.counters.removeScans,
		SyntheticHandled: p.counters.syntheticHandled,
		ServerTokens:     p.counters.serverTokensAsked,
		CursorsRemoved:   p.counters.cursorsRemoved,
	}
	if p.root != nil {
		info.RootID = p.root.contentID
	}
	for _, list := range p.containers {
		if len(list.children) == 1 {
			info.SingleChildContainers++
		}
		info.LargestContainer = max(info.LargestContainer, len(list.children))
	}
	for _, ref := range p.cursors {
		cursor := ref.Value()
		if cursor == nil {
			info.ReclaimedCursors++
			continue
		}
		info.Cursors++
		if cursor.IsAtEnd() {
			info.CursorsAtEnd++
		}
	}
	return info
}
