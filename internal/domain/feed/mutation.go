package feed

import "context"

// Change is the accumulated content of a Mutation.
type Change struct {
	StructureChanges []StreamStructure
	UpdateChanges    []StreamStructure
	MutationContext  *MutationContext
	SessionID        string
}

type committer func(ctx context.Context, change Change)

// Mutation accumulates structural operations and applies them on Commit.
// Operations are applied in the order they were added.
type Mutation struct {
	commit    committer
	change    Change
	committed bool
}

// AddChild appends an UPDATE_OR_APPEND (or any) structure to the batch.
func (m *Mutation) AddChild(s StreamStructure) *Mutation {
	m.change.StructureChanges = append(m.change.StructureChanges, s)
	return m
}

// RemoveChild appends a REMOVE structure to the batch.
func (m *Mutation) RemoveChild(s StreamStructure) *Mutation {
	if s.Operation != OperationRemove {
		s.Operation = OperationRemove
	}
	m.change.StructureChanges = append(m.change.StructureChanges, s)
	return m
}

// UpdateChild marks an existing child as having new content.
func (m *Mutation) UpdateChild(s StreamStructure) *Mutation {
	m.change.UpdateChanges = append(m.change.UpdateChanges, s)
	return m
}

// SetMutationContext records where the mutation came from.
func (m *Mutation) SetMutationContext(mc MutationContext) *Mutation {
	m.change.MutationContext = &mc
	return m
}

// SetSessionID binds the provider to a session.
func (m *Mutation) SetSessionID(sessionID string) *Mutation {
	m.change.SessionID = sessionID
	return m
}

// Commit applies the batch. A mutation commits at most once.
func (m *Mutation) Commit(ctx context.Context) {
	if m.committed {
		return
	}
	m.committed = true
	m.commit(ctx, m.change)
}
