package entity

// Delta describes the exact change set produced by a mutation: which
// entities and relationships were created, updated, or deleted. Downstream
// consumers (embedding indexer, metrics recompute) work from deltas instead
// of rescanning the graph.
type Delta struct {
	CreatedEntities      []string `json:"createdEntities,omitempty"`
	UpdatedEntities      []string `json:"updatedEntities,omitempty"`
	DeletedEntities      []string `json:"deletedEntities,omitempty"`
	CreatedRelationships []string `json:"createdRelationships,omitempty"`
	DeletedRelationships []string `json:"deletedRelationships,omitempty"`
}

// Empty reports whether the delta carries no changes. An unchanged
// re-ingestion returns an empty delta.
func (d *Delta) Empty() bool {
	return len(d.CreatedEntities) == 0 &&
		len(d.UpdatedEntities) == 0 &&
		len(d.DeletedEntities) == 0 &&
		len(d.CreatedRelationships) == 0 &&
		len(d.DeletedRelationships) == 0
}

// Merge folds another delta into this one.
func (d *Delta) Merge(other *Delta) {
	if other == nil {
		return
	}
	d.CreatedEntities = append(d.CreatedEntities, other.CreatedEntities...)
	d.UpdatedEntities = append(d.UpdatedEntities, other.UpdatedEntities...)
	d.DeletedEntities = append(d.DeletedEntities, other.DeletedEntities...)
	d.CreatedRelationships = append(d.CreatedRelationships, other.CreatedRelationships...)
	d.DeletedRelationships = append(d.DeletedRelationships, other.DeletedRelationships...)
}

// TouchedEntities returns created plus updated entity ids, the set whose
// embeddings need refreshing.
func (d *Delta) TouchedEntities() []string {
	out := make([]string, 0, len(d.CreatedEntities)+len(d.UpdatedEntities))
	out = append(out, d.CreatedEntities...)
	out = append(out, d.UpdatedEntities...)
	return out
}
