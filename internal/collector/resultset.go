package collector

import "github.com/vk/hubflow/internal/model"

// ResultSet maps work-item labels to their partial-result storage. It feeds
// the final collection job; the collection inputs reference this set, never
// the original per-item inputs.
type ResultSet struct {
	refs     map[string]model.StorageRef
	expected int
}

// NewResultSet returns a set expecting one entry per work item.
func NewResultSet(expected int) *ResultSet {
	return &ResultSet{refs: map[string]model.StorageRef{}, expected: expected}
}

// AddSuccess records one work item's partial result.
func (rs *ResultSet) AddSuccess(item string, ref model.StorageRef) {
	rs.refs[item] = ref
}

// Complete reports whether every expected work item has reported success.
func (rs *ResultSet) Complete() bool {
	return len(rs.refs) == rs.expected
}

// Refs hands the merged mapping to the collection job. The set is consumed
// exactly once.
func (rs *ResultSet) Refs() map[string]model.StorageRef {
	refs := rs.refs
	rs.refs = nil
	return refs
}
