package entity

import (
	"fmt"
	"sort"
	"strings"
)

// SourceRef identifies one legacy row that contributed to a draft.
type SourceRef struct {
	Table string
	ID    int64
}

// String renders the ref as "table:id", the form used in reports.
func (r SourceRef) String() string {
	return fmt.Sprintf("%s:%d", r.Table, r.ID)
}

// Draft is a candidate row for the target schema. Drafts are produced by the
// transformer, possibly rewritten by the deduplicator, and persisted by the
// loader as idempotent upserts keyed by NaturalKey.
type Draft struct {
	Type       Type
	NaturalKey string
	Fields     map[string]any
	Provenance []SourceRef
	// DependsOn holds, per referenced entity type, the natural keys this draft
	// points at. The loader validates these against already-loaded keys and
	// downgrades dangling references to NULL.
	DependsOn map[Type][]string
}

// NewDraft creates a draft with initialized maps.
func NewDraft(t Type, naturalKey string) *Draft {
	return &Draft{
		Type:       t,
		NaturalKey: naturalKey,
		Fields:     make(map[string]any),
		DependsOn:  make(map[Type][]string),
	}
}

// AddProvenance appends a contributing source row.
func (d *Draft) AddProvenance(table string, id int64) {
	d.Provenance = append(d.Provenance, SourceRef{Table: table, ID: id})
}

// AddDependency records that this draft references key of entity type t.
func (d *Draft) AddDependency(t Type, key string) {
	if key == "" {
		return
	}
	d.DependsOn[t] = append(d.DependsOn[t], key)
}

// ProvenanceString renders the provenance list in deterministic order.
func (d *Draft) ProvenanceString() string {
	refs := make([]string, len(d.Provenance))
	for i, r := range d.Provenance {
		refs[i] = r.String()
	}
	sort.Strings(refs)
	return strings.Join(refs, ",")
}

// NaturalKeyFor derives the deterministic natural key for an entity identified
// by one or more source ids. The key is stable across runs so that re-running
// the same migration converges instead of duplicating rows.
func NaturalKeyFor(t Type, sourceIDs ...int64) string {
	parts := make([]string, 0, len(sourceIDs)+1)
	parts = append(parts, string(t))
	for _, id := range sourceIDs {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, ":")
}
