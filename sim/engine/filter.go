package engine

import (
	"sort"
	"strings"
)

// Filter selects which entities a Query captures. The zero value selects
// every entity of every type.
type Filter struct {
	// Types limits the capture to the listed entity types. Empty means all.
	Types []EntityType `json:"types,omitempty"`

	// IDs limits the capture to the listed entity identifiers. Empty means
	// all entities of the selected types.
	IDs []string `json:"ids,omitempty"`
}

// FilterAll selects every entity of every type.
var FilterAll = Filter{}

// FilterType selects all entities of a single type.
func FilterType(t EntityType) Filter {
	return Filter{Types: []EntityType{t}}
}

// FilterEntity selects a single entity by type and identifier.
func FilterEntity(t EntityType, id string) Filter {
	return Filter{Types: []EntityType{t}, IDs: []string{id}}
}

// WantsType reports whether the filter selects entities of type t.
func (f Filter) WantsType(t EntityType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, ft := range f.Types {
		if ft == t {
			return true
		}
	}
	return false
}

// WantsID reports whether the filter selects the entity identifier id.
func (f Filter) WantsID(id string) bool {
	if len(f.IDs) == 0 {
		return true
	}
	for _, fid := range f.IDs {
		if fid == id {
			return true
		}
	}
	return false
}

// Key returns a canonical string for the filter, stable across the order in
// which types and IDs were supplied. Used as part of the snapshot cache key.
func (f Filter) Key() string {
	types := make([]string, 0, len(f.Types))
	for _, t := range f.Types {
		types = append(types, string(t))
	}
	sort.Strings(types)

	ids := make([]string, len(f.IDs))
	copy(ids, f.IDs)
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("t=")
	b.WriteString(strings.Join(types, ","))
	b.WriteString(";i=")
	b.WriteString(strings.Join(ids, ","))
	return b.String()
}

// Validate checks that every listed type is known.
func (f Filter) Validate() error {
	for _, t := range f.Types {
		if !t.Valid() {
			return &UnknownEntityTypeError{Type: string(t)}
		}
	}
	return nil
}

// UnknownEntityTypeError reports a filter referencing an entity type the
// bridge does not know about.
type UnknownEntityTypeError struct {
	Type string
}

func (e *UnknownEntityTypeError) Error() string {
	return "unknown entity type: " + e.Type
}
