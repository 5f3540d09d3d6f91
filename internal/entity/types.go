// Package entity defines the target-schema entity types, their dependency
// topology, and the draft rows produced by the transformer for loading.
package entity

// Type identifies a target-schema entity type.
type Type string

const (
	TypePractice       Type = "practice"
	TypeProfile        Type = "profile"
	TypePracticeMember Type = "practice_member"
	TypePatient        Type = "patient"
	TypeCase           Type = "case"
	TypeOrder          Type = "order"
)

// LoadOrder is the fixed topological order entity types are loaded in.
// An entity type never loads before every type it depends on has completed.
var LoadOrder = []Type{
	TypePractice,
	TypeProfile,
	TypePracticeMember,
	TypePatient,
	TypeCase,
	TypeOrder,
}

// dependencies maps each entity type to the types it references by foreign key.
var dependencies = map[Type][]Type{
	TypePractice:       nil,
	TypeProfile:        nil,
	TypePracticeMember: {TypePractice, TypeProfile},
	TypePatient:        {TypePractice},
	TypeCase:           {TypePatient, TypePractice},
	TypeOrder:          {TypeCase, TypeProfile},
}

// Dependencies returns the entity types t references by foreign key.
func (t Type) Dependencies() []Type {
	return dependencies[t]
}

// DependsOn reports whether t has a direct dependency edge to other.
func (t Type) DependsOn(other Type) bool {
	for _, dep := range dependencies[t] {
		if dep == other {
			return true
		}
	}
	return false
}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	_, ok := dependencies[t]
	return ok
}

// String returns the type name.
func (t Type) String() string { return string(t) }

// Position returns t's index in the load order, or -1 for unknown types.
func (t Type) Position() int {
	for i, lt := range LoadOrder {
		if lt == t {
			return i
		}
	}
	return -1
}
