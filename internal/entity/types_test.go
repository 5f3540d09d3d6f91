package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadOrderRespectsDependencies(t *testing.T) {
	// Every entity type must appear after all of its dependencies.
	for _, et := range LoadOrder {
		for _, dep := range et.Dependencies() {
			assert.Less(t, dep.Position(), et.Position(),
				"%s depends on %s but loads before it", et, dep)
		}
	}
}

func TestLoadOrderCoversAllTypes(t *testing.T) {
	assert.Len(t, LoadOrder, len(dependencies))
	for et := range dependencies {
		assert.GreaterOrEqual(t, et.Position(), 0, "%s missing from load order", et)
	}
}

func TestDependsOn(t *testing.T) {
	assert.True(t, TypeOrder.DependsOn(TypeCase))
	assert.True(t, TypeCase.DependsOn(TypePatient))
	assert.False(t, TypePractice.DependsOn(TypeOrder))
	assert.False(t, TypeOrder.DependsOn(TypePatient), "orders reference cases, not patients directly")
}

func TestValid(t *testing.T) {
	assert.True(t, TypePatient.Valid())
	assert.False(t, Type("invoice").Valid())
	assert.Equal(t, -1, Type("invoice").Position())
}

func TestNaturalKeyDeterminism(t *testing.T) {
	a := NaturalKeyFor(TypePatient, 12, 7)
	b := NaturalKeyFor(TypePatient, 12, 7)
	assert.Equal(t, a, b)
	assert.Equal(t, "patient:12:7", a)
	assert.NotEqual(t, a, NaturalKeyFor(TypePatient, 7, 12))
}

func TestDraftProvenanceString(t *testing.T) {
	d := NewDraft(TypePatient, NaturalKeyFor(TypePatient, 9))
	d.AddProvenance("dispatch_patient", 9)
	d.AddProvenance("auth_user", 3)

	assert.Equal(t, "auth_user:3,dispatch_patient:9", d.ProvenanceString())
}

func TestDraftAddDependencyIgnoresEmptyKey(t *testing.T) {
	d := NewDraft(TypeOrder, "order:1")
	d.AddDependency(TypeCase, "")
	d.AddDependency(TypeCase, "case:4")

	assert.Equal(t, []string{"case:4"}, d.DependsOn[TypeCase])
}
