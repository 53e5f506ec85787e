package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// assertBidirectional checks provides(B) = {A : B in requires(A)} over ids.
func assertBidirectional(t *testing.T, m *RequiresProvidesMapping, ids []ResourceID) {
	t.Helper()
	for _, b := range ids {
		var want []ResourceID
		for _, a := range ids {
			if m.Requires(a, b) {
				want = append(want, a)
			}
		}
		assert.ElementsMatch(t, want, m.ProvidesOf(b), "provides(%s)", b)
	}
}

func TestMappingInvariantAcrossMutations(t *testing.T) {
	a := MustParseResourceID("t::R[h,n=a]")
	b := MustParseResourceID("t::R[h,n=b]")
	c := MustParseResourceID("t::R[h,n=c]")
	ids := []ResourceID{a, b, c}

	m := NewMapping()
	m.AddRequires(a, b)
	m.AddRequires(a, c)
	m.AddRequires(b, c)
	assertBidirectional(t, m, ids)
	assert.Equal(t, []ResourceID{a, b}, m.ProvidesOf(c))

	m.RemoveRequires(a, c)
	assertBidirectional(t, m, ids)
	assert.Equal(t, []ResourceID{b}, m.ProvidesOf(c))

	m.SetRequires(a, []ResourceID{c})
	assertBidirectional(t, m, ids)
	assert.Empty(t, m.ProvidesOf(b))

	m.Delete(c)
	assertBidirectional(t, m, ids)
	assert.Empty(t, m.RequiresOf(a))
	assert.Empty(t, m.RequiresOf(b))
}

func TestMappingClone(t *testing.T) {
	a := MustParseResourceID("t::R[h,n=a]")
	b := MustParseResourceID("t::R[h,n=b]")

	m := NewMapping()
	m.AddRequires(a, b)
	clone := m.Clone()
	m.Delete(b)

	assert.True(t, clone.Requires(a, b))
	assert.False(t, m.Requires(a, b))
}
