package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeHashDeterminism(t *testing.T) {
	attrs := Obj(
		O("path", IRString("/etc/motd")),
		O("mode", IRInt(0o644)),
	)

	h1, err := AttributeHash(attrs)
	require.NoError(t, err)
	h2, err := AttributeHash(attrs)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestAttributeHashIgnoresKeyOrder(t *testing.T) {
	// Build the same logical object through two different insertion orders.
	a := IRObject{}
	a["owner"] = IRString("root")
	a["content"] = IRString("hello")
	a["nested"] = IRObject{"x": IRInt(1), "y": IRInt(2)}

	b := IRObject{}
	b["nested"] = IRObject{"y": IRInt(2), "x": IRInt(1)}
	b["content"] = IRString("hello")
	b["owner"] = IRString("root")

	assert.Equal(t, MustAttributeHash(a), MustAttributeHash(b))
}

func TestAttributeHashIgnoresExcludedFields(t *testing.T) {
	base := Obj(O("content", IRString("hello")))

	withGraph := Obj(
		O("content", IRString("hello")),
		O(AttrRequires, IRArray{IRString("std::File[host,path=/a],v=1")}),
		O(AttrProvides, IRArray{IRString("std::File[host,path=/b],v=1")}),
		O(AttrVersion, IRInt(7)),
	)

	assert.Equal(t, MustAttributeHash(base), MustAttributeHash(withGraph))
}

func TestAttributeHashChangesWithIncludedField(t *testing.T) {
	a := Obj(O("content", IRString("hello")), O("owner", IRString("root")))
	b := Obj(O("content", IRString("hello")), O("owner", IRString("admin")))
	c := Obj(O("content", IRString("hello")))

	assert.NotEqual(t, MustAttributeHash(a), MustAttributeHash(b))
	assert.NotEqual(t, MustAttributeHash(a), MustAttributeHash(c), "dropping a field changes the hash")
}

func TestAttributeHashDoesNotMutateInput(t *testing.T) {
	attrs := Obj(O("content", IRString("x")), O(AttrVersion, IRInt(3)))
	MustAttributeHash(attrs)
	assert.Contains(t, attrs, AttrVersion)
}

func TestDomainSeparation(t *testing.T) {
	obj := Obj(O("name", IRString("web")))

	attr, err := ContentHash(DomainAttributes, obj)
	require.NoError(t, err)
	bp, err := ContentHash(DomainBlueprint, obj)
	require.NoError(t, err)

	assert.NotEqual(t, attr, bp)
}

func TestAttributeHashNullAttribute(t *testing.T) {
	withNull, err := AttributeHash(IRObject{"owner": IRNull{}})
	require.NoError(t, err)
	withNil, err := AttributeHash(IRObject{"owner": nil})
	require.NoError(t, err)

	assert.Equal(t, withNull, withNil)
}

func TestContentHashRejectsFloats(t *testing.T) {
	_, err := ContentHash(DomainAttributes, map[string]any{"cpu": 0.25})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DomainAttributes)
}
