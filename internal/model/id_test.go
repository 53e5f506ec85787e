package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceIDString(t *testing.T) {
	id := ResourceID{EntityType: "std::File", Agent: "web01", AttributeName: "path", AttributeValue: "/etc/motd"}
	assert.Equal(t, "std::File[web01,path=/etc/motd]", id.String())
	assert.Equal(t, "std::File[web01,path=/etc/motd],v=4", id.AtVersion(4).String())
}

func TestParseResourceID(t *testing.T) {
	id, err := ParseResourceID("std::File[web01,path=/srv/a=b,c]")
	require.NoError(t, err)
	assert.Equal(t, "std::File", id.EntityType)
	assert.Equal(t, "web01", id.Agent)
	assert.Equal(t, "path", id.AttributeName)
	assert.Equal(t, "/srv/a=b,c", id.AttributeValue)
}

func TestParseResourceIDErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"std::File",
		"[web01,path=/a]",
		"std::File[web01]",
		"std::File[,path=/a]",
		"std::File[web01,=/a]",
		"std::File[web01,path=/a",
	} {
		_, err := ParseResourceID(s)
		assert.Error(t, err, s)
	}
}

func TestParseResourceVersionID(t *testing.T) {
	rv, err := ParseResourceVersionID("svc::Service[db,name=postgres],v=12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), rv.Version)
	assert.Equal(t, "postgres", rv.AttributeValue)
	assert.Equal(t, "svc::Service[db,name=postgres],v=12", rv.String())

	_, err = ParseResourceVersionID("svc::Service[db,name=postgres]")
	assert.Error(t, err)
	_, err = ParseResourceVersionID("svc::Service[db,name=postgres],v=x")
	assert.Error(t, err)
}

func TestResourceVersionIDJSONKeepsVersion(t *testing.T) {
	rv := MustParseResourceID("a::B[h,k=v]").AtVersion(3)
	data, err := json.Marshal(rv)
	require.NoError(t, err)
	assert.Equal(t, `"a::B[h,k=v],v=3"`, string(data))

	var back ResourceVersionID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rv, back)
}
