package compiler

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

func TestLoadYAMLFile(t *testing.T) {
	doc, err := LoadYAMLFile(filepath.Join("testdata", "web.yaml"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), doc.Version)
	require.Len(t, doc.Resources, 2)

	dir := doc.Resources[0]
	assert.Equal(t, "std::Directory[web01,path=/srv/www]", dir.ID)
	assert.Equal(t, ir.IRInt(0o755), dir.Attributes["mode"])
	assert.Empty(t, dir.Unknowns)

	file := doc.Resources[1]
	assert.Equal(t, []string{"std::Directory[web01,path=/srv/www]"}, file.Requires)
	assert.Equal(t, ir.IRString("hello\n"), file.Attributes["content"])
	assert.Equal(t, ir.IRArray{ir.IRString("web"), ir.IRString("static")}, file.Attributes["tags"])
	assert.Equal(t, ir.IRNull{}, file.Attributes["owner"])
	assert.Equal(t, []string{"owner"}, file.Unknowns)
	assert.Greater(t, file.Line, dir.Line)
}

func TestYAMLDocumentState(t *testing.T) {
	doc, err := LoadYAMLFile(filepath.Join("testdata", "web.yaml"))
	require.NoError(t, err)

	ms, err := doc.State()
	require.NoError(t, err)
	assert.Equal(t, int64(3), ms.Version)
	assert.Equal(t, 2, ms.Len())

	fileID := model.MustParseResourceID("std::File[web01,path=/srv/www/index.html]")
	r, ok := ms.Resource(fileID)
	require.True(t, ok)
	assert.True(t, r.HasUnknowns())
	assert.Len(t, r.AttributeHash, 64)
	assert.Equal(t, []model.ResourceID{model.MustParseResourceID("std::Directory[web01,path=/srv/www]")}, ms.RequiresOf(fileID))
}

func TestLoadYAMLNestedUnknowns(t *testing.T) {
	doc, err := LoadYAML("inline", []byte(`
version: 1
resources:
  "t::R[h,n=a]":
    attributes:
      nested:
        deep: !unknown
      list: [1, !unknown]
`))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nested.deep", "list[1]"}, doc.Resources[0].Unknowns)
}

func TestLoadYAMLRejectsFloats(t *testing.T) {
	_, err := LoadYAML("inline", []byte(`
version: 1
resources:
  "t::R[h,n=a]":
    attributes:
      cpu: 0.5
`))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cpu", ce.Field)
	assert.Equal(t, 6, ce.Line)
	assert.Contains(t, err.Error(), "inline:6")
}

func TestLoadYAMLStructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not a mapping", `- a`},
		{"unknown top-level field", "version: 1\nextra: true"},
		{"resources not a mapping", "version: 1\nresources: [a]"},
		{"unknown resource field", "version: 1\nresources:\n  \"t::R[h,n=a]\":\n    depends: []"},
		{"bad version", "version: one"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML("inline", []byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoadYAMLAliases(t *testing.T) {
	doc, err := LoadYAML("inline", []byte(`
version: 1
resources:
  "t::R[h,n=a]":
    attributes:
      base: &base {owner: root}
      copy: *base
`))
	require.NoError(t, err)
	attrs := doc.Resources[0].Attributes
	assert.True(t, ir.Equal(attrs["base"], attrs["copy"]))
}

func TestLoadDispatchesByExtension(t *testing.T) {
	doc, err := Load(filepath.Join("testdata", "web.yaml"))
	require.NoError(t, err)
	assert.Len(t, doc.Resources, 2)

	_, err = Load(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	doc, err = LoadVersion(filepath.Join("testdata", "web.yaml"), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), doc.Version)
}
