package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rid(name string) model.ResourceID {
	return model.MustParseResourceID("std::File[web01,path=/" + name + "]")
}

// createTestModel builds a version with a -> b and a standalone c.
func createTestModel(t *testing.T, version int64) *model.ModelState {
	t.Helper()
	a, err := model.NewResourceDetails(rid("a").AtVersion(version),
		ir.Obj(ir.O("content", ir.IRString("hello")), ir.O("mode", ir.IRInt(0o644))), nil)
	require.NoError(t, err)
	b, err := model.NewResourceDetails(rid("b").AtVersion(version),
		ir.Obj(ir.O("tags", ir.IRArray{ir.IRString("x"), ir.IRInt(9007199254740993)})), []model.ResourceID{rid("a")})
	require.NoError(t, err)
	c, err := model.NewResourceDetails(rid("c").AtVersion(version), ir.IRObject{}, nil)
	require.NoError(t, err)
	c.Unknowns = []string{"owner"}

	ms, err := model.Build(version, []model.ResourceDetails{a, b, c})
	require.NoError(t, err)
	return ms
}
