package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/model"
)

func TestReadVersionNotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadVersion(context.Background(), "prod", 7)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestReadVersionRejectsCorruptRows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteVersion(ctx, "prod", "", createTestModel(t, 1)))

	_, err := s.db.Exec(`UPDATE resources SET requires = '["not an id"]' WHERE resource_id = ?`, rid("b").String())
	require.NoError(t, err)

	_, err = s.ReadVersion(ctx, "prod", 1)
	assert.Error(t, err)
}

func TestReadVersionRebuildsGraphErrors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteVersion(ctx, "prod", "", createTestModel(t, 1)))

	// Drop the dependency target so the stored edge dangles.
	_, err := s.db.Exec(`DELETE FROM resources WHERE resource_id = ?`, rid("a").String())
	require.NoError(t, err)

	_, err = s.ReadVersion(ctx, "prod", 1)
	assert.True(t, model.IsGraphError(err), "got %v", err)
}

func TestReadResourceStatesEmpty(t *testing.T) {
	s := createTestStore(t)

	states, err := s.ReadResourceStates(context.Background(), "prod")
	require.NoError(t, err)
	assert.NotNil(t, states)
	assert.Empty(t, states)

	versions, err := s.ListVersions(context.Background(), "prod")
	require.NoError(t, err)
	assert.NotNil(t, versions)
	assert.Empty(t, versions)

	seq, err := s.MaxSeq(context.Background(), "prod")
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestMarshalStringsEmpty(t *testing.T) {
	data, err := marshalStrings(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", data)

	strs, err := unmarshalStrings(data)
	require.NoError(t, err)
	assert.Nil(t, strs)
}
