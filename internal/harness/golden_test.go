package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden files are regenerated with:
//
//	go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestSnapshotIsDeterministic(t *testing.T) {
	scenario := loadTestdata(t, "failure_skips_dependents")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSnapshotMarksRejectedSteps(t *testing.T) {
	result := NewResult()
	result.Steps = []StepResult{{Kind: "deploy", Version: 2, Err: "deploy version 2: invalid graph: cycle"}}

	data, err := Snapshot("rejected", result)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"rejected","steps":[{"kind":"deploy","rejected":true,"resources":{},"version":2}]}`, string(data))
	assert.False(t, strings.Contains(string(data), "cycle"), "error text stays out of snapshots")
}
