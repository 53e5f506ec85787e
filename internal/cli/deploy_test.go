package cli

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/scheduler"
	"github.com/roach88/rollout/internal/store"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPlanChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	model := env.model(t, 1, map[string]string{"motd": "hello\n"})

	output, err := env.run("plan", model)
	require.NoError(t, err)
	assert.Contains(t, output, "Plan for test version 1:")
	assert.Contains(t, output, "~ "+env.fileID("motd"))
	assert.Contains(t, output, "2 to change, 0 unchanged, 0 undefined, 0 failed")

	_, err = os.Stat(env.path("motd"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeployWritesFiles(t *testing.T) {
	env := newTestEnv(t)
	model := env.model(t, 1, map[string]string{"motd": "hello\n", "issue": "welcome\n"})

	output, err := env.run("deploy", model)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ test version 1: deployed=3")
	assert.Equal(t, "hello\n", readFile(t, env.path("motd")))
	assert.Equal(t, "welcome\n", readFile(t, env.path("issue")))

	output, err = env.run("plan", model)
	require.NoError(t, err)
	assert.Contains(t, output, "0 to change, 3 unchanged")
}

func TestDeployJSON(t *testing.T) {
	env := newTestEnv(t)
	model := env.model(t, 1, map[string]string{"motd": "hello\n"})

	output, err := env.run("--format", "json", "deploy", model)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   DeployResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Released)
	assert.Equal(t, int64(1), resp.Data.Summary.Version)
	assert.Equal(t, 2, resp.Data.Summary.Counts[scheduler.StatusDeployed])
}

func TestDeployNewVersionAcrossProcesses(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("deploy", env.model(t, 1, map[string]string{"motd": "hello\n"}))
	require.NoError(t, err)

	output, err := env.run("deploy", env.model(t, 2, map[string]string{"motd": "goodbye\n", "issue": "welcome\n"}))
	require.NoError(t, err)
	assert.Contains(t, output, "✓ test version 2: deployed=3")
	assert.Equal(t, "goodbye\n", readFile(t, env.path("motd")))
	assert.Equal(t, "welcome\n", readFile(t, env.path("issue")))

	output, err = env.run("--format", "json", "status", "--versions")
	require.NoError(t, err)
	var resp struct {
		Data []store.VersionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, int64(2), resp.Data[1].Version)
	assert.True(t, resp.Data[1].Released)
	assert.Equal(t, 3, resp.Data[1].Resources)
}

func TestDeployRejectsStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	model := env.model(t, 1, map[string]string{"motd": "hello\n"})

	_, err := env.run("deploy", model)
	require.NoError(t, err)

	output, err := env.run("deploy", model)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "version 1 rejected")
}

func TestDeployMissingModel(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("deploy", env.path("missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheckAndRepair(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("deploy", env.model(t, 1, map[string]string{"motd": "hello\n"}))
	require.NoError(t, err)

	output, err := env.run("check")
	require.NoError(t, err)
	assert.Contains(t, output, "2 of 2 resource(s) compliant")

	require.NoError(t, os.WriteFile(env.path("motd"), []byte("tampered\n"), 0o644))

	output, err = env.run("check")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ "+env.fileID("motd")+": content")
	assert.Contains(t, output, "1 of 2 resource(s) compliant")
	assert.Equal(t, executor.NonCompliant, storedCompliance(t, env, env.fileID("motd")), "check persists compliance")

	output, err = env.run("repair")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ test version 1: deployed=2")
	assert.Equal(t, "hello\n", readFile(t, env.path("motd")))

	_, err = env.run("check")
	require.NoError(t, err)
	assert.Equal(t, executor.Compliant, storedCompliance(t, env, env.fileID("motd")))
}

// storedCompliance reads the persisted compliance of id through status.
func storedCompliance(t *testing.T, env *testEnv, id string) executor.Compliance {
	t.Helper()
	output, err := env.run("--format", "json", "status")
	require.NoError(t, err)
	var resp struct {
		Data StatusResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	for _, rec := range resp.Data.States {
		if rec.ID.String() == id {
			return rec.Compliance
		}
	}
	t.Fatalf("no stored state for %s", id)
	return ""
}

func TestRepairWithoutRelease(t *testing.T) {
	env := newTestEnv(t)

	output, err := env.run("repair")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "Error [E031]: nothing to repair")
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	output, err := env.run("status")
	require.NoError(t, err)
	assert.Contains(t, output, "No resource state recorded for test.")

	_, err = env.run("deploy", env.model(t, 1, map[string]string{"motd": "hello\n"}))
	require.NoError(t, err)

	output, err = env.run("status")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ test version 1: deployed=2")
	assert.Contains(t, output, env.fileID("motd"))

	output, err = env.run("status", "--history", env.fileID("motd"))
	require.NoError(t, err)
	assert.Contains(t, output, "History of "+env.fileID("motd"))
	assert.Contains(t, output, "deploying")
	assert.Contains(t, output, "deployed")

	output, err = env.run("status", "--history", "std::File[local,path=/nowhere]")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "no history for")
}

func TestWatchRequiresNATS(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("NATS_URL", "")

	output, err := env.run("watch")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "watch requires nats.url")
}
