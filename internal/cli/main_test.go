package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// envChildMode makes the test binary act as a rollout executor child.
const envChildMode = "ROLLOUT_CLI_TEST_EXECUTOR"

func TestMain(m *testing.M) {
	if os.Getenv(envChildMode) == "1" {
		root := NewRootCommand()
		root.SetArgs(os.Args[1:])
		if err := root.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, "test executor:", err)
			os.Exit(GetExitCode(err))
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// lockedBuffer is written by the command and by executor children at once.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testEnv is a scratch directory holding a configuration, a store and the
// files deployed by the builtin handlers.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	config := filepath.Join(dir, "rollout.yaml")
	cfg := fmt.Sprintf(`environment: test
logging:
  level: error
store:
  path: %s
executor:
  env: ["%s=1"]
`, filepath.Join(dir, "rollout.db"), envChildMode)
	require.NoError(t, os.WriteFile(config, []byte(cfg), 0o644))
	return &testEnv{dir: dir, config: config}
}

// path returns the absolute path of a deployed file.
func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, "files", name)
}

// fileID returns the id of the builtin file resource for name.
func (e *testEnv) fileID(name string) string {
	return "std::File[local,path=" + e.path(name) + "]"
}

// model writes a YAML model of files under the environment directory.
// contents maps file names to their content; every file requires the
// files directory.
func (e *testEnv) model(t *testing.T, version int64, contents map[string]string) string {
	t.Helper()
	dirID := "std::Directory[local,path=" + filepath.Join(e.dir, "files") + "]"

	var b strings.Builder
	fmt.Fprintf(&b, "version: %d\nresources:\n", version)
	fmt.Fprintf(&b, "  %q:\n    attributes:\n      path: %q\n", dirID, filepath.Join(e.dir, "files"))
	for _, name := range sortedNames(contents) {
		fmt.Fprintf(&b, "  %q:\n", e.fileID(name))
		fmt.Fprintf(&b, "    requires: [%q]\n", dirID)
		fmt.Fprintf(&b, "    attributes:\n      path: %q\n      content: %q\n", e.path(name), contents[name])
	}

	path := filepath.Join(e.dir, fmt.Sprintf("model-v%d.yaml", version))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// run executes the root command with the environment's configuration.
func (e *testEnv) run(args ...string) (string, error) {
	out := &lockedBuffer{}
	root := NewRootCommand()
	root.SetOut(out)
	root.SetErr(&lockedBuffer{})
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.Execute()
	return out.String(), err
}
