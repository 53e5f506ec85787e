package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/roach88/rollout/internal/ipc"
)

// ChildFD is the descriptor number of the executor socket in the child.
// It is the first entry of exec.Cmd.ExtraFiles.
const ChildFD = 3

// EnvChildFD names the environment variable carrying ChildFD to the child.
const EnvChildFD = "ROLLOUT_EXECUTOR_FD"

// ProcessSpawner starts executors as child processes connected through a
// Unix socket pair.
//
// The child gets a fresh process image with only stdin, stdout, stderr and
// its socket end open, and only the environment listed in Env.
type ProcessSpawner struct {
	// Binary is the executable to run. Empty means the running binary.
	Binary string
	// Args are passed before the executor name.
	Args []string
	// Env is the complete child environment, plus EnvChildFD.
	Env []string
	// Stderr receives child log output. Nil discards it.
	Stderr io.Writer
	// MaxFrameSize bounds IPC frames. Zero means the ipc default.
	MaxFrameSize int
	Logger       *slog.Logger
}

// Spawn starts one executor. name is passed as the final argument so the
// child can label its logs.
func (s *ProcessSpawner) Spawn(ctx context.Context, name string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	binary := s.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executor binary: %w", err)
		}
		binary = self
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "executor-parent")
	childFile := os.NewFile(uintptr(fds[1]), "executor-child")

	args := append(append([]string{}, s.Args...), name)
	cmd := exec.Command(binary, args...) //nolint:gosec // binary comes from trusted config
	cmd.Env = append(append([]string{}, s.Env...), EnvChildFD+"="+strconv.Itoa(ChildFD))
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stdout = s.Stderr
	cmd.Stderr = s.Stderr

	if err := cmd.Start(); err != nil {
		_ = parentFile.Close()
		_ = childFile.Close()
		return nil, fmt.Errorf("start executor %s: %w", name, err)
	}
	// The child holds its own copy now.
	_ = childFile.Close()

	netConn, err := net.FileConn(parentFile)
	_ = parentFile.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("wrap executor socket: %w", err)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn := ipc.NewConn(netConn,
		ipc.WithName(name),
		ipc.WithMaxFrameSize(s.maxFrame()),
		ipc.WithLogger(logger),
	)

	logger.Debug("executor spawned", "name", name, "pid", cmd.Process.Pid, "binary", binary)
	return NewProcess(cmd.Process.Pid, conn, cmd.Wait, cmd.Process.Kill), nil
}

func (s *ProcessSpawner) maxFrame() int {
	if s.MaxFrameSize > 0 {
		return s.MaxFrameSize
	}
	return ipc.DefaultMaxFrameSize
}

// ParentConn opens the socket inherited from the parent. It is called by the
// executor child entry point.
func ParentConn() (net.Conn, error) {
	fd := ChildFD
	if v := os.Getenv(EnvChildFD); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s=%q: %w", EnvChildFD, v, err)
		}
		fd = n
	}
	f := os.NewFile(uintptr(fd), "executor-socket")
	if f == nil {
		return nil, fmt.Errorf("executor socket fd %d is not valid", fd)
	}
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("executor socket fd %d: %w", fd, err)
	}
	return conn, nil
}
