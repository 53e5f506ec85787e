package executor

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/code"
	"github.com/roach88/rollout/internal/ipc"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

// pipeSpawner runs Serve in-process over net.Pipe.
type pipeSpawner struct {
	registry *Registry
	spawned  atomic.Int32
}

func (s *pipeSpawner) Spawn(ctx context.Context, name string) (*Process, error) {
	parent, child := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), child, s.registry)
	}()
	pid := int(s.spawned.Add(1))
	conn := ipc.NewConn(parent, ipc.WithName(name))
	return NewProcess(pid, conn,
		func() error { return <-done },
		func() error { return child.Close() },
	), nil
}

func fileResource(t *testing.T, version int64, path string, attrs ...ir.IRPair) model.ResourceDetails {
	t.Helper()
	all := append([]ir.IRPair{ir.O("path", ir.IRString(path))}, attrs...)
	id := model.ResourceID{EntityType: TypeFile, Agent: "local", AttributeName: "path", AttributeValue: path}
	r, err := model.NewResourceDetails(id.AtVersion(version), ir.Obj(all...), nil)
	require.NoError(t, err)
	return r
}

func typedResource(t *testing.T, typ, name string) model.ResourceDetails {
	t.Helper()
	id := model.ResourceID{EntityType: typ, Agent: "local", AttributeName: "name", AttributeValue: name}
	r, err := model.NewResourceDetails(id.AtVersion(1), ir.Obj(ir.O("name", ir.IRString(name))), nil)
	require.NoError(t, err)
	return r
}

func stdBlueprint(types ...string) code.Blueprint {
	if len(types) == 0 {
		types = []string{TypeFile, TypeDirectory}
	}
	return code.Blueprint{Bundle: "std", Runtime: "", Types: types}
}
