package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Value string `json:"value"`
	Delay int    `json:"delay_ms"`
}

type handlerError struct{ msg string }

func (e *handlerError) Error() string     { return e.msg }
func (e *handlerError) ErrorType() string { return "HandlerError" }

// pair returns a client Conn and a server Conn serving h.
func pair(t *testing.T, h Handler) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	client := NewConn(a, WithName("client"))
	server := NewConn(b, WithName("server"), WithHandler(h))
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func echoHandler(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	switch method {
	case "echo":
		var args echoArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		if args.Delay > 0 {
			select {
			case <-time.After(time.Duration(args.Delay) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return args, nil
	case "fail":
		return nil, &handlerError{msg: "resource exploded"}
	case "panic":
		panic("boom")
	case "block":
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

func TestCallRoundTrip(t *testing.T) {
	client, _ := pair(t, echoHandler)

	var got echoArgs
	require.NoError(t, client.Call(context.Background(), "echo", echoArgs{Value: "hi"}, &got))
	assert.Equal(t, "hi", got.Value)
}

func TestCallMultiplexesOutOfOrder(t *testing.T) {
	client, _ := pair(t, echoHandler)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		order []string
	)
	// The slow call is issued first but must complete last.
	for _, tc := range []echoArgs{{Value: "slow", Delay: 150}, {Value: "fast"}} {
		wg.Add(1)
		go func(args echoArgs) {
			defer wg.Done()
			var got echoArgs
			assert.NoError(t, client.Call(context.Background(), "echo", args, &got))
			assert.Equal(t, args.Value, got.Value)
			mu.Lock()
			order = append(order, got.Value)
			mu.Unlock()
		}(tc)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestCallManyConcurrent(t *testing.T) {
	client, _ := pair(t, echoHandler)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var got echoArgs
			want := fmt.Sprintf("v%d", i)
			assert.NoError(t, client.Call(context.Background(), "echo", echoArgs{Value: want}, &got))
			assert.Equal(t, want, got.Value)
		}(i)
	}
	wg.Wait()
}

func TestCallRemoteError(t *testing.T) {
	client, _ := pair(t, echoHandler)

	err := client.Call(context.Background(), "fail", nil, nil)
	require.Error(t, err)

	var rce *RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, "fail", rce.Method)
	assert.Equal(t, "HandlerError", rce.Type)
	assert.Equal(t, "resource exploded", rce.Message)
	assert.False(t, errors.Is(err, ErrConnectionLost))

	// The connection survives a remote failure.
	require.NoError(t, client.Call(context.Background(), "echo", echoArgs{Value: "ok"}, nil))
}

func TestCallHandlerPanicBecomesRemoteError(t *testing.T) {
	client, _ := pair(t, echoHandler)

	err := client.Call(context.Background(), "panic", nil, nil)
	assert.True(t, IsRemoteCallError(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestCallUnknownMethod(t *testing.T) {
	client, _ := pair(t, echoHandler)

	err := client.Call(context.Background(), "nope", nil, nil)
	var rce *RemoteCallError
	require.True(t, errors.As(err, &rce))
	assert.Equal(t, "UnknownMethod", rce.Type)
}

func TestCallWithoutHandler(t *testing.T) {
	client, _ := pair(t, nil)

	err := client.Call(context.Background(), "echo", nil, nil)
	assert.True(t, IsRemoteCallError(err))
}

func TestConnectionLostFailsPendingAndLaterCalls(t *testing.T) {
	client, server := pair(t, echoHandler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Call(context.Background(), "block", nil, nil)
	}()

	// Wait for the call to be in flight, then kill the peer.
	require.Eventually(t, func() bool {
		client.pendMu.Lock()
		defer client.pendMu.Unlock()
		return len(client.pending) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionLost)
		assert.False(t, IsRemoteCallError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("pending call hung after connection loss")
	}

	<-client.Done()
	err := client.Call(context.Background(), "echo", echoArgs{Value: "again"}, nil)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, client.Err(), ErrConnectionLost)
}

func TestCallContextCancellation(t *testing.T) {
	client, _ := pair(t, echoHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := client.Call(ctx, "echo", echoArgs{Value: "late", Delay: 500}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, client.Err(), "a caller timeout does not kill the connection")
}

func TestConnErrNilWhileAlive(t *testing.T) {
	client, _ := pair(t, echoHandler)
	assert.NoError(t, client.Err())
}

func TestMalformedFrameDropsConnection(t *testing.T) {
	tests := []struct {
		name  string
		reply func(id uint64) string
	}{
		{"wrong wire version", func(id uint64) string { return fmt.Sprintf(`{"v":2,"id":%d,"kind":"response"}`, id) }},
		{"unknown kind", func(id uint64) string { return fmt.Sprintf(`{"v":1,"id":%d,"kind":"notify"}`, id) }},
		{"invalid json", func(uint64) string { return `{"v":1,` }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			client := NewConn(a, WithName("client"))
			t.Cleanup(func() {
				_ = client.Close()
				_ = b.Close()
			})

			// The peer answers the first request with a broken envelope.
			go func() {
				frame, err := ReadFrame(b, DefaultMaxFrameSize)
				if err != nil {
					return
				}
				req, err := DecodeMessage(frame)
				if err != nil {
					return
				}
				_ = WriteFrame(b, []byte(tt.reply(req.ID)))
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := client.Call(ctx, "echo", echoArgs{Value: "x"}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConnectionLost)
			assert.NotErrorIs(t, err, context.DeadlineExceeded)

			<-client.Done()
			assert.ErrorIs(t, client.Err(), ErrConnectionLost)
			assert.Contains(t, client.Err().Error(), "malformed frame")

			err = client.Call(context.Background(), "echo", nil, nil)
			assert.ErrorIs(t, err, ErrConnectionLost)
		})
	}
}
