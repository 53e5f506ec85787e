package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler serves one incoming request. The returned value is JSON-encoded
// into the response. Handlers run on their own goroutine and may block.
type Handler func(ctx context.Context, method string, args json.RawMessage) (any, error)

// Option configures a Conn.
type Option func(*Conn)

// WithHandler sets the handler for requests sent by the peer. A Conn without
// a handler answers every request with ErrUnknownMethod.
func WithHandler(h Handler) Option {
	return func(c *Conn) {
		c.handler = h
	}
}

// WithMaxFrameSize bounds incoming frames.
func WithMaxFrameSize(n int) Option {
	return func(c *Conn) {
		c.maxFrame = n
	}
}

// WithLogger sets the logger used for protocol-level diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = l
	}
}

// WithName labels the connection in log output.
func WithName(name string) Option {
	return func(c *Conn) {
		c.name = name
	}
}

// Conn is a multiplexed request/response connection over one byte stream.
//
// Thread-safety: Call may be used from any number of goroutines. A single
// read loop owns the read side; writes are serialized.
type Conn struct {
	rwc      io.ReadWriteCloser
	name     string
	handler  Handler
	maxFrame int
	logger   *slog.Logger

	wmu    sync.Mutex
	nextID atomic.Uint64

	pendMu  sync.Mutex
	pending map[uint64]chan *Message
	lost    bool

	closeOnce sync.Once
	done      chan struct{} // closed when the read loop exits
	cause     error

	// Context for in-flight handlers; cancelled when the connection dies.
	handlerCtx    context.Context
	cancelHandler context.CancelFunc
	handlers      sync.WaitGroup
}

// NewConn wraps rwc and starts the read loop.
func NewConn(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{
		rwc:      rwc,
		maxFrame: DefaultMaxFrameSize,
		logger:   slog.Default(),
		pending:  make(map[uint64]chan *Message),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handlerCtx, c.cancelHandler = context.WithCancel(context.Background())
	go c.readLoop()
	return c
}

// Call invokes method on the peer and decodes the response into result,
// which may be nil. It blocks until the response arrives, ctx is done, or
// the connection is lost.
func (c *Conn) Call(ctx context.Context, method string, args, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var rawArgs json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("encode %s args: %w", method, err)
		}
		rawArgs = data
	}

	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.pendMu.Lock()
	if c.lost {
		c.pendMu.Unlock()
		return fmt.Errorf("call %s: %w", method, ErrConnectionLost)
	}
	c.pending[id] = ch
	c.pendMu.Unlock()

	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := c.send(&Message{ID: id, Kind: KindRequest, Method: method, Args: rawArgs}); err != nil {
		c.shutdown(err)
		return fmt.Errorf("call %s: %w", method, ErrConnectionLost)
	}

	select {
	case msg := <-ch:
		return decodeResponse(method, msg, result)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		// A response delivered just before the loop exited still wins.
		select {
		case msg := <-ch:
			return decodeResponse(method, msg, result)
		default:
		}
		return fmt.Errorf("call %s: %w", method, ErrConnectionLost)
	}
}

func decodeResponse(method string, msg *Message, result any) error {
	if msg.Error != nil {
		return &RemoteCallError{Method: method, Type: msg.Error.Type, Message: msg.Error.Message}
	}
	if result == nil || len(msg.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Done is closed once the connection is lost or closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, or nil while it is alive.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.cause
	default:
		return nil
	}
}

// Close closes the underlying stream and waits for the read loop to exit.
// In-flight handlers are cancelled.
func (c *Conn) Close() error {
	err := c.rwc.Close()
	<-c.done
	c.handlers.Wait()
	return err
}

func (c *Conn) send(m *Message) error {
	payload, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	if len(payload) > c.maxFrame {
		return fmt.Errorf("%w: outgoing %d > %d", ErrFrameTooLarge, len(payload), c.maxFrame)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.rwc, payload)
}

// readLoop owns the read side. Chunks from the stream are reassembled into
// frames; responses resolve pending calls and requests are dispatched.
func (c *Conn) readLoop() {
	var cause error
	defer func() {
		c.shutdown(cause)
	}()

	r := NewReassembler(c.maxFrame)
	buf := make([]byte, 32*1024)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			frames, ferr := r.Feed(buf[:n])
			for _, frame := range frames {
				if herr := c.handleFrame(frame); herr != nil {
					cause = herr
					return
				}
			}
			if ferr != nil {
				cause = ferr
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.Buffered() > 0 {
				err = io.ErrUnexpectedEOF
			}
			cause = err
			return
		}
	}
}

// handleFrame dispatches one frame. A frame that does not decode means the
// peer no longer speaks the protocol, and the connection is given up.
func (c *Conn) handleFrame(frame []byte) error {
	msg, err := DecodeMessage(frame)
	if err != nil {
		c.logger.Warn("ipc: malformed frame, closing connection", "conn", c.name, "error", err)
		return fmt.Errorf("malformed frame: %w", err)
	}

	switch msg.Kind {
	case KindResponse:
		c.pendMu.Lock()
		ch, ok := c.pending[msg.ID]
		c.pendMu.Unlock()
		if !ok {
			c.logger.Debug("ipc: response for unknown call", "conn", c.name, "id", msg.ID)
			return nil
		}
		select {
		case ch <- msg:
		default:
			c.logger.Warn("ipc: duplicate response dropped", "conn", c.name, "id", msg.ID)
		}
	case KindRequest:
		c.handlers.Add(1)
		go c.serve(msg)
	}
	return nil
}

func (c *Conn) serve(req *Message) {
	defer c.handlers.Done()

	resp := &Message{ID: req.ID, Kind: KindResponse}

	var (
		result any
		err    error
	)
	if c.handler == nil {
		err = fmt.Errorf("%w: %s", ErrUnknownMethod, req.Method)
	} else {
		result, err = c.callHandler(req)
	}

	if err != nil {
		resp.Error = toWireError(err)
	} else if result != nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = toWireError(fmt.Errorf("encode %s result: %w", req.Method, merr))
		} else {
			resp.Result = data
		}
	}

	if err := c.send(resp); err != nil {
		c.logger.Debug("ipc: response not delivered", "conn", c.name, "method", req.Method, "error", err)
	}
}

// callHandler turns handler panics into remote errors so one bad method
// cannot take down the serving process.
func (c *Conn) callHandler(req *Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", req.Method, r)
		}
	}()
	return c.handler(c.handlerCtx, req.Method, req.Args)
}

// shutdown marks the connection lost exactly once.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		if cause == nil || errors.Is(cause, io.EOF) {
			cause = ErrConnectionLost
		} else {
			cause = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
		}
		c.pendMu.Lock()
		c.lost = true
		c.pendMu.Unlock()
		c.cause = cause
		c.cancelHandler()
		_ = c.rwc.Close()
		close(c.done)
	})
}
