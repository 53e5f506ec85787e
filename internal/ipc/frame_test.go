package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStream(t *testing.T) ([]byte, [][]byte) {
	t.Helper()
	payloads := [][]byte{
		[]byte(`{"v":1,"id":1}`),
		{},
		bytes.Repeat([]byte("x"), 300),
		[]byte("tail"),
	}
	var stream []byte
	for _, p := range payloads {
		stream = AppendFrame(stream, p)
	}
	return stream, payloads
}

func TestAppendFrameHeader(t *testing.T) {
	frame := AppendFrame(nil, []byte("abc"))
	assert.Equal(t, []byte{0, 0, 0, 3, 'a', 'b', 'c'}, frame)
}

func TestReassemblerWholeStream(t *testing.T) {
	stream, payloads := sampleStream(t)

	frames, err := NewReassembler(0).Feed(stream)
	require.NoError(t, err)
	assert.Equal(t, payloads, frames)
}

func TestReassemblerSplitAtEveryOffset(t *testing.T) {
	stream, payloads := sampleStream(t)

	for split := 0; split <= len(stream); split++ {
		t.Run(fmt.Sprintf("split=%d", split), func(t *testing.T) {
			r := NewReassembler(0)
			first, err := r.Feed(stream[:split])
			require.NoError(t, err)
			second, err := r.Feed(stream[split:])
			require.NoError(t, err)

			assert.Equal(t, payloads, append(first, second...))
			assert.Zero(t, r.Buffered())
		})
	}
}

func TestReassemblerByteAtATime(t *testing.T) {
	stream, payloads := sampleStream(t)

	r := NewReassembler(0)
	var got [][]byte
	for i := range stream {
		frames, err := r.Feed(stream[i : i+1])
		require.NoError(t, err)
		got = append(got, frames...)
	}
	assert.Equal(t, payloads, got)
}

func TestReassemblerFramesDoNotAliasBuffer(t *testing.T) {
	r := NewReassembler(0)
	frames, err := r.Feed(AppendFrame(nil, []byte("first")))
	require.NoError(t, err)
	_, err = r.Feed(AppendFrame(nil, []byte("other")))
	require.NoError(t, err)

	assert.Equal(t, "first", string(frames[0]))
}

func TestReassemblerTooLarge(t *testing.T) {
	r := NewReassembler(8)
	header := binary.BigEndian.AppendUint32(nil, 9)

	_, err := r.Feed(header)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame(t *testing.T) {
	stream, payloads := sampleStream(t)
	rd := bytes.NewReader(stream)

	for _, want := range payloads {
		got, err := ReadFrame(rd, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ReadFrame(rd, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	frame := AppendFrame(nil, []byte("hello"))
	_, err := ReadFrame(bytes.NewReader(frame[:6]), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameTooLarge(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(AppendFrame(nil, make([]byte, 16))), 8)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("ping")))
	assert.Equal(t, AppendFrame(nil, []byte("ping")), buf.Bytes())
}
