// Package ipc implements the scheduler-to-executor wire protocol.
//
// Every frame is a 4-byte unsigned big-endian length followed by exactly that
// many payload bytes. There is no magic number and no compression. The
// payload is a versioned JSON Message envelope.
//
// A Conn multiplexes many concurrent calls over one local socket. Callers
// correlate responses by id. Two failure modes are kept distinct:
//
//   - *RemoteCallError: the peer ran the method and it returned an error.
//   - ErrConnectionLost: the socket died. Every pending call and every later
//     call on that Conn fails with it.
//
// The package imposes no timeouts of its own; callers bound calls with a
// context.
package ipc
