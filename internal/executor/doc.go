// Package executor runs resource handlers in isolated child processes.
//
// The parent side is a Manager that keeps one Handle per
// (environment, blueprint). Each Handle owns a child process and the ipc.Conn
// to it. The child side is Serve, which answers init, deploy, dryrun, check
// and shutdown calls using a Registry of compiled-in handlers.
//
// A Handle whose connection is lost, or whose caller timed out, is marked
// down. The Manager never retries on its own; the next Get replaces it.
package executor
