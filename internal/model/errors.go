package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph     = errors.New("invalid resource graph")
	ErrDanglingRequires = errors.New("dangling requires edge")
	ErrCycle            = errors.New("dependency cycle detected")
	ErrStaleVersion     = errors.New("version is not newer than the active version")
)

// GraphError reports a graph-level failure that makes a version unsuitable
// for scheduling. Kind is one of the sentinel errors above.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

// IsGraphError reports whether err is or wraps a *GraphError.
func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func danglingf(format string, args ...any) error {
	return &GraphError{Kind: ErrDanglingRequires, Msg: fmt.Sprintf(format, args...)}
}

// CycleError builds a GraphError describing a cycle. The path lists the
// resources on the cycle, with the first element repeated at the end.
func CycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycle, Msg: msg}
}
