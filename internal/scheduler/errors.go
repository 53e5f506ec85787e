package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/ipc"
)

// ErrorCode categorizes why a resource did not deploy.
type ErrorCode string

const (
	// ErrCodeSuperseded: a newer version or a cancelled context ended the pass.
	ErrCodeSuperseded ErrorCode = "SUPERSEDED"

	// ErrCodeCallTimeout: the executor call exceeded CallTimeout.
	ErrCodeCallTimeout ErrorCode = "CALL_TIMEOUT"

	// ErrCodeExecutorLost: the executor process died or its socket closed.
	ErrCodeExecutorLost ErrorCode = "EXECUTOR_LOST"

	// ErrCodeHandlerFailed: handler code raised an error.
	ErrCodeHandlerFailed ErrorCode = "HANDLER_FAILED"

	// ErrCodeCodeUnavailable: no handler code could be loaded for the type.
	ErrCodeCodeUnavailable ErrorCode = "CODE_UNAVAILABLE"

	// ErrCodeDependency: a requirement failed, was cancelled or was skipped.
	ErrCodeDependency ErrorCode = "DEPENDENCY_FAILED"

	// ErrCodeUnknownValues: the resource or a requirement has unresolved values.
	ErrCodeUnknownValues ErrorCode = "UNKNOWN_VALUES"

	// ErrCodeDispatch: any other failure while dispatching.
	ErrCodeDispatch ErrorCode = "DISPATCH_FAILED"
)

// ResourceError is the per-resource failure recorded in ResourceState.
type ResourceError struct {
	Code     ErrorCode
	Resource string
	Message  string
	Cause    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s (resource=%s)", e.Code, e.Message, e.Resource)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

// IsExecutorLost reports whether err is an executor loss, including a
// caller timeout, which is treated the same way for that one call.
func IsExecutorLost(err error) bool {
	var re *ResourceError
	if errors.As(err, &re) {
		return re.Code == ErrCodeExecutorLost || re.Code == ErrCodeCallTimeout
	}
	return errors.Is(err, ipc.ErrConnectionLost)
}

// classify maps a dispatch error onto a ResourceError.
func classify(resource string, err error) *ResourceError {
	re := &ResourceError{Resource: resource, Message: err.Error(), Cause: err}

	var (
		rce *ipc.RemoteCallError
		ce  *executor.CodeError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		re.Code = ErrCodeCallTimeout
	case errors.Is(err, context.Canceled):
		re.Code = ErrCodeSuperseded
	case errors.Is(err, ipc.ErrConnectionLost):
		re.Code = ErrCodeExecutorLost
	case errors.As(err, &ce):
		re.Code = ErrCodeCodeUnavailable
	case errors.As(err, &rce):
		re.Code = ErrCodeHandlerFailed
		re.Message = rce.Type + ": " + rce.Message
	default:
		re.Code = ErrCodeDispatch
	}
	return re
}

// TransitionError reports a resource status change the state machine forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid resource transition %s -> %s", e.From, e.To)
}
