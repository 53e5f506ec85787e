package scheduler

import (
	"github.com/roach88/rollout/internal/executor"
)

// Status is the deploy status of a resource within one version.
type Status string

const (
	StatusAvailable           Status = "available"
	StatusDeploying           Status = "deploying"
	StatusDeployed            Status = "deployed"
	StatusFailed              Status = "failed"
	StatusSkipped             Status = "skipped"
	StatusCancelled           Status = "cancelled"
	StatusUndefined           Status = "undefined"
	StatusSkippedForUndefined Status = "skipped_for_undefined"
	StatusProcessingEvents    Status = "processing_events"
	StatusNonCompliant        Status = "non_compliant"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusAvailable,
	StatusDeploying,
	StatusProcessingEvents,
	StatusDeployed,
	StatusNonCompliant,
	StatusFailed,
	StatusSkipped,
	StatusCancelled,
	StatusUndefined,
	StatusSkippedForUndefined,
}

// Terminal reports whether s ends the resource's work for the version.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeployed, StatusFailed, StatusSkipped, StatusCancelled,
		StatusUndefined, StatusSkippedForUndefined, StatusNonCompliant:
		return true
	}
	return false
}

// Blocked is orthogonal to Status: a blocked resource has a requirement that
// cannot be satisfied in this version.
type Blocked string

const (
	BlockedYes Blocked = "blocked"
	BlockedNo  Blocked = "not_blocked"
)

// ResourceState is everything the scheduler tracks for one resource.
type ResourceState struct {
	Status     Status              `json:"status"`
	Blocked    Blocked             `json:"blocked"`
	Compliance executor.Compliance `json:"compliance"`
	Error      string              `json:"error,omitempty"`
	// Seq orders transitions within an environment.
	Seq int64 `json:"seq"`
}

// transitions lists the allowed targets per status. Any status may also
// move to undefined or skipped_for_undefined, and any terminal status may
// re-enter available for a new pass. An available resource stays available
// when a new pass picks it up.
var transitions = map[Status][]Status{
	StatusAvailable: {
		StatusAvailable,
		StatusDeploying,
		StatusSkipped,
		StatusCancelled,
	},
	StatusDeploying: {
		StatusDeployed,
		StatusFailed,
		StatusSkipped,
		StatusCancelled,
		StatusNonCompliant,
		StatusProcessingEvents,
	},
	StatusProcessingEvents: {
		StatusDeployed,
		StatusFailed,
		StatusCancelled,
	},
}

// Transition validates a status change.
func Transition(from, to Status) error {
	if to == StatusUndefined || to == StatusSkippedForUndefined {
		if from == to {
			return &TransitionError{From: from, To: to}
		}
		return nil
	}
	if from.Terminal() {
		if to == StatusAvailable {
			return nil
		}
		return &TransitionError{From: from, To: to}
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// propagatesSkip reports whether dependents of a resource in status s
// cannot deploy in this pass.
func propagatesSkip(s Status) bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusSkipped
}

// propagatesUndefined reports whether dependents of a resource in status s
// are skipped for undefined values.
func propagatesUndefined(s Status) bool {
	return s == StatusUndefined || s == StatusSkippedForUndefined
}

func complianceFor(s Status) executor.Compliance {
	switch s {
	case StatusDeployed:
		return executor.Compliant
	case StatusNonCompliant:
		return executor.NonCompliant
	}
	return executor.Unknown
}
