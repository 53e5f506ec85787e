package executor

import (
	"github.com/roach88/rollout/internal/code"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/model"
)

// Methods served by an executor.
const (
	MethodInit     = "init"
	MethodDeploy   = "deploy"
	MethodDryRun   = "dryrun"
	MethodCheck    = "check"
	MethodShutdown = "shutdown"
)

// Outcome is the status a handler reports for a deploy.
type Outcome string

const (
	OutcomeDeployed         Outcome = "deployed"
	OutcomeFailed           Outcome = "failed"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeNonCompliant     Outcome = "non_compliant"
	OutcomeProcessingEvents Outcome = "processing_events"
)

// Compliance is the result of comparing desired and observed state.
type Compliance string

const (
	Compliant    Compliance = "compliant"
	NonCompliant Compliance = "non_compliant"
	Unknown      Compliance = "unknown"
)

// InitArgs is sent once after spawn.
type InitArgs struct {
	Environment string         `json:"environment"`
	Blueprint   code.Blueprint `json:"blueprint"`
}

// InitResult reports which resource types the child could load.
type InitResult struct {
	Runtime string   `json:"runtime"`
	Loaded  []string `json:"loaded"`
	Failed  []string `json:"failed,omitempty"`
}

// ResourceArgs carries one resource to a handler.
type ResourceArgs struct {
	ID         model.ResourceVersionID `json:"id"`
	Attributes ir.IRObject             `json:"attributes"`
}

// DeployResult is the reply to deploy.
type DeployResult struct {
	Outcome Outcome     `json:"outcome"`
	Changes ir.IRObject `json:"changes,omitempty"`
	Message string      `json:"message,omitempty"`
}

// DryRunResult is the reply to dryrun.
type DryRunResult struct {
	Changes ir.IRObject `json:"changes,omitempty"`
}

// CheckResult is the reply to check.
type CheckResult struct {
	Compliance Compliance  `json:"compliance"`
	Changes    ir.IRObject `json:"changes,omitempty"`
}

// Reserved attributes interpreted by the worker rather than by handlers.
const (
	AttrPurged    = "purged"
	AttrSendEvent = "send_event"
	AttrCheckOnly = "check_only"
)
