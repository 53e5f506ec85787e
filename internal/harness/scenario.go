package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one scheduler scenario: a sequence of deploy and repair
// steps run against a fresh scheduler, then assertions over the result.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Environment defaults to "test".
	Environment string `yaml:"environment,omitempty"`

	// MaxConcurrency defaults to 1.
	MaxConcurrency int `yaml:"max_concurrency,omitempty"`

	// PropagateSkip defaults to true.
	PropagateSkip *bool `yaml:"propagate_skip,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scheduler operation.
type Step struct {
	// Deploy is an inline YAML model to compile and deploy.
	Deploy string `yaml:"deploy,omitempty"`

	// Repair redeploys the active version.
	Repair bool `yaml:"repair,omitempty"`

	// Outcomes scripts the executor per resource id for this step.
	Outcomes map[string]string `yaml:"outcomes,omitempty"`

	// Expect maps resource ids to the status they must hold after the step.
	Expect map[string]string `yaml:"expect,omitempty"`

	// ExpectError, when set, requires the step to fail with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Kind names the step operation.
func (s Step) Kind() string {
	if s.Repair {
		return "repair"
	}
	return "deploy"
}

// Assertion validates the outcome of the whole scenario.
type Assertion struct {
	Type string `yaml:"type"`

	// Resource is the subject of final_status, transitions, dispatch_count
	// and stored_status.
	Resource string `yaml:"resource,omitempty"`

	// Status is the expected status (final_status, stored_status).
	Status string `yaml:"status,omitempty"`

	// Blocked optionally checks the blocked flag (final_status).
	Blocked *bool `yaml:"blocked,omitempty"`

	// Statuses is the expected transition list (transitions).
	Statuses []string `yaml:"statuses,omitempty"`

	// Before and After name the resources of deployed_before.
	Before string `yaml:"before,omitempty"`
	After  string `yaml:"after,omitempty"`

	// Count is the expected number of deploy calls (dispatch_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalStatus    = "final_status"
	AssertTransitions    = "transitions"
	AssertDeployedBefore = "deployed_before"
	AssertDispatchCount  = "dispatch_count"
	AssertStoredStatus   = "stored_status"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	applyDefaults(&scenario)
	return &scenario, nil
}

func applyDefaults(s *Scenario) {
	if s.Environment == "" {
		s.Environment = "test"
	}
	if s.MaxConcurrency == 0 {
		s.MaxConcurrency = 1
	}
	if s.PropagateSkip == nil {
		enabled := true
		s.PropagateSkip = &enabled
	}
}

// validateScenario checks required fields and assertion shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps: at least one step is required")
	}
	if s.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be >= 0")
	}
	for i, step := range s.Steps {
		if (step.Deploy == "") == !step.Repair {
			return fmt.Errorf("steps[%d]: exactly one of deploy or repair is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFinalStatus, AssertStoredStatus:
		if a.Resource == "" || a.Status == "" {
			return fmt.Errorf("%s requires resource and status", a.Type)
		}
	case AssertTransitions:
		if a.Resource == "" || len(a.Statuses) == 0 {
			return fmt.Errorf("%s requires resource and statuses", a.Type)
		}
	case AssertDeployedBefore:
		if a.Before == "" || a.After == "" {
			return fmt.Errorf("%s requires before and after", a.Type)
		}
	case AssertDispatchCount:
		if a.Resource == "" {
			return fmt.Errorf("%s requires resource", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
