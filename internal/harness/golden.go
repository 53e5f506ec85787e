package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/rollout/internal/ir"
)

// Snapshot renders a result for golden comparison. Transitions are grouped
// per step and resource with seq dropped, because only the order within one
// resource is deterministic.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, sr := range result.Steps {
		resources := map[string]any{}
		for _, e := range result.Trace {
			if e.Step != i {
				continue
			}
			labels, _ := resources[e.Resource].([]any)
			resources[e.Resource] = append(labels, e.Label())
		}
		step := map[string]any{
			"kind":      sr.Kind,
			"version":   sr.Version,
			"resources": resources,
		}
		if sr.Summary != nil {
			step["summary"] = sr.Summary.String()
		}
		if sr.Err != "" {
			step["rejected"] = true
		}
		steps[i] = step
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"steps":         steps,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
