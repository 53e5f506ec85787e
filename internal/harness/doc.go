// Package harness runs scheduler scenarios described in YAML and checks the
// resulting resource transitions.
//
// # Scenario Format
//
//	name: failure_skips_dependents
//	description: "A failed resource skips everything that requires it"
//	max_concurrency: 2
//	steps:
//	  - deploy: |
//	      version: 1
//	      resources:
//	        "std::File[web01,path=/a]":
//	          attributes: { content: a }
//	        "std::File[web01,path=/b]":
//	          requires: ["std::File[web01,path=/a]"]
//	    outcomes:
//	      "std::File[web01,path=/a]": failed
//	    expect:
//	      "std::File[web01,path=/b]": skipped
//	  - repair: true
//	assertions:
//	  - type: transitions
//	    resource: "std::File[web01,path=/b]"
//	    statuses: [available, skipped, available, deploying, deployed]
//
// A deploy step compiles its inline model with the YAML compiler, so the
// !unknown tag works as it does in model files. Outcomes script the fake
// executor per resource: any executor outcome, or error, lost, no_code.
//
// # Assertion Types
//
//   - final_status: the resource's last status, and optionally its blocked flag
//   - transitions: the exact statuses a resource passed through
//   - deployed_before: one resource reached deployed before another started
//   - dispatch_count: how often the executor was asked to deploy a resource
//   - stored_status: the status persisted in the store
//
// # Deterministic Testing
//
// Global transition order depends on goroutine scheduling, but the
// transitions of each single resource do not. Traces are therefore compared
// per resource, which keeps golden files stable across runs.
package harness
