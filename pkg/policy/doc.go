// Package policy evaluates Open Policy Agent (OPA) guardrails over apply
// plans.
//
// The Engine implements engine.PolicyChecker. Before a cycle executes, the
// orchestrator hands it the classified plan; the engine evaluates every
// enabled Rego policy with the plan as input and returns the findings.
// Error findings stop the cycle before any command runs; warning findings
// are attached to the cycle result.
//
// # Writing policies
//
// A policy is a Rego v1 module. Its package document may contain a "deny"
// set (error severity) and a "warn" set (warning severity). Set members are
// either strings or objects:
//
//	package site.uplink
//
//	deny contains finding if {
//	    some step in input.steps
//	    step.entity == "interface"
//	    step.key == "wan"
//	    finding := {"message": "uplink is frozen", "operation": step.id}
//	}
//
// Each element of input.steps carries step, id, entity, key, action
// ("add", "remove" or "modify"), mode ("live" or "restart_required"),
// reason, fields (changed JSON paths of a modify) and the old and new
// entity values. input.summary counts total, live and restart steps.
//
// # Built-in Policies
//
//   - default-route-removal: a default route is removed or changes next hop
//   - restart-required: a step only takes effect after a restart
//   - bgp-peer-removal: a BGP neighbor is removed
//
// Built-in policies only warn. Site policies are loaded from .rego files
// (named after the file, described by leading comments) and .json files
// with name, description, rego and enabled keys:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/persistent/config/policies"}); err != nil {
//	    return err
//	}
//	if err := eng.Watch(ctx, []string{"/persistent/config/policies"}); err != nil {
//	    return err
//	}
package policy
