package policy

// BuiltinPolicies returns the guardrails shipped with imp. All of them only
// warn; sites add blocking rules with their own deny policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		defaultRouteRemovalPolicy(),
		restartRequiredPolicy(),
		bgpPeerRemovalPolicy(),
	}
}

// defaultRouteRemovalPolicy warns when a default route goes away.
func defaultRouteRemovalPolicy() Policy {
	return Policy{
		Name:        "default-route-removal",
		Description: "Warns when a plan removes an IPv4 or IPv6 default route",
		Enabled:     true,
		Builtin:     true,
		Rego: `package imp.guardrails.default_route

default_destinations := {"0.0.0.0/0", "::/0"}

warn contains finding if {
	some step in input.steps
	step.entity == "route"
	step.action == "remove"
	step.old.destination in default_destinations
	finding := {
		"message": sprintf("default route %s via %s is removed", [step.old.destination, step.old.via]),
		"operation": step.id,
	}
}

warn contains finding if {
	some step in input.steps
	step.entity == "route"
	step.action == "modify"
	step.old.destination in default_destinations
	"via" in step.fields
	finding := {
		"message": sprintf("default route %s moves from %s to %s", [step.old.destination, step.old.via, step.new.via]),
		"operation": step.id,
	}
}
`,
	}
}

// restartRequiredPolicy reports every change that needs a restart.
func restartRequiredPolicy() Policy {
	return Policy{
		Name:        "restart-required",
		Description: "Reports changes that only take effect after a dataplane restart",
		Enabled:     true,
		Builtin:     true,
		Rego: `package imp.guardrails.restart

warn contains finding if {
	some step in input.steps
	step.mode == "restart_required"
	finding := {
		"message": sprintf("%s %s %s takes effect after a restart: %s", [step.action, step.entity, step.key, step.reason]),
		"operation": step.id,
	}
}
`,
	}
}

// bgpPeerRemovalPolicy warns when BGP sessions are torn down.
func bgpPeerRemovalPolicy() Policy {
	return Policy{
		Name:        "bgp-peer-removal",
		Description: "Warns when a plan removes BGP neighbors",
		Enabled:     true,
		Builtin:     true,
		Rego: `package imp.guardrails.bgp

warn contains finding if {
	some step in input.steps
	step.entity == "bgp_peer"
	step.action == "remove"
	finding := {
		"message": sprintf("BGP session with %s (AS%d) is shut down", [step.key, step.old.peer_asn]),
		"operation": step.id,
	}
}
`,
	}
}
