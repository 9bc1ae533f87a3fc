// Package config defines the declarative router configuration and its
// persistence.
//
// A RouterConfig is the complete desired state of the appliance: physical
// interfaces and their VLAN sub-interfaces, loopbacks, bridge domains with
// BVIs, static routes, BGP/OSPF/OSPFv3, VLAN passthrough cross-connects and
// module instances. It is stored as JSON at DefaultConfigPath.
//
// # Loading
//
// Load and Parse check the raw document against an embedded CUE schema
// before decoding, so misspelled or mistyped fields are rejected with their
// path rather than silently dropped:
//
//	cfg, err := config.Load(config.DefaultConfigPath)
//	if err != nil {
//		return err
//	}
//
// # Validation
//
// Validate runs struct-tag constraints (go-playground/validator) and the
// cross-entity invariants: unique identifiers, VLAN ranges, at least one
// address on every addressable entity and references between entities.
// All violations are reported together in a *ValidationError.
//
// # Persistence
//
// Save writes atomically through a temp file and rename. Watcher observes a
// configuration file and hands each new parsed version to a callback.
package config
