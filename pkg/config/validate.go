package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Violation is a single constraint failure in a configuration.
type Violation struct {
	// Field is the dotted path to the offending value.
	Field string `json:"field"`

	// Message describes the failure.
	Message string `json:"message"`
}

// ValidationError aggregates every violation found in a configuration.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Violations[0].Field, e.Violations[0].Message)
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("invalid configuration (%d violations): %s", len(e.Violations), strings.Join(parts, "; "))
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

var validate = validator.New()

// Validate checks cfg against field constraints and cross-entity invariants.
// It returns a *ValidationError listing every violation, or nil.
func Validate(cfg *RouterConfig) error {
	verr := &ValidationError{}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(strings.TrimPrefix(fe.Namespace(), "RouterConfig."), "failed %q constraint (value %v)", fe.Tag(), fe.Value())
		}
	}

	validateManagement(cfg, verr)
	ifaces := validateInterfaces(cfg, verr)
	validateLoopbacks(cfg, verr)
	validateBVIs(cfg, ifaces, verr)
	validateRoutes(cfg, ifaces, verr)
	validateProtocols(cfg, verr)
	validatePassthrough(cfg, ifaces, verr)
	validateModules(cfg, verr)

	if len(verr.Violations) > 0 {
		return verr
	}
	return nil
}

func validateManagement(cfg *RouterConfig, verr *ValidationError) {
	if cfg.Management.Mode == "static" && cfg.Management.IPv4 == "" {
		verr.add("management.ipv4", "static management requires an address")
	}
}

func validateInterfaces(cfg *RouterConfig, verr *ValidationError) map[string]*Interface {
	ifaces := make(map[string]*Interface, len(cfg.Interfaces))
	for i := range cfg.Interfaces {
		iface := &cfg.Interfaces[i]
		field := fmt.Sprintf("interfaces[%s]", iface.Name)
		if _, dup := ifaces[iface.Name]; dup {
			verr.add(field, "duplicate interface name")
		}
		ifaces[iface.Name] = iface

		checkFamily(field+".ipv4", iface.IPv4, false, verr)
		checkFamily(field+".ipv6", iface.IPv6, true, verr)

		vlans := make(map[int]bool, len(iface.SubInterfaces))
		for _, sub := range iface.SubInterfaces {
			subField := fmt.Sprintf("%s.subinterfaces[%d]", field, sub.VLANID)
			if sub.VLANID < 1 || sub.VLANID > 4094 {
				verr.add(subField, "vlan id out of range [1,4094]")
			}
			if vlans[sub.VLANID] {
				verr.add(subField, "duplicate vlan id")
			}
			vlans[sub.VLANID] = true
			if sub.IPv4 == "" && sub.IPv6 == "" {
				verr.add(subField, "at least one of ipv4 or ipv6 is required")
			}
			checkPrefix(subField, sub.IPv4, sub.IPv4Prefix, sub.IPv6, sub.IPv6Prefix, verr)
		}
	}
	return ifaces
}

func validateLoopbacks(cfg *RouterConfig, verr *ValidationError) {
	seen := make(map[int]bool, len(cfg.Loopbacks))
	for _, lo := range cfg.Loopbacks {
		field := fmt.Sprintf("loopbacks[%d]", lo.Instance)
		if seen[lo.Instance] {
			verr.add(field, "duplicate loopback instance")
		}
		seen[lo.Instance] = true
		if lo.IPv4 == "" && lo.IPv6 == "" {
			verr.add(field, "at least one of ipv4 or ipv6 is required")
		}
		checkPrefix(field, lo.IPv4, lo.IPv4Prefix, lo.IPv6, lo.IPv6Prefix, verr)
	}
	// BVIs share the loopback instance space.
	for _, bvi := range cfg.BVIDomains {
		if seen[bvi.BridgeID] {
			verr.add(fmt.Sprintf("bvi_domains[%d]", bvi.BridgeID), "bridge id collides with loopback instance")
		}
	}
}

func validateBVIs(cfg *RouterConfig, ifaces map[string]*Interface, verr *ValidationError) {
	seen := make(map[int]bool, len(cfg.BVIDomains))
	for _, bvi := range cfg.BVIDomains {
		field := fmt.Sprintf("bvi_domains[%d]", bvi.BridgeID)
		if seen[bvi.BridgeID] {
			verr.add(field, "duplicate bridge id")
		}
		seen[bvi.BridgeID] = true
		if bvi.IPv4 == "" && bvi.IPv6 == "" {
			verr.add(field, "at least one of ipv4 or ipv6 is required")
		}
		checkPrefix(field, bvi.IPv4, bvi.IPv4Prefix, bvi.IPv6, bvi.IPv6Prefix, verr)

		members := make(map[string]bool, len(bvi.Members))
		for _, m := range bvi.Members {
			mField := fmt.Sprintf("%s.members[%s]", field, m.VPPName())
			if _, ok := ifaces[m.Interface]; !ok {
				verr.add(mField, "references unknown interface %q", m.Interface)
			}
			if m.VLANID != nil && (*m.VLANID < 1 || *m.VLANID > 4094) {
				verr.add(mField, "vlan id out of range [1,4094]")
			}
			if members[m.VPPName()] {
				verr.add(mField, "duplicate bridge member")
			}
			members[m.VPPName()] = true
		}
	}
}

func validateRoutes(cfg *RouterConfig, ifaces map[string]*Interface, verr *ValidationError) {
	seen := make(map[string]bool, len(cfg.Routes))
	for _, r := range cfg.Routes {
		field := fmt.Sprintf("routes[%s]", r.Destination)
		if seen[r.Destination] {
			verr.add(field, "duplicate route destination")
		}
		seen[r.Destination] = true

		dst, err := netip.ParsePrefix(r.Destination)
		if err != nil {
			verr.add(field, "invalid destination: %v", err)
			continue
		}
		via, err := netip.ParseAddr(r.Via)
		if err != nil {
			verr.add(field+".via", "invalid next hop: %v", err)
			continue
		}
		if dst.Addr().Is4() != via.Is4() {
			verr.add(field+".via", "next hop family does not match destination")
		}
		if r.Interface != "" && !interfaceExists(cfg, ifaces, r.Interface) {
			verr.add(field+".interface", "references unknown interface %q", r.Interface)
		}
	}
}

func validateProtocols(cfg *RouterConfig, verr *ValidationError) {
	if cfg.BGP.Enabled {
		if cfg.BGP.ASN == 0 {
			verr.add("bgp.asn", "required when bgp is enabled")
		}
		if cfg.BGP.RouterID == "" {
			verr.add("bgp.router_id", "required when bgp is enabled")
		}
	}
	peers := make(map[string]bool, len(cfg.BGP.Peers))
	for _, p := range cfg.BGP.Peers {
		if peers[p.PeerIP] {
			verr.add(fmt.Sprintf("bgp.peers[%s]", p.PeerIP), "duplicate peer address")
		}
		peers[p.PeerIP] = true
	}
	if cfg.OSPF.Enabled && cfg.OSPFRouterID() == "" {
		verr.add("ospf.router_id", "required when ospf is enabled and bgp has no router id")
	}
	if cfg.OSPF6.Enabled && cfg.OSPF6RouterID() == "" {
		verr.add("ospf6.router_id", "required when ospf6 is enabled and no fallback router id is set")
	}
}

func validatePassthrough(cfg *RouterConfig, ifaces map[string]*Interface, verr *ValidationError) {
	seen := make(map[int]bool, len(cfg.VLANPassthrough))
	for _, vp := range cfg.VLANPassthrough {
		field := fmt.Sprintf("vlan_passthrough[%d]", vp.VLANID)
		if seen[vp.VLANID] {
			verr.add(field, "duplicate vlan id")
		}
		seen[vp.VLANID] = true
		if vp.VLANID < 1 || vp.VLANID > 4094 {
			verr.add(field, "vlan id out of range [1,4094]")
		}
		if vp.InnerVLAN != nil && (*vp.InnerVLAN < 1 || *vp.InnerVLAN > 4094) {
			verr.add(field+".inner_vlan", "vlan id out of range [1,4094]")
		}
		if _, ok := ifaces[vp.FromInterface]; !ok {
			verr.add(field+".from_interface", "references unknown interface %q", vp.FromInterface)
		}
		if _, ok := ifaces[vp.ToInterface]; !ok {
			verr.add(field+".to_interface", "references unknown interface %q", vp.ToInterface)
		}
		if vp.FromInterface == vp.ToInterface {
			verr.add(field, "from and to interfaces must differ")
		}
	}
}

func validateModules(cfg *RouterConfig, verr *ValidationError) {
	seen := make(map[string]bool, len(cfg.Modules))
	for _, m := range cfg.Modules {
		if seen[m.Name] {
			verr.add(fmt.Sprintf("modules[%s]", m.Name), "duplicate module name")
		}
		seen[m.Name] = true
	}
}

// interfaceExists resolves physical, sub-interface, loopback and BVI names.
func interfaceExists(cfg *RouterConfig, ifaces map[string]*Interface, name string) bool {
	if _, ok := ifaces[name]; ok {
		return true
	}
	for _, iface := range cfg.Interfaces {
		for _, sub := range iface.SubInterfaces {
			if sub.VPPName(iface.Name) == name {
				return true
			}
		}
	}
	for _, lo := range cfg.Loopbacks {
		if lo.VPPName() == name {
			return true
		}
	}
	for _, bvi := range cfg.BVIDomains {
		if bvi.VPPName() == name {
			return true
		}
	}
	return false
}

func checkFamily(field string, addrs []Address, v6 bool, verr *ValidationError) {
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a.Address)
		if err != nil {
			continue // reported by struct validation
		}
		if ip.Is6() != v6 {
			verr.add(field, "address %s has the wrong family", a.Address)
			continue
		}
		if (v6 && a.Prefix > 128) || (!v6 && a.Prefix > 32) {
			verr.add(field, "prefix /%d out of range for %s", a.Prefix, a.Address)
		}
	}
}

func checkPrefix(field, v4 string, v4Prefix int, v6 string, v6Prefix int, verr *ValidationError) {
	if v4 != "" && v4Prefix == 0 {
		verr.add(field+".ipv4_prefix", "required with ipv4")
	}
	if v6 != "" && v6Prefix == 0 {
		verr.add(field+".ipv6_prefix", "required with ipv6")
	}
}
