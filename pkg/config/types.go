package config

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

// Default file locations on the appliance.
const (
	DefaultConfigPath  = "/persistent/config/router.json"
	DefaultModulesDir  = "/persistent/config/modules"
	DefaultHostname    = "appliance"
	DefaultMTU         = 1500
	DefaultRAMaxPeriod = 30
	DefaultRAMinPeriod = 15
)

// RouterConfig is the declarative description of the whole router.
// A loaded RouterConfig is treated as an immutable snapshot; mutate a Clone.
type RouterConfig struct {
	// Hostname is the appliance hostname.
	Hostname string `json:"hostname" validate:"required,hostname_rfc1123"`

	// Management describes the out-of-band management port (owned by the host OS).
	Management Management `json:"management"`

	// Interfaces are the physical dataplane interfaces.
	Interfaces []Interface `json:"interfaces" validate:"dive"`

	// Routes are static routes installed in the dataplane FIB.
	Routes []Route `json:"routes" validate:"dive"`

	// BGP is the control-plane BGP instance.
	BGP BGPConfig `json:"bgp"`

	// OSPF is the OSPFv2 instance.
	OSPF OSPFConfig `json:"ospf"`

	// OSPF6 is the OSPFv3 instance.
	OSPF6 OSPFConfig `json:"ospf6"`

	// VLANPassthrough are L2 cross-connects carrying a tag between two interfaces.
	VLANPassthrough []VLANPassthrough `json:"vlan_passthrough" validate:"dive"`

	// Loopbacks are dataplane loopback interfaces.
	Loopbacks []LoopbackInterface `json:"loopbacks" validate:"dive"`

	// BVIDomains are bridge domains with an addressable BVI loopback.
	BVIDomains []BVIConfig `json:"bvi_domains" validate:"dive"`

	// Modules are the module instances attached to the core dataplane.
	Modules []ModuleInstance `json:"modules" validate:"dive"`
}

// Management is the management port configuration.
type Management struct {
	Iface       string `json:"iface"`
	Mode        string `json:"mode" validate:"omitempty,oneof=dhcp static"`
	IPv4        string `json:"ipv4,omitempty" validate:"omitempty,ipv4"`
	IPv4Prefix  int    `json:"ipv4_prefix,omitempty" validate:"omitempty,min=1,max=32"`
	IPv4Gateway string `json:"ipv4_gateway,omitempty" validate:"omitempty,ipv4"`
}

// Address is an address/prefix pair assigned to an interface.
type Address struct {
	Address string `json:"address" validate:"required,ip"`
	Prefix  int    `json:"prefix" validate:"min=0,max=128"`
}

// CIDR returns the address in a/p notation.
func (a Address) CIDR() string {
	return fmt.Sprintf("%s/%d", a.Address, a.Prefix)
}

// AreaSettings holds the per-interface OSPF and OSPFv3 membership.
// A nil area means the interface does not participate.
type AreaSettings struct {
	OSPFArea     *int `json:"ospf_area,omitempty" validate:"omitempty,min=0"`
	OSPFPassive  bool `json:"ospf_passive,omitempty"`
	OSPF6Area    *int `json:"ospf6_area,omitempty" validate:"omitempty,min=0"`
	OSPF6Passive bool `json:"ospf6_passive,omitempty"`
}

// RASettings holds IPv6 router advertisement options.
type RASettings struct {
	RAEnabled     bool     `json:"ipv6_ra_enabled"`
	RAIntervalMax int      `json:"ipv6_ra_interval_max" validate:"omitempty,min=4,max=1800"`
	RAIntervalMin int      `json:"ipv6_ra_interval_min" validate:"omitempty,min=3,max=1350"`
	RASuppress    bool     `json:"ipv6_ra_suppress,omitempty"`
	RAPrefixes    []string `json:"ipv6_ra_prefixes,omitempty" validate:"dive,cidrv6"`
}

func defaultRA() RASettings {
	return RASettings{
		RAEnabled:     true,
		RAIntervalMax: DefaultRAMaxPeriod,
		RAIntervalMin: DefaultRAMinPeriod,
	}
}

// Interface is a physical dataplane interface bound to a PCI device.
type Interface struct {
	// Name is the dataplane interface name and the identity key.
	Name string `json:"name" validate:"required"`

	// Iface is the host interface name the device was discovered as.
	Iface string `json:"iface"`

	// PCI is the PCI address the dataplane binds at startup.
	PCI string `json:"pci"`

	IPv4          []Address      `json:"ipv4" validate:"dive"`
	IPv6          []Address      `json:"ipv6" validate:"dive"`
	MTU           int            `json:"mtu" validate:"omitempty,min=576,max=9216"`
	SubInterfaces []SubInterface `json:"subinterfaces" validate:"dive"`

	AreaSettings
	RASettings
}

// UnmarshalJSON applies defaults for fields absent from the document.
func (i *Interface) UnmarshalJSON(data []byte) error {
	type plain Interface
	p := plain{MTU: DefaultMTU, RASettings: defaultRA()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*i = Interface(p)
	return nil
}

// SubInterface is a VLAN-tagged interface on a physical parent.
type SubInterface struct {
	VLANID     int    `json:"vlan_id" validate:"min=1,max=4094"`
	IPv4       string `json:"ipv4,omitempty" validate:"omitempty,ipv4"`
	IPv4Prefix int    `json:"ipv4_prefix,omitempty" validate:"omitempty,min=1,max=32"`
	IPv6       string `json:"ipv6,omitempty" validate:"omitempty,ipv6"`
	IPv6Prefix int    `json:"ipv6_prefix,omitempty" validate:"omitempty,min=1,max=128"`
	CreateLCP  bool   `json:"create_lcp"`

	AreaSettings
	RASettings
}

// UnmarshalJSON applies defaults for fields absent from the document.
func (s *SubInterface) UnmarshalJSON(data []byte) error {
	type plain SubInterface
	p := plain{CreateLCP: true, RASettings: defaultRA()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = SubInterface(p)
	return nil
}

// VPPName returns the dataplane name of the sub-interface on parent.
func (s SubInterface) VPPName(parent string) string {
	return fmt.Sprintf("%s.%d", parent, s.VLANID)
}

// LCPName returns the host-side tap name of the sub-interface on parent.
func (s SubInterface) LCPName(parent string) string {
	prefix := parent
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("%s-v%d", prefix, s.VLANID)
}

// LoopbackInterface is a dataplane loopback.
type LoopbackInterface struct {
	Instance   int    `json:"instance" validate:"min=0,max=16383"`
	Name       string `json:"name"`
	IPv4       string `json:"ipv4,omitempty" validate:"omitempty,ipv4"`
	IPv4Prefix int    `json:"ipv4_prefix,omitempty" validate:"omitempty,min=1,max=32"`
	IPv6       string `json:"ipv6,omitempty" validate:"omitempty,ipv6"`
	IPv6Prefix int    `json:"ipv6_prefix,omitempty" validate:"omitempty,min=1,max=128"`
	CreateLCP  bool   `json:"create_lcp"`

	AreaSettings
	RASettings
}

// UnmarshalJSON applies defaults for fields absent from the document.
func (l *LoopbackInterface) UnmarshalJSON(data []byte) error {
	type plain LoopbackInterface
	p := plain{CreateLCP: true, RASettings: defaultRA()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = LoopbackInterface(p)
	return nil
}

// VPPName returns the dataplane interface name.
func (l LoopbackInterface) VPPName() string { return fmt.Sprintf("loop%d", l.Instance) }

// LCPName returns the host-side tap name.
func (l LoopbackInterface) LCPName() string { return fmt.Sprintf("lo%d", l.Instance) }

// BridgeDomainMember is an interface, optionally tagged, joined to a bridge.
type BridgeDomainMember struct {
	Interface string `json:"interface" validate:"required"`
	VLANID    *int   `json:"vlan_id,omitempty" validate:"omitempty,min=1,max=4094"`
}

// VPPName returns the dataplane name of the bridge port.
func (m BridgeDomainMember) VPPName() string {
	if m.VLANID != nil {
		return fmt.Sprintf("%s.%d", m.Interface, *m.VLANID)
	}
	return m.Interface
}

// BVIConfig is a bridge domain with a BVI loopback sharing its id.
type BVIConfig struct {
	BridgeID   int                  `json:"bridge_id" validate:"min=1,max=16383"`
	Name       string               `json:"name"`
	Members    []BridgeDomainMember `json:"members" validate:"dive"`
	IPv4       string               `json:"ipv4,omitempty" validate:"omitempty,ipv4"`
	IPv4Prefix int                  `json:"ipv4_prefix,omitempty" validate:"omitempty,min=1,max=32"`
	IPv6       string               `json:"ipv6,omitempty" validate:"omitempty,ipv6"`
	IPv6Prefix int                  `json:"ipv6_prefix,omitempty" validate:"omitempty,min=1,max=128"`
	CreateLCP  bool                 `json:"create_lcp"`

	AreaSettings
	RASettings
}

// UnmarshalJSON applies defaults for fields absent from the document.
func (b *BVIConfig) UnmarshalJSON(data []byte) error {
	type plain BVIConfig
	p := plain{CreateLCP: true, RASettings: defaultRA()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = BVIConfig(p)
	return nil
}

// VPPName returns the dataplane name of the BVI loopback.
func (b BVIConfig) VPPName() string { return fmt.Sprintf("loop%d", b.BridgeID) }

// LCPName returns the host-side tap name.
func (b BVIConfig) LCPName() string { return fmt.Sprintf("bvi%d", b.BridgeID) }

// Route is a static route.
type Route struct {
	Destination string `json:"destination" validate:"required,cidr"`
	Via         string `json:"via" validate:"required,ip"`
	Interface   string `json:"interface,omitempty"`
}

// IsDefault reports whether the route is an IPv4 or IPv6 default route.
func (r Route) IsDefault() bool {
	return r.Destination == "0.0.0.0/0" || r.Destination == "::/0"
}

// BGPConfig is the BGP instance.
type BGPConfig struct {
	Enabled  bool      `json:"enabled"`
	ASN      uint32    `json:"asn,omitempty"`
	RouterID string    `json:"router_id,omitempty" validate:"omitempty,ipv4"`
	Peers    []BGPPeer `json:"peers,omitempty" validate:"dive"`
}

// BGPPeer is a BGP neighbor.
type BGPPeer struct {
	Name         string `json:"name"`
	PeerIP       string `json:"peer_ip" validate:"required,ip"`
	PeerASN      uint32 `json:"peer_asn" validate:"required"`
	Description  string `json:"description,omitempty"`
	UpdateSource string `json:"update_source,omitempty"`
}

// IsIPv6 reports whether the peer is addressed over IPv6.
func (p BGPPeer) IsIPv6() bool {
	addr, err := netip.ParseAddr(p.PeerIP)
	return err == nil && addr.Is6()
}

// OSPFConfig is an OSPFv2 or OSPFv3 instance.
type OSPFConfig struct {
	Enabled          bool   `json:"enabled"`
	RouterID         string `json:"router_id,omitempty" validate:"omitempty,ipv4"`
	DefaultOriginate bool   `json:"default_originate,omitempty"`
}

// VLANPassthrough cross-connects one VLAN between two interfaces.
type VLANPassthrough struct {
	VLANID        int    `json:"vlan_id" validate:"min=1,max=4094"`
	FromInterface string `json:"from_interface" validate:"required"`
	ToInterface   string `json:"to_interface" validate:"required"`
	VLANType      string `json:"vlan_type" validate:"omitempty,oneof=dot1q dot1ad"`
	InnerVLAN     *int   `json:"inner_vlan,omitempty" validate:"omitempty,min=1,max=4094"`
}

// SubInterfaceName returns the dataplane name of the passthrough
// sub-interface on iface.
func (p VLANPassthrough) SubInterfaceName(iface string) string {
	if p.InnerVLAN != nil {
		return fmt.Sprintf("%s.%d.%d", iface, p.VLANID, *p.InnerVLAN)
	}
	return fmt.Sprintf("%s.%d", iface, p.VLANID)
}

// ModuleInstance enables a module definition with its configuration.
type ModuleInstance struct {
	Name    string                 `json:"name" validate:"required"`
	Enabled bool                   `json:"enabled"`
	Config  map[string]interface{} `json:"config,omitempty"`
}

// Default returns an empty configuration with defaults applied.
func Default() *RouterConfig {
	return &RouterConfig{
		Hostname:   DefaultHostname,
		Management: Management{Mode: "dhcp"},
	}
}

// Clone returns a deep copy of the configuration.
func (c *RouterConfig) Clone() *RouterConfig {
	data, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("config: marshal of loaded configuration failed: %v", err))
	}
	out := &RouterConfig{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("config: unmarshal of marshaled configuration failed: %v", err))
	}
	return out
}

// InterfaceByName returns the interface with the given name.
func (c *RouterConfig) InterfaceByName(name string) (*Interface, bool) {
	for i := range c.Interfaces {
		if c.Interfaces[i].Name == name {
			return &c.Interfaces[i], true
		}
	}
	return nil, false
}

// EnabledModules returns the enabled module instances in configuration order.
func (c *RouterConfig) EnabledModules() []ModuleInstance {
	out := make([]ModuleInstance, 0, len(c.Modules))
	for _, m := range c.Modules {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// OSPFRouterID returns the effective OSPF router-id, falling back to BGP.
func (c *RouterConfig) OSPFRouterID() string {
	if c.OSPF.RouterID != "" {
		return c.OSPF.RouterID
	}
	return c.BGP.RouterID
}

// OSPF6RouterID returns the effective OSPFv3 router-id, falling back to OSPF then BGP.
func (c *RouterConfig) OSPF6RouterID() string {
	if c.OSPF6.RouterID != "" {
		return c.OSPF6.RouterID
	}
	return c.OSPFRouterID()
}
