package engine

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/justindthomas/imp/pkg/config"
)

// entitySet indexes the entities of one snapshot by type and key.
type entitySet map[EntityType]map[string]interface{}

func (s entitySet) put(e EntityType, key string, v interface{}) {
	m, ok := s[e]
	if !ok {
		m = make(map[string]interface{})
		s[e] = m
	}
	m[key] = v
}

// extractEntities flattens a snapshot into keyed entities. Module entries,
// CPU and memif entities need module definitions and are added by Diff.
func extractEntities(cfg *config.RouterConfig) entitySet {
	s := make(entitySet)
	if cfg == nil {
		return s
	}

	if cfg.Hostname != "" || cfg.Management != (config.Management{}) {
		s.put(EntityManagement, "management", ManagementEntity{
			Hostname:   cfg.Hostname,
			Management: cfg.Management,
		})
	}

	for _, iface := range cfg.Interfaces {
		flat := iface
		flat.SubInterfaces = nil
		flat.AreaSettings = config.AreaSettings{}
		flat.RASettings = config.RASettings{}
		s.put(EntityInterface, iface.Name, flat)

		host := iface.Iface
		if host == "" {
			host = iface.Name
		}
		s.addOwner(cfg, iface.Name, host, true, addressesOf(iface.IPv4), addressesOf(iface.IPv6), iface.AreaSettings, iface.RASettings, false)

		for _, sub := range iface.SubInterfaces {
			ent := SubInterfaceEntity{Parent: iface.Name, SubInterface: sub}
			ent.AreaSettings = config.AreaSettings{}
			ent.RASettings = config.RASettings{}
			s.put(EntitySubInterface, ent.VPPName(), ent)

			s.addOwner(cfg, ent.VPPName(), ent.LCPName(), sub.CreateLCP,
				single(sub.IPv4, sub.IPv4Prefix), single(sub.IPv6, sub.IPv6Prefix),
				sub.AreaSettings, sub.RASettings, false)
		}
	}

	for _, lo := range cfg.Loopbacks {
		flat := lo
		flat.AreaSettings = config.AreaSettings{}
		flat.RASettings = config.RASettings{}
		s.put(EntityLoopback, lo.VPPName(), flat)

		s.addOwner(cfg, lo.VPPName(), lo.LCPName(), lo.CreateLCP,
			single(lo.IPv4, lo.IPv4Prefix), single(lo.IPv6, lo.IPv6Prefix),
			lo.AreaSettings, lo.RASettings, true)
	}

	for _, bvi := range cfg.BVIDomains {
		flat := bvi
		flat.Members = nil
		flat.AreaSettings = config.AreaSettings{}
		flat.RASettings = config.RASettings{}
		s.put(EntityBVI, bviKey(bvi.BridgeID), flat)

		for _, m := range bvi.Members {
			s.put(EntityBridgeMember, fmt.Sprintf("%d/%s", bvi.BridgeID, m.VPPName()),
				BridgeMemberEntity{BridgeID: bvi.BridgeID, BridgeDomainMember: m})
		}

		s.addOwner(cfg, bvi.VPPName(), bvi.LCPName(), bvi.CreateLCP,
			single(bvi.IPv4, bvi.IPv4Prefix), single(bvi.IPv6, bvi.IPv6Prefix),
			bvi.AreaSettings, bvi.RASettings, false)
	}

	for _, pt := range cfg.VLANPassthrough {
		s.put(EntityVLANPassthrough, strconv.Itoa(pt.VLANID), pt)
	}

	for _, r := range cfg.Routes {
		s.put(EntityRoute, r.Destination, r)
	}

	if cfg.BGP.Enabled {
		bgp := cfg.BGP
		bgp.Peers = nil
		s.put(EntityBGP, "bgp", bgp)
		for _, p := range cfg.BGP.Peers {
			s.put(EntityBGPPeer, p.PeerIP, BGPPeerEntity{ASN: cfg.BGP.ASN, BGPPeer: p})
		}
	}
	if cfg.OSPF.Enabled {
		ospf := cfg.OSPF
		ospf.RouterID = cfg.OSPFRouterID()
		s.put(EntityOSPF, "ospf", ospf)
	}
	if cfg.OSPF6.Enabled {
		ospf6 := cfg.OSPF6
		ospf6.RouterID = cfg.OSPF6RouterID()
		s.put(EntityOSPF6, "ospf6", ospf6)
	}

	for _, m := range cfg.Modules {
		s.put(EntityModule, m.Name, m)
	}

	return s
}

// addOwner records the area and router advertisement entities of an
// addressable interface. Areas need a host interface for FRR to bind to.
func (s entitySet) addOwner(
	cfg *config.RouterConfig,
	vppName, hostName string,
	hasHost bool,
	v4, v6 []string,
	areas config.AreaSettings,
	ra config.RASettings,
	hostRoutes bool,
) {
	if hasHost && cfg.OSPF.Enabled && areas.OSPFArea != nil {
		s.put(EntityOSPFArea, vppName, AreaEntity{
			Interface:     vppName,
			HostInterface: hostName,
			Area:          *areas.OSPFArea,
			Passive:       areas.OSPFPassive,
			Networks:      networksOf(v4, hostRoutes),
		})
	}
	if hasHost && cfg.OSPF6.Enabled && areas.OSPF6Area != nil {
		s.put(EntityOSPF6Area, vppName, AreaEntity{
			Interface:     vppName,
			HostInterface: hostName,
			Area:          *areas.OSPF6Area,
			Passive:       areas.OSPF6Passive,
		})
	}
	if len(v6) > 0 {
		s.put(EntityRouterAdvert, vppName, RAEntity{Interface: vppName, RASettings: ra})
	}
}

func bviKey(bridgeID int) string { return fmt.Sprintf("bvi%d", bridgeID) }

func addressesOf(addrs []config.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.CIDR())
	}
	return out
}

func single(addr string, prefix int) []string {
	if addr == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s/%d", addr, prefix)}
}

// networksOf returns the OSPF network statements covering addrs. Loopbacks
// are announced as host routes.
func networksOf(addrs []string, hostRoutes bool) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		p, err := netip.ParsePrefix(a)
		if err != nil {
			continue
		}
		if hostRoutes {
			out = append(out, netip.PrefixFrom(p.Addr(), p.Addr().BitLen()).String())
			continue
		}
		out = append(out, p.Masked().String())
	}
	return out
}

// vppNameOf returns the dataplane interface an entity creates, if any.
func vppNameOf(v interface{}) string {
	switch e := v.(type) {
	case config.Interface:
		return e.Name
	case SubInterfaceEntity:
		return e.VPPName()
	case config.LoopbackInterface:
		return e.VPPName()
	case config.BVIConfig:
		return e.VPPName()
	}
	return ""
}

// dataplaneNames returns the dataplane interfaces an operation creates or
// deletes as a side effect, beyond its owning entity.
func dataplaneNames(v interface{}) []string {
	switch e := v.(type) {
	case SubInterfaceEntity:
		return []string{e.VPPName()}
	case config.LoopbackInterface:
		return []string{e.VPPName()}
	case config.BVIConfig:
		return []string{e.VPPName()}
	case BridgeMemberEntity:
		if e.VLANID != nil {
			return []string{e.VPPName()}
		}
	case config.VLANPassthrough:
		return []string{e.SubInterfaceName(e.FromInterface), e.SubInterfaceName(e.ToInterface)}
	}
	return nil
}
