package executor

import (
	"fmt"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
)

// renderVPP renders dataplane operations to vppctl commands. Host interfaces
// are created before addresses so linux-cp mirrors them.
func renderVPP(op engine.Operation) ([]string, error) {
	switch op.Value().(type) {
	case config.Interface:
		return renderInterface(op)
	case engine.SubInterfaceEntity:
		return renderSubInterface(op)
	case config.LoopbackInterface:
		return renderLoopback(op)
	case config.BVIConfig:
		return renderBVI(op)
	case engine.BridgeMemberEntity:
		return renderBridgeMember(op)
	case config.VLANPassthrough:
		return renderPassthrough(op)
	case config.Route:
		return renderRoute(op)
	case engine.RAEntity:
		return renderRA(op)
	}
	return nil, unexpected(op)
}

func setAddress(iface, addr string) string {
	return fmt.Sprintf("set interface ip address %s %s", iface, addr)
}

func delAddress(iface, addr string) string {
	return fmt.Sprintf("set interface ip address del %s %s", iface, addr)
}

func stateUp(iface string) string {
	return fmt.Sprintf("set interface state %s up", iface)
}

func lcpCreate(iface, host string) string {
	return fmt.Sprintf("lcp create %s host-if %s", iface, host)
}

func lcpDelete(iface string) string {
	return fmt.Sprintf("lcp delete %s", iface)
}

// readdress moves iface from one address set to another, removing first.
func readdress(iface string, before, after []string) []string {
	removed, added := addressDelta(before, after)
	out := make([]string, 0, len(removed)+len(added))
	for _, a := range removed {
		out = append(out, delAddress(iface, a))
	}
	for _, a := range added {
		out = append(out, setAddress(iface, a))
	}
	return out
}

// relcp toggles the host interface of iface.
func relcp(iface, host string, before, after bool) []string {
	switch {
	case before && !after:
		return []string{lcpDelete(iface)}
	case !before && after:
		return []string{lcpCreate(iface, host)}
	}
	return nil
}

func interfaceAddrs(i config.Interface) []string {
	out := make([]string, 0, len(i.IPv4)+len(i.IPv6))
	for _, a := range i.IPv4 {
		out = append(out, a.CIDR())
	}
	for _, a := range i.IPv6 {
		out = append(out, a.CIDR())
	}
	return out
}

// renderInterface handles the live part of physical interface changes.
// Binding and unbinding devices happens at dataplane startup.
func renderInterface(op engine.Operation) ([]string, error) {
	m, ok := op.Action.(engine.Modify)
	if !ok {
		return nil, fmt.Errorf("interface %s can only be modified live", op.Key)
	}
	before, ok1 := m.Old.(config.Interface)
	after, ok2 := m.New.(config.Interface)
	if !ok1 || !ok2 {
		return nil, unexpected(op)
	}

	cmds := readdress(after.Name, interfaceAddrs(before), interfaceAddrs(after))
	if before.MTU != after.MTU && after.MTU > 0 {
		cmds = append(cmds, fmt.Sprintf("set interface mtu packet %d %s", after.MTU, after.Name))
	}
	return cmds, nil
}

func subAddrs(s engine.SubInterfaceEntity) []string {
	return append(cidr(s.IPv4, s.IPv4Prefix), cidr(s.IPv6, s.IPv6Prefix)...)
}

func renderSubInterface(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		s := a.New.(engine.SubInterfaceEntity)
		name := s.VPPName()
		cmds := []string{
			fmt.Sprintf("create sub-interfaces %s %d", s.Parent, s.VLANID),
			stateUp(name),
		}
		if s.CreateLCP {
			cmds = append(cmds, lcpCreate(name, s.LCPName()))
		}
		for _, addr := range subAddrs(s) {
			cmds = append(cmds, setAddress(name, addr))
		}
		return cmds, nil

	case engine.Remove:
		s := a.Old.(engine.SubInterfaceEntity)
		var cmds []string
		if s.CreateLCP {
			cmds = append(cmds, lcpDelete(s.VPPName()))
		}
		return append(cmds, fmt.Sprintf("delete sub-interfaces %s %d", s.Parent, s.VLANID)), nil

	case engine.Modify:
		before := a.Old.(engine.SubInterfaceEntity)
		after := a.New.(engine.SubInterfaceEntity)
		name := after.VPPName()
		removed, added := addressDelta(subAddrs(before), subAddrs(after))
		var cmds []string
		for _, addr := range removed {
			cmds = append(cmds, delAddress(name, addr))
		}
		cmds = append(cmds, relcp(name, after.LCPName(), before.CreateLCP, after.CreateLCP)...)
		for _, addr := range added {
			cmds = append(cmds, setAddress(name, addr))
		}
		return cmds, nil
	}
	return nil, unexpected(op)
}

func loopbackAddrs(l config.LoopbackInterface) []string {
	return append(cidr(l.IPv4, l.IPv4Prefix), cidr(l.IPv6, l.IPv6Prefix)...)
}

func renderLoopback(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		l := a.New.(config.LoopbackInterface)
		name := l.VPPName()
		cmds := []string{
			fmt.Sprintf("create loopback interface instance %d", l.Instance),
			stateUp(name),
		}
		if l.CreateLCP {
			cmds = append(cmds, lcpCreate(name, l.LCPName()))
		}
		for _, addr := range loopbackAddrs(l) {
			cmds = append(cmds, setAddress(name, addr))
		}
		return cmds, nil

	case engine.Remove:
		l := a.Old.(config.LoopbackInterface)
		var cmds []string
		if l.CreateLCP {
			cmds = append(cmds, lcpDelete(l.VPPName()))
		}
		return append(cmds, fmt.Sprintf("delete loopback interface intfc %s", l.VPPName())), nil

	case engine.Modify:
		before := a.Old.(config.LoopbackInterface)
		after := a.New.(config.LoopbackInterface)
		name := after.VPPName()
		removed, added := addressDelta(loopbackAddrs(before), loopbackAddrs(after))
		var cmds []string
		for _, addr := range removed {
			cmds = append(cmds, delAddress(name, addr))
		}
		cmds = append(cmds, relcp(name, after.LCPName(), before.CreateLCP, after.CreateLCP)...)
		for _, addr := range added {
			cmds = append(cmds, setAddress(name, addr))
		}
		return cmds, nil
	}
	return nil, unexpected(op)
}

func bviAddrs(b config.BVIConfig) []string {
	return append(cidr(b.IPv4, b.IPv4Prefix), cidr(b.IPv6, b.IPv6Prefix)...)
}

// renderBVI manages the bridge domain and its BVI loopback. Members are
// separate operations.
func renderBVI(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		b := a.New.(config.BVIConfig)
		name := b.VPPName()
		cmds := []string{
			fmt.Sprintf("create loopback interface instance %d", b.BridgeID),
			stateUp(name),
			fmt.Sprintf("create bridge-domain %d", b.BridgeID),
			fmt.Sprintf("set interface l2 bridge %s %d bvi", name, b.BridgeID),
		}
		if b.CreateLCP {
			cmds = append(cmds, lcpCreate(name, b.LCPName()))
		}
		for _, addr := range bviAddrs(b) {
			cmds = append(cmds, setAddress(name, addr))
		}
		return cmds, nil

	case engine.Remove:
		b := a.Old.(config.BVIConfig)
		var cmds []string
		if b.CreateLCP {
			cmds = append(cmds, lcpDelete(b.VPPName()))
		}
		return append(cmds,
			fmt.Sprintf("delete bridge-domain %d", b.BridgeID),
			fmt.Sprintf("delete loopback interface intfc %s", b.VPPName()),
		), nil

	case engine.Modify:
		before := a.Old.(config.BVIConfig)
		after := a.New.(config.BVIConfig)
		name := after.VPPName()
		removed, added := addressDelta(bviAddrs(before), bviAddrs(after))
		var cmds []string
		for _, addr := range removed {
			cmds = append(cmds, delAddress(name, addr))
		}
		cmds = append(cmds, relcp(name, after.LCPName(), before.CreateLCP, after.CreateLCP)...)
		for _, addr := range added {
			cmds = append(cmds, setAddress(name, addr))
		}
		return cmds, nil
	}
	return nil, unexpected(op)
}

func joinBridge(m engine.BridgeMemberEntity) []string {
	if m.VLANID == nil {
		return []string{fmt.Sprintf("set interface l2 bridge %s %d", m.Interface, m.BridgeID)}
	}
	name := m.VPPName()
	return []string{
		fmt.Sprintf("create sub-interfaces %s %d", m.Interface, *m.VLANID),
		stateUp(name),
		fmt.Sprintf("set interface l2 bridge %s %d", name, m.BridgeID),
	}
}

func leaveBridge(m engine.BridgeMemberEntity) []string {
	cmds := []string{fmt.Sprintf("set interface l3 %s", m.VPPName())}
	if m.VLANID != nil {
		cmds = append(cmds, fmt.Sprintf("delete sub-interfaces %s %d", m.Interface, *m.VLANID))
	}
	return cmds
}

func renderBridgeMember(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		return joinBridge(a.New.(engine.BridgeMemberEntity)), nil
	case engine.Remove:
		return leaveBridge(a.Old.(engine.BridgeMemberEntity)), nil
	case engine.Modify:
		return append(leaveBridge(a.Old.(engine.BridgeMemberEntity)), joinBridge(a.New.(engine.BridgeMemberEntity))...), nil
	}
	return nil, unexpected(op)
}

func createPassthroughSub(p config.VLANPassthrough, iface string) string {
	switch {
	case p.InnerVLAN != nil:
		return fmt.Sprintf("create sub-interface %s %d inner-dot1q %d", iface, p.VLANID, *p.InnerVLAN)
	case p.VLANType == "dot1ad":
		return fmt.Sprintf("create sub-interface %s %d dot1ad", iface, p.VLANID)
	}
	return fmt.Sprintf("create sub-interface %s %d", iface, p.VLANID)
}

func addPassthrough(p config.VLANPassthrough) []string {
	from := p.SubInterfaceName(p.FromInterface)
	to := p.SubInterfaceName(p.ToInterface)
	return []string{
		createPassthroughSub(p, p.FromInterface),
		createPassthroughSub(p, p.ToInterface),
		stateUp(from),
		stateUp(to),
		fmt.Sprintf("set interface l2 xconnect %s %s", from, to),
		fmt.Sprintf("set interface l2 xconnect %s %s", to, from),
	}
}

func removePassthrough(p config.VLANPassthrough) []string {
	return []string{
		fmt.Sprintf("delete sub-interface %s", p.SubInterfaceName(p.FromInterface)),
		fmt.Sprintf("delete sub-interface %s", p.SubInterfaceName(p.ToInterface)),
	}
}

func renderPassthrough(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		return addPassthrough(a.New.(config.VLANPassthrough)), nil
	case engine.Remove:
		return removePassthrough(a.Old.(config.VLANPassthrough)), nil
	case engine.Modify:
		return append(removePassthrough(a.Old.(config.VLANPassthrough)), addPassthrough(a.New.(config.VLANPassthrough))...), nil
	}
	return nil, unexpected(op)
}

func routeAdd(r config.Route) string {
	if r.Interface != "" {
		return fmt.Sprintf("ip route add %s via %s %s", r.Destination, r.Via, r.Interface)
	}
	return fmt.Sprintf("ip route add %s via %s", r.Destination, r.Via)
}

func routeDel(r config.Route) string {
	return fmt.Sprintf("ip route del %s", r.Destination)
}

func renderRoute(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		return []string{routeAdd(a.New.(config.Route))}, nil
	case engine.Remove:
		return []string{routeDel(a.Old.(config.Route))}, nil
	case engine.Modify:
		return []string{routeDel(a.Old.(config.Route)), routeAdd(a.New.(config.Route))}, nil
	}
	return nil, unexpected(op)
}

// raSettings renders the advertisement state of iface. Prefixes in skip
// are already announced.
func raSettings(ra engine.RAEntity, skip map[string]bool) []string {
	iface := ra.Interface
	if !ra.RAEnabled || ra.RASuppress {
		return []string{fmt.Sprintf("ip6 nd %s ra-suppress", iface)}
	}
	cmds := []string{fmt.Sprintf("ip6 nd %s no ra-suppress", iface)}
	if ra.RAIntervalMax > 0 {
		floor := ra.RAIntervalMin
		if floor <= 0 {
			floor = ra.RAIntervalMax * 3 / 4
		}
		cmds = append(cmds, fmt.Sprintf("ip6 nd %s ra-interval %d %d", iface, ra.RAIntervalMax, floor))
	}
	for _, p := range ra.RAPrefixes {
		if !skip[p] {
			cmds = append(cmds, fmt.Sprintf("ip6 nd %s prefix %s default", iface, p))
		}
	}
	return cmds
}

func withdrawPrefixes(iface string, prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, fmt.Sprintf("ip6 nd %s no prefix %s", iface, p))
	}
	return out
}

func renderRA(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		return raSettings(a.New.(engine.RAEntity), nil), nil

	case engine.Remove:
		ra := a.Old.(engine.RAEntity)
		return append(withdrawPrefixes(ra.Interface, ra.RAPrefixes),
			fmt.Sprintf("ip6 nd %s ra-suppress", ra.Interface)), nil

	case engine.Modify:
		before := a.Old.(engine.RAEntity)
		after := a.New.(engine.RAEntity)
		removed, _ := addressDelta(before.RAPrefixes, after.RAPrefixes)
		kept := make(map[string]bool, len(before.RAPrefixes))
		for _, p := range before.RAPrefixes {
			kept[p] = true
		}
		return append(withdrawPrefixes(after.Interface, removed), raSettings(after, kept)...), nil
	}
	return nil, unexpected(op)
}
