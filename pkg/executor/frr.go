package executor

import (
	"fmt"

	"github.com/justindthomas/imp/pkg/config"
	"github.com/justindthomas/imp/pkg/engine"
)

// renderFRR renders routing protocol operations to vtysh configuration
// lines. The caller wraps them in a configure session.
func renderFRR(op engine.Operation) ([]string, error) {
	switch op.Entity {
	case engine.EntityBGP:
		return renderBGP(op)
	case engine.EntityBGPPeer:
		return renderBGPPeer(op)
	case engine.EntityOSPF:
		return renderOSPF(op, "ospf")
	case engine.EntityOSPF6:
		return renderOSPF(op, "ospf6")
	case engine.EntityOSPFArea:
		return renderOSPFArea(op)
	case engine.EntityOSPF6Area:
		return renderOSPF6Area(op)
	}
	return nil, unexpected(op)
}

func renderBGP(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		b, ok := a.New.(config.BGPConfig)
		if !ok {
			return nil, unexpected(op)
		}
		lines := []string{fmt.Sprintf("router bgp %d", b.ASN)}
		if b.RouterID != "" {
			lines = append(lines, fmt.Sprintf(" bgp router-id %s", b.RouterID))
		}
		return append(lines, " no bgp default ipv4-unicast", "exit"), nil

	case engine.Remove:
		b, ok := a.Old.(config.BGPConfig)
		if !ok {
			return nil, unexpected(op)
		}
		return []string{fmt.Sprintf("no router bgp %d", b.ASN)}, nil

	case engine.Modify:
		b, ok := a.New.(config.BGPConfig)
		if !ok {
			return nil, unexpected(op)
		}
		if b.RouterID == "" {
			return nil, nil
		}
		return []string{
			fmt.Sprintf("router bgp %d", b.ASN),
			fmt.Sprintf(" bgp router-id %s", b.RouterID),
			"exit",
		}, nil
	}
	return nil, unexpected(op)
}

func peerLines(p engine.BGPPeerEntity) []string {
	family := "ipv4"
	if p.IsIPv6() {
		family = "ipv6"
	}
	lines := []string{fmt.Sprintf(" neighbor %s remote-as %d", p.PeerIP, p.PeerASN)}
	if p.Description != "" {
		lines = append(lines, fmt.Sprintf(" neighbor %s description %s", p.PeerIP, p.Description))
	}
	if p.UpdateSource != "" {
		lines = append(lines, fmt.Sprintf(" neighbor %s update-source %s", p.PeerIP, p.UpdateSource))
	}
	return append(lines,
		fmt.Sprintf(" address-family %s unicast", family),
		fmt.Sprintf("  neighbor %s activate", p.PeerIP),
		fmt.Sprintf("  neighbor %s soft-reconfiguration inbound", p.PeerIP),
		" exit-address-family",
	)
}

func renderBGPPeer(op engine.Operation) ([]string, error) {
	switch a := op.Action.(type) {
	case engine.Add:
		p, ok := a.New.(engine.BGPPeerEntity)
		if !ok {
			return nil, unexpected(op)
		}
		lines := []string{fmt.Sprintf("router bgp %d", p.ASN)}
		lines = append(lines, peerLines(p)...)
		return append(lines, "exit"), nil

	case engine.Remove:
		p, ok := a.Old.(engine.BGPPeerEntity)
		if !ok {
			return nil, unexpected(op)
		}
		return []string{
			fmt.Sprintf("router bgp %d", p.ASN),
			fmt.Sprintf(" no neighbor %s", p.PeerIP),
			"exit",
		}, nil

	case engine.Modify:
		p, ok := a.New.(engine.BGPPeerEntity)
		if !ok {
			return nil, unexpected(op)
		}
		lines := []string{
			fmt.Sprintf("router bgp %d", p.ASN),
			fmt.Sprintf(" no neighbor %s", p.PeerIP),
		}
		lines = append(lines, peerLines(p)...)
		return append(lines, "exit"), nil
	}
	return nil, unexpected(op)
}

// renderOSPF handles both OSPF instances. proto is "ospf" or "ospf6".
func renderOSPF(op engine.Operation, proto string) ([]string, error) {
	router := "router " + proto
	switch a := op.Action.(type) {
	case engine.Add:
		o, ok := a.New.(config.OSPFConfig)
		if !ok {
			return nil, unexpected(op)
		}
		lines := []string{router}
		if o.RouterID != "" {
			lines = append(lines, fmt.Sprintf(" %s router-id %s", proto, o.RouterID))
		}
		if o.DefaultOriginate {
			lines = append(lines, " default-information originate")
		}
		return append(lines, "exit"), nil

	case engine.Remove:
		return []string{"no " + router}, nil

	case engine.Modify:
		before, ok1 := a.Old.(config.OSPFConfig)
		after, ok2 := a.New.(config.OSPFConfig)
		if !ok1 || !ok2 {
			return nil, unexpected(op)
		}
		var body []string
		if before.RouterID != after.RouterID && after.RouterID != "" {
			body = append(body, fmt.Sprintf(" %s router-id %s", proto, after.RouterID))
		}
		if before.DefaultOriginate != after.DefaultOriginate {
			if after.DefaultOriginate {
				body = append(body, " default-information originate")
			} else {
				body = append(body, " no default-information originate")
			}
		}
		if len(body) == 0 {
			return nil, nil
		}
		lines := append([]string{router}, body...)
		return append(lines, "exit"), nil
	}
	return nil, unexpected(op)
}

func ospfAreaLines(area engine.AreaEntity, negate bool) []string {
	no := ""
	if negate {
		no = "no "
	}
	lines := make([]string, 0, len(area.Networks)+1)
	for _, n := range area.Networks {
		lines = append(lines, fmt.Sprintf(" %snetwork %s area %d", no, n, area.Area))
	}
	if area.Passive {
		lines = append(lines, fmt.Sprintf(" %spassive-interface %s", no, area.HostInterface))
	}
	return lines
}

func renderOSPFArea(op engine.Operation) ([]string, error) {
	var body []string
	switch a := op.Action.(type) {
	case engine.Add:
		area, ok := a.New.(engine.AreaEntity)
		if !ok {
			return nil, unexpected(op)
		}
		body = ospfAreaLines(area, false)
	case engine.Remove:
		area, ok := a.Old.(engine.AreaEntity)
		if !ok {
			return nil, unexpected(op)
		}
		body = ospfAreaLines(area, true)
	case engine.Modify:
		before, ok1 := a.Old.(engine.AreaEntity)
		after, ok2 := a.New.(engine.AreaEntity)
		if !ok1 || !ok2 {
			return nil, unexpected(op)
		}
		body = append(ospfAreaLines(before, true), ospfAreaLines(after, false)...)
	default:
		return nil, unexpected(op)
	}
	if len(body) == 0 {
		return nil, nil
	}
	lines := append([]string{"router ospf"}, body...)
	return append(lines, "exit"), nil
}

func ospf6AreaLines(area engine.AreaEntity, negate bool) []string {
	no := ""
	if negate {
		no = "no "
	}
	lines := []string{fmt.Sprintf(" %sipv6 ospf6 area %d", no, area.Area)}
	if area.Passive {
		lines = append(lines, fmt.Sprintf(" %sipv6 ospf6 passive", no))
	}
	return lines
}

func renderOSPF6Area(op engine.Operation) ([]string, error) {
	var host string
	var body []string
	switch a := op.Action.(type) {
	case engine.Add:
		area, ok := a.New.(engine.AreaEntity)
		if !ok {
			return nil, unexpected(op)
		}
		host, body = area.HostInterface, ospf6AreaLines(area, false)
	case engine.Remove:
		area, ok := a.Old.(engine.AreaEntity)
		if !ok {
			return nil, unexpected(op)
		}
		host, body = area.HostInterface, ospf6AreaLines(area, true)
	case engine.Modify:
		before, ok1 := a.Old.(engine.AreaEntity)
		after, ok2 := a.New.(engine.AreaEntity)
		if !ok1 || !ok2 {
			return nil, unexpected(op)
		}
		host = after.HostInterface
		body = append(ospf6AreaLines(before, true), ospf6AreaLines(after, false)...)
	default:
		return nil, unexpected(op)
	}
	lines := append([]string{"interface " + host}, body...)
	return append(lines, "exit"), nil
}
