package alloc

import (
	"fmt"
)

// MaxMemifConnections is the number of /31 pairs that fit in 169.254.1.0/24.
const MaxMemifConnections = 128

// MemifRequest lists one enabled module's connections in definition order.
type MemifRequest struct {
	Module      string
	Connections []string
}

// MemifAllocation is the shared-memory link for one module connection.
type MemifAllocation struct {
	Module     string `json:"module"`
	Connection string `json:"connection"`
	SocketID   int    `json:"socket_id"`
	SocketPath string `json:"socket_path"`
	CoreIP     string `json:"core_ip"`
	ModuleIP   string `json:"module_ip"`
	Prefix     int    `json:"prefix"`
}

// InterfaceName is the memif interface name on both ends of the link.
func (m MemifAllocation) InterfaceName() string {
	return fmt.Sprintf("memif%d/0", m.SocketID)
}

// AllocateMemif assigns socket ids from 1 upward across every connection of
// every requested module, in order. Socket n is the /31 pair
// 169.254.1.2(n-1) (core side) and 169.254.1.2(n-1)+1 (module side).
func AllocateMemif(requests []MemifRequest) ([]MemifAllocation, error) {
	total := 0
	for _, r := range requests {
		total += len(r.Connections)
	}
	if total > MaxMemifConnections {
		return nil, &ExhaustionError{
			Resource:  ResourceMemif,
			Requested: total,
			Available: MaxMemifConnections,
		}
	}

	out := make([]MemifAllocation, 0, total)
	socketID := 1
	for _, r := range requests {
		for _, conn := range r.Connections {
			octet := 2 * (socketID - 1)
			out = append(out, MemifAllocation{
				Module:     r.Module,
				Connection: conn,
				SocketID:   socketID,
				SocketPath: fmt.Sprintf("/run/vpp/memif-%s-%s.sock", r.Module, conn),
				CoreIP:     fmt.Sprintf("169.254.1.%d", octet),
				ModuleIP:   fmt.Sprintf("169.254.1.%d", octet+1),
				Prefix:     31,
			})
			socketID++
		}
	}
	return out, nil
}

// ModuleCLISocket is the CLI socket of a dataplane instance.
func ModuleCLISocket(instance string) string {
	return fmt.Sprintf("/run/vpp/%s-cli.sock", instance)
}
