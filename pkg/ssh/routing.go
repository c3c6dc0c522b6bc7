package ssh

import (
	"fmt"
	"net/netip"
)

// RoutingTable records which hosts are only reachable through a NAT gateway.
// It is a value: the orchestrator builds a new table once the gateway is
// known and hands it to the clients that need it.
type RoutingTable struct {
	gateways map[netip.Addr]netip.Addr
}

// RouteThroughGateway returns a copy of the table where every host in hosts
// is proxied through gateway's public address
func (r RoutingTable) RouteThroughGateway(gateway netip.Addr, hosts ...netip.Addr) RoutingTable {
	next := make(map[netip.Addr]netip.Addr, len(r.gateways)+len(hosts))
	for host, gw := range r.gateways {
		next[host] = gw
	}
	for _, host := range hosts {
		next[host] = gateway
	}
	return RoutingTable{gateways: next}
}

// GatewayFor returns the gateway host must be reached through, if any
func (r RoutingTable) GatewayFor(host netip.Addr) (netip.Addr, bool) {
	gw, ok := r.gateways[host]
	return gw, ok
}

// Len returns the number of routed hosts
func (r RoutingTable) Len() int {
	return len(r.gateways)
}

// ProxyCommand is the ssh option that tunnels through gateway as root.
// The same form is embedded in the private node static inventory.
func ProxyCommand(gateway netip.Addr, privateKeyPath string) string {
	return fmt.Sprintf("ProxyCommand=ssh -p 22 -W %%h:%%p -q root@%s -i \"%s\"", gateway, privateKeyPath)
}
