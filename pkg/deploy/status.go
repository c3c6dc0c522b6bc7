package deploy

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/health"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// BootstrapCachePath is served by every peer cache node VM
const BootstrapCachePath = "/bootstrap_cache.json"

// StatusSummary counts node services across every node group
type StatusSummary struct {
	Groups  []GroupSummary
	Total   int
	Running int
	Stopped int
	Added   int
	Removed int
	// BootstrapCaches maps peer cache VM names to whether their cache file was served
	BootstrapCaches map[string]bool
}

// GroupSummary is the node count of one group
type GroupSummary struct {
	Label string
	Hosts int
	Nodes int
}

func (g GroupSummary) perHost() int {
	if g.Hosts == 0 {
		return 0
	}
	return g.Nodes / g.Hosts
}

var statusGroups = []struct {
	label string
	t     types.InventoryType
}{
	{"peer cache", types.InventoryPeerCacheNodes},
	{"generic", types.InventoryNodes},
	{"private", types.InventoryPrivateNodes},
	{"genesis", types.InventoryGenesis},
}

// Status runs the status playbook, prints every node registry and a summary
func (d *Deployer) Status(ctx context.Context) (*StatusSummary, error) {
	if err := d.provisioner.Status(ctx); err != nil {
		return nil, err
	}

	privateType, err := d.routePrivateNodes(ctx)
	if err != nil {
		return nil, err
	}

	summary := &StatusSummary{BootstrapCaches: make(map[string]bool)}
	for _, g := range statusGroups {
		t := g.t
		if t == types.InventoryPrivateNodes {
			t = privateType
		}
		registries, err := d.provisioner.GetNodeRegistries(ctx, t)
		if err != nil {
			return nil, err
		}
		printRegistries(d.out, registries)

		group := GroupSummary{Label: g.label, Hosts: len(registries.Retrieved)}
		for _, r := range registries.Retrieved {
			for _, node := range r.Registry.Nodes {
				group.Nodes++
				summary.Total++
				switch node.Status {
				case types.ServiceStatusRunning:
					summary.Running++
				case types.ServiceStatusStopped:
					summary.Stopped++
				case types.ServiceStatusAdded:
					summary.Added++
				case types.ServiceStatusRemoved:
					summary.Removed++
				}
			}
		}
		summary.Groups = append(summary.Groups, group)
	}

	peerCacheVMs, err := d.provisioner.Ansible().GetInventory(ctx, types.InventoryPeerCacheNodes, false)
	if err != nil {
		return nil, err
	}
	for _, vm := range peerCacheVMs {
		checker := health.NewHTTPChecker(fmt.Sprintf("http://%s%s", vm.PublicIP, BootstrapCachePath)).
			WithTimeout(5 * time.Second)
		summary.BootstrapCaches[vm.Name] = checker.Check(ctx).Healthy
	}

	summary.Print(d.out)
	return summary, nil
}

// routePrivateNodes returns the group private node registries are fetched
// through, routing SSH via the NAT gateway when there is one
func (d *Deployer) routePrivateNodes(ctx context.Context) (types.InventoryType, error) {
	gateways, err := d.provisioner.Ansible().GetInventory(ctx, types.InventoryNatGateway, false)
	if err != nil {
		return 0, err
	}
	private, err := d.provisioner.Ansible().GetInventory(ctx, types.InventoryPrivateNodes, false)
	if err != nil {
		return 0, err
	}
	if len(gateways) == 0 || len(private) == 0 {
		return types.InventoryPrivateNodes, nil
	}
	if err := d.provisioner.RoutePrivateNodes(ctx, &gateways[0]); err != nil {
		return 0, err
	}
	return types.InventoryPrivateNodesStatic, nil
}

func printRegistries(w io.Writer, registries *types.DeploymentNodeRegistries) {
	for _, r := range registries.Retrieved {
		fmt.Fprintf(w, "%s:\n", r.Host)
		for _, node := range r.Registry.Nodes {
			fmt.Fprintf(w, "  %s: %s (%s)\n", serviceName(node), node.Status, node.PeerID)
		}
	}
	if len(registries.FailedVMs) > 0 {
		fmt.Fprintf(w, "Failed to retrieve node registries from: %v\n", registries.FailedVMs)
	}
}

func serviceName(node types.NodeServiceData) string {
	if node.ServiceName != "" {
		return node.ServiceName
	}
	return fmt.Sprintf("antnode%d", node.Number)
}

// Print writes the summary block
func (s *StatusSummary) Print(w io.Writer) {
	fmt.Fprintln(w, "-------")
	fmt.Fprintln(w, "Summary")
	fmt.Fprintln(w, "-------")
	for _, g := range s.Groups {
		fmt.Fprintf(w, "Total %s nodes (%dx%d): %d\n", g.Label, g.Hosts, g.perHost(), g.Nodes)
	}
	fmt.Fprintf(w, "Total nodes: %d\n", s.Total)
	fmt.Fprintf(w, "Running nodes: %d\n", s.Running)
	fmt.Fprintf(w, "Stopped nodes: %d\n", s.Stopped)
	fmt.Fprintf(w, "Added nodes: %d\n", s.Added)
	fmt.Fprintf(w, "Removed nodes: %d\n", s.Removed)
	for name, ok := range s.BootstrapCaches {
		state := "available"
		if !ok {
			state = "unavailable"
		}
		fmt.Fprintf(w, "Bootstrap cache on %s: %s\n", name, state)
	}
}
