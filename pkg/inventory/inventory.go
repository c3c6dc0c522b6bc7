package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

// ErrNoPeers is returned when a peer is requested from an inventory with no node VMs
var ErrNoPeers = errors.New("the inventory has no peers")

// UploadedFile is a file uploaded to the network after deployment
type UploadedFile struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// DeploymentInventory is everything known about a deployed environment.
// Each VM belongs to exactly one of the role collections.
type DeploymentInventory struct {
	Name                  string                         `json:"name"`
	BinaryOption          types.BinaryOption             `json:"-"`
	EnvironmentDetails    *types.EnvironmentDetails      `json:"environment_details,omitempty"`
	GenesisVM             *types.NodeVirtualMachine      `json:"genesis_vm,omitempty"`
	NatGatewayVM          *types.VirtualMachine          `json:"nat_gateway_vm,omitempty"`
	PeerCacheNodeVMs      []types.NodeVirtualMachine     `json:"peer_cache_node_vms"`
	NodeVMs               []types.NodeVirtualMachine     `json:"node_vms"`
	PrivateNodeVMs        []types.NodeVirtualMachine     `json:"private_node_vms"`
	UploaderVMs           []types.UploaderVirtualMachine `json:"uploader_vms"`
	MiscVMs               []types.VirtualMachine         `json:"misc_vms"`
	FailedNodeRegistryVMs []string                       `json:"failed_node_registry_vms"`
	GenesisMultiaddr      string                         `json:"genesis_multiaddr,omitempty"`
	FaucetAddress         string                         `json:"faucet_address,omitempty"`
	UploadedFiles         []UploadedFile                 `json:"uploaded_files"`
	SSHUser               string                         `json:"ssh_user"`
	SSHPrivateKeyPath     string                         `json:"ssh_private_key_path"`
}

// inventoryJSON carries the binary option in its tagged persisted form
type inventoryJSON struct {
	*alias
	BinaryOption json.RawMessage `json:"binary_option"`
}

type alias DeploymentInventory

// MarshalJSON implements json.Marshaler
func (d DeploymentInventory) MarshalJSON() ([]byte, error) {
	opt, err := types.MarshalBinaryOption(d.BinaryOption)
	if err != nil {
		return nil, err
	}
	a := alias(d)
	return json.Marshal(inventoryJSON{alias: &a, BinaryOption: opt})
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DeploymentInventory) UnmarshalJSON(data []byte) error {
	doc := inventoryJSON{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.BinaryOption) == 0 {
		return nil
	}
	opt, err := types.UnmarshalBinaryOption(doc.BinaryOption)
	if err != nil {
		return err
	}
	d.BinaryOption = opt
	return nil
}

// Empty returns the inventory of an environment that has no VMs yet
func Empty(name string, binaryOption types.BinaryOption) *DeploymentInventory {
	return &DeploymentInventory{Name: name, BinaryOption: binaryOption}
}

// IsEmpty reports whether the environment has any node VMs
func (d *DeploymentInventory) IsEmpty() bool {
	return d.GenesisVM == nil && len(d.PeerCacheNodeVMs) == 0 && len(d.NodeVMs) == 0 && len(d.PrivateNodeVMs) == 0
}

// NodeVirtualMachines returns every VM hosting node services, genesis first
func (d *DeploymentInventory) NodeVirtualMachines() []types.NodeVirtualMachine {
	var vms []types.NodeVirtualMachine
	if d.GenesisVM != nil {
		vms = append(vms, *d.GenesisVM)
	}
	vms = append(vms, d.PeerCacheNodeVMs...)
	vms = append(vms, d.NodeVMs...)
	vms = append(vms, d.PrivateNodeVMs...)
	return vms
}

// VMList returns every VM in the deployment
func (d *DeploymentInventory) VMList() []types.VirtualMachine {
	var vms []types.VirtualMachine
	for _, nvm := range d.NodeVirtualMachines() {
		vms = append(vms, nvm.VM)
	}
	if d.NatGatewayVM != nil {
		vms = append(vms, *d.NatGatewayVM)
	}
	for _, u := range d.UploaderVMs {
		vms = append(vms, u.VM)
	}
	return append(vms, d.MiscVMs...)
}

// Peers returns the listen address of every node
func (d *DeploymentInventory) Peers() []string {
	var peers []string
	for _, nvm := range d.NodeVirtualMachines() {
		for _, addrs := range nvm.NodeListenAddresses {
			peers = append(peers, addrs...)
		}
	}
	return peers
}

// RandomPeer returns one node listen address
func (d *DeploymentInventory) RandomPeer() (string, error) {
	peers := d.Peers()
	if len(peers) == 0 {
		return "", ErrNoPeers
	}
	return peers[rand.Intn(len(peers))], nil
}

// NodeCount is the total number of nodes across all node VMs
func (d *DeploymentInventory) NodeCount() int {
	total := 0
	for _, nvm := range d.NodeVirtualMachines() {
		total += nvm.NodeCount
	}
	return total
}

func nodesPerVM(vms []types.NodeVirtualMachine) int {
	if len(vms) == 0 {
		return 0
	}
	return vms[0].NodeCount
}

// PeerCacheNodeCount is the number of nodes on each peer cache VM
func (d *DeploymentInventory) PeerCacheNodeCount() int {
	return nodesPerVM(d.PeerCacheNodeVMs)
}

// GenericNodeCount is the number of nodes on each generic VM
func (d *DeploymentInventory) GenericNodeCount() int {
	return nodesPerVM(d.NodeVMs)
}

// PrivateNodeCount is the number of nodes on each private VM
func (d *DeploymentInventory) PrivateNodeCount() int {
	return nodesPerVM(d.PrivateNodeVMs)
}

// UploadersCount is the number of uploader services on each uploader VM
func (d *DeploymentInventory) UploadersCount() int {
	if len(d.UploaderVMs) == 0 {
		return 0
	}
	return len(d.UploaderVMs[0].WalletPublicKey)
}

// AddUploadedFiles records files uploaded to the network
func (d *DeploymentInventory) AddUploadedFiles(files ...UploadedFile) {
	d.UploadedFiles = append(d.UploadedFiles, files...)
}

// Path is the cache file for the named environment under dataDir
func Path(dataDir, name string) string {
	return filepath.Join(dataDir, name+"-inventory.json")
}

// Save writes the inventory to its cache file under dataDir
func (d *DeploymentInventory) Save(dataDir string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode inventory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(Path(dataDir, d.Name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	return nil
}

// Read loads an inventory saved with Save
func Read(path string) (*DeploymentInventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	var d DeploymentInventory
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}
	return &d, nil
}

// Remove deletes the cached inventory for name. A missing file is not an error.
func Remove(dataDir, name string) error {
	if err := os.Remove(Path(dataDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove inventory: %w", err)
	}
	return nil
}

func printNodeVMs(w io.Writer, title string, vms []types.NodeVirtualMachine) {
	if len(vms) == 0 {
		return
	}
	fmt.Fprintf(w, "%s\n%s\n", title, strings.Repeat("=", len(title)))
	for _, nvm := range vms {
		fmt.Fprintf(w, "%s: %s (%d nodes)\n", nvm.VM.Name, nvm.VM.PublicIP, nvm.NodeCount)
	}
	fmt.Fprintln(w)
}

// PrintReport writes a human readable summary of the deployment
func (d *DeploymentInventory) PrintReport(w io.Writer) {
	fmt.Fprintln(w, "**************************************")
	fmt.Fprintln(w, "*                                    *")
	fmt.Fprintln(w, "*          Inventory Report          *")
	fmt.Fprintln(w, "*                                    *")
	fmt.Fprintln(w, "**************************************")
	fmt.Fprintf(w, "Name: %s\n", d.Name)
	if d.EnvironmentDetails != nil {
		fmt.Fprintf(w, "Deployment type: %s\n", d.EnvironmentDetails.DeploymentType)
		fmt.Fprintf(w, "Environment type: %s\n", d.EnvironmentDetails.EnvironmentType)
		fmt.Fprintf(w, "EVM network: %s\n", d.EnvironmentDetails.EvmDetails.Network)
	}

	switch opt := d.BinaryOption.(type) {
	case types.BuildFromSource:
		fmt.Fprintln(w, "Branch Details")
		fmt.Fprintln(w, "==============")
		fmt.Fprintf(w, "Repo owner: %s\n", opt.RepoOwner)
		fmt.Fprintf(w, "Branch name: %s\n", opt.Branch)
	case types.Versioned:
		fmt.Fprintln(w, "Version Details")
		fmt.Fprintln(w, "===============")
		fmt.Fprintf(w, "ant version: %s\n", types.VersionString(opt.SafeVersion))
		fmt.Fprintf(w, "antnode version: %s\n", types.VersionString(opt.SafenodeVersion))
		fmt.Fprintf(w, "antctl version: %s\n", types.VersionString(opt.SafenodeManagerVersion))
	}
	fmt.Fprintln(w)

	if d.GenesisVM != nil {
		printNodeVMs(w, "Genesis Node", []types.NodeVirtualMachine{*d.GenesisVM})
	}
	printNodeVMs(w, "Peer Cache Nodes", d.PeerCacheNodeVMs)
	printNodeVMs(w, "Generic Nodes", d.NodeVMs)
	printNodeVMs(w, "Private Nodes", d.PrivateNodeVMs)
	if d.NatGatewayVM != nil {
		fmt.Fprintf(w, "NAT gateway: %s: %s\n", d.NatGatewayVM.Name, d.NatGatewayVM.PublicIP)
	}
	for _, u := range d.UploaderVMs {
		fmt.Fprintf(w, "Uploader %s: %s\n", u.VM.Name, u.VM.PublicIP)
	}
	for _, vm := range d.MiscVMs {
		fmt.Fprintf(w, "%s: %s\n", vm.Name, vm.PublicIP)
	}
	fmt.Fprintf(w, "SSH user: %s\n", d.SSHUser)
	fmt.Fprintf(w, "Total nodes: %d\n", d.NodeCount())

	fmt.Fprintln(w, "Sample Peers")
	fmt.Fprintln(w, "============")
	peers := d.Peers()
	for i := 0; i < len(peers) && i < 10; i++ {
		fmt.Fprintln(w, peers[i])
	}

	if d.GenesisMultiaddr != "" {
		fmt.Fprintf(w, "\nGenesis multiaddr: %s\n", d.GenesisMultiaddr)
	}
	if d.FaucetAddress != "" {
		fmt.Fprintf(w, "Faucet address: %s\n", d.FaucetAddress)
	}
	if len(d.UploadedFiles) > 0 {
		fmt.Fprintln(w, "Uploaded files:")
		for _, f := range d.UploadedFiles {
			fmt.Fprintf(w, "%s: %s\n", f.Address, f.Name)
		}
	}
	if len(d.FailedNodeRegistryVMs) > 0 {
		fmt.Fprintln(w, "\nFailed to retrieve node registries from:")
		for _, vm := range d.FailedNodeRegistryVMs {
			fmt.Fprintf(w, "  %s\n", vm)
		}
	}
}
