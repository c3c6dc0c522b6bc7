package ansible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/health"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// Tool binaries
const (
	PlaybookBinary  = "ansible-playbook"
	InventoryBinary = "ansible-inventory"
	AdHocBinary     = "ansible"
)

const (
	// DefaultForks is passed to ansible-playbook when no value is configured
	DefaultForks = 50

	inventoryRetryAttempts = 3
	inventoryRetryInterval = 3 * time.Second
)

// RunnerConfig describes how playbooks are invoked for one environment
type RunnerConfig struct {
	EnvironmentName   string
	Provider          types.CloudProvider
	WorkingDir        string
	SSHPrivateKeyPath string
	VaultPasswordPath string
	Forks             int
	Verbose           bool
	// Env is added to the tool's environment, e.g. provider credentials
	Env []string
}

// Runner invokes ansible-playbook and ansible-inventory for one environment
type Runner struct {
	cfg   RunnerConfig
	cmd   command.Runner
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner
func NewRunner(cfg RunnerConfig, runner command.Runner) (*Runner, error) {
	if cfg.EnvironmentName == "" {
		return nil, ErrEnvironmentNameRequired
	}
	if cfg.Forks <= 0 {
		cfg.Forks = DefaultForks
	}
	return &Runner{cfg: cfg, cmd: runner, sleep: health.SleepContext}, nil
}

// WithSleep replaces the sleep used between inventory retries
func (r *Runner) WithSleep(sleep func(context.Context, time.Duration) error) *Runner {
	r.sleep = sleep
	return r
}

// VerifyTools checks that the ansible binaries are on PATH
func VerifyTools() error {
	for _, bin := range []string{PlaybookBinary, InventoryBinary, AdHocBinary} {
		if _, err := command.LookupBinary(bin); err != nil {
			return err
		}
	}
	return nil
}

// EnvironmentName returns the environment the runner targets
func (r *Runner) EnvironmentName() string {
	return r.cfg.EnvironmentName
}

// Provider returns the runner's cloud provider
func (r *Runner) Provider() types.CloudProvider {
	return r.cfg.Provider
}

// WorkingDir returns the ansible directory playbooks run from
func (r *Runner) WorkingDir() string {
	return r.cfg.WorkingDir
}

// InventoryDir holds the environment's inventory files
func (r *Runner) InventoryDir() string {
	return filepath.Join(r.cfg.WorkingDir, "inventory")
}

// InventoryPath is the inventory file for t
func (r *Runner) InventoryPath(t types.InventoryType) string {
	return filepath.Join(r.InventoryDir(), t.Filename(r.cfg.EnvironmentName, r.cfg.Provider))
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (r *Runner) resolveInventory(t types.InventoryType) (string, error) {
	if t == types.InventoryPrivateNodes {
		static := r.InventoryPath(types.InventoryPrivateNodesStatic)
		if ok, _ := fileExists(static); ok {
			fmt.Println("Using static private node inventory to run playbook")
			return static, nil
		}
	}
	path := r.InventoryPath(t)
	ok, err := fileExists(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat inventory %s: %w", path, err)
	}
	if !ok {
		return "", &EnvironmentDoesNotExistError{Name: r.cfg.EnvironmentName}
	}
	return path, nil
}

// RunPlaybook runs playbook against the inventory for t. extraVars is the
// rendered --extra-vars document and may be empty.
func (r *Runner) RunPlaybook(ctx context.Context, playbook Playbook, t types.InventoryType, extraVars string) error {
	inventory, err := r.resolveInventory(t)
	if err != nil {
		return err
	}

	args := []string{
		"--inventory", inventory,
		"--private-key", r.cfg.SSHPrivateKeyPath,
		"--user", r.cfg.Provider.SSHUser(),
		"--vault-password-file", r.cfg.VaultPasswordPath,
	}
	if extraVars != "" {
		args = append(args, "--extra-vars", extraVars)
	}
	if r.cfg.Verbose {
		args = append(args, "-vvvvv")
	}
	args = append(args, "--forks", strconv.Itoa(r.cfg.Forks), playbook.Filename())

	logger := log.WithComponent("ansible.runner")
	logger.Debug().
		Str("playbook", playbook.String()).
		Str("inventory", t.String()).
		Msg("Running playbook")

	_, err = r.cmd.Run(ctx, command.Cmd{
		Binary: PlaybookBinary,
		Args:   args,
		Dir:    r.cfg.WorkingDir,
		Env:    r.cfg.Env,
	})
	metrics.PlaybookRunsTotal.WithLabelValues(playbook.String(), metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to run playbook %s: %w", playbook.Filename(), err)
	}
	return nil
}

// GetInventory lists the VMs in the inventory for t. When retry is set and
// the list is empty, it is queried again up to three more times, since the
// dynamic inventory can lag behind freshly created infrastructure. An empty
// result is not an error.
func (r *Runner) GetInventory(ctx context.Context, t types.InventoryType, retry bool) ([]types.VirtualMachine, error) {
	logger := log.WithComponent("ansible.inventory")
	path := r.InventoryPath(t)
	ok, err := fileExists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat inventory %s: %w", path, err)
	}
	if !ok {
		return nil, &EnvironmentDoesNotExistError{Name: r.cfg.EnvironmentName}
	}

	attempts := 1
	if retry {
		attempts += inventoryRetryAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		output, err := r.cmd.Run(ctx, command.Cmd{
			Binary: InventoryBinary,
			Args:   []string{"--inventory", path, "--list"},
			Dir:    r.cfg.WorkingDir,
			Env:    r.cfg.Env,
			Quiet:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s inventory: %w", t, err)
		}
		vms, err := ParseInventoryOutput(output)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s inventory: %w", t, err)
		}
		if len(vms) > 0 {
			return vms, nil
		}
		if attempt < attempts {
			logger.Debug().Str("inventory", t.String()).Int("attempt", attempt).Msg("Inventory empty, retrying")
			if err := r.sleep(ctx, inventoryRetryInterval); err != nil {
				return nil, err
			}
		}
	}
	logger.Warn().Str("inventory", t.String()).Msg("Inventory is empty")
	return nil, nil
}

type hostVars struct {
	AnsibleHost string `json:"ansible_host"`
	DoID        uint64 `json:"do_id"`
	DoName      string `json:"do_name"`
	DoNetworks  struct {
		V4 []struct {
			IPAddress string `json:"ip_address"`
			Type      string `json:"type"`
		} `json:"v4"`
	} `json:"do_networks"`
}

type inventoryList struct {
	Meta struct {
		HostVars map[string]hostVars `json:"hostvars"`
	} `json:"_meta"`
}

// ParseInventoryOutput extracts VMs from `ansible-inventory --list` output.
// Lines before the first one starting with "{" are discarded, as is
// anything after the last "}".
func ParseInventoryOutput(lines []string) ([]types.VirtualMachine, error) {
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, nil
	}
	doc := strings.Join(lines[start:], "\n")
	end := strings.LastIndex(doc, "}")
	if end < 0 {
		return nil, errors.New("inventory output has no closing brace")
	}
	doc = doc[:end+1]

	var list inventoryList
	if err := json.Unmarshal([]byte(doc), &list); err != nil {
		return nil, fmt.Errorf("failed to decode inventory JSON: %w", err)
	}

	vms := make([]types.VirtualMachine, 0, len(list.Meta.HostVars))
	for host, vars := range list.Meta.HostVars {
		vm, err := vars.virtualMachine(host)
		if err != nil {
			return nil, err
		}
		vms = append(vms, vm)
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].Name < vms[j].Name })
	return vms, nil
}

func (h hostVars) virtualMachine(host string) (types.VirtualMachine, error) {
	vm := types.VirtualMachine{ID: h.DoID, Name: h.DoName}
	if vm.Name == "" {
		vm.Name = host
	}
	for _, n := range h.DoNetworks.V4 {
		addr, err := netip.ParseAddr(n.IPAddress)
		if err != nil {
			return vm, fmt.Errorf("invalid %s address for %s: %w", n.Type, vm.Name, err)
		}
		switch n.Type {
		case "public":
			vm.PublicIP = addr
		case "private":
			vm.PrivateIP = addr
		}
	}
	if !vm.PublicIP.IsValid() {
		if h.AnsibleHost == "" {
			return vm, fmt.Errorf("no address for host %s", host)
		}
		addr, err := netip.ParseAddr(h.AnsibleHost)
		if err != nil {
			return vm, fmt.Errorf("invalid ansible_host for %s: %w", host, err)
		}
		vm.PublicIP = addr
	}
	return vm, nil
}
