package ansible

import (
	"context"
	"sync"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

// PlaybookCall is one playbook run recorded by a FakeRunner
type PlaybookCall struct {
	Playbook  Playbook
	Inventory types.InventoryType
	ExtraVars string
}

// FakeRunner stands in for Runner in tests. Inventories are served from a
// map and playbook runs are recorded in order.
type FakeRunner struct {
	Name          string
	CloudProvider types.CloudProvider
	Dir           string

	mu          sync.Mutex
	inventories map[types.InventoryType][]types.VirtualMachine
	failures    map[Playbook]error
	hooks       map[Playbook]func(PlaybookCall) error
	calls       []PlaybookCall
	queries     []types.InventoryType
}

// NewFakeRunner creates a FakeRunner for env
func NewFakeRunner(env string, provider types.CloudProvider, inventoryDir string) *FakeRunner {
	return &FakeRunner{
		Name:          env,
		CloudProvider: provider,
		Dir:           inventoryDir,
		inventories:   make(map[types.InventoryType][]types.VirtualMachine),
		failures:      make(map[Playbook]error),
		hooks:         make(map[Playbook]func(PlaybookCall) error),
	}
}

// SetInventory sets the VMs returned for t
func (f *FakeRunner) SetInventory(t types.InventoryType, vms ...types.VirtualMachine) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inventories[t] = vms
	return f
}

// Fail makes every run of playbook return err
func (f *FakeRunner) Fail(playbook Playbook, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[playbook] = err
	return f
}

// OnRun registers a hook invoked on each run of playbook; its error is returned
func (f *FakeRunner) OnRun(playbook Playbook, hook func(PlaybookCall) error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[playbook] = hook
	return f
}

// RunPlaybook records the call
func (f *FakeRunner) RunPlaybook(_ context.Context, playbook Playbook, t types.InventoryType, extraVars string) error {
	f.mu.Lock()
	call := PlaybookCall{Playbook: playbook, Inventory: t, ExtraVars: extraVars}
	f.calls = append(f.calls, call)
	hook := f.hooks[playbook]
	err := f.failures[playbook]
	f.mu.Unlock()

	if hook != nil {
		if hookErr := hook(call); hookErr != nil {
			return hookErr
		}
	}
	return err
}

// GetInventory returns the VMs set for t
func (f *FakeRunner) GetInventory(_ context.Context, t types.InventoryType, _ bool) ([]types.VirtualMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, t)
	return append([]types.VirtualMachine(nil), f.inventories[t]...), nil
}

// EnvironmentName returns Name
func (f *FakeRunner) EnvironmentName() string { return f.Name }

// Provider returns CloudProvider
func (f *FakeRunner) Provider() types.CloudProvider { return f.CloudProvider }

// InventoryDir returns Dir
func (f *FakeRunner) InventoryDir() string { return f.Dir }

// Calls returns the recorded playbook runs
func (f *FakeRunner) Calls() []PlaybookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PlaybookCall(nil), f.calls...)
}

// Playbooks returns the names of the recorded playbook runs in order
func (f *FakeRunner) Playbooks() []Playbook {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]Playbook, 0, len(f.calls))
	for _, c := range f.calls {
		names = append(names, c.Playbook)
	}
	return names
}

// Queries returns the inventory types queried so far
func (f *FakeRunner) Queries() []types.InventoryType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.InventoryType(nil), f.queries...)
}
