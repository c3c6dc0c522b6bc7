package ssh

import (
	"context"
	"net/netip"
	"strings"
	"sync"
)

// FakeCall is one command run through a FakeExecutor
type FakeCall struct {
	IP      netip.Addr
	User    string
	Command string
	// Routed reports whether the host had a gateway in the executor's routes
	Routed bool
}

// FakeResponse is a canned command result
type FakeResponse struct {
	Output []string
	Err    error
}

type fakeState struct {
	mu        sync.Mutex
	waits     []netip.Addr
	calls     []FakeCall
	responses map[string][]FakeResponse
	waitErrs  map[netip.Addr]error
}

// FakeExecutor records SSH calls for tests. Executors returned by Routed
// share the recorded state.
type FakeExecutor struct {
	state  *fakeState
	routes RoutingTable
}

// NewFakeExecutor creates an empty FakeExecutor
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{state: &fakeState{
		responses: make(map[string][]FakeResponse),
		waitErrs:  make(map[netip.Addr]error),
	}}
}

// On queues a response for commands containing substr. Responses are
// consumed in order; the last one repeats.
func (f *FakeExecutor) On(substr string, resp FakeResponse) *FakeExecutor {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.responses[substr] = append(f.state.responses[substr], resp)
	return f
}

// FailWait makes WaitForSSHAvailability fail for ip
func (f *FakeExecutor) FailWait(ip netip.Addr, err error) *FakeExecutor {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.waitErrs[ip] = err
	return f
}

// WaitForSSHAvailability implements Executor
func (f *FakeExecutor) WaitForSSHAvailability(_ context.Context, ip netip.Addr, _ string) error {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.waits = append(f.state.waits, ip)
	return f.state.waitErrs[ip]
}

// RunCommand implements Executor
func (f *FakeExecutor) RunCommand(_ context.Context, ip netip.Addr, user, cmd string, _ bool) ([]string, error) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	_, routed := f.routes.GatewayFor(ip)
	f.state.calls = append(f.state.calls, FakeCall{IP: ip, User: user, Command: cmd, Routed: routed})

	best := ""
	for substr := range f.state.responses {
		if strings.Contains(cmd, substr) && len(substr) > len(best) {
			best = substr
		}
	}
	queue, ok := f.state.responses[best]
	if !ok || best == "" {
		return nil, nil
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.state.responses[best] = queue[1:]
	}
	return resp.Output, resp.Err
}

// Routed implements Executor
func (f *FakeExecutor) Routed(routes RoutingTable) Executor {
	return &FakeExecutor{state: f.state, routes: routes}
}

// Waits returns the hosts polled for SSH availability
func (f *FakeExecutor) Waits() []netip.Addr {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return append([]netip.Addr(nil), f.state.waits...)
}

// Calls returns the commands run so far
func (f *FakeExecutor) Calls() []FakeCall {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	return append([]FakeCall(nil), f.state.calls...)
}
