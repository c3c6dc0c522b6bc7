package command

import (
	"context"
	"strings"
	"sync"
)

// Response is a canned result for a FakeRunner
type Response struct {
	Output []string
	Err    error
}

// FakeRunner records invocations and replays canned responses.
// Responses are matched by the longest registered prefix of Cmd.String().
type FakeRunner struct {
	mu        sync.Mutex
	Calls     []Cmd
	responses map[string][]Response
}

// NewFakeRunner creates an empty FakeRunner
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string][]Response)}
}

// On queues a response for commands whose rendered form starts with prefix.
// Queued responses are consumed in order; the last one repeats.
func (f *FakeRunner) On(prefix string, resp Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = append(f.responses[prefix], resp)
	return f
}

// Run implements Runner
func (f *FakeRunner) Run(_ context.Context, c Cmd) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)

	rendered := c.String()
	best := ""
	found := false
	for prefix := range f.responses {
		if strings.HasPrefix(rendered, prefix) && (!found || len(prefix) > len(best)) {
			best = prefix
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	queue := f.responses[best]
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[best] = queue[1:]
	}
	return resp.Output, resp.Err
}

// CallsTo returns the recorded invocations of binary
func (f *FakeRunner) CallsTo(binary string) []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var calls []Cmd
	for _, c := range f.Calls {
		if c.Binary == binary {
			calls = append(calls, c)
		}
	}
	return calls
}
