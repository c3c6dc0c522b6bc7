package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedChecker struct {
	results []bool
	calls   int
}

func (s *scriptedChecker) Check(context.Context) Result {
	healthy := s.results[s.calls]
	s.calls++
	return Result{Healthy: healthy, Message: "scripted"}
}

func (s *scriptedChecker) Type() CheckType { return CheckTypeExec }

func noSleep(context.Context, time.Duration) error { return nil }

func TestPollSucceedsAfterFailures(t *testing.T) {
	checker := &scriptedChecker{results: []bool{false, false, true}}
	var failures []int

	result, err := Poll(context.Background(), checker, PollConfig{
		Attempts:  10,
		Interval:  5 * time.Second,
		Sleep:     noSleep,
		OnFailure: func(attempt int, _ Result) { failures = append(failures, attempt) },
	})
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Equal(t, 3, checker.calls)
	assert.Equal(t, []int{1, 2}, failures)
}

func TestPollExhaustsAttempts(t *testing.T) {
	checker := &scriptedChecker{results: make([]bool, 10)}
	var slept int

	_, err := Poll(context.Background(), checker, PollConfig{
		Attempts: 10,
		Interval: 5 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			assert.Equal(t, 5*time.Second, d)
			slept++
			return nil
		},
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 10, checker.calls)
	assert.Equal(t, 9, slept)
}

func TestPollStopsOnCancelledContext(t *testing.T) {
	checker := &scriptedChecker{results: make([]bool, 10)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Poll(ctx, checker, PollConfig{Attempts: 10, Interval: time.Second})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, checker.calls)
}

func TestExecChecker(t *testing.T) {
	runner := command.NewFakeRunner().
		On("ssh", command.Response{Err: &command.ExternalCommandRunFailedError{Binary: "ssh", ExitStatus: 255}}).
		On("ssh", command.Response{Output: []string{"GNU bash, version 5.1.16"}})

	checker := NewExecChecker([]string{"ssh", "root@10.0.0.1", "bash", "--version"}).WithRunner(runner)

	first := checker.Check(context.Background())
	assert.False(t, first.Healthy)

	second := checker.Check(context.Background())
	assert.True(t, second.Healthy)
	assert.Equal(t, []string{"GNU bash, version 5.1.16"}, second.Output)
	assert.Equal(t, CheckTypeExec, checker.Type())

	require.Len(t, runner.Calls, 2)
	assert.True(t, runner.Calls[0].Quiet)
}

func TestTCPChecker(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	assert.True(t, NewTCPChecker(listener.Addr().String()).Check(context.Background()).Healthy)

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := closed.Addr().String()
	_ = closed.Close()
	assert.False(t, NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background()).Healthy)
}
