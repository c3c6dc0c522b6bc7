/*
Package health provides the probes testnet-deploy uses to decide whether a
remote endpoint is ready before acting on it.

Three probes implement the Checker interface:

	┌──────────────────────────────────────────────┐
	│               Checker Interface              │
	│  • Check(ctx) Result                         │
	│  • Type() CheckType                          │
	└────────┬─────────────────────────────────────┘
	         │
	    ┌────┴──────┬───────────┐
	    ▼           ▼           ▼
	┌────────┐  ┌───────┐  ┌────────┐
	│  Exec  │  │  TCP  │  │  HTTP  │
	└────────┘  └───────┘  └────────┘
	    │           │           │
	    ▼           ▼           ▼
	 ssh ... bash  daemon     GET bootstrap
	 --version     endpoint   cache file

Poll wraps any Checker in a bounded retry loop. It never blocks forever:
after PollConfig.Attempts unhealthy results it returns ErrRetriesExhausted.

	checker := health.NewExecChecker(argv).WithTimeout(10 * time.Second)
	_, err := health.Poll(ctx, checker, health.PollConfig{
		Attempts: 10,
		Interval: 5 * time.Second,
		OnFailure: func(attempt int, r health.Result) {
			fmt.Printf("SSH is still unavailable after %d attempts\n", attempt)
		},
	})

ExecChecker runs through a command.Runner, so tests substitute
command.FakeRunner instead of spawning processes.
*/
package health
