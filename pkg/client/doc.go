/*
Package client provides JSON-RPC 2.0 clients for the node manager daemon
running on each node VM and for the RPC endpoint of each node service.

	┌────────────── testnet-deploy ──────────────┐
	│  churn / network commands                  │
	└──────┬──────────────────────────┬──────────┘
	       │ DaemonClient             │ NodeClient
	       ▼                          ▼
	 AntCtl.GetStatus           Node.UpdateLogLevel
	 AntCtl.RestartNodeService
	 (daemon endpoint, per VM)  (rpc endpoint, per node)

ConnectDaemon does not return until the daemon's socket accepts a TCP
connection or ConnectAttempts probes have failed, one second apart.
NodeClient is created without a connection check; the first call reports
an unreachable node.

	daemon, err := client.ConnectDaemon(ctx, endpoint)
	if err != nil {
		return err
	}
	running, err := daemon.RunningNodes(ctx)
*/
package client
