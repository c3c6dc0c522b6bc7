/*
Package metrics exposes Prometheus collectors for deployment runs.

Collectors are package-level and registered in init:

	testnet_deploy_phase_duration_seconds{phase,result}
	testnet_deploy_playbook_runs_total{playbook,result}
	testnet_deploy_ssh_checks_total{result}
	testnet_deploy_node_restarts_total{result}
	testnet_deploy_registry_failures_total{inventory_type}
	testnet_deploy_inventory_vms{role}

Long commands (deploy, upscale, churn) can serve them with --metrics-addr,
which also exposes /status: a JSON summary of the phases recorded with
RecordPhase.

Timer pattern:

	timer := metrics.NewTimer()
	err := runPhase()
	timer.ObserveDurationVec(metrics.PhaseDuration, "genesis", metrics.Result(err))
*/
package metrics
