/*
Package events provides an in-process publish/subscribe broker for run
lifecycle events.

A Deployer publishes phase.started, phase.completed and phase.failed around
every provisioning phase, vm.ssh_ready when a VM answers SSH, node.restarted
during churn and inventory.generated after reconciliation. The CLI subscribes
and logs each event with the run ID, so a long deploy can be followed in
structured logs:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			log.Logger.Info().
				Str("run_id", ev.RunID).
				Str("event", string(ev.Type)).
				Msg(ev.Message)
		}
	}()

Delivery is best effort. Each subscriber has a 50-event buffer and events are
dropped for a subscriber whose buffer is full; the run never blocks on a slow
listener. A nil *Broker accepts and discards events.
*/
package events
