/*
Package churn restarts node services across a live deployment to exercise
the network's tolerance of peers leaving and rejoining.

Restarts are issued through the node manager daemon on each node VM. The
daemons of the generic and peer cache node VMs are visited in address
order.

Fixed interval churn works through one VM at a time. The VM's running
nodes are restarted in batches of ConcurrentChurns, with Interval between
batches. The batch is capped by the VM's own running-node count.

Random interval churn reads the running nodes of every daemon, then
restarts ChurnCount of them in each TimeFrame. The restarts inside a frame
are spread over ChurnCount-1 random cut points, so the gaps are uneven but
the frame is always filled.

Every restart increments testnet_deploy_node_restarts_total and publishes a
node.restarted event.
*/
package churn
