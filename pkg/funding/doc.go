/*
Package funding moves payment tokens and gas between a funding wallet and
the wallets of uploader services.

Each uploader service keeps its secret key in the SECRET_KEY variable of its
systemd unit. FundUploaders reads those keys over SSH, generates keys for the
services an upscale is about to add, and sends every wallet the configured
token and gas amounts. The keys are handed back so the uploaders playbook
can install the new services with them. DrainFunds returns the balances to
the funding wallet when an environment is cleaned.

Transfers are legacy transactions signed for the chain's id. Each one is
polled for a receipt before the next is sent, so a single wallet's nonces
never race.
*/
package funding
