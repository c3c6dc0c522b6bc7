/*
Package ansible drives the configuration-management side of a testnet.

It has three parts:

  - ExtraVars builds the --extra-vars JSON document for a playbook run and
    resolves artefact URLs or versions from a types.BinaryOption.
  - The inventory helpers materialise per-role dynamic inventory files from
    the provider template, plus the static INI inventories for custom VM
    sets and for private nodes behind a NAT gateway.
  - Runner invokes ansible-playbook and ansible-inventory for a single
    environment. Inventory listings are parsed from the tool's mixed output
    and retried while empty.

Inventory files are named .<env>_<tag>_inventory_<provider>.yml and live in
<working_dir>/inventory. A missing file means the environment was never
initialised on this machine and yields EnvironmentDoesNotExistError.
*/
package ansible
