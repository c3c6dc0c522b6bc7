/*
Package storage provides the object store testnet-deploy keeps durable
records in.

	ObjectStore
	  ├── S3Store    bucket/key on S3 or an S3-compatible endpoint
	  └── BoltStore  bucket/key in a local BoltDB file

Environment details are written to the "sn-environment-type" bucket keyed
by environment name, so commands run later, from another machine, can
recover how an environment was created. The bolt backend serves offline
development and tests; values are stored as-is and copied out of the read
transaction before being returned.

Missing keys surface as ErrNotFound from both backends:

	data, err := store.Get(ctx, "sn-environment-type", "alpha")
	if errors.Is(err, storage.ErrNotFound) {
		// new environment
	}
*/
package storage
