// Package config loads testnet-deploy settings from a config file, the
// TESTNET_DEPLOY_* environment and the variable names operators already
// export (SSH_KEY_PATH, DO_PAT, ...). Credentials are kept in a struct and
// handed to the tools that need them.
package config
