package main

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/provision"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

func addBinaryFlags(cmd *cobra.Command) {
	cmd.Flags().String("repo-owner", "", "Owner of the fork the binaries are built from (requires --branch)")
	cmd.Flags().String("branch", "", "Branch the binaries are built from (requires --repo-owner)")
	cmd.Flags().String("safenode-features", "", "Comma-separated cargo features for the node binary")
	cmd.Flags().Bool("skip-binary-build", false, "Reuse binaries uploaded by a previous build of the same branch")
	cmd.Flags().String("safe-version", "", "Released version of the client binary")
	cmd.Flags().String("safenode-version", "", "Released version of the node binary")
	cmd.Flags().String("safenode-manager-version", "", "Released version of the node manager binary")
	cmd.Flags().String("faucet-version", "", "Released version of the faucet binary")
	cmd.Flags().String("auditor-version", "", "Released version of the auditor binary")
}

// binaryOptionFromFlags resolves the binary flags. With a branch build,
// --safe-version only selects the client released to uploaders.
func binaryOptionFromFlags(cmd *cobra.Command) (types.BinaryOption, string, error) {
	var args types.BinaryOptionArgs
	args.RepoOwner, _ = cmd.Flags().GetString("repo-owner")
	args.Branch, _ = cmd.Flags().GetString("branch")
	args.SafenodeFeatures, _ = cmd.Flags().GetString("safenode-features")
	args.SkipBinaryBuild, _ = cmd.Flags().GetBool("skip-binary-build")
	args.SafenodeVersion, _ = cmd.Flags().GetString("safenode-version")
	args.SafenodeManagerVersion, _ = cmd.Flags().GetString("safenode-manager-version")
	args.FaucetVersion, _ = cmd.Flags().GetString("faucet-version")
	args.AuditorVersion, _ = cmd.Flags().GetString("auditor-version")

	safeVersion, _ := cmd.Flags().GetString("safe-version")
	if args.Branch == "" {
		args.SafeVersion = safeVersion
		safeVersion = ""
	}
	opt, err := args.Resolve()
	if err != nil {
		return nil, "", err
	}
	return opt, safeVersion, nil
}

func addEvmFlags(cmd *cobra.Command) {
	cmd.Flags().String("evm-network-type", string(types.EvmNetworkArbitrumOne), "EVM network (anvil, arbitrum-one, arbitrum-sepolia, custom)")
	cmd.Flags().String("evm-data-payments-address", "", "Data payments contract address of a custom network")
	cmd.Flags().String("evm-payment-token-address", "", "Payment token contract address of a custom network")
	cmd.Flags().String("evm-rpc-url", "", "RPC URL of a custom network")
}

func evmDetailsFromFlags(cmd *cobra.Command) (types.EvmDetails, error) {
	network, _ := cmd.Flags().GetString("evm-network-type")
	kind, err := types.ParseEvmNetwork(network)
	if err != nil {
		return types.EvmDetails{}, err
	}
	details := types.EvmDetails{Network: kind}
	details.DataPaymentsAddress, _ = cmd.Flags().GetString("evm-data-payments-address")
	details.PaymentTokenAddress, _ = cmd.Flags().GetString("evm-payment-token-address")
	details.RPCURL, _ = cmd.Flags().GetString("evm-rpc-url")

	if kind == types.EvmNetworkCustom &&
		(details.DataPaymentsAddress == "" || details.PaymentTokenAddress == "" || details.RPCURL == "") {
		return types.EvmDetails{}, fmt.Errorf("a custom EVM network requires --evm-data-payments-address, --evm-payment-token-address and --evm-rpc-url")
	}
	return details, nil
}

// optionalInt returns nil unless the flag was set
func optionalInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func optionalString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

// parseEnvVariables parses KEY=VALUE pairs
func parseEnvVariables(pairs []string) ([]ansible.EnvVar, error) {
	vars := make([]ansible.EnvVar, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("environment variable %q must be in the form KEY=VALUE", pair)
		}
		vars = append(vars, ansible.EnvVar{Key: key, Value: value})
	}
	return vars, nil
}

func parseLogstash(cmd *cobra.Command) (*provision.LogstashDetails, error) {
	stack, _ := cmd.Flags().GetString("logstash-stack-name")
	if stack == "" {
		return nil, nil
	}
	hosts, _ := cmd.Flags().GetStringSlice("logstash-host")
	if len(hosts) == 0 {
		return nil, fmt.Errorf("--logstash-stack-name requires at least one --logstash-host")
	}
	details := &provision.LogstashDetails{StackName: stack}
	for _, h := range hosts {
		addr, err := netip.ParseAddrPort(h)
		if err != nil {
			return nil, fmt.Errorf("invalid logstash host %q: %w", h, err)
		}
		details.Hosts = append(details.Hosts, addr)
	}
	return details, nil
}

// applyDeploymentFile reads a YAML document whose keys are flag names and
// sets every flag not given on the command line
func applyDeploymentFile(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read deployment file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse deployment file: %w", err)
	}
	for key, value := range values {
		flag := cmd.Flags().Lookup(key)
		if flag == nil {
			return fmt.Errorf("unknown setting %q in %s", key, path)
		}
		if flag.Changed {
			continue
		}
		if err := setFlag(cmd.Flags(), key, value); err != nil {
			return fmt.Errorf("invalid value for %q in %s: %w", key, path, err)
		}
	}
	return nil
}

func setFlag(flags *pflag.FlagSet, name string, value any) error {
	list, ok := value.([]any)
	if !ok {
		return flags.Set(name, fmt.Sprint(value))
	}
	for _, item := range list {
		if err := flags.Set(name, fmt.Sprint(item)); err != nil {
			return err
		}
	}
	return nil
}
