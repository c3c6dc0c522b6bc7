package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/config"
	"github.com/cuemby/testnet-deploy/pkg/deploy"
	"github.com/cuemby/testnet-deploy/pkg/events"
	"github.com/cuemby/testnet-deploy/pkg/infra"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
	"github.com/cuemby/testnet-deploy/pkg/provision"
	"github.com/cuemby/testnet-deploy/pkg/ssh"
	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// environment is everything a command needs to act on one named environment
type environment struct {
	name        string
	cfg         *config.Config
	provider    types.CloudProvider
	runner      command.Runner
	terraform   *infra.Terraform
	ansible     *ansible.Runner
	ssh         *ssh.Client
	provisioner *provision.Provisioner
	store       storage.ObjectStore
	inventory   *inventory.Service
	deployer    *deploy.Deployer
	broker      *events.Broker
	dataDir     string
}

// openEnvironment loads the configuration and builds the terraform, ansible,
// SSH, storage and inventory layers for name. The caller must close it.
func openEnvironment(ctx context.Context, name string) (*environment, error) {
	if name == "" {
		return nil, fmt.Errorf("an environment name is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := cfg.CloudProvider()
	if err != nil {
		return nil, err
	}
	toolEnv, err := cfg.Credentials.ToolEnv(provider)
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.DataDirectory()
	if err != nil {
		return nil, err
	}

	if err := ansible.VerifyTools(); err != nil {
		return nil, err
	}
	runner := command.NewExecRunner()
	terraform := infra.NewTerraform(infra.TerraformConfig{
		Binary:      cfg.TerraformBinary,
		WorkingDir:  cfg.TerraformDir(provider),
		StateBucket: cfg.TerraformStateBucket,
		Env:         toolEnv,
	}, runner)
	if err := terraform.VerifyBinary(); err != nil {
		return nil, err
	}

	ansibleRunner, err := ansible.NewRunner(ansible.RunnerConfig{
		EnvironmentName:   name,
		Provider:          provider,
		WorkingDir:        cfg.AnsibleDir(),
		SSHPrivateKeyPath: cfg.SSHKeyPath,
		VaultPasswordPath: cfg.VaultPasswordPath,
		Forks:             cfg.Ansible.Forks,
		Verbose:           cfg.Ansible.Verbose,
		Env:               toolEnv,
	}, runner)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	go logEvents(broker)

	sshClient := ssh.NewClient(cfg.SSHKeyPath, runner)
	provisioner := provision.NewProvisioner(ansibleRunner, sshClient, cfg.SSHKeyPath, broker)
	inv := inventory.NewService(provisioner, store, dataDir, cfg.SSHKeyPath, broker)

	return &environment{
		name:        name,
		cfg:         cfg,
		provider:    provider,
		runner:      runner,
		terraform:   terraform,
		ansible:     ansibleRunner,
		ssh:         sshClient,
		provisioner: provisioner,
		store:       store,
		inventory:   inv,
		deployer:    deploy.NewDeployer(terraform, cfg.TerraformDir(provider), provisioner, inv, store, broker),
		broker:      broker,
		dataDir:     dataDir,
	}, nil
}

// openStore opens the configured object store backend
func openStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	return storage.Open(ctx, storage.Config{
		Backend:  cfg.Storage.Backend,
		Endpoint: cfg.Storage.Endpoint,
		BoltPath: cfg.Storage.BoltPath,
		S3: storage.S3Credentials{
			AccessKeyID:     cfg.Credentials.AWSAccessKeyID,
			SecretAccessKey: cfg.Credentials.AWSSecretAccessKey,
			Region:          cfg.Credentials.AWSRegion,
		},
	})
}

func (e *environment) Close() {
	e.broker.Stop()
	if err := e.store.Close(); err != nil {
		logger := log.WithComponent("storage")
		logger.Warn().Err(err).Msg("Failed to close object store")
	}
}

// initWorkspace runs terraform init and selects the environment's workspace,
// creating it when needed
func (e *environment) initWorkspace(ctx context.Context) error {
	return e.terraform.EnsureWorkspace(ctx, e.name)
}

// currentInventory returns the cached inventory, regenerating it from live
// state when force is set
func (e *environment) currentInventory(ctx context.Context, force bool) (*inventory.DeploymentInventory, error) {
	return e.inventory.GenerateOrRetrieve(ctx, e.name, force, nil)
}

func logEvents(broker *events.Broker) {
	sub := broker.Subscribe()
	logger := log.WithComponent("events")
	for event := range sub {
		entry := logger.Debug().
			Str("type", string(event.Type)).
			Str("environment", event.Environment).
			Str("run_id", event.RunID)
		for k, v := range event.Metadata {
			entry = entry.Str(k, v)
		}
		entry.Msg(event.Message)
	}
}

// serveMetrics exposes prometheus metrics while a long command runs
func serveMetrics(cmd *cobra.Command) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		return
	}
	metrics.Serve(cmd.Context(), addr)
}

func addMetricsFlag(cmd *cobra.Command) {
	cmd.Flags().String("metrics-addr", "", "Serve /metrics and /status on this address while the command runs")
}

func addNameFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("name", "n", "", "The name of the environment")
	_ = cmd.MarkFlagRequired("name")
}

func environmentName(cmd *cobra.Command) string {
	name, _ := cmd.Flags().GetString("name")
	return name
}

func success(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}
