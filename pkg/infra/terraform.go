package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/log"
)

// Var is one -var argument for apply, plan and destroy
type Var struct {
	Name  string
	Value string
}

// Resource is a managed resource reported by `terraform show -json`
type Resource struct {
	Type   string
	Name   string
	Values map[string]any
}

// TerraformConfig configures a Terraform runner
type TerraformConfig struct {
	// Binary is a name on PATH or an absolute path
	Binary string
	// WorkingDir is the root module for the provider
	WorkingDir  string
	StateBucket string
	// Env carries provider credentials for every invocation
	Env []string
}

// Terraform drives the terraform CLI in a single root module
type Terraform struct {
	cfg TerraformConfig
	cmd command.Runner
}

// NewTerraform creates a runner
func NewTerraform(cfg TerraformConfig, runner command.Runner) *Terraform {
	if cfg.Binary == "" {
		cfg.Binary = "terraform"
	}
	return &Terraform{cfg: cfg, cmd: runner}
}

// VerifyBinary checks that the terraform binary can be found
func (t *Terraform) VerifyBinary() error {
	_, err := command.LookupBinary(t.cfg.Binary)
	return err
}

func (t *Terraform) run(ctx context.Context, quiet bool, args ...string) ([]string, error) {
	logger := log.WithComponent("infra.terraform")
	logger.Debug().
		Str("dir", t.cfg.WorkingDir).
		Strs("args", args).
		Msg("Running terraform")
	out, err := t.cmd.Run(ctx, command.Cmd{
		Binary: t.cfg.Binary,
		Args:   args,
		Dir:    t.cfg.WorkingDir,
		Env:    t.cfg.Env,
		Quiet:  quiet,
	})
	if err != nil {
		return out, fmt.Errorf("failed to run terraform %s: %w", args[0], err)
	}
	return out, nil
}

func varArgs(vars []Var, tfvarsFile string) []string {
	var args []string
	if tfvarsFile != "" {
		args = append(args, "-var-file", tfvarsFile)
	}
	for _, v := range vars {
		args = append(args, "-var", v.Name+"="+v.Value)
	}
	return args
}

// Init initialises the backend against the state bucket
func (t *Terraform) Init(ctx context.Context) error {
	_, err := t.run(ctx, false, "init", "-backend-config", "bucket="+t.cfg.StateBucket)
	return err
}

// Apply applies the configuration with the given variables
func (t *Terraform) Apply(ctx context.Context, vars []Var, tfvarsFile string) error {
	args := append([]string{"apply", "-auto-approve"}, varArgs(vars, tfvarsFile)...)
	_, err := t.run(ctx, false, args...)
	return err
}

// Plan prints the changes Apply would make
func (t *Terraform) Plan(ctx context.Context, vars []Var, tfvarsFile string) error {
	args := append([]string{"plan"}, varArgs(vars, tfvarsFile)...)
	_, err := t.run(ctx, false, args...)
	return err
}

// Destroy tears down every resource in the selected workspace
func (t *Terraform) Destroy(ctx context.Context, tfvarsFile string) error {
	args := append([]string{"destroy", "-auto-approve"}, varArgs(nil, tfvarsFile)...)
	_, err := t.run(ctx, false, args...)
	return err
}

// WorkspaceList returns the workspace names, without the current-workspace marker
func (t *Terraform) WorkspaceList(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, true, "workspace", "list")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range out {
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// WorkspaceNew creates and selects a workspace
func (t *Terraform) WorkspaceNew(ctx context.Context, name string) error {
	_, err := t.run(ctx, false, "workspace", "new", name)
	return err
}

// WorkspaceSelect selects an existing workspace
func (t *Terraform) WorkspaceSelect(ctx context.Context, name string) error {
	_, err := t.run(ctx, false, "workspace", "select", name)
	return err
}

// WorkspaceDelete deletes a workspace; the default workspace must be selected first
func (t *Terraform) WorkspaceDelete(ctx context.Context, name string) error {
	_, err := t.run(ctx, true, "workspace", "delete", name)
	return err
}

// EnsureWorkspace runs init and creates the workspace if it does not exist yet
func (t *Terraform) EnsureWorkspace(ctx context.Context, name string) error {
	if err := t.Init(ctx); err != nil {
		return err
	}
	workspaces, err := t.WorkspaceList(ctx)
	if err != nil {
		return err
	}
	for _, ws := range workspaces {
		if ws == name {
			return nil
		}
	}
	return t.WorkspaceNew(ctx, name)
}

type showOutput struct {
	Values *struct {
		RootModule struct {
			Resources []struct {
				Mode   string         `json:"mode"`
				Type   string         `json:"type"`
				Name   string         `json:"name"`
				Values map[string]any `json:"values"`
			} `json:"resources"`
		} `json:"root_module"`
	} `json:"values"`
}

// Show selects the workspace and returns its managed resources
func (t *Terraform) Show(ctx context.Context, workspace string) ([]Resource, error) {
	if err := t.WorkspaceSelect(ctx, workspace); err != nil {
		return nil, err
	}
	out, err := t.run(ctx, true, "show", "-json")
	if err != nil {
		return nil, err
	}
	return ParseShowOutput(strings.Join(out, "\n"))
}

// ParseShowOutput decodes `terraform show -json`, keeping managed resources only
func ParseShowOutput(doc string) ([]Resource, error) {
	var show showOutput
	if err := json.Unmarshal([]byte(doc), &show); err != nil {
		return nil, fmt.Errorf("failed to decode terraform show output: %w", err)
	}
	if show.Values == nil {
		return nil, nil
	}
	var resources []Resource
	for _, r := range show.Values.RootModule.Resources {
		if r.Mode != "" && r.Mode != "managed" {
			continue
		}
		resources = append(resources, Resource{Type: r.Type, Name: r.Name, Values: r.Values})
	}
	return resources, nil
}
