package infra

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

const (
	// StorageRequiredPerNode is the disk, in GB, each node service needs
	StorageRequiredPerNode = 7
	// VolumesPerVM is the number of volumes attached to every node VM
	VolumesPerVM = 7
)

// TerraformResourceFieldMissingError is returned when an introspected
// resource lacks an attribute the options depend on
type TerraformResourceFieldMissingError struct {
	Resource string
	Field    string
}

func (e *TerraformResourceFieldMissingError) Error() string {
	return fmt.Sprintf("terraform resource %s has no '%s' value", e.Resource, e.Field)
}

// TerraformResourceValueMismatchError is returned when instances of the same
// resource disagree on an attribute that must be uniform
type TerraformResourceValueMismatchError struct {
	Resource string
	Expected string
	Actual   string
}

func (e *TerraformResourceValueMismatchError) Error() string {
	return fmt.Sprintf("terraform resource %s value mismatch: expected %s, got %s", e.Resource, e.Expected, e.Actual)
}

// InfraRunOptions are the variables for one apply. A nil field is left to
// the tfvars file, so an upscale can change one dimension and leave the
// others untouched.
type InfraRunOptions struct {
	Name          string
	TfvarsFile    string
	EnableBuildVM bool

	GenesisVMCount       *int
	BootstrapNodeVMCount *int
	NodeVMCount          *int
	PrivateNodeVMCount   *int
	EvmNodeCount         *int
	UploaderVMCount      *int

	BootstrapNodeVMSize *string
	NodeVMSize          *string
	EvmNodeVMSize       *string
	UploaderVMSize      *string

	GenesisNodeVolumeSize   *int
	BootstrapNodeVolumeSize *int
	NodeVolumeSize          *int
	PrivateNodeVolumeSize   *int
}

// Int returns a pointer to v
func Int(v int) *int { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

// VolumeSize is the size of each attached volume for nodeCount nodes per VM
func VolumeSize(nodeCount int) int {
	if nodeCount <= 0 {
		return 0
	}
	total := nodeCount * StorageRequiredPerNode
	return (total + VolumesPerVM - 1) / VolumesPerVM
}

// Vars renders the options as terraform variables
func (o InfraRunOptions) Vars() []Var {
	var vars []Var
	addInt := func(name string, v *int) {
		if v != nil {
			vars = append(vars, Var{Name: name, Value: strconv.Itoa(*v)})
		}
	}
	addString := func(name string, v *string) {
		if v != nil {
			vars = append(vars, Var{Name: name, Value: *v})
		}
	}

	addInt("genesis_vm_count", o.GenesisVMCount)
	addInt("bootstrap_node_vm_count", o.BootstrapNodeVMCount)
	addInt("node_vm_count", o.NodeVMCount)
	if o.PrivateNodeVMCount != nil {
		addInt("private_node_vm_count", o.PrivateNodeVMCount)
		vars = append(vars, Var{Name: "setup_nat_gateway", Value: strconv.FormatBool(*o.PrivateNodeVMCount > 0)})
	}
	addInt("evm_node_vm_count", o.EvmNodeCount)
	addInt("uploader_vm_count", o.UploaderVMCount)
	vars = append(vars, Var{Name: "use_custom_bin", Value: strconv.FormatBool(o.EnableBuildVM)})

	addString("node_droplet_size", o.NodeVMSize)
	addString("bootstrap_droplet_size", o.BootstrapNodeVMSize)
	addString("uploader_droplet_size", o.UploaderVMSize)
	addString("evm_node_droplet_size", o.EvmNodeVMSize)

	addInt("bootstrap_node_volume_size", o.BootstrapNodeVolumeSize)
	addInt("genesis_node_volume_size", o.GenesisNodeVolumeSize)
	addInt("node_volume_size", o.NodeVolumeSize)
	addInt("private_node_volume_size", o.PrivateNodeVolumeSize)
	return vars
}

// Shower introspects the resources of a workspace
type Shower interface {
	Show(ctx context.Context, workspace string) ([]Resource, error)
}

// GenerateExisting reconstructs the options of an applied environment from
// its resources. VM sizes are left nil so they keep coming from the tfvars file.
func GenerateExisting(ctx context.Context, name, terraformDir string, shower Shower, details types.EnvironmentDetails) (InfraRunOptions, error) {
	resources, err := shower.Show(ctx, name)
	if err != nil {
		return InfraRunOptions{}, err
	}

	count := func(resource string) int {
		n := 0
		for _, r := range resources {
			if r.Name == resource {
				n++
			}
		}
		return n
	}
	volumeSize := func(vmCount int, resource string) (*int, error) {
		if vmCount == 0 {
			return nil, nil
		}
		v, err := uniformValue(resources, resource, "size")
		if err != nil {
			return nil, err
		}
		size, ok := v.(float64)
		if !ok {
			return nil, &TerraformResourceFieldMissingError{Resource: resource, Field: "size"}
		}
		return Int(int(size)), nil
	}

	opts := InfraRunOptions{
		Name:                 name,
		TfvarsFile:           details.EnvironmentType.TfvarsFilename(name, terraformDir),
		EnableBuildVM:        count("build") > 0,
		GenesisVMCount:       Int(count("genesis_bootstrap")),
		BootstrapNodeVMCount: Int(count("bootstrap_node")),
		NodeVMCount:          Int(count("node")),
		PrivateNodeVMCount:   Int(count("private_node")),
		EvmNodeCount:         Int(count("evm_node")),
		UploaderVMCount:      Int(count("uploader")),
	}
	if opts.GenesisNodeVolumeSize, err = volumeSize(*opts.GenesisVMCount, "genesis_node_attached_volume"); err != nil {
		return InfraRunOptions{}, err
	}
	if opts.BootstrapNodeVolumeSize, err = volumeSize(*opts.BootstrapNodeVMCount, "bootstrap_node_attached_volume"); err != nil {
		return InfraRunOptions{}, err
	}
	if opts.NodeVolumeSize, err = volumeSize(*opts.NodeVMCount, "node_attached_volume"); err != nil {
		return InfraRunOptions{}, err
	}
	if opts.PrivateNodeVolumeSize, err = volumeSize(*opts.PrivateNodeVMCount, "private_node_attached_volume"); err != nil {
		return InfraRunOptions{}, err
	}
	return opts, nil
}

func uniformValue(resources []Resource, resource, field string) (any, error) {
	var value any
	found := false
	for _, r := range resources {
		if r.Name != resource {
			continue
		}
		v, ok := r.Values[field]
		if !ok {
			logger := log.WithComponent("infra")
			logger.Error().Str("resource", resource).Str("field", field).Msg("Failed to obtain resource value")
			return nil, &TerraformResourceFieldMissingError{Resource: resource, Field: field}
		}
		if found && !reflect.DeepEqual(value, v) {
			return nil, &TerraformResourceValueMismatchError{
				Resource: resource,
				Expected: fmt.Sprint(value),
				Actual:   fmt.Sprint(v),
			}
		}
		value = v
		found = true
	}
	if !found {
		return nil, &TerraformResourceFieldMissingError{Resource: resource, Field: field}
	}
	return value, nil
}

// Applier is the subset of Terraform used to create or update infrastructure
type Applier interface {
	WorkspaceSelect(ctx context.Context, name string) error
	Apply(ctx context.Context, vars []Var, tfvarsFile string) error
}

// CreateOrUpdate selects the environment's workspace and applies opts
func CreateOrUpdate(ctx context.Context, tf Applier, opts InfraRunOptions) error {
	start := time.Now()
	fmt.Printf("Selecting %s workspace...\n", opts.Name)
	if err := tf.WorkspaceSelect(ctx, opts.Name); err != nil {
		return err
	}
	fmt.Println("Running terraform apply...")
	if err := tf.Apply(ctx, opts.Vars(), opts.TfvarsFile); err != nil {
		return err
	}
	fmt.Printf("Time taken: %s\n", time.Since(start).Round(time.Second))
	return nil
}
