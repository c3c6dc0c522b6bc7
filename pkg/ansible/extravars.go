package ansible

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

// Artefact buckets
const (
	NodeS3BucketURL        = "https://sn-node.s3.eu-west-2.amazonaws.com"
	NodeManagerS3BucketURL = "https://sn-node-manager.s3.eu-west-2.amazonaws.com"
	RPCClientS3BucketURL   = "https://sn-node-rpc-client.s3.eu-west-2.amazonaws.com"
	AutonomiS3BucketURL    = "https://autonomi-cli.s3.eu-west-2.amazonaws.com"
	FaucetS3BucketURL      = "https://sn-faucet.s3.eu-west-2.amazonaws.com"
	AuditorS3BucketURL     = "https://sn-auditor.s3.eu-west-2.amazonaws.com"

	archiveSuffix = "x86_64-unknown-linux-musl.tar.gz"
)

var (
	// ErrNoFaucetVersion is returned for Versioned binaries without a faucet version
	ErrNoFaucetVersion = errors.New("a faucet version was not supplied for versioned binaries")
	// ErrNoAuditorVersion is returned for Versioned binaries without an auditor version
	ErrNoAuditorVersion = errors.New("an auditor version was not supplied for versioned binaries")
	// ErrNoUploadersVersion is returned when uploaders are requested without a client version
	ErrNoUploadersVersion = errors.New("a safe client version was not supplied for versioned binaries")
	// ErrNoNodeVersion is returned for Versioned binaries without a safenode version
	ErrNoNodeVersion = errors.New("a safenode version was not supplied for versioned binaries")
)

// EnvVar is one KEY=VALUE pair of a flattened environment list
type EnvVar struct {
	Key   string
	Value string
}

// ExtraVars accumulates the --extra-vars document for one playbook run.
// Keys keep their insertion order when serialised.
type ExtraVars struct {
	keys   []string
	values map[string]any
}

// NewExtraVars creates an empty document
func NewExtraVars() *ExtraVars {
	return &ExtraVars{values: make(map[string]any)}
}

func (e *ExtraVars) set(name string, value any) {
	if _, ok := e.values[name]; !ok {
		e.keys = append(e.keys, name)
	}
	e.values[name] = value
}

// AddVariable sets a scalar variable
func (e *ExtraVars) AddVariable(name, value string) *ExtraVars {
	e.set(name, value)
	return e
}

// AddListVariable appends values to the list variable name
func (e *ExtraVars) AddListVariable(name string, values []string) *ExtraVars {
	list, _ := e.values[name].([]string)
	e.set(name, append(list, values...))
	return e
}

// AddEnvVariableList sets name to KEY=VALUE pairs joined by commas
func (e *ExtraVars) AddEnvVariableList(name string, vars []EnvVar) *ExtraVars {
	pairs := make([]string, 0, len(vars))
	for _, v := range vars {
		pairs = append(pairs, v.Key+"="+v.Value)
	}
	e.set(name, strings.Join(pairs, ","))
	return e
}

// AddMapVariable sets a variable holding a map of lists
func (e *ExtraVars) AddMapVariable(name string, value map[string][]string) *ExtraVars {
	e.set(name, value)
	return e
}

// Get returns the raw value of a variable
func (e *ExtraVars) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Len returns the number of variables
func (e *ExtraVars) Len() int {
	return len(e.keys)
}

// Build renders the document as a JSON object
func (e *ExtraVars) Build() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return "", fmt.Errorf("failed to encode extra var name %q: %w", key, err)
		}
		v, err := json.Marshal(e.values[key])
		if err != nil {
			return "", fmt.Errorf("failed to encode extra var %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// MustBuild is Build for documents made only of strings and string lists
func (e *ExtraVars) MustBuild() string {
	s, err := e.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func branchArchiveURL(opt types.BuildFromSource, artifact, deploymentName string) string {
	return fmt.Sprintf("%s/%s/%s/%s-%s-%s",
		NodeS3BucketURL, opt.RepoOwner, opt.Branch, artifact, deploymentName, archiveSuffix)
}

func (e *ExtraVars) addBranchURL(varName, artifact, deploymentName string, opt types.BuildFromSource) {
	e.AddVariable("branch", opt.Branch)
	e.AddVariable("org", opt.RepoOwner)
	e.AddVariable(varName, branchArchiveURL(opt, artifact, deploymentName))
}

// AddBuildVariables sets the variables the build playbook needs
func (e *ExtraVars) AddBuildVariables(deploymentName string, opt types.BinaryOption) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.AddVariable("custom_bin", "true")
		e.AddVariable("testnet_name", deploymentName)
		e.AddVariable("org", o.RepoOwner)
		e.AddVariable("branch", o.Branch)
		if o.SafenodeFeatures != "" {
			e.AddVariable("safenode_features_list", o.SafenodeFeatures)
		}
	case types.Versioned:
		e.AddVariable("custom_bin", "false")
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

// AddNodeURLOrVersion sets node_archive_url or the released node version
func (e *ExtraVars) AddNodeURLOrVersion(deploymentName string, opt types.BinaryOption) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.addBranchURL("node_archive_url", "safenode", deploymentName, o)
	case types.Versioned:
		if o.SafenodeVersion == nil {
			return ErrNoNodeVersion
		}
		e.AddVariable("version", o.SafenodeVersion.String())
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

// AddNodeManagerURL sets node_manager_archive_url
func (e *ExtraVars) AddNodeManagerURL(deploymentName string, opt types.BinaryOption) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.addBranchURL("node_manager_archive_url", "safenode-manager", deploymentName, o)
	case types.Versioned:
		version := "latest"
		if o.SafenodeManagerVersion != nil {
			version = o.SafenodeManagerVersion.String()
		}
		e.AddVariable("node_manager_archive_url",
			fmt.Sprintf("%s/safenode-manager-%s-%s", NodeManagerS3BucketURL, version, archiveSuffix))
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

// AddNodeManagerDaemonURL sets safenodemand_archive_url
func (e *ExtraVars) AddNodeManagerDaemonURL(deploymentName string, opt types.BinaryOption) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.addBranchURL("safenodemand_archive_url", "safenodemand", deploymentName, o)
	case types.Versioned:
		e.AddVariable("safenodemand_archive_url",
			fmt.Sprintf("%s/safenodemand-latest-%s", NodeManagerS3BucketURL, archiveSuffix))
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

// AddRPCClientURLOrVersion sets safenode_rpc_client_archive_url
func (e *ExtraVars) AddRPCClientURLOrVersion(deploymentName string, opt types.BinaryOption) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.addBranchURL("safenode_rpc_client_archive_url", "safenode_rpc_client", deploymentName, o)
	case types.Versioned:
		e.AddVariable("safenode_rpc_client_archive_url",
			fmt.Sprintf("%s/safenode_rpc_client-latest-%s", RPCClientS3BucketURL, archiveSuffix))
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

// AddAutonomiURLOrVersion sets autonomi_archive_url. A non-empty
// safeVersion overrides the version recorded in a Versioned option.
func (e *ExtraVars) AddAutonomiURLOrVersion(deploymentName string, opt types.BinaryOption, safeVersion string) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.addBranchURL("autonomi_archive_url", "autonomi", deploymentName, o)
	case types.Versioned:
		version := safeVersion
		if version == "" {
			if o.SafeVersion == nil {
				return ErrNoUploadersVersion
			}
			version = o.SafeVersion.String()
		}
		e.AddVariable("autonomi_archive_url",
			fmt.Sprintf("%s/autonomi-%s-%s", AutonomiS3BucketURL, version, archiveSuffix))
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

// AddFaucetURLOrVersion sets faucet_archive_url
func (e *ExtraVars) AddFaucetURLOrVersion(deploymentName string, opt types.BinaryOption) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.addBranchURL("faucet_archive_url", "faucet", deploymentName, o)
	case types.Versioned:
		if o.FaucetVersion == nil {
			return ErrNoFaucetVersion
		}
		e.AddVariable("faucet_archive_url",
			fmt.Sprintf("%s/faucet-%s-%s", FaucetS3BucketURL, o.FaucetVersion, archiveSuffix))
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

// AddAuditorURLOrVersion sets sn_auditor_archive_url
func (e *ExtraVars) AddAuditorURLOrVersion(deploymentName string, opt types.BinaryOption) error {
	switch o := opt.(type) {
	case types.BuildFromSource:
		e.addBranchURL("sn_auditor_archive_url", "sn_auditor", deploymentName, o)
	case types.Versioned:
		if o.AuditorVersion == nil {
			return ErrNoAuditorVersion
		}
		e.AddVariable("sn_auditor_archive_url",
			fmt.Sprintf("%s/sn_auditor-%s-%s", AuditorS3BucketURL, o.AuditorVersion, archiveSuffix))
	default:
		return unknownBinaryOption(opt)
	}
	return nil
}

func unknownBinaryOption(opt types.BinaryOption) error {
	return fmt.Errorf("unknown binary option %T", opt)
}
