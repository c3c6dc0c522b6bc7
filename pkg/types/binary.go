package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// BinaryOption selects where every deployed binary comes from.
// It is a closed set: BuildFromSource or Versioned.
type BinaryOption interface {
	binaryOption()
	// ShouldProvisionBuildMachine reports whether the build VM must compile binaries
	ShouldProvisionBuildMachine() bool
}

// BuildFromSource builds every binary from a fork and branch on the build VM
type BuildFromSource struct {
	RepoOwner        string `json:"repo_owner"`
	Branch           string `json:"branch"`
	SafenodeFeatures string `json:"safenode_features,omitempty"`
	// SkipBinaryBuild reuses binaries uploaded by a previous run of the same branch and name
	SkipBinaryBuild bool `json:"skip_binary_build,omitempty"`
}

// Versioned fetches released binaries; a nil version means "not selected"
type Versioned struct {
	SafeVersion            *semver.Version `json:"safe_version,omitempty"`
	SafenodeVersion        *semver.Version `json:"safenode_version,omitempty"`
	SafenodeManagerVersion *semver.Version `json:"safenode_manager_version,omitempty"`
	FaucetVersion          *semver.Version `json:"faucet_version,omitempty"`
	AuditorVersion         *semver.Version `json:"sn_auditor_version,omitempty"`
}

func (BuildFromSource) binaryOption() {}
func (Versioned) binaryOption()       {}

func (b BuildFromSource) ShouldProvisionBuildMachine() bool { return !b.SkipBinaryBuild }
func (Versioned) ShouldProvisionBuildMachine() bool         { return false }

// ErrMixedBinaryOptions is returned when branch and version arguments are combined
var ErrMixedBinaryOptions = errors.New("branch arguments cannot be combined with version arguments")

// ErrBranchWithoutRepoOwner is returned when only one of branch/repo owner is supplied
var ErrBranchWithoutRepoOwner = errors.New("the branch and repo owner arguments must be used together")

// BinaryOptionArgs are the raw CLI inputs that select a BinaryOption
type BinaryOptionArgs struct {
	RepoOwner              string
	Branch                 string
	SafenodeFeatures       string
	SkipBinaryBuild        bool
	SafeVersion            string
	SafenodeVersion        string
	SafenodeManagerVersion string
	FaucetVersion          string
	AuditorVersion         string
}

func (a BinaryOptionArgs) anyVersion() bool {
	return a.SafeVersion != "" || a.SafenodeVersion != "" || a.SafenodeManagerVersion != "" ||
		a.FaucetVersion != "" || a.AuditorVersion != ""
}

// Resolve validates the argument combination and returns the selected BinaryOption
func (a BinaryOptionArgs) Resolve() (BinaryOption, error) {
	if (a.RepoOwner == "") != (a.Branch == "") {
		return nil, ErrBranchWithoutRepoOwner
	}
	if a.Branch != "" {
		if a.anyVersion() {
			return nil, ErrMixedBinaryOptions
		}
		return BuildFromSource{
			RepoOwner:        a.RepoOwner,
			Branch:           a.Branch,
			SafenodeFeatures: a.SafenodeFeatures,
			SkipBinaryBuild:  a.SkipBinaryBuild,
		}, nil
	}

	var v Versioned
	var err error
	if v.SafeVersion, err = parseOptionalVersion(a.SafeVersion); err != nil {
		return nil, err
	}
	if v.SafenodeVersion, err = parseOptionalVersion(a.SafenodeVersion); err != nil {
		return nil, err
	}
	if v.SafenodeManagerVersion, err = parseOptionalVersion(a.SafenodeManagerVersion); err != nil {
		return nil, err
	}
	if v.FaucetVersion, err = parseOptionalVersion(a.FaucetVersion); err != nil {
		return nil, err
	}
	if v.AuditorVersion, err = parseOptionalVersion(a.AuditorVersion); err != nil {
		return nil, err
	}
	return v, nil
}

func parseOptionalVersion(s string) (*semver.Version, error) {
	if s == "" {
		return nil, nil
	}
	v, err := semver.Parse(strings.TrimPrefix(s, "v"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse version %q: %w", s, err)
	}
	return &v, nil
}

// VersionString renders an optional version, "None" when absent
func VersionString(v *semver.Version) string {
	if v == nil {
		return "None"
	}
	return v.String()
}

// DescribeBinaryOption renders the option for operator output
func DescribeBinaryOption(opt BinaryOption) string {
	var sb strings.Builder
	switch o := opt.(type) {
	case BuildFromSource:
		sb.WriteString("Source configuration:\n")
		fmt.Fprintf(&sb, "  Repository owner: %s\n", o.RepoOwner)
		fmt.Fprintf(&sb, "  Branch: %s\n", o.Branch)
		if o.SafenodeFeatures != "" {
			fmt.Fprintf(&sb, "  Safenode features: %s\n", o.SafenodeFeatures)
		}
	case Versioned:
		sb.WriteString("Versioned binaries configuration:\n")
		fmt.Fprintf(&sb, "  safe version: %s\n", VersionString(o.SafeVersion))
		fmt.Fprintf(&sb, "  safenode version: %s\n", VersionString(o.SafenodeVersion))
		fmt.Fprintf(&sb, "  safenode-manager version: %s\n", VersionString(o.SafenodeManagerVersion))
		if o.FaucetVersion != nil {
			fmt.Fprintf(&sb, "  faucet version: %s\n", o.FaucetVersion)
		}
		if o.AuditorVersion != nil {
			fmt.Fprintf(&sb, "  sn_auditor version: %s\n", o.AuditorVersion)
		}
	}
	return sb.String()
}

// binaryOptionEnvelope is the persisted, externally tagged form of a BinaryOption
type binaryOptionEnvelope struct {
	BuildFromSource *BuildFromSource `json:"BuildFromSource,omitempty"`
	Versioned       *Versioned       `json:"Versioned,omitempty"`
}

// MarshalBinaryOption encodes a BinaryOption as {"BuildFromSource":{...}} or {"Versioned":{...}}
func MarshalBinaryOption(opt BinaryOption) ([]byte, error) {
	var env binaryOptionEnvelope
	switch o := opt.(type) {
	case BuildFromSource:
		env.BuildFromSource = &o
	case Versioned:
		env.Versioned = &o
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown binary option %T", opt)
	}
	return json.Marshal(env)
}

// UnmarshalBinaryOption decodes the form written by MarshalBinaryOption
func UnmarshalBinaryOption(data []byte) (BinaryOption, error) {
	if string(data) == "null" {
		return nil, nil
	}
	var env binaryOptionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode binary option: %w", err)
	}
	switch {
	case env.BuildFromSource != nil && env.Versioned != nil:
		return nil, ErrMixedBinaryOptions
	case env.BuildFromSource != nil:
		return *env.BuildFromSource, nil
	case env.Versioned != nil:
		return *env.Versioned, nil
	default:
		return nil, fmt.Errorf("binary option has no variant")
	}
}
