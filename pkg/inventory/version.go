package inventory

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// Version banners printed by the deployed binaries' --version flag
const (
	AntctlVersionPrefix = "Autonomi Node Manager v"
	AntVersionPrefix    = "Autonomi Client v"
)

// VersionOutputError is returned when a --version banner does not have the expected form
type VersionOutputError struct {
	Tool   string
	Output []string
}

func (e *VersionOutputError) Error() string {
	return fmt.Sprintf("unexpected %s version output: %q", e.Tool, strings.Join(e.Output, "\n"))
}

func parsePrefixedVersion(tool, prefix string, lines []string) (semver.Version, error) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rest, ok := strings.CutPrefix(line, prefix)
		if !ok {
			return semver.Version{}, &VersionOutputError{Tool: tool, Output: lines}
		}
		v, err := semver.Parse(rest)
		if err != nil {
			return semver.Version{}, fmt.Errorf("failed to parse %s version %q: %w", tool, rest, err)
		}
		return v, nil
	}
	return semver.Version{}, &VersionOutputError{Tool: tool, Output: lines}
}

// ParseAntctlVersion parses the output of `antctl --version`
func ParseAntctlVersion(lines []string) (semver.Version, error) {
	return parsePrefixedVersion("antctl", AntctlVersionPrefix, lines)
}

// ParseAntVersion parses the output of `ant --version`
func ParseAntVersion(lines []string) (semver.Version, error) {
	return parsePrefixedVersion("ant", AntVersionPrefix, lines)
}

// ParseNodeVersion parses a version recorded in a node registry
func ParseNodeVersion(s string) (semver.Version, error) {
	v, err := semver.Parse(strings.TrimPrefix(strings.TrimSpace(s), "v"))
	if err != nil {
		return semver.Version{}, fmt.Errorf("failed to parse node version %q: %w", s, err)
	}
	return v, nil
}
