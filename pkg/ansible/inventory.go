package ansible

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// Placeholders substituted in the base inventory template
const (
	envPlaceholder  = "env_value"
	typePlaceholder = "type_value"
)

// BaseInventoryTemplate is the dynamic inventory template for provider
func BaseInventoryTemplate(inventoryDir string, provider types.CloudProvider) string {
	return filepath.Join(inventoryDir, fmt.Sprintf("dev_inventory_%s.yml", provider.InventoryName()))
}

// GenerateEnvironmentInventory materialises one dynamic inventory file per
// role from the base template. Files that already exist are left untouched.
func GenerateEnvironmentInventory(env string, provider types.CloudProvider, templatePath, outputDir string) error {
	logger := log.WithComponent("ansible.inventory")

	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read inventory template: %w", err)
	}
	var probe map[string]any
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("inventory template %s is not valid YAML: %w", templatePath, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create inventory directory: %w", err)
	}

	for _, t := range types.GeneratedInventoryTypes {
		dest := filepath.Join(outputDir, t.Filename(env, provider))
		if _, err := os.Stat(dest); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", dest, err)
		}

		contents := strings.ReplaceAll(string(raw), envPlaceholder, env)
		contents = strings.ReplaceAll(contents, typePlaceholder, t.Tag())
		if err := os.WriteFile(dest, []byte(contents), 0o644); err != nil {
			return fmt.Errorf("failed to write inventory %s: %w", dest, err)
		}
		logger.Debug().Str("path", dest).Msg("Created inventory file")
	}
	return nil
}

// CleanupEnvironmentInventory removes the environment's inventory files.
// With no types given, every generated file plus the private static file is removed.
func CleanupEnvironmentInventory(env string, provider types.CloudProvider, outputDir string, inventoryTypes ...types.InventoryType) error {
	if len(inventoryTypes) == 0 {
		inventoryTypes = append(append([]types.InventoryType{}, types.GeneratedInventoryTypes...),
			types.InventoryPrivateNodesStatic, types.InventoryCustom)
	}
	for _, t := range inventoryTypes {
		dest := filepath.Join(outputDir, t.Filename(env, provider))
		if err := os.Remove(dest); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to remove inventory %s: %w", dest, err)
		}
		logger := log.WithComponent("ansible.inventory")
		logger.Debug().Str("path", dest).Msg("Removed inventory file")
	}
	return nil
}

// GenerateCustomInventory writes an INI inventory with a [custom] group of public IPs
func GenerateCustomInventory(env string, provider types.CloudProvider, outputDir string, vms []types.VirtualMachine) error {
	if len(vms) == 0 {
		return &EmptyInventoryError{Type: types.InventoryCustom}
	}
	var sb strings.Builder
	sb.WriteString("[custom]\n")
	for _, vm := range vms {
		sb.WriteString(vm.PublicIP.String())
		sb.WriteByte('\n')
	}
	return writeInventory(filepath.Join(outputDir, types.InventoryCustom.Filename(env, provider)), sb.String())
}

// GeneratePrivateNodeStaticInventory writes the inventory used to run
// playbooks on private nodes. With a gateway, hosts are listed by private IP
// and reached through a ProxyCommand via the gateway's public IP.
func GeneratePrivateNodeStaticInventory(env string, provider types.CloudProvider, outputDir string,
	privateVMs []types.VirtualMachine, gateway *types.VirtualMachine, sshKeyPath string) error {
	if len(privateVMs) == 0 {
		return &EmptyInventoryError{Type: types.InventoryPrivateNodes}
	}
	logger := log.WithComponent("ansible.inventory")
	logger.Info().Bool("via_ssh_proxy", gateway != nil).Msg("Generating private node static inventory")

	var sb strings.Builder
	sb.WriteString("[private_nodes]\n")
	for _, vm := range privateVMs {
		if gateway != nil {
			sb.WriteString(vm.PrivateIP.String())
		} else {
			sb.WriteString(vm.PublicIP.String())
		}
		sb.WriteByte('\n')
	}
	if gateway != nil {
		sb.WriteString("[private_nodes:vars]\n")
		fmt.Fprintf(&sb, "ansible_ssh_common_args='-o ProxyCommand=\"ssh -p 22 -W %%h:%%p -q root@%s -i \"%s\"\"'\n",
			gateway.PublicIP, sshKeyPath)
	}
	return writeInventory(filepath.Join(outputDir, types.InventoryPrivateNodesStatic.Filename(env, provider)), sb.String())
}

// ReadStaticInventoryHosts returns the host lines of an INI inventory group
func ReadStaticInventoryHosts(path, group string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	inGroup := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inGroup = line == "["+group+"]"
			continue
		}
		if inGroup {
			hosts = append(hosts, line)
		}
	}
	return hosts, scanner.Err()
}

func writeInventory(dest, contents string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create inventory directory: %w", err)
	}
	if err := os.WriteFile(dest, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("failed to write inventory %s: %w", dest, err)
	}
	logger := log.WithComponent("ansible.inventory")
	logger.Debug().Str("path", dest).Msg("Created inventory file")
	return nil
}
