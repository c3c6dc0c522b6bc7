package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

const (
	// EnvPrefix namespaces every setting, e.g. TESTNET_DEPLOY_PROVIDER
	EnvPrefix = "TESTNET_DEPLOY"

	DefaultAnsibleForks = 50
	DefaultRegion       = "lon1"
)

// Config is the resolved configuration for one invocation
type Config struct {
	// WorkingDir holds the ansible/ and terraform/ resources
	WorkingDir           string        `mapstructure:"working_dir"`
	Provider             string        `mapstructure:"provider"`
	Region               string        `mapstructure:"region"`
	SSHKeyPath           string        `mapstructure:"ssh_key_path"`
	VaultPasswordPath    string        `mapstructure:"vault_password_path"`
	TerraformBinary      string        `mapstructure:"terraform_binary"`
	TerraformStateBucket string        `mapstructure:"terraform_state_bucket"`
	DataDir              string        `mapstructure:"data_dir"`
	Ansible              AnsibleConfig `mapstructure:"ansible"`
	Storage              StorageConfig `mapstructure:"storage"`
	Credentials          Credentials   `mapstructure:"credentials"`
}

// AnsibleConfig tunes playbook runs
type AnsibleConfig struct {
	Forks   int  `mapstructure:"forks"`
	Verbose bool `mapstructure:"verbose"`
}

// StorageConfig selects where environment details and uploaded artefacts live
type StorageConfig struct {
	// Backend is "s3" or "bolt"
	Backend string `mapstructure:"backend"`
	// Bucket holds environment details records
	Bucket string `mapstructure:"bucket"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores
	Endpoint string `mapstructure:"endpoint"`
	// BoltPath is the database file for the bolt backend
	BoltPath string `mapstructure:"bolt_path"`
}

// Credentials are passed explicitly to the tools and clients that need them.
// The process environment is never modified.
type Credentials struct {
	DigitalOceanToken  string `mapstructure:"digital_ocean_token"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`
	AWSRegion          string `mapstructure:"aws_region"`
	SlackWebhookURL    string `mapstructure:"slack_webhook_url"`
}

// ErrCloudProviderCredentialsNotSupplied is returned when the provider token is missing
var ErrCloudProviderCredentialsNotSupplied = errors.New("cloud provider credentials were not supplied")

// ToolEnv returns the per-command environment for terraform and ansible.
// Both tools read the DigitalOcean token from different variables.
func (c Credentials) ToolEnv(provider types.CloudProvider) ([]string, error) {
	var env []string
	switch provider {
	case types.CloudProviderDigitalOcean:
		if c.DigitalOceanToken == "" {
			return nil, fmt.Errorf("%w: digital_ocean_token (DO_PAT)", ErrCloudProviderCredentialsNotSupplied)
		}
		env = append(env,
			"DIGITALOCEAN_TOKEN="+c.DigitalOceanToken,
			"DO_API_TOKEN="+c.DigitalOceanToken,
		)
	case types.CloudProviderAWS:
	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s", provider)
	}
	if c.AWSAccessKeyID != "" {
		env = append(env,
			"AWS_ACCESS_KEY_ID="+c.AWSAccessKeyID,
			"AWS_SECRET_ACCESS_KEY="+c.AWSSecretAccessKey,
		)
	}
	if c.AWSRegion != "" {
		env = append(env, "AWS_DEFAULT_REGION="+c.AWSRegion)
	}
	return env, nil
}

// legacyEnv maps settings onto the variable names operators already export
var legacyEnv = map[string]string{
	"ssh_key_path":                      "SSH_KEY_PATH",
	"vault_password_path":               "ANSIBLE_VAULT_PASSWORD_PATH",
	"terraform_state_bucket":            "TERRAFORM_STATE_BUCKET_NAME",
	"credentials.digital_ocean_token":   "DO_PAT",
	"credentials.aws_access_key_id":     "AWS_ACCESS_KEY_ID",
	"credentials.aws_secret_access_key": "AWS_SECRET_ACCESS_KEY",
	"credentials.aws_region":            "AWS_DEFAULT_REGION",
	"credentials.slack_webhook_url":     "SLACK_WEBHOOK_URL",
}

// SetDefaults registers defaults and environment bindings on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("working_dir", "resources")
	v.SetDefault("provider", string(types.CloudProviderDigitalOcean))
	v.SetDefault("region", DefaultRegion)
	v.SetDefault("terraform_binary", "terraform")
	v.SetDefault("ansible.forks", DefaultAnsibleForks)
	v.SetDefault("ansible.verbose", false)
	v.SetDefault("storage.backend", "s3")
	v.SetDefault("storage.bucket", "sn-environment-type")
	v.SetDefault("storage.bolt_path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+envKey(key), env)
	}
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load unmarshals the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v into a Config
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// CloudProvider parses the configured provider
func (c *Config) CloudProvider() (types.CloudProvider, error) {
	return types.ParseCloudProvider(c.Provider)
}

// AnsibleDir is where playbooks are run from
func (c *Config) AnsibleDir() string {
	return filepath.Join(c.WorkingDir, "ansible")
}

// InventoryDir holds the generated inventory files
func (c *Config) InventoryDir() string {
	return filepath.Join(c.AnsibleDir(), "inventory")
}

// TerraformDir is the terraform root module for the provider
func (c *Config) TerraformDir(provider types.CloudProvider) string {
	return filepath.Join(c.WorkingDir, "terraform", "testnet", string(provider))
}

// Validate checks the settings every remote command needs
func (c *Config) Validate() error {
	if c.SSHKeyPath == "" {
		return errors.New("ssh_key_path must be set (SSH_KEY_PATH)")
	}
	if c.VaultPasswordPath == "" {
		return errors.New("vault_password_path must be set (ANSIBLE_VAULT_PASSWORD_PATH)")
	}
	if c.TerraformStateBucket == "" {
		return errors.New("terraform_state_bucket must be set (TERRAFORM_STATE_BUCKET_NAME)")
	}
	if _, err := c.CloudProvider(); err != nil {
		return err
	}
	return nil
}

// DataDirectory returns <data_dir>/safe/testnet-deploy, creating it if needed.
// Without an override the per-OS user data directory is used.
func (c *Config) DataDirectory() (string, error) {
	base := c.DataDir
	if base == "" {
		var err error
		if base, err = userDataDir(); err != nil {
			return "", err
		}
	}
	path := filepath.Join(base, "safe", "testnet-deploy")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return path, nil
}

func userDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows", "darwin":
		return os.UserConfigDir()
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return xdg, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not retrieve data directory: %w", err)
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}
