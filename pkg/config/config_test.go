package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "resources", cfg.WorkingDir)
	assert.Equal(t, "digital-ocean", cfg.Provider)
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, DefaultAnsibleForks, cfg.Ansible.Forks)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "sn-environment-type", cfg.Storage.Bucket)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("SSH_KEY_PATH", "/keys/id_rsa")
	t.Setenv("DO_PAT", "token")
	t.Setenv("ANSIBLE_VAULT_PASSWORD_PATH", "/keys/vault")
	t.Setenv("TERRAFORM_STATE_BUCKET_NAME", "tf-state")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "/keys/id_rsa", cfg.SSHKeyPath)
	assert.Equal(t, "/keys/vault", cfg.VaultPasswordPath)
	assert.Equal(t, "tf-state", cfg.TerraformStateBucket)
	assert.Equal(t, "token", cfg.Credentials.DigitalOceanToken)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testnet-deploy.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: aws
ansible:
  forks: 10
storage:
  backend: bolt
  bolt_path: /tmp/envs.db
`), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "aws", cfg.Provider)
	assert.Equal(t, 10, cfg.Ansible.Forks)
	assert.Equal(t, "bolt", cfg.Storage.Backend)

	provider, err := cfg.CloudProvider()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("resources", "terraform", "testnet", "aws"), cfg.TerraformDir(provider))
}

func TestToolEnv(t *testing.T) {
	creds := Credentials{DigitalOceanToken: "secret"}
	env, err := creds.ToolEnv(types.CloudProviderDigitalOcean)
	require.NoError(t, err)
	assert.Equal(t, []string{"DIGITALOCEAN_TOKEN=secret", "DO_API_TOKEN=secret"}, env)

	_, err = Credentials{}.ToolEnv(types.CloudProviderDigitalOcean)
	assert.ErrorIs(t, err, ErrCloudProviderCredentialsNotSupplied)
}

func TestDataDirectory(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	dir, err := cfg.DataDirectory()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.DataDir, "safe", "testnet-deploy"), dir)
	assert.DirExists(t, dir)
}

func TestValidateMissingKey(t *testing.T) {
	cfg := &Config{Provider: "digital-ocean"}
	assert.Error(t, cfg.Validate())
}
