package esclient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
default_cluster: tier-gold
clusters:
  tier-gold:
    version: 9
    addresses:
      - http://es-gold-1:9200
      - http://es-gold-2:9200
    username: elastic
    password: from-file
  tier-silver:
    name: silver
    version: 8
    addresses:
      - http://es-silver:9200
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "es.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfigYAML), "")
	require.NoError(t, err)

	assert.Equal(t, "tier-gold", cfg.DefaultCluster)
	require.Len(t, cfg.Clusters, 2)

	gold := cfg.Clusters["tier-gold"]
	assert.Equal(t, "tier-gold", gold.Name, "name defaults to the map key")
	assert.Equal(t, 9, gold.Version)
	assert.Equal(t, []string{"http://es-gold-1:9200", "http://es-gold-2:9200"}, gold.Addresses)
	assert.Equal(t, "from-file", gold.Password)

	assert.Equal(t, "silver", cfg.Clusters["tier-silver"].Name)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ESTEST_CLUSTERS__TIER-GOLD__PASSWORD", "from-env")
	t.Setenv("ESTEST_DEFAULT_CLUSTER", "tier-silver")

	cfg, err := LoadConfig(writeConfig(t, testConfigYAML), "ESTEST_")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Clusters["tier-gold"].Password)
	assert.Equal(t, "tier-silver", cfg.DefaultCluster)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "default_cluster: nope\nclusters:\n  a:\n    version: 9\n    addresses: [\"http://a:9200\"]\n"), "")
	assert.ErrorIs(t, err, ErrDefaultClusterNotFound)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DefaultCluster: "gold",
			Clusters: map[string]ClusterConfig{
				"gold": {Version: 9, Addresses: []string{"http://localhost:9200"}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
		errText string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no clusters", mutate: func(c *Config) { c.Clusters = nil }, wantErr: ErrEmptyClusters},
		{name: "no default", mutate: func(c *Config) { c.DefaultCluster = "" }, wantErr: ErrNoDefaultCluster},
		{name: "unknown default", mutate: func(c *Config) { c.DefaultCluster = "silver" }, wantErr: ErrDefaultClusterNotFound},
		{
			name: "no addresses",
			mutate: func(c *Config) {
				c.Clusters["gold"] = ClusterConfig{Version: 9}
			},
			errText: `cluster "gold" has no addresses`,
		},
		{
			name: "bad version",
			mutate: func(c *Config) {
				c.Clusters["gold"] = ClusterConfig{Version: 7, Addresses: []string{"http://localhost:9200"}}
			},
			errText: "invalid ES version 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
