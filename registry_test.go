package esclient

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := &Config{
		DefaultCluster: "tier-gold",
		Clusters: map[string]ClusterConfig{
			"tier-gold":   {Name: "tier-gold", Version: 9, Addresses: []string{"http://es-gold:9200"}},
			"tier-silver": {Name: "tier-silver", Version: 8, Addresses: []string{"http://es-silver:9200"}},
		},
	}

	reg, err := NewRegistryFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"tier-gold", "tier-silver"}, reg.ListClusters())

	def, err := reg.Default()
	require.NoError(t, err)
	gold, err := reg.GetClient("tier-gold")
	require.NoError(t, err)
	assert.Same(t, gold, def)

	entry, err := reg.GetEntry("tier-silver")
	require.NoError(t, err)
	assert.Equal(t, 8, entry.Version)
	assert.Equal(t, "http://es-silver:9200", entry.BaseURL)
	assert.NotNil(t, entry.ES)
	assert.NotNil(t, entry.Client)

	_, err = reg.GetClient("tier-bronze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cluster "tier-bronze" not found`)
}

func TestNewRegistryFromConfig_Errors(t *testing.T) {
	_, err := NewRegistryFromConfig(&Config{})
	assert.ErrorIs(t, err, ErrEmptyClusters)

	_, err = NewRegistryFromConfig(&Config{
		DefaultCluster: "a",
		Clusters: map[string]ClusterConfig{
			"a": {Version: 9, Addresses: []string{"es-without-scheme:9200"}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid base URL")
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry("")
	es := &fakeES{status: http.StatusOK, body: `{"count":2}`}

	require.NoError(t, reg.Register("default", 9, "http://localhost:9200", es))
	require.Error(t, reg.Register("", 9, "http://localhost:9200", es))
	require.Error(t, reg.Register("broken", 9, "not a url", es))

	client, err := reg.Default()
	require.NoError(t, err)

	n, err := client.Count(context.Background(), Count("products", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
