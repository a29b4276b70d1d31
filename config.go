package esclient

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

// ClusterConfig defines configuration for a single Elasticsearch cluster.
type ClusterConfig struct {
	Name      string   `koanf:"name"`      // Cluster name (e.g., "tier-gold", "tier-silver")
	Version   int      `koanf:"version"`   // Elasticsearch version: 8 or 9
	Addresses []string `koanf:"addresses"` // Cluster addresses (e.g., ["http://es-1:9200", "http://es-2:9200"])
	Username  string   `koanf:"username"`  // Authentication username
	Password  string   `koanf:"password"`  // Authentication password
}

// Config defines configuration for multiple Elasticsearch clusters.
type Config struct {
	DefaultCluster string                   `koanf:"default_cluster"` // Name of the default cluster
	Clusters       map[string]ClusterConfig `koanf:"clusters"`        // Map of cluster_name -> ClusterConfig
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if len(c.Clusters) == 0 {
		return ErrEmptyClusters
	}

	if c.DefaultCluster == "" {
		return ErrNoDefaultCluster
	}

	if _, ok := c.Clusters[c.DefaultCluster]; !ok {
		return ErrDefaultClusterNotFound
	}

	for name, cluster := range c.Clusters {
		if name == "" {
			return ErrEmptyClusterName
		}
		if len(cluster.Addresses) == 0 {
			return ErrEmptyClusterAddresses(name)
		}
		if cluster.Version != 8 && cluster.Version != 9 {
			return ErrInvalidESVersion(name, cluster.Version)
		}
	}

	return nil
}

// LoadConfig reads the YAML file at path, then applies environment
// overrides. With envPrefix "ES_", ES_CLUSTERS__GOLD__PASSWORD sets
// clusters.gold.password. Either source may be empty.
func LoadConfig(path, envPrefix string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %q", path)
		}
	}

	if envPrefix != "" {
		err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
			key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
			return strings.ReplaceAll(key, "__", ".")
		}), nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config from environment")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	for name, cluster := range cfg.Clusters {
		if cluster.Name == "" {
			cluster.Name = name
			cfg.Clusters[name] = cluster
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
