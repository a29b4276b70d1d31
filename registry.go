package esclient

import (
	"net/url"
	"sort"

	elasticV8 "github.com/elastic/go-elasticsearch/v8"
	elasticV9 "github.com/elastic/go-elasticsearch/v9"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Entry represents a registered Elasticsearch cluster with pre-created clients.
type Entry struct {
	Name    string   // Cluster name
	Version int      // Elasticsearch version (8 or 9)
	BaseURL string   // Base URL for the cluster
	ES      ESClient // Pre-created transport
	Client  *Client  // Typed client over ES
}

// Registry manages multiple Elasticsearch clusters.
// All clients are created once during initialization.
type Registry struct {
	defaultName string
	byName      map[string]Entry
}

// NewRegistry creates a new empty registry.
func NewRegistry(defaultName string) *Registry {
	if defaultName == "" {
		defaultName = "default"
	}
	return &Registry{
		defaultName: defaultName,
		byName:      make(map[string]Entry),
	}
}

// NewRegistryFromConfig creates registry from configuration.
// All ES clients are created during initialization (one-time setup).
// opts are applied to every typed client.
func NewRegistryFromConfig(cfg *Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	reg := NewRegistry(cfg.DefaultCluster)

	for name, clusterCfg := range cfg.Clusters {
		// Parse and validate base URL
		baseURL := clusterCfg.Addresses[0]
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, ErrInvalidBaseURL(name, baseURL)
		}

		var es ESClient

		// Create appropriate client based on version
		switch clusterCfg.Version {
		case 9:
			cl, err := elasticV9.NewClient(elasticV9.Config{
				Addresses: clusterCfg.Addresses,
				Username:  clusterCfg.Username,
				Password:  clusterCfg.Password,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create ES v9 client for %q", name)
			}
			es = NewESClientV9(cl, u)

		case 8:
			cl, err := elasticV8.NewClient(elasticV8.Config{
				Addresses: clusterCfg.Addresses,
				Username:  clusterCfg.Username,
				Password:  clusterCfg.Password,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create ES v8 client for %q", name)
			}
			es = NewESClientV8(cl, u)

		default:
			// This should never happen after Validate()
			return nil, ErrInvalidESVersion(name, clusterCfg.Version)
		}

		if err := reg.Register(name, clusterCfg.Version, baseURL, es, opts...); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// Register adds a cluster served by es. It replaces an entry of the same name.
func (r *Registry) Register(name string, version int, baseURL string, es ESClient, opts ...Option) error {
	if name == "" {
		return ErrEmptyClusterName
	}
	client, err := NewClient(es, baseURL, opts...)
	if err != nil {
		return errors.Wrapf(err, "failed to create typed client for %q", name)
	}

	r.byName[name] = Entry{
		Name:    name,
		Version: version,
		BaseURL: baseURL,
		ES:      es,
		Client:  client,
	}
	return nil
}

// GetClient returns the typed client by cluster name. An empty name
// selects the default cluster.
func (r *Registry) GetClient(clusterName string) (*Client, error) {
	entry, err := r.GetEntry(clusterName)
	if err != nil {
		return nil, err
	}
	return entry.Client, nil
}

// GetEntry returns full entry (client + metadata) by cluster name.
func (r *Registry) GetEntry(clusterName string) (Entry, error) {
	if clusterName == "" {
		clusterName = r.defaultName
	}

	entry, ok := r.byName[clusterName]
	if !ok {
		return Entry{}, ErrClusterNotFound(clusterName)
	}

	return entry, nil
}

// Default returns the default cluster client.
func (r *Registry) Default() (*Client, error) {
	return r.GetClient(r.defaultName)
}

// ListClusters returns the sorted names of all registered clusters.
func (r *Registry) ListClusters() []string {
	names := lo.Keys(r.byName)
	sort.Strings(names)
	return names
}
