package esclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix   = "es_settings_"
	cacheSaveTimeout = 2 * time.Second
)

var errCacheMiss = errors.New("cache miss")

// ClusterInfo represents routing information from sync service.
type ClusterInfo struct {
	ClusterName string `json:"cluster_name"`
	ClusterID   int    `json:"cluster_id"`
	IndexName   string `json:"index_name"`
}

// Resolver finds the cluster and index holding a company's documents,
// using a Redis cache in front of the sync service.
type Resolver struct {
	registry   *Registry
	redis      redis.UniversalClient
	syncURL    string
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     Logger
}

// ResolverConfig configures the resolver.
type ResolverConfig struct {
	Registry   *Registry             // Registry with pre-created clients
	Redis      redis.UniversalClient // Redis client for caching
	SyncURL    string                // Sync service URL (e.g., "http://sync-service:8080")
	CacheTTL   time.Duration         // Cache TTL (default: 24h)
	HTTPClient *http.Client          // HTTP client for sync calls (optional)
	Logger     Logger                // Debug logger (optional)
}

// NewResolver creates a new resolver with Redis caching.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.SyncURL == "" {
		return nil, errors.New("sync service URL is required")
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: 5 * time.Second,
		}
	}

	return &Resolver{
		registry:   cfg.Registry,
		redis:      cfg.Redis,
		syncURL:    strings.TrimRight(cfg.SyncURL, "/"),
		cacheTTL:   cfg.CacheTTL,
		httpClient: cfg.HTTPClient,
		logger:     safeLogger(cfg.Logger),
	}, nil
}

// Resolve returns a client scoped to companyID on the cluster that serves
// the company's indexType, together with the index name to query.
func (r *Resolver) Resolve(ctx context.Context, companyID, indexType string) (*Client, string, error) {
	info, err := r.ResolveRaw(ctx, companyID, indexType)
	if err != nil {
		return nil, "", err
	}

	client, err := r.registry.GetClient(info.ClusterName)
	if err != nil {
		return nil, "", errors.Wrapf(err, "cluster %q not found in registry", info.ClusterName)
	}
	return client.ForTenant(companyID), info.IndexName, nil
}

// ResolveRaw resolves cluster info without creating client.
// Useful when you need just the cluster name and index.
func (r *Resolver) ResolveRaw(ctx context.Context, companyID, indexType string) (*ClusterInfo, error) {
	if companyID == "" {
		return nil, errors.New("company ID is required")
	}
	if indexType == "" {
		return nil, errors.New("index type is required")
	}

	info, err := r.getFromCache(ctx, companyID, indexType)
	if err == nil {
		r.logger.DebugWithCtx(ctx, "resolver cache hit", "company_id", companyID, "type", indexType)
		return info, nil
	}
	r.logger.DebugWithCtx(ctx, "resolver cache lookup failed", "company_id", companyID, "type", indexType, "error", err.Error())

	info, err = r.fetchFromSync(ctx, companyID, indexType)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch from sync service")
	}

	// Cache asynchronously with timeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheSaveTimeout)
		defer cancel()
		if err := r.saveToCache(ctx, companyID, indexType, info); err != nil {
			r.logger.Debug("resolver cache save failed", "company_id", companyID, "error", err.Error())
		}
	}()

	return info, nil
}

func cacheKey(companyID, indexType string) string {
	return fmt.Sprintf("%s%s_%s", cacheKeyPrefix, companyID, indexType)
}

// getFromCache retrieves cluster info from Redis.
func (r *Resolver) getFromCache(ctx context.Context, companyID, indexType string) (*ClusterInfo, error) {
	val, err := r.redis.Get(ctx, cacheKey(companyID, indexType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errCacheMiss
		}
		return nil, errors.Wrap(err, "redis get failed")
	}

	var info ClusterInfo
	if err := json.Unmarshal(val, &info); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached info")
	}

	return &info, nil
}

// saveToCache saves cluster info to Redis.
func (r *Resolver) saveToCache(ctx context.Context, companyID, indexType string, info *ClusterInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "failed to marshal info")
	}

	if err := r.redis.Set(ctx, cacheKey(companyID, indexType), data, r.cacheTTL).Err(); err != nil {
		return errors.Wrap(err, "redis set failed")
	}

	return nil
}

// fetchFromSync calls sync service to get cluster info.
func (r *Resolver) fetchFromSync(ctx context.Context, companyID, indexType string) (*ClusterInfo, error) {
	endpoint := r.syncURL + "/v1/company/refresh-es-info-cache"

	bodyReader, err := jsonBody(map[string]string{
		"company_id": companyID,
		"type":       indexType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP request to sync service failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var info ClusterInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "failed to decode sync response")
	}
	if info.ClusterName == "" || info.IndexName == "" {
		return nil, errors.New("sync response has no cluster or index name")
	}

	return &info, nil
}

// InvalidateCache removes cached cluster info for company and index type.
func (r *Resolver) InvalidateCache(ctx context.Context, companyID, indexType string) error {
	return r.redis.Del(ctx, cacheKey(companyID, indexType)).Err()
}

// InvalidateCompanyCache removes all cached cluster info for a company.
func (r *Resolver) InvalidateCompanyCache(ctx context.Context, companyID string) error {
	iter := r.redis.Scan(ctx, 0, cacheKey(companyID, "*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := r.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Wrapf(err, "failed to delete key %s", iter.Val())
		}
	}

	return iter.Err()
}
