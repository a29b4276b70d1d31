package esclient

import (
	"context"
	"net/http"
	"net/url"

	elasticV8 "github.com/elastic/go-elasticsearch/v8"
	elasticV9 "github.com/elastic/go-elasticsearch/v9"
	"github.com/pkg/errors"
)

// ESClient is the transport the typed Client sends its requests through.
// It abstracts both v8 and v9 clients using HTTP transport layer.
type ESClient interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// esAdapter adapts ES v8/v9 clients to unified ESClient interface.
type esAdapter struct {
	perform func(req *http.Request) (*http.Response, error)
	baseURL *url.URL
}

// Do executes HTTP request with context, resolving relative URLs to absolute.
func (ea *esAdapter) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.New("request url is nil")
	}

	r := req.Clone(ctx)
	if !r.URL.IsAbs() {
		if ea.baseURL == nil {
			return nil, errors.New("base url is nil")
		}
		u := *ea.baseURL
		u.Path = r.URL.Path
		u.RawPath = r.URL.RawPath
		u.RawQuery = r.URL.RawQuery
		r.URL = &u
	}

	return ea.perform(r)
}

// NewESClientV8 creates ESClient from Elasticsearch v8 client.
func NewESClientV8(c *elasticV8.Client, baseURL *url.URL) ESClient {
	return &esAdapter{
		perform: c.Transport.Perform,
		baseURL: baseURL,
	}
}

// NewESClientV9 creates ESClient from Elasticsearch v9 client.
func NewESClientV9(c *elasticV9.Client, baseURL *url.URL) ESClient {
	return &esAdapter{
		perform: c.Transport.Perform,
		baseURL: baseURL,
	}
}

// Client executes typed requests: it maps them to HTTP, sends them through
// ESClient and decodes the answer. A Client is immutable and safe for
// concurrent use.
type Client struct {
	es      ESClient
	baseURL *url.URL
	logger  Logger
	metrics *Metrics

	// companyID scopes query-bearing requests on shared indices.
	companyID string
	mutator   *QueryMutator
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the debug logger. A nil logger disables logging.
func WithLogger(log Logger) Option {
	return func(c *Client) {
		c.logger = safeLogger(log)
	}
}

// WithMetrics records every call in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a typed client wrapper around ESClient.
func NewClient(es ESClient, baseURL string, opts ...Option) (*Client, error) {
	if es == nil {
		return nil, errors.New("es client is required")
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		es:      es,
		baseURL: u,
		logger:  noopLogger{},
		mutator: NewQueryMutator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ForTenant returns a copy of the client that restricts every
// query-bearing request on a shared index to companyID's documents.
func (c *Client) ForTenant(companyID string) *Client {
	cp := *c
	cp.companyID = companyID
	return &cp
}

// TenantID returns the company the client is scoped to, if any.
func (c *Client) TenantID() string {
	return c.companyID
}
