package esclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	elasticV9 "github.com/elastic/go-elasticsearch/v9"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sharedIndex = "products_shared"

type recordedRequest struct {
	Method      string
	Path        string
	Query       url.Values
	ContentType string
	Body        []byte
}

// fakeES answers every request with a fixed status and body.
type fakeES struct {
	mu       sync.Mutex
	status   int
	body     string
	err      error
	requests []recordedRequest
}

func (f *fakeES) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	rec := recordedRequest{
		Method:      req.Method,
		Path:        req.URL.Path,
		Query:       req.URL.Query(),
		ContentType: req.Header.Get("Content-Type"),
	}
	if req.Body != nil {
		rec.Body, _ = io.ReadAll(req.Body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: f.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func (f *fakeES) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "no request was sent")
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, es ESClient, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(es, "http://localhost:9200", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "http://localhost:9200")
	require.Error(t, err)

	_, err = NewClient(&fakeES{}, "localhost:9200")
	require.Error(t, err)

	_, err = NewClient(&fakeES{}, "")
	require.Error(t, err)
}

func TestClient_Search(t *testing.T) {
	es := &fakeES{status: http.StatusOK, body: `{
		"took": 3, "timed_out": false,
		"hits": {"total": {"value": 1, "relation": "eq"}, "max_score": 1, "hits": [
			{"_index": "products", "_id": "1", "_score": 1, "_source": {"name": "a", "price": 1}}
		]},
		"aggregations": {"terms#by_name": {"doc_count_error_upper_bound": 0, "sum_other_doc_count": 0,
			"buckets": [{"key": "a", "doc_count": 1}]}}
	}`}
	client := newTestClient(t, es)

	req := Search("products", Query{"term": map[string]any{"name": "a"}}).
		Aggregate(TermsAggregation("by_name", "name")).
		Size(10).
		WithRouting("r1")

	result, err := client.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)

	terms, ok := result.Aggregations.Terms("by_name")
	require.True(t, ok)
	assert.Equal(t, []TermsBucket{{Key: "a", DocCount: 1}}, terms.Buckets)

	sent := es.last(t)
	assert.Equal(t, http.MethodPost, sent.Method)
	assert.Equal(t, "/products/_search", sent.Path)
	assert.Equal(t, "r1", sent.Query.Get("routing"))
	assert.Equal(t, "true", sent.Query.Get("typed_keys"))
	assert.Equal(t, contentTypeJSON, sent.ContentType)
	assert.JSONEq(t, `{
		"query": {"term": {"name": "a"}},
		"aggs": {"by_name": {"terms": {"field": "name"}}},
		"size": 10
	}`, string(sent.Body))
}

func TestClient_TypedOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("create with id conflict", func(t *testing.T) {
		es := &fakeES{status: http.StatusConflict, body: `{"error":{"type":"version_conflict_engine_exception","reason":"document already exists"},"status":409}`}
		outcome, err := newTestClient(t, es).CreateWithID(ctx, CreateWithID("products", "1", product{Name: "a"}))
		require.NoError(t, err)
		assert.Equal(t, AlreadyExists, outcome)
		assert.Equal(t, "/products/_create/1", es.last(t).Path)
	})

	t.Run("get by id not found", func(t *testing.T) {
		es := &fakeES{status: http.StatusNotFound, body: `{"_index":"products","_id":"1","found":false}`}
		doc, err := newTestClient(t, es).GetByID(ctx, GetByID("products", "1"))
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("exists", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK}
		found, err := newTestClient(t, es).Exists(ctx, Exists("products", "1"))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, http.MethodHead, es.last(t).Method)
	})

	t.Run("index exists missing", func(t *testing.T) {
		es := &fakeES{status: http.StatusNotFound}
		found, err := newTestClient(t, es).IndexExists(ctx, IndexExists("products"))
		require.NoError(t, err)
		assert.False(t, found)

		sent := es.last(t)
		assert.Equal(t, http.MethodHead, sent.Method)
		assert.Equal(t, "/products", sent.Path)
	})

	t.Run("open point in time", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK, body: `{"id":"pit-1","_shards":{"total":1,"successful":1,"failed":0}}`}
		id, err := newTestClient(t, es).OpenPointInTime(ctx, OpenPointInTime("products", ""))
		require.NoError(t, err)
		assert.Equal(t, "pit-1", id)

		sent := es.last(t)
		assert.Equal(t, "/products/_pit", sent.Path)
		assert.Equal(t, "1m", sent.Query.Get("keep_alive"))
	})

	t.Run("close point in time", func(t *testing.T) {
		es := &fakeES{status: http.StatusNotFound, body: `{"succeeded":true,"num_freed":0}`}
		outcome, err := newTestClient(t, es).ClosePointInTime(ctx, ClosePointInTime("pit-1"))
		require.NoError(t, err)
		assert.Equal(t, NotFound, outcome)

		sent := es.last(t)
		assert.Equal(t, http.MethodDelete, sent.Method)
		assert.JSONEq(t, `{"id":"pit-1"}`, string(sent.Body))
	})

	t.Run("delete index missing", func(t *testing.T) {
		es := &fakeES{status: http.StatusNotFound, body: `{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`}
		outcome, err := newTestClient(t, es).DeleteIndex(ctx, DeleteIndex("products"))
		require.NoError(t, err)
		assert.Equal(t, NotFound, outcome)
	})

	t.Run("update by query", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK, body: `{"took":1,"total":10,"updated":8,"deleted":0,"version_conflicts":2}`}
		result, err := newTestClient(t, es).UpdateByQuery(ctx,
			UpdateByQuery("products", MatchAll(), NewScript("ctx._source.n++")).WithConflicts(ConflictsProceed))
		require.NoError(t, err)
		assert.Equal(t, int64(8), result.Updated)
		assert.Equal(t, "proceed", es.last(t).Query.Get("conflicts"))
	})

	t.Run("bulk", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK, body: `{"took":2,"errors":true,"items":[
			{"create":{"_index":"products","_id":"1","status":201,"result":"created"}},
			{"create":{"_index":"products","_id":"2","status":409,"error":{"type":"version_conflict_engine_exception","reason":"exists"}}}
		]}`}
		result, err := newTestClient(t, es).Bulk(ctx, Bulk(
			CreateWithID("products", "1", product{Name: "a"}),
			CreateWithID("products", "2", product{Name: "b"}),
		))
		require.NoError(t, err)
		assert.True(t, result.Errors)
		assert.Equal(t, []int{1}, result.FailedItems())

		sent := es.last(t)
		assert.Equal(t, contentTypeNDJSON, sent.ContentType)
		assert.Equal(t, 4, strings.Count(string(sent.Body), "\n"))
	})
}

func TestClient_Execute(t *testing.T) {
	es := &fakeES{status: http.StatusOK, body: `{"count":5}`}
	result, err := newTestClient(t, es).Execute(context.Background(), Count("products", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(5), result)

	es.body = `{"id":"pit-9"}`
	result, err = newTestClient(t, es).Execute(context.Background(), OpenPointInTime("products", "5m"))
	require.NoError(t, err)
	assert.Equal(t, "pit-9", result)

	result, err = newTestClient(t, es).Execute(context.Background(), IndexExists("products"))
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("transport failure", func(t *testing.T) {
		cause := errors.New("connection refused")
		es := &fakeES{err: cause}

		_, err := newTestClient(t, es).Count(ctx, Count("products", nil))
		require.Error(t, err)

		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "count", te.Op)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("status error carries op", func(t *testing.T) {
		es := &fakeES{status: http.StatusInternalServerError, body: `{"error":{"type":"search_phase_execution_exception","reason":"all shards failed"}}`}

		_, err := newTestClient(t, es).Search(ctx, Search("products", nil))
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "search", se.Op)
		assert.Equal(t, "search_phase_execution_exception", se.Cause.Type)
	})

	t.Run("decode error carries op", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK, body: `{"took":1}`}

		_, err := newTestClient(t, es).Search(ctx, Search("products", nil))
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "search", de.Op)
		assert.Equal(t, "hits", de.Field)
	})

	t.Run("malformed request is not sent", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK}

		_, err := newTestClient(t, es).DeleteByID(ctx, DeleteByID("products", ""))
		assert.ErrorIs(t, err, ErrMalformedRequest)
		assert.Empty(t, es.requests)
	})

	t.Run("canceled context", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK, body: `{"count":1}`}
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newTestClient(t, es).Count(canceled, Count("products", nil))
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClient_ForTenant(t *testing.T) {
	ctx := context.Background()
	es := &fakeES{status: http.StatusOK, body: `{"count":0}`}
	base := newTestClient(t, es)
	tenant := base.ForTenant("company-1")

	assert.Empty(t, base.TenantID())
	assert.Equal(t, "company-1", tenant.TenantID())

	_, err := tenant.Count(ctx, Count(sharedIndex, MatchAll()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"bool":{
		"must":[{"match_all":{}}],
		"filter":[{"term":{"company_id.keyword":"company-1"}}]
	}}}`, string(es.last(t).Body))

	perCompany := "products_01234567-89ab-cdef-0123-456789abcdef"
	_, err = tenant.Count(ctx, Count(perCompany, MatchAll()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"match_all":{}}}`, string(es.last(t).Body))

	_, err = base.Count(ctx, Count(sharedIndex, MatchAll()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"match_all":{}}}`, string(es.last(t).Body))

	es.body = `{"took":1,"total":0,"updated":0,"deleted":0,"version_conflicts":0}`
	_, err = tenant.UpdateAllByQuery(ctx, UpdateAllByQuery(sharedIndex, NewScript("ctx._source.n = 0")))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"script":{"source":"ctx._source.n = 0"},
		"query":{"bool":{"filter":[{"term":{"company_id.keyword":"company-1"}}]}}
	}`, string(es.last(t).Body))
}

func TestClient_ForTenantPointInTimeSearch(t *testing.T) {
	es := &fakeES{status: http.StatusOK, body: `{"pit_id":"pit-2","took":1,"timed_out":false,"hits":{"hits":[]}}`}
	tenant := newTestClient(t, es).ForTenant("company-1")

	result, err := tenant.Search(context.Background(), Search(sharedIndex, nil).WithPointInTime("pit-1", "1m"))
	require.NoError(t, err)
	assert.Equal(t, "pit-2", result.PitID)

	sent := es.last(t)
	assert.Equal(t, "/_search", sent.Path)
	assert.JSONEq(t, `{
		"query":{"bool":{"filter":[{"term":{"company_id.keyword":"company-1"}}]}},
		"pit":{"id":"pit-1","keep_alive":"1m"}
	}`, string(sent.Body))
}

func TestClient_RawRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("sends method path query and body", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK, body: `{"acknowledged":true}`}
		status, body, err := newTestClient(t, es).RawRequest(ctx, "put", "/products/_settings?flat_settings=true",
			map[string]any{"index": map[string]any{"number_of_replicas": 0}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"acknowledged":true}`, string(body))

		sent := es.last(t)
		assert.Equal(t, http.MethodPut, sent.Method)
		assert.Equal(t, "/products/_settings", sent.Path)
		assert.Equal(t, "true", sent.Query.Get("flat_settings"))
		assert.Equal(t, contentTypeJSON, sent.ContentType)
		assert.JSONEq(t, `{"index":{"number_of_replicas":0}}`, string(sent.Body))
	})

	t.Run("error statuses are returned as is", func(t *testing.T) {
		es := &fakeES{status: http.StatusNotFound, body: `{"error":"no handler"}`}
		status, body, err := newTestClient(t, es).RawRequest(ctx, http.MethodGet, "/_unknown", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, `{"error":"no handler"}`, string(body))
		assert.Empty(t, es.last(t).ContentType)
	})

	t.Run("rejected requests are not sent", func(t *testing.T) {
		es := &fakeES{status: http.StatusOK}
		client := newTestClient(t, es)

		_, _, err := client.RawRequest(ctx, http.MethodGet, "products/_search", nil)
		assert.ErrorIs(t, err, ErrMalformedRequest)

		_, _, err = client.RawRequest(ctx, http.MethodPost, "/products/_doc", []byte("not json"))
		assert.ErrorIs(t, err, ErrMalformedRequest)

		_, _, err = client.ForTenant("company-1").RawRequest(ctx, http.MethodGet, "/_cat/indices", nil)
		var mre *MalformedRequestError
		require.ErrorAs(t, err, &mre)
		assert.Equal(t, "tenant", mre.Field)

		assert.Empty(t, es.requests)
	})
}

func TestClient_ForTenantRejectsEmptyCompanyOnlyWhenScoping(t *testing.T) {
	es := &fakeES{status: http.StatusOK, body: `{"count":0}`}
	_, err := newTestClient(t, es).ForTenant("").Count(context.Background(), Count(sharedIndex, nil))
	require.NoError(t, err, "an empty tenant leaves requests unscoped")
}

func TestClient_ConcurrentCalls(t *testing.T) {
	es := &fakeES{status: http.StatusOK, body: `{"count":3}`}
	client := newTestClient(t, es)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := client.Count(context.Background(), Count("products", nil))
			assert.NoError(t, err)
			assert.Equal(t, int64(3), n)
		}()
	}
	wg.Wait()
	assert.Len(t, es.requests, 16)
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	es := &fakeES{status: http.StatusOK, body: `{"count":1}`}
	client := newTestClient(t, es, WithMetrics(metrics))

	_, err = client.Count(context.Background(), Count("products", nil))
	require.NoError(t, err)
	_, err = client.Count(context.Background(), Count("", nil))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("count", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("count", outcomeMalformed)))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))

	again, err := NewMetrics(reg)
	require.NoError(t, err, "registering twice reuses the collectors")
	assert.Same(t, metrics.requests, again.requests)
}

func TestClient_LogrusLogger(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	es := &fakeES{status: http.StatusOK, body: `{"count":1}`}
	client := newTestClient(t, es, WithLogger(NewLogrusLogger(logger)))

	_, err := client.Count(context.Background(), Count("products", nil).WithRouting("r"))
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "count", entry.Data["op"])
	assert.Equal(t, http.MethodPost, entry.Data["method"])
	assert.Equal(t, "/products/_count", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Equal(t, outcomeOK, entry.Data["outcome"])
}

func TestESClientV9Adapter(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"_index": "products", "_id": "a/b", "_version": 1, "result": "created"})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	es9, err := elasticV9.NewClient(elasticV9.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	client, err := NewClient(NewESClientV9(es9, u), srv.URL)
	require.NoError(t, err)

	outcome, err := client.Upsert(context.Background(), Upsert("products", "a/b", product{Name: "a"}).WithRefresh(RefreshWaitFor))
	require.NoError(t, err)
	assert.True(t, outcome.Created())
	assert.Equal(t, "/products/_doc/a%2Fb", gotPath)
	assert.Equal(t, "refresh=wait_for", gotQuery)
}
