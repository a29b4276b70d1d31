package esclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Call outcomes, used as log field and metric label.
const (
	outcomeOK             = "ok"
	outcomeMalformed      = "malformed_request"
	outcomeTransportError = "transport_error"
	outcomeStatusError    = "status_error"
	outcomeDecodeError    = "decode_error"
)

// Search runs a search and returns the typed hits, plus the aggregations
// when the request carried some.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	return run(ctx, c, req, DecodeSearch)
}

// Aggregate runs the aggregations of req without fetching hits.
func (c *Client) Aggregate(ctx context.Context, req AggregateRequest) (Aggregations, error) {
	return run(ctx, c, req, DecodeAggregateResponse)
}

// Count returns the number of documents matching the query.
func (c *Client) Count(ctx context.Context, req CountRequest) (int64, error) {
	return run(ctx, c, req, DecodeCount)
}

// Create indexes a document under an engine-generated id and returns the id.
func (c *Client) Create(ctx context.Context, req CreateRequest) (string, error) {
	return run(ctx, c, req, DecodeCreate)
}

// CreateWithID indexes a document only if the id is free. An occupied id
// yields AlreadyExists, not an error.
func (c *Client) CreateWithID(ctx context.Context, req CreateWithIDRequest) (CreationOutcome, error) {
	return run(ctx, c, req, DecodeCreateWithID)
}

// Upsert creates or replaces the document.
func (c *Client) Upsert(ctx context.Context, req UpsertRequest) (UpsertOutcome, error) {
	return run(ctx, c, req, DecodeUpsert)
}

// GetByID returns the document, or nil when it does not exist.
func (c *Client) GetByID(ctx context.Context, req GetByIDRequest) (*GetResult, error) {
	return run(ctx, c, req, DecodeGetByID)
}

// DeleteByID deletes one document.
func (c *Client) DeleteByID(ctx context.Context, req DeleteByIDRequest) (DeletionOutcome, error) {
	return run(ctx, c, req, DecodeDeletion)
}

// DeleteByQuery deletes every document matching the query.
func (c *Client) DeleteByQuery(ctx context.Context, req DeleteByQueryRequest) (DeletionOutcome, error) {
	return run(ctx, c, req, DecodeDeletion)
}

// CreateIndex creates an index. An existing index yields AlreadyExists.
func (c *Client) CreateIndex(ctx context.Context, req CreateIndexRequest) (CreationOutcome, error) {
	return run(ctx, c, req, DecodeCreateIndex)
}

// DeleteIndex deletes an index.
func (c *Client) DeleteIndex(ctx context.Context, req DeleteIndexRequest) (DeletionOutcome, error) {
	return run(ctx, c, req, DecodeDeletion)
}

// Exists reports whether the document exists.
func (c *Client) Exists(ctx context.Context, req ExistsRequest) (bool, error) {
	return run(ctx, c, req, DecodeExists)
}

// UpdateByScript applies a script to one document.
func (c *Client) UpdateByScript(ctx context.Context, req UpdateByScriptRequest) (UpdateOutcome, error) {
	return run(ctx, c, req, DecodeUpdate)
}

// UpdateByDoc merges a partial document into one document.
func (c *Client) UpdateByDoc(ctx context.Context, req UpdateByDocRequest) (UpdateOutcome, error) {
	return run(ctx, c, req, DecodeUpdate)
}

// UpdateAllByQuery applies a script to every document of the index.
func (c *Client) UpdateAllByQuery(ctx context.Context, req UpdateAllByQueryRequest) (*UpdateByQueryResult, error) {
	return run(ctx, c, req, DecodeUpdateByQuery)
}

// UpdateByQuery applies a script to every document matching the query.
func (c *Client) UpdateByQuery(ctx context.Context, req UpdateByQueryRequest) (*UpdateByQueryResult, error) {
	return run(ctx, c, req, DecodeUpdateByQuery)
}

// Bulk sends the items in one call. Item failures are reported in the
// result, not as an error.
func (c *Client) Bulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	return run(ctx, c, req, DecodeBulk)
}

// Execute runs any request and returns the result of the matching typed
// method as an untyped value.
func (c *Client) Execute(ctx context.Context, req Request) (any, error) {
	switch r := req.(type) {
	case SearchRequest:
		return c.Search(ctx, r)
	case AggregateRequest:
		return c.Aggregate(ctx, r)
	case CountRequest:
		return c.Count(ctx, r)
	case CreateRequest:
		return c.Create(ctx, r)
	case CreateWithIDRequest:
		return c.CreateWithID(ctx, r)
	case UpsertRequest:
		return c.Upsert(ctx, r)
	case GetByIDRequest:
		return c.GetByID(ctx, r)
	case DeleteByIDRequest:
		return c.DeleteByID(ctx, r)
	case DeleteByQueryRequest:
		return c.DeleteByQuery(ctx, r)
	case CreateIndexRequest:
		return c.CreateIndex(ctx, r)
	case DeleteIndexRequest:
		return c.DeleteIndex(ctx, r)
	case ExistsRequest:
		return c.Exists(ctx, r)
	case UpdateByScriptRequest:
		return c.UpdateByScript(ctx, r)
	case UpdateByDocRequest:
		return c.UpdateByDoc(ctx, r)
	case UpdateAllByQueryRequest:
		return c.UpdateAllByQuery(ctx, r)
	case UpdateByQueryRequest:
		return c.UpdateByQuery(ctx, r)
	case BulkRequest:
		return c.Bulk(ctx, r)
	case IndexExistsRequest:
		return c.IndexExists(ctx, r)
	case OpenPointInTimeRequest:
		return c.OpenPointInTime(ctx, r)
	case ClosePointInTimeRequest:
		return c.ClosePointInTime(ctx, r)
	default:
		return nil, errors.Errorf("unsupported request type %T", req)
	}
}

// IndexExists reports whether the index exists.
func (c *Client) IndexExists(ctx context.Context, req IndexExistsRequest) (bool, error) {
	return run(ctx, c, req, DecodeExists)
}

// OpenPointInTime opens a point in time and returns its ID.
func (c *Client) OpenPointInTime(ctx context.Context, req OpenPointInTimeRequest) (string, error) {
	return run(ctx, c, req, DecodeOpenPointInTime)
}

// ClosePointInTime releases a point in time. NotFound means it had already
// expired or been closed.
func (c *Client) ClosePointInTime(ctx context.Context, req ClosePointInTimeRequest) (DeletionOutcome, error) {
	return run(ctx, c, req, DecodeDeletion)
}

// RawRequest sends a request the typed model has no kind for and returns
// the raw status and body. Any status is returned without error. body is
// encoded like a document and may be nil. Raw requests cannot be scoped,
// so tenant clients refuse them.
func (c *Client) RawRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	op := KindRaw.String()

	wire := WireRequest{Method: strings.ToUpper(method), Path: path, Query: url.Values{}}
	if c.companyID != "" {
		c.record(ctx, op, WireRequest{}, 0, 0, outcomeMalformed)
		return 0, nil, malformed(KindRaw, "tenant", "raw requests are not available on tenant clients")
	}
	if !strings.HasPrefix(path, "/") {
		c.record(ctx, op, WireRequest{}, 0, 0, outcomeMalformed)
		return 0, nil, malformed(KindRaw, "path", "path must start with /")
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		q, err := url.ParseQuery(path[i+1:])
		if err != nil {
			c.record(ctx, op, WireRequest{}, 0, 0, outcomeMalformed)
			return 0, nil, malformed(KindRaw, "path", "invalid query string: "+err.Error())
		}
		wire.Path, wire.Query = path[:i], q
	}
	if body != nil {
		doc, err := encodeDocument(KindRaw, "body", body)
		if err != nil {
			c.record(ctx, op, WireRequest{}, 0, 0, outcomeMalformed)
			return 0, nil, err
		}
		wire.Body, wire.ContentType = doc, contentTypeJSON
	}

	start := time.Now()
	status, data, err := c.send(ctx, wire)
	elapsed := time.Since(start)
	if err != nil {
		c.record(ctx, op, wire, status, elapsed, outcomeTransportError)
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	c.record(ctx, op, wire, status, elapsed, outcomeOK)
	return status, data, nil
}

// run maps req, sends it and decodes the answer with decode.
func run[T any](ctx context.Context, c *Client, req Request, decode func(int, []byte) (T, error)) (T, error) {
	var zero T
	op := req.Kind().String()

	scoped, err := c.scope(req)
	if err != nil {
		c.record(ctx, op, WireRequest{}, 0, 0, outcomeMalformed)
		return zero, errors.Wrapf(err, "%s: tenant scoping failed", op)
	}

	wire, err := MapRequest(scoped)
	if err != nil {
		c.record(ctx, op, WireRequest{}, 0, 0, outcomeMalformed)
		return zero, err
	}

	start := time.Now()
	status, body, err := c.send(ctx, wire)
	elapsed := time.Since(start)
	if err != nil {
		c.record(ctx, op, wire, status, elapsed, outcomeTransportError)
		return zero, &TransportError{Op: op, Err: err}
	}

	out, err := decode(status, body)
	if err != nil {
		outcome := outcomeDecodeError
		var se *StatusError
		if errors.As(err, &se) {
			outcome = outcomeStatusError
		}
		c.record(ctx, op, wire, status, elapsed, outcome)
		return zero, withOp(err, op)
	}

	c.record(ctx, op, wire, status, elapsed, outcomeOK)
	return out, nil
}

// send performs the HTTP exchange and returns the raw status and body.
func (c *Client) send(ctx context.Context, w WireRequest) (int, []byte, error) {
	var body io.Reader
	if w.Body != nil {
		body = bytes.NewReader(w.Body)
	}

	u := newURL(c.baseURL, w.Path, w.Query)
	httpReq, err := http.NewRequestWithContext(ctx, w.Method, u.String(), body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create HTTP request")
	}
	if w.ContentType != "" {
		httpReq.Header.Set("Content-Type", w.ContentType)
	}

	res, err := c.es.Do(ctx, httpReq)
	if err != nil {
		return 0, nil, err
	}
	if res == nil {
		return 0, nil, errors.New("transport returned no response")
	}
	defer res.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, errors.Wrap(err, "failed to read response body")
	}
	return res.StatusCode, data, nil
}

// scope applies the tenant filter to query-bearing requests on shared indices.
func (c *Client) scope(req Request) (Request, error) {
	if c.companyID == "" {
		return req, nil
	}
	qb, ok := req.(queryBearing)
	if !ok {
		return req, nil
	}

	q, err := c.mutator.Scope(qb.query(), c.companyID, DetectIndexTarget(qb.indexName()))
	if err != nil {
		return nil, err
	}
	return qb.withQuery(q), nil
}

func (c *Client) record(ctx context.Context, op string, w WireRequest, status int, elapsed time.Duration, outcome string) {
	c.metrics.observe(op, outcome, elapsed)
	safeLogger(c.logger).DebugWithCtx(ctx, "elasticsearch request",
		"op", op,
		"method", w.Method,
		"path", w.Path,
		"status", status,
		"duration", elapsed,
		"outcome", outcome,
	)
}

// withOp stamps the operation name on decoder errors.
func withOp(err error, op string) error {
	var se *StatusError
	if errors.As(err, &se) && se.Op == "" {
		se.Op = op
	}
	var de *DecodeError
	if errors.As(err, &de) && de.Op == "" {
		de.Op = op
	}
	return err
}
