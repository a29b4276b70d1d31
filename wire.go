package esclient

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/elastic/go-elasticsearch/v9/typedapi/types/enums/conflicts"
	"github.com/elastic/go-elasticsearch/v9/typedapi/types/enums/refresh"
	"github.com/pkg/errors"
	"github.com/tidwall/sjson"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"
)

// WireRequest is the HTTP shape of a Request.
type WireRequest struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
}

// MapRequest translates a request into method, path, query parameters and
// body. It performs no I/O.
func MapRequest(req Request) (WireRequest, error) {
	switch r := req.(type) {
	case SearchRequest:
		return mapSearch(r)
	case AggregateRequest:
		return mapAggregate(r)
	case CountRequest:
		return mapCount(r)
	case CreateRequest:
		return mapCreate(r)
	case CreateWithIDRequest:
		return mapCreateWithID(r)
	case UpsertRequest:
		return mapUpsert(r)
	case GetByIDRequest:
		return mapGetByID(r)
	case DeleteByIDRequest:
		return mapDeleteByID(r)
	case DeleteByQueryRequest:
		return mapDeleteByQuery(r)
	case CreateIndexRequest:
		return mapCreateIndex(r)
	case DeleteIndexRequest:
		return mapDeleteIndex(r)
	case ExistsRequest:
		return mapExists(r)
	case UpdateByScriptRequest:
		return mapUpdateByScript(r)
	case UpdateByDocRequest:
		return mapUpdateByDoc(r)
	case UpdateAllByQueryRequest:
		return mapUpdateAllByQuery(r)
	case UpdateByQueryRequest:
		return mapUpdateByQuery(r)
	case BulkRequest:
		return mapBulk(r)
	case IndexExistsRequest:
		return mapIndexExists(r)
	case OpenPointInTimeRequest:
		return mapOpenPointInTime(r)
	case ClosePointInTimeRequest:
		return mapClosePointInTime(r)
	default:
		return WireRequest{}, errors.Errorf("unsupported request type %T", req)
	}
}

func mapSearch(r SearchRequest) (WireRequest, error) {
	path := "/_search"
	if r.PointInTime != nil {
		if r.PointInTime.ID == "" {
			return WireRequest{}, malformed(KindSearch, "pit", "point in time ID is required")
		}
		if r.Routing != "" {
			return WireRequest{}, malformed(KindSearch, "routing", "routing cannot be used with a point in time")
		}
	} else {
		if r.Index == "" {
			return WireRequest{}, malformed(KindSearch, "index", "index name is required")
		}
		path = indexPath(r.Index, "_search")
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	if r.TrackTotalHits {
		q.Set("track_total_hits", "true")
	}

	body := newBody()
	if r.Query != nil {
		body.set("query", r.Query)
	}
	if r.Aggregation != nil {
		body.set("aggs", r.Aggregation.aggs())
		q.Set("typed_keys", "true")
	}
	if r.FromOffset != nil {
		body.set("from", *r.FromOffset)
	}
	if r.PageSize != nil {
		body.set("size", *r.PageSize)
	}
	if len(r.SortBy) > 0 {
		body.set("sort", r.SortBy)
	}
	if len(r.After) > 0 {
		body.set("search_after", r.After)
	}
	if r.PointInTime != nil {
		body.set("pit", r.PointInTime)
	}

	return body.request(http.MethodPost, path, q)
}

func mapAggregate(r AggregateRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindAggregate, "index", "index name is required")
	}
	if r.Aggregation == nil {
		return WireRequest{}, malformed(KindAggregate, "aggregation", "aggregation is required")
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	q.Set("typed_keys", "true")

	body := newBody()
	if r.Query != nil {
		body.set("query", r.Query)
	}
	body.set("aggs", r.Aggregation.aggs())
	body.set("size", 0)

	return body.request(http.MethodPost, indexPath(r.Index, "_search"), q)
}

func mapCount(r CountRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindCount, "index", "index name is required")
	}

	q := url.Values{}
	setRouting(q, r.Routing)

	if r.Query == nil {
		return WireRequest{Method: http.MethodPost, Path: indexPath(r.Index, "_count"), Query: q}, nil
	}

	body := newBody()
	body.set("query", r.Query)
	return body.request(http.MethodPost, indexPath(r.Index, "_count"), q)
}

func mapCreate(r CreateRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindCreate, "index", "index name is required")
	}
	doc, err := encodeDocument(KindCreate, "document", r.Document)
	if err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return jsonRequest(http.MethodPost, indexPath(r.Index, "_doc"), q, doc), nil
}

func mapCreateWithID(r CreateWithIDRequest) (WireRequest, error) {
	if err := requireIndexAndID(KindCreateWithID, r.Index, r.ID); err != nil {
		return WireRequest{}, err
	}
	doc, err := encodeDocument(KindCreateWithID, "document", r.Document)
	if err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return jsonRequest(http.MethodPut, indexPath(r.Index, "_create", r.ID), q, doc), nil
}

func mapUpsert(r UpsertRequest) (WireRequest, error) {
	if err := requireIndexAndID(KindUpsert, r.Index, r.ID); err != nil {
		return WireRequest{}, err
	}
	doc, err := encodeDocument(KindUpsert, "document", r.Document)
	if err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return jsonRequest(http.MethodPut, indexPath(r.Index, "_doc", r.ID), q, doc), nil
}

func mapGetByID(r GetByIDRequest) (WireRequest, error) {
	if err := requireIndexAndID(KindGetByID, r.Index, r.ID); err != nil {
		return WireRequest{}, err
	}
	if err := requireBooleanRefresh(KindGetByID, r.Refresh); err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return WireRequest{Method: http.MethodGet, Path: indexPath(r.Index, "_doc", r.ID), Query: q}, nil
}

func mapDeleteByID(r DeleteByIDRequest) (WireRequest, error) {
	if err := requireIndexAndID(KindDeleteByID, r.Index, r.ID); err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return WireRequest{Method: http.MethodDelete, Path: indexPath(r.Index, "_doc", r.ID), Query: q}, nil
}

func mapDeleteByQuery(r DeleteByQueryRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindDeleteByQuery, "index", "index name is required")
	}
	if r.Query == nil {
		return WireRequest{}, malformed(KindDeleteByQuery, "query", "query is required")
	}
	if err := requireBooleanRefresh(KindDeleteByQuery, r.Refresh); err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	body := newBody()
	body.set("query", r.Query)
	return body.request(http.MethodPost, indexPath(r.Index, "_delete_by_query"), q)
}

func mapCreateIndex(r CreateIndexRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindCreateIndex, "index", "index name is required")
	}

	if r.Definition == nil {
		return WireRequest{Method: http.MethodPut, Path: indexPath(r.Index), Query: url.Values{}}, nil
	}
	def, err := encodeDocument(KindCreateIndex, "definition", r.Definition)
	if err != nil {
		return WireRequest{}, err
	}
	return jsonRequest(http.MethodPut, indexPath(r.Index), url.Values{}, def), nil
}

func mapDeleteIndex(r DeleteIndexRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindDeleteIndex, "index", "index name is required")
	}
	return WireRequest{Method: http.MethodDelete, Path: indexPath(r.Index), Query: url.Values{}}, nil
}

func mapIndexExists(r IndexExistsRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindIndexExists, "index", "index name is required")
	}
	return WireRequest{Method: http.MethodHead, Path: indexPath(r.Index), Query: url.Values{}}, nil
}

func mapOpenPointInTime(r OpenPointInTimeRequest) (WireRequest, error) {
	if r.Index == "" {
		return WireRequest{}, malformed(KindOpenPointInTime, "index", "index name is required")
	}

	keepAlive := r.KeepAlive
	if keepAlive == "" {
		keepAlive = defaultKeepAlive
	}
	q := url.Values{}
	q.Set("keep_alive", keepAlive)
	setRouting(q, r.Routing)

	return WireRequest{Method: http.MethodPost, Path: indexPath(r.Index, "_pit"), Query: q}, nil
}

func mapClosePointInTime(r ClosePointInTimeRequest) (WireRequest, error) {
	if r.ID == "" {
		return WireRequest{}, malformed(KindClosePointInTime, "id", "point in time ID is required")
	}

	body := newBody()
	body.set("id", r.ID)
	return body.request(http.MethodDelete, "/_pit", url.Values{})
}

func mapExists(r ExistsRequest) (WireRequest, error) {
	if err := requireIndexAndID(KindExists, r.Index, r.ID); err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)

	return WireRequest{Method: http.MethodHead, Path: indexPath(r.Index, "_doc", r.ID), Query: q}, nil
}

func mapUpdateByScript(r UpdateByScriptRequest) (WireRequest, error) {
	if err := requireIndexAndID(KindUpdateByScript, r.Index, r.ID); err != nil {
		return WireRequest{}, err
	}
	body, err := scriptUpdateBody(r)
	if err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return jsonRequest(http.MethodPost, indexPath(r.Index, "_update", r.ID), q, body), nil
}

func mapUpdateByDoc(r UpdateByDocRequest) (WireRequest, error) {
	if err := requireIndexAndID(KindUpdateByDoc, r.Index, r.ID); err != nil {
		return WireRequest{}, err
	}
	body, err := docUpdateBody(r)
	if err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return jsonRequest(http.MethodPost, indexPath(r.Index, "_update", r.ID), q, body), nil
}

func mapUpdateAllByQuery(r UpdateAllByQueryRequest) (WireRequest, error) {
	return mapUpdateByQueryFamily(KindUpdateAllByQuery, r.Index, r.filter, r.Script, r.Routing, r.Refresh, r.Conflicts)
}

func mapUpdateByQuery(r UpdateByQueryRequest) (WireRequest, error) {
	if r.Query == nil {
		return WireRequest{}, malformed(KindUpdateByQuery, "query", "query is required")
	}
	return mapUpdateByQueryFamily(KindUpdateByQuery, r.Index, r.Query, r.Script, r.Routing, r.Refresh, r.Conflicts)
}

func mapUpdateByQueryFamily(
	kind Kind,
	index string,
	query Query,
	script Script,
	routing string,
	refreshMode RefreshMode,
	policy ConflictPolicy,
) (WireRequest, error) {
	if index == "" {
		return WireRequest{}, malformed(kind, "index", "index name is required")
	}
	if script.Source == "" {
		return WireRequest{}, malformed(kind, "script", "script source is required")
	}
	if err := requireBooleanRefresh(kind, refreshMode); err != nil {
		return WireRequest{}, err
	}

	q := url.Values{}
	setRouting(q, routing)
	setRefresh(q, refreshMode)
	setConflicts(q, policy)

	body := newBody()
	body.set("script", script)
	if query != nil {
		body.set("query", query)
	}
	return body.request(http.MethodPost, indexPath(index, "_update_by_query"), q)
}

func scriptUpdateBody(r UpdateByScriptRequest) ([]byte, error) {
	if r.Script.Source == "" {
		return nil, malformed(KindUpdateByScript, "script", "script source is required")
	}
	return updateBody(KindUpdateByScript, "script", r.Script, r.Upsert)
}

func docUpdateBody(r UpdateByDocRequest) ([]byte, error) {
	if r.Doc == nil {
		return nil, malformed(KindUpdateByDoc, "doc", "partial document is required")
	}
	return updateBody(KindUpdateByDoc, "doc", r.Doc, r.Upsert)
}

// updateBody builds {"<field>": value, "upsert": upsert}. Both values go
// through encodeDocument, so raw JSON is embedded as is.
func updateBody(kind Kind, field string, value, upsert any) ([]byte, error) {
	part, err := encodeDocument(kind, field, value)
	if err != nil {
		return nil, err
	}
	body := newBody()
	body.setRaw(field, part)
	if upsert != nil {
		doc, err := encodeDocument(kind, "upsert", upsert)
		if err != nil {
			return nil, err
		}
		body.setRaw("upsert", doc)
	}
	if body.err != nil {
		return nil, errors.Wrapf(body.err, "failed to build %s body", kind)
	}
	return body.buf, nil
}

func requireIndexAndID(kind Kind, index, id string) error {
	if index == "" {
		return malformed(kind, "index", "index name is required")
	}
	if id == "" {
		return malformed(kind, "id", "document ID is required")
	}
	return nil
}

// Get and by-query endpoints take a plain boolean refresh.
func requireBooleanRefresh(kind Kind, mode RefreshMode) error {
	if mode == RefreshWaitFor {
		return malformed(kind, "refresh", "wait_for is not accepted by "+kind.String())
	}
	return nil
}

func setRouting(q url.Values, routing string) {
	if routing != "" {
		q.Set("routing", routing)
	}
}

func setRefresh(q url.Values, mode RefreshMode) {
	switch mode {
	case RefreshFalse:
		q.Set("refresh", refresh.False.String())
	case RefreshTrue:
		q.Set("refresh", refresh.True.String())
	case RefreshWaitFor:
		q.Set("refresh", refresh.Waitfor.String())
	}
}

func setConflicts(q url.Values, policy ConflictPolicy) {
	switch policy {
	case ConflictsAbort:
		q.Set("conflicts", conflicts.Abort.String())
	case ConflictsProceed:
		q.Set("conflicts", conflicts.Proceed.String())
	}
}

// indexPath joins escaped path segments: indexPath("a", "_doc", "1") == "/a/_doc/1".
func indexPath(segments ...string) string {
	var b bytes.Buffer
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func jsonRequest(method, path string, q url.Values, body []byte) WireRequest {
	return WireRequest{Method: method, Path: path, Query: q, Body: body, ContentType: contentTypeJSON}
}

// encodeDocument returns the compact JSON form of a caller document.
func encodeDocument(kind Kind, field string, doc any) ([]byte, error) {
	var raw []byte
	switch v := doc.(type) {
	case nil:
		return nil, malformed(kind, field, "value is required")
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, malformed(kind, field, "cannot be encoded as JSON: "+err.Error())
		}
		return b, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, malformed(kind, field, "is not valid JSON: "+err.Error())
	}
	return buf.Bytes(), nil
}

// bodyBuilder assembles a JSON object field by field, keeping insertion order.
type bodyBuilder struct {
	buf []byte
	err error
}

func newBody() *bodyBuilder {
	return &bodyBuilder{buf: []byte("{}")}
}

func (b *bodyBuilder) set(path string, value any) {
	if b.err != nil {
		return
	}
	b.buf, b.err = sjson.SetBytes(b.buf, path, value)
}

func (b *bodyBuilder) setRaw(path string, raw []byte) {
	if b.err != nil {
		return
	}
	b.buf, b.err = sjson.SetRawBytes(b.buf, path, raw)
}

func (b *bodyBuilder) request(method, path string, q url.Values) (WireRequest, error) {
	if b.err != nil {
		return WireRequest{}, errors.Wrap(b.err, "failed to build request body")
	}
	return jsonRequest(method, path, q, b.buf), nil
}
