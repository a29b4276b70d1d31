package esclient

import (
	"encoding/json"
)

// Kind identifies a request variant.
type Kind int

const (
	KindSearch Kind = iota + 1
	KindAggregate
	KindCount
	KindCreate
	KindCreateWithID
	KindUpsert
	KindGetByID
	KindDeleteByID
	KindDeleteByQuery
	KindCreateIndex
	KindDeleteIndex
	KindExists
	KindUpdateByScript
	KindUpdateByDoc
	KindUpdateAllByQuery
	KindUpdateByQuery
	KindBulk
	KindIndexExists
	KindOpenPointInTime
	KindClosePointInTime

	// KindRaw labels Client.RawRequest calls. No Request has this kind.
	KindRaw
)

var kindNames = map[Kind]string{
	KindSearch:           "search",
	KindAggregate:        "aggregate",
	KindCount:            "count",
	KindCreate:           "create",
	KindCreateWithID:     "create_with_id",
	KindUpsert:           "upsert",
	KindGetByID:          "get_by_id",
	KindDeleteByID:       "delete_by_id",
	KindDeleteByQuery:    "delete_by_query",
	KindCreateIndex:      "create_index",
	KindDeleteIndex:      "delete_index",
	KindExists:           "exists",
	KindUpdateByScript:   "update_by_script",
	KindUpdateByDoc:      "update_by_doc",
	KindUpdateAllByQuery: "update_all_by_query",
	KindUpdateByQuery:    "update_by_query",
	KindBulk:             "bulk",
	KindIndexExists:      "index_exists",
	KindOpenPointInTime:  "open_point_in_time",
	KindClosePointInTime: "close_point_in_time",
	KindRaw:              "raw",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Request is one engine operation. The set of implementations is closed.
type Request interface {
	Kind() Kind
	isRequest()
}

// RefreshMode controls when changes become visible to search.
// The zero value leaves the engine default in place and sends nothing.
type RefreshMode int

const (
	RefreshUnset RefreshMode = iota
	RefreshFalse
	RefreshTrue
	RefreshWaitFor
)

// ConflictPolicy tells update-by-query what to do on version conflicts.
// The zero value sends nothing.
type ConflictPolicy int

const (
	ConflictsUnset ConflictPolicy = iota
	ConflictsAbort
	ConflictsProceed
)

// Query is a query clause as produced by a query builder,
// e.g. Query{"term": map[string]any{"status": "active"}}.
type Query map[string]any

// MatchAll returns a query matching every document.
func MatchAll() Query {
	return Query{"match_all": map[string]any{}}
}

// Script is an inline painless script.
type Script struct {
	Source string         `json:"source"`
	Lang   string         `json:"lang,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// NewScript creates a script from its source.
func NewScript(source string) Script {
	return Script{Source: source}
}

// WithParam returns a copy of the script with param set.
func (s Script) WithParam(name string, value any) Script {
	params := make(map[string]any, len(s.Params)+1)
	for k, v := range s.Params {
		params[k] = v
	}
	params[name] = value
	s.Params = params
	return s
}

// WithLang returns a copy of the script with the language set.
func (s Script) WithLang(lang string) Script {
	s.Lang = lang
	return s
}

// Sort is one entry of a search sort, e.g. Sort{Field: "price", Order: "desc"}.
type Sort struct {
	Field string
	Order string
}

func (s Sort) MarshalJSON() ([]byte, error) {
	if s.Order == "" {
		return json.Marshal(s.Field)
	}
	return json.Marshal(map[string]any{s.Field: map[string]string{"order": s.Order}})
}

// SearchRequest runs a query and, optionally, aggregations over an index.
type SearchRequest struct {
	Index          string
	Query          Query
	Aggregation    Aggregation
	FromOffset     *int
	PageSize       *int
	SortBy         []Sort
	After          []any
	TrackTotalHits bool
	Routing        string
	PointInTime    *PointInTime
}

// PointInTime pins a search to the index state captured by
// OpenPointInTime. KeepAlive extends the snapshot's lifetime, e.g. "1m".
type PointInTime struct {
	ID        string `json:"id"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

// Search creates a search request.
func Search(index string, query Query) SearchRequest {
	return SearchRequest{Index: index, Query: query}
}

func (SearchRequest) Kind() Kind { return KindSearch }
func (SearchRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r SearchRequest) WithRouting(routing string) SearchRequest {
	r.Routing = routing
	return r
}

// Aggregate attaches aggregations; the response exposes them on SearchResult.Aggregations.
func (r SearchRequest) Aggregate(agg Aggregation) SearchRequest {
	r.Aggregation = agg
	return r
}

// From sets the offset of the first hit.
func (r SearchRequest) From(from int) SearchRequest {
	r.FromOffset = &from
	return r
}

// Size sets the maximum number of hits.
func (r SearchRequest) Size(size int) SearchRequest {
	r.PageSize = &size
	return r
}

// Sort appends sort clauses.
func (r SearchRequest) Sort(sorts ...Sort) SearchRequest {
	r.SortBy = append(append([]Sort(nil), r.SortBy...), sorts...)
	return r
}

// SearchAfter sets the sort values of the last hit of the previous page.
func (r SearchRequest) SearchAfter(values ...any) SearchRequest {
	r.After = append([]any(nil), values...)
	return r
}

// WithTrackTotalHits asks for an exact total hit count.
func (r SearchRequest) WithTrackTotalHits(track bool) SearchRequest {
	r.TrackTotalHits = track
	return r
}

// WithPointInTime searches the point in time id instead of the live
// index. The index is then only used for tenant scoping.
func (r SearchRequest) WithPointInTime(id, keepAlive string) SearchRequest {
	r.PointInTime = &PointInTime{ID: id, KeepAlive: keepAlive}
	return r
}

func (r SearchRequest) query() Query { return r.Query }

func (r SearchRequest) indexName() string { return r.Index }

func (r SearchRequest) withQuery(q Query) Request {
	r.Query = q
	return r
}

// AggregateRequest runs aggregations without returning hits.
type AggregateRequest struct {
	Index       string
	Aggregation Aggregation
	Query       Query
	Routing     string
}

// Aggregate creates an aggregate request over the whole index.
func Aggregate(index string, agg Aggregation) AggregateRequest {
	return AggregateRequest{Index: index, Aggregation: agg}
}

func (AggregateRequest) Kind() Kind { return KindAggregate }
func (AggregateRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r AggregateRequest) WithRouting(routing string) AggregateRequest {
	r.Routing = routing
	return r
}

// Filter restricts the aggregated documents to those matching query.
func (r AggregateRequest) Filter(query Query) AggregateRequest {
	r.Query = query
	return r
}

func (r AggregateRequest) query() Query { return r.Query }

func (r AggregateRequest) indexName() string { return r.Index }

func (r AggregateRequest) withQuery(q Query) Request {
	r.Query = q
	return r
}

// CountRequest counts documents, optionally matching a query.
type CountRequest struct {
	Index   string
	Query   Query
	Routing string
}

// Count creates a count request. A nil query counts every document.
func Count(index string, query Query) CountRequest {
	return CountRequest{Index: index, Query: query}
}

func (CountRequest) Kind() Kind { return KindCount }
func (CountRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r CountRequest) WithRouting(routing string) CountRequest {
	r.Routing = routing
	return r
}

func (r CountRequest) query() Query { return r.Query }

func (r CountRequest) indexName() string { return r.Index }

func (r CountRequest) withQuery(q Query) Request {
	r.Query = q
	return r
}

// CreateRequest indexes a document under an engine-generated id.
type CreateRequest struct {
	Index    string
	Document any
	Routing  string
	Refresh  RefreshMode
}

// Create creates a create request. Document is marshalled with
// encoding/json unless it is already json.RawMessage or []byte.
func Create(index string, document any) CreateRequest {
	return CreateRequest{Index: index, Document: document}
}

func (CreateRequest) Kind() Kind { return KindCreate }
func (CreateRequest) isRequest() {}
func (CreateRequest) isBulkable() {}

// WithRouting sets the shard routing value.
func (r CreateRequest) WithRouting(routing string) CreateRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets when the change becomes visible to search.
func (r CreateRequest) WithRefresh(mode RefreshMode) CreateRequest {
	r.Refresh = mode
	return r
}

// CreateWithIDRequest creates a document under a caller-chosen id and
// fails with AlreadyExists when the id is taken.
type CreateWithIDRequest struct {
	Index    string
	ID       string
	Document any
	Routing  string
	Refresh  RefreshMode
}

// CreateWithID builds a request that creates a document under id, failing if it exists.
func CreateWithID(index, id string, document any) CreateWithIDRequest {
	return CreateWithIDRequest{Index: index, ID: id, Document: document}
}

func (CreateWithIDRequest) Kind() Kind { return KindCreateWithID }
func (CreateWithIDRequest) isRequest() {}
func (CreateWithIDRequest) isBulkable() {}

// WithRouting sets the shard routing value.
func (r CreateWithIDRequest) WithRouting(routing string) CreateWithIDRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets when the change becomes visible to search.
func (r CreateWithIDRequest) WithRefresh(mode RefreshMode) CreateWithIDRequest {
	r.Refresh = mode
	return r
}

// UpsertRequest creates or replaces the document with the given id.
type UpsertRequest struct {
	Index    string
	ID       string
	Document any
	Routing  string
	Refresh  RefreshMode
}

// Upsert builds a request that creates or replaces the document under id.
func Upsert(index, id string, document any) UpsertRequest {
	return UpsertRequest{Index: index, ID: id, Document: document}
}

func (UpsertRequest) Kind() Kind { return KindUpsert }
func (UpsertRequest) isRequest() {}
func (UpsertRequest) isBulkable() {}

// WithRouting sets the shard routing value.
func (r UpsertRequest) WithRouting(routing string) UpsertRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets when the change becomes visible to search.
func (r UpsertRequest) WithRefresh(mode RefreshMode) UpsertRequest {
	r.Refresh = mode
	return r
}

// GetByIDRequest reads one document.
type GetByIDRequest struct {
	Index   string
	ID      string
	Routing string
	Refresh RefreshMode
}

// GetByID builds a request that fetches one document.
func GetByID(index, id string) GetByIDRequest {
	return GetByIDRequest{Index: index, ID: id}
}

func (GetByIDRequest) Kind() Kind { return KindGetByID }
func (GetByIDRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r GetByIDRequest) WithRouting(routing string) GetByIDRequest {
	r.Routing = routing
	return r
}

// WithRefresh refreshes the shard before reading. RefreshWaitFor is rejected.
func (r GetByIDRequest) WithRefresh(mode RefreshMode) GetByIDRequest {
	r.Refresh = mode
	return r
}

// DeleteByIDRequest removes one document.
type DeleteByIDRequest struct {
	Index   string
	ID      string
	Routing string
	Refresh RefreshMode
}

// DeleteByID builds a request that deletes one document.
func DeleteByID(index, id string) DeleteByIDRequest {
	return DeleteByIDRequest{Index: index, ID: id}
}

func (DeleteByIDRequest) Kind() Kind { return KindDeleteByID }
func (DeleteByIDRequest) isRequest() {}
func (DeleteByIDRequest) isBulkable() {}

// WithRouting sets the shard routing value.
func (r DeleteByIDRequest) WithRouting(routing string) DeleteByIDRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets when the change becomes visible to search.
func (r DeleteByIDRequest) WithRefresh(mode RefreshMode) DeleteByIDRequest {
	r.Refresh = mode
	return r
}

// DeleteByQueryRequest removes every document matching a query.
type DeleteByQueryRequest struct {
	Index   string
	Query   Query
	Routing string
	Refresh RefreshMode
}

// DeleteByQuery builds a request that deletes every document matching query.
func DeleteByQuery(index string, query Query) DeleteByQueryRequest {
	return DeleteByQueryRequest{Index: index, Query: query}
}

func (DeleteByQueryRequest) Kind() Kind { return KindDeleteByQuery }
func (DeleteByQueryRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r DeleteByQueryRequest) WithRouting(routing string) DeleteByQueryRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets the refresh mode. The engine rejects RefreshWaitFor here.
func (r DeleteByQueryRequest) WithRefresh(mode RefreshMode) DeleteByQueryRequest {
	r.Refresh = mode
	return r
}

func (r DeleteByQueryRequest) query() Query { return r.Query }

func (r DeleteByQueryRequest) indexName() string { return r.Index }

func (r DeleteByQueryRequest) withQuery(q Query) Request {
	r.Query = q
	return r
}

// CreateIndexRequest creates an index. Definition holds mappings and
// settings and may be nil.
type CreateIndexRequest struct {
	Index      string
	Definition any
}

// CreateIndex builds a request that creates index from definition (settings and mappings).
func CreateIndex(index string, definition any) CreateIndexRequest {
	return CreateIndexRequest{Index: index, Definition: definition}
}

func (CreateIndexRequest) Kind() Kind { return KindCreateIndex }
func (CreateIndexRequest) isRequest() {}

// DeleteIndexRequest drops an index.
type DeleteIndexRequest struct {
	Index string
}

// DeleteIndex builds a request that drops index.
func DeleteIndex(index string) DeleteIndexRequest {
	return DeleteIndexRequest{Index: index}
}

func (DeleteIndexRequest) Kind() Kind { return KindDeleteIndex }
func (DeleteIndexRequest) isRequest() {}

// IndexExistsRequest checks whether an index exists.
type IndexExistsRequest struct {
	Index string
}

// IndexExists creates an index existence check.
func IndexExists(index string) IndexExistsRequest {
	return IndexExistsRequest{Index: index}
}

func (IndexExistsRequest) Kind() Kind { return KindIndexExists }
func (IndexExistsRequest) isRequest() {}

// defaultKeepAlive is used when OpenPointInTime is given no keep-alive.
const defaultKeepAlive = "1m"

// OpenPointInTimeRequest captures the current state of an index for
// consistent paging with SearchAfter.
type OpenPointInTimeRequest struct {
	Index     string
	KeepAlive string
	Routing   string
}

// OpenPointInTime creates a point-in-time request. An empty keepAlive
// means one minute.
func OpenPointInTime(index, keepAlive string) OpenPointInTimeRequest {
	return OpenPointInTimeRequest{Index: index, KeepAlive: keepAlive}
}

func (OpenPointInTimeRequest) Kind() Kind { return KindOpenPointInTime }
func (OpenPointInTimeRequest) isRequest() {}

// WithRouting returns a copy restricted to the shards of routing.
func (r OpenPointInTimeRequest) WithRouting(routing string) OpenPointInTimeRequest {
	r.Routing = routing
	return r
}

// ClosePointInTimeRequest releases a point in time.
type ClosePointInTimeRequest struct {
	ID string
}

// ClosePointInTime creates a request releasing the point in time id.
func ClosePointInTime(id string) ClosePointInTimeRequest {
	return ClosePointInTimeRequest{ID: id}
}

func (ClosePointInTimeRequest) Kind() Kind { return KindClosePointInTime }
func (ClosePointInTimeRequest) isRequest() {}

// ExistsRequest checks whether a document exists.
type ExistsRequest struct {
	Index   string
	ID      string
	Routing string
}

// Exists builds a request that checks whether a document exists.
func Exists(index, id string) ExistsRequest {
	return ExistsRequest{Index: index, ID: id}
}

func (ExistsRequest) Kind() Kind { return KindExists }
func (ExistsRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r ExistsRequest) WithRouting(routing string) ExistsRequest {
	r.Routing = routing
	return r
}

// UpdateByScriptRequest applies a script to one document.
type UpdateByScriptRequest struct {
	Index   string
	ID      string
	Script  Script
	Upsert  any
	Routing string
	Refresh RefreshMode
}

// UpdateByScript builds a request that runs script against one document.
func UpdateByScript(index, id string, script Script) UpdateByScriptRequest {
	return UpdateByScriptRequest{Index: index, ID: id, Script: script}
}

func (UpdateByScriptRequest) Kind() Kind { return KindUpdateByScript }
func (UpdateByScriptRequest) isRequest() {}
func (UpdateByScriptRequest) isBulkable() {}

// WithRouting sets the shard routing value.
func (r UpdateByScriptRequest) WithRouting(routing string) UpdateByScriptRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets when the change becomes visible to search.
func (r UpdateByScriptRequest) WithRefresh(mode RefreshMode) UpdateByScriptRequest {
	r.Refresh = mode
	return r
}

// OrCreate sets the document indexed when the target does not exist yet.
func (r UpdateByScriptRequest) OrCreate(document any) UpdateByScriptRequest {
	r.Upsert = document
	return r
}

// UpdateByDocRequest merges a partial document into one document.
type UpdateByDocRequest struct {
	Index   string
	ID      string
	Doc     any
	Upsert  any
	Routing string
	Refresh RefreshMode
}

// UpdateByDoc builds a request that merges doc into one document.
func UpdateByDoc(index, id string, doc any) UpdateByDocRequest {
	return UpdateByDocRequest{Index: index, ID: id, Doc: doc}
}

func (UpdateByDocRequest) Kind() Kind { return KindUpdateByDoc }
func (UpdateByDocRequest) isRequest() {}
func (UpdateByDocRequest) isBulkable() {}

// WithRouting sets the shard routing value.
func (r UpdateByDocRequest) WithRouting(routing string) UpdateByDocRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets when the change becomes visible to search.
func (r UpdateByDocRequest) WithRefresh(mode RefreshMode) UpdateByDocRequest {
	r.Refresh = mode
	return r
}

// OrCreate sets the document indexed when the target does not exist yet.
func (r UpdateByDocRequest) OrCreate(document any) UpdateByDocRequest {
	r.Upsert = document
	return r
}

// UpdateAllByQueryRequest applies a script to every document of an index.
type UpdateAllByQueryRequest struct {
	Index     string
	Script    Script
	Routing   string
	Refresh   RefreshMode
	Conflicts ConflictPolicy

	// set only by tenant scoping
	filter Query
}

// UpdateAllByQuery builds a request that runs script against every document in index.
func UpdateAllByQuery(index string, script Script) UpdateAllByQueryRequest {
	return UpdateAllByQueryRequest{Index: index, Script: script}
}

func (UpdateAllByQueryRequest) Kind() Kind { return KindUpdateAllByQuery }
func (UpdateAllByQueryRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r UpdateAllByQueryRequest) WithRouting(routing string) UpdateAllByQueryRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets the refresh mode. The engine rejects RefreshWaitFor here.
func (r UpdateAllByQueryRequest) WithRefresh(mode RefreshMode) UpdateAllByQueryRequest {
	r.Refresh = mode
	return r
}

// WithConflicts sets how version conflicts are handled.
func (r UpdateAllByQueryRequest) WithConflicts(policy ConflictPolicy) UpdateAllByQueryRequest {
	r.Conflicts = policy
	return r
}

func (r UpdateAllByQueryRequest) query() Query { return r.filter }

func (r UpdateAllByQueryRequest) indexName() string { return r.Index }

func (r UpdateAllByQueryRequest) withQuery(q Query) Request {
	r.filter = q
	return r
}

// UpdateByQueryRequest applies a script to every document matching a query.
type UpdateByQueryRequest struct {
	Index     string
	Script    Script
	Query     Query
	Routing   string
	Refresh   RefreshMode
	Conflicts ConflictPolicy
}

// UpdateByQuery builds a request that runs script against every document matching query.
func UpdateByQuery(index string, query Query, script Script) UpdateByQueryRequest {
	return UpdateByQueryRequest{Index: index, Query: query, Script: script}
}

func (UpdateByQueryRequest) Kind() Kind { return KindUpdateByQuery }
func (UpdateByQueryRequest) isRequest() {}

// WithRouting sets the shard routing value.
func (r UpdateByQueryRequest) WithRouting(routing string) UpdateByQueryRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets the refresh mode. The engine rejects RefreshWaitFor here.
func (r UpdateByQueryRequest) WithRefresh(mode RefreshMode) UpdateByQueryRequest {
	r.Refresh = mode
	return r
}

// WithConflicts sets how version conflicts are handled.
func (r UpdateByQueryRequest) WithConflicts(policy ConflictPolicy) UpdateByQueryRequest {
	r.Conflicts = policy
	return r
}

func (r UpdateByQueryRequest) query() Query { return r.Query }

func (r UpdateByQueryRequest) indexName() string { return r.Index }

func (r UpdateByQueryRequest) withQuery(q Query) Request {
	r.Query = q
	return r
}

// BulkableRequest is a single-document request that can ride in a bulk.
type BulkableRequest interface {
	Request
	isBulkable()
}

// BulkRequest sends many single-document operations in one call. Items
// are executed and reported in order.
type BulkRequest struct {
	Items   []BulkableRequest
	Routing string
	Refresh RefreshMode
}

// Bulk builds a request that sends items in one _bulk call.
func Bulk(items ...BulkableRequest) BulkRequest {
	return BulkRequest{Items: append([]BulkableRequest(nil), items...)}
}

func (BulkRequest) Kind() Kind { return KindBulk }
func (BulkRequest) isRequest() {}

// Add returns a copy of the bulk with items appended.
func (r BulkRequest) Add(items ...BulkableRequest) BulkRequest {
	r.Items = append(append([]BulkableRequest(nil), r.Items...), items...)
	return r
}

// WithRouting sets the shard routing value.
func (r BulkRequest) WithRouting(routing string) BulkRequest {
	r.Routing = routing
	return r
}

// WithRefresh sets when the change becomes visible to search.
func (r BulkRequest) WithRefresh(mode RefreshMode) BulkRequest {
	r.Refresh = mode
	return r
}

// queryBearing is implemented by requests whose documents are selected by a query.
type queryBearing interface {
	Request
	indexName() string
	query() Query
	withQuery(Query) Request
}
