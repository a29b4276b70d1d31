package esclient

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// CreationOutcome is the result of create-with-id and create-index.
type CreationOutcome int

const (
	Created CreationOutcome = iota + 1
	AlreadyExists
)

func (o CreationOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// DeletionOutcome is the result of delete-by-id, delete-by-query and delete-index.
type DeletionOutcome int

const (
	Deleted DeletionOutcome = iota + 1
	NotFound
)

func (o DeletionOutcome) String() string {
	switch o {
	case Deleted:
		return "deleted"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// UpsertOutcome tells whether an upsert created or replaced the document.
type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
)

// Created reports whether the upsert indexed a new document.
func (o UpsertOutcome) Created() bool { return o == UpsertCreated }

// Updated reports whether the upsert replaced an existing document.
func (o UpsertOutcome) Updated() bool { return o == UpsertUpdated }

// UpdateOutcome is the result of a single-document update.
type UpdateOutcome string

const (
	UpdateUpdated  UpdateOutcome = "updated"
	UpdateCreated  UpdateOutcome = "created"
	UpdateNoop     UpdateOutcome = "noop"
	UpdateNotFound UpdateOutcome = "not_found"
	UpdateConflict UpdateOutcome = "conflict"
)

// Hit is one search hit.
type Hit struct {
	Index     string              `json:"_index"`
	ID        string              `json:"_id"`
	Score     *float64            `json:"_score"`
	Routing   string              `json:"_routing,omitempty"`
	Source    json.RawMessage     `json:"_source"`
	Sort      []any               `json:"sort,omitempty"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

// Decode unmarshals the hit source into v.
func (h Hit) Decode(v any) error {
	if len(h.Source) == 0 {
		return errors.Errorf("hit %q has no _source", h.ID)
	}
	return errors.Wrapf(json.Unmarshal(h.Source, v), "failed to decode hit %q", h.ID)
}

// SearchResult is the typed search response.
type SearchResult struct {
	Took          time.Duration
	TimedOut      bool
	Total         int64
	TotalRelation string
	MaxScore      *float64
	Hits          []Hit
	Aggregations  Aggregations
	// PitID is the refreshed point-in-time ID when the search used one.
	PitID string
}

// LastSortValues returns the sort values of the last hit, for SearchAfter.
func (r *SearchResult) LastSortValues() []any {
	if len(r.Hits) == 0 {
		return nil
	}
	return r.Hits[len(r.Hits)-1].Sort
}

// GetResult is a document read by id.
type GetResult struct {
	Index       string
	ID          string
	Version     int64
	SeqNo       int64
	PrimaryTerm int64
	Routing     string
	Source      json.RawMessage
}

// Decode unmarshals the document source into v.
func (r *GetResult) Decode(v any) error {
	return errors.Wrapf(json.Unmarshal(r.Source, v), "failed to decode document %q", r.ID)
}

// UpdateByQueryResult summarises an update-by-query run.
type UpdateByQueryResult struct {
	Took             time.Duration
	Total            int64
	Updated          int64
	Deleted          int64
	VersionConflicts int64
	Noops            int64
}

type searchResponse struct {
	Took     *int64 `json:"took"`
	TimedOut bool   `json:"timed_out"`
	Hits     *struct {
		Total *struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		MaxScore *float64 `json:"max_score"`
		Hits     []Hit    `json:"hits"`
	} `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations"`
	PitID        string          `json:"pit_id"`
}

// DecodeSearch decodes a search response.
func DecodeSearch(status int, body []byte) (*SearchResult, error) {
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}

	var resp searchResponse
	if err := unmarshalStrict(body, &resp); err != nil {
		return nil, err
	}
	if resp.Took == nil {
		return nil, decodeErrorf("took", "field is missing")
	}
	if resp.Hits == nil {
		return nil, decodeErrorf("hits", "field is missing")
	}

	result := &SearchResult{
		Took:     millis(*resp.Took),
		TimedOut: resp.TimedOut,
		MaxScore: resp.Hits.MaxScore,
		Hits:     resp.Hits.Hits,
		PitID:    resp.PitID,
	}
	if resp.Hits.Total != nil {
		result.Total = resp.Hits.Total.Value
		result.TotalRelation = resp.Hits.Total.Relation
	}
	if len(resp.Aggregations) > 0 {
		aggs, err := DecodeAggregations(body)
		if err != nil {
			return nil, err
		}
		result.Aggregations = aggs
	}
	return result, nil
}

// DecodeAggregateResponse decodes the response of an aggregate request.
func DecodeAggregateResponse(status int, body []byte) (Aggregations, error) {
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}
	return DecodeAggregations(body)
}

// DecodeCount decodes a count response.
func DecodeCount(status int, body []byte) (int64, error) {
	if status != http.StatusOK {
		return 0, statusError(status, body)
	}
	var resp struct {
		Count *int64 `json:"count"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return 0, err
	}
	if resp.Count == nil {
		return 0, decodeErrorf("count", "field is missing")
	}
	return *resp.Count, nil
}

// DecodeCreate decodes the response of a create with a generated id and
// returns that id.
func DecodeCreate(status int, body []byte) (string, error) {
	if status != http.StatusCreated && status != http.StatusOK {
		return "", statusError(status, body)
	}
	var resp struct {
		ID string `json:"_id"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", decodeErrorf("_id", "field is missing")
	}
	return resp.ID, nil
}

// DecodeCreateWithID decodes a create-with-id response.
func DecodeCreateWithID(status int, body []byte) (CreationOutcome, error) {
	switch status {
	case http.StatusCreated, http.StatusOK:
		if err := requireResult(body, "created"); err != nil {
			return 0, err
		}
		return Created, nil
	case http.StatusConflict:
		return AlreadyExists, nil
	default:
		return 0, statusError(status, body)
	}
}

// DecodeUpsert decodes the response of an index-with-id request.
func DecodeUpsert(status int, body []byte) (UpsertOutcome, error) {
	if status != http.StatusCreated && status != http.StatusOK {
		return "", statusError(status, body)
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return "", err
	}
	switch outcome := UpsertOutcome(resp.Result); outcome {
	case UpsertCreated, UpsertUpdated:
		return outcome, nil
	default:
		return "", decodeErrorf("result", "unexpected value %q", resp.Result)
	}
}

// DecodeGetByID decodes a get response. It returns nil when the document
// or the index does not exist.
func DecodeGetByID(status int, body []byte) (*GetResult, error) {
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError(status, body)
	}

	var resp struct {
		Index       string          `json:"_index"`
		ID          string          `json:"_id"`
		Version     int64           `json:"_version"`
		SeqNo       int64           `json:"_seq_no"`
		PrimaryTerm int64           `json:"_primary_term"`
		Routing     string          `json:"_routing"`
		Found       *bool           `json:"found"`
		Source      json.RawMessage `json:"_source"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return nil, err
	}
	if resp.Found == nil {
		return nil, decodeErrorf("found", "field is missing")
	}
	if !*resp.Found {
		return nil, nil
	}
	if len(resp.Source) == 0 {
		return nil, decodeErrorf("_source", "field is missing")
	}
	return &GetResult{
		Index:       resp.Index,
		ID:          resp.ID,
		Version:     resp.Version,
		SeqNo:       resp.SeqNo,
		PrimaryTerm: resp.PrimaryTerm,
		Routing:     resp.Routing,
		Source:      resp.Source,
	}, nil
}

// DecodeDeletion decodes delete-by-id, delete-by-query, delete-index and
// close point-in-time responses. 404 means the target was not there.
func DecodeDeletion(status int, body []byte) (DeletionOutcome, error) {
	switch status {
	case http.StatusOK:
		if !json.Valid(body) {
			return 0, decodeErrorf("", "body is not valid JSON")
		}
		return Deleted, nil
	case http.StatusNotFound:
		return NotFound, nil
	default:
		return 0, statusError(status, body)
	}
}

// DecodeCreateIndex decodes a create-index response.
func DecodeCreateIndex(status int, body []byte) (CreationOutcome, error) {
	if status == http.StatusOK {
		var resp struct {
			Acknowledged *bool `json:"acknowledged"`
		}
		if err := unmarshalStrict(body, &resp); err != nil {
			return 0, err
		}
		if resp.Acknowledged == nil {
			return 0, decodeErrorf("acknowledged", "field is missing")
		}
		return Created, nil
	}

	cause := engineError(body)
	if status == http.StatusBadRequest && cause != nil && cause.Type == resourceAlreadyExists {
		return AlreadyExists, nil
	}
	return 0, &StatusError{StatusCode: status, Cause: cause}
}

const resourceAlreadyExists = "resource_already_exists_exception"

// DecodeExists decodes the bodiless answer to a HEAD request.
func DecodeExists(status int, _ []byte) (bool, error) {
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{StatusCode: status}
	}
}

// DecodeOpenPointInTime decodes an open point-in-time response into the
// point-in-time ID.
func DecodeOpenPointInTime(status int, body []byte) (string, error) {
	if status != http.StatusOK {
		return "", statusError(status, body)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", decodeErrorf("id", "field is missing")
	}
	return resp.ID, nil
}

// DecodeUpdate decodes a single-document update response.
func DecodeUpdate(status int, body []byte) (UpdateOutcome, error) {
	switch status {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return UpdateNotFound, nil
	case http.StatusConflict:
		return UpdateConflict, nil
	default:
		return "", statusError(status, body)
	}

	var resp struct {
		Result string `json:"result"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return "", err
	}
	switch outcome := UpdateOutcome(resp.Result); outcome {
	case UpdateUpdated, UpdateCreated, UpdateNoop:
		return outcome, nil
	default:
		return "", decodeErrorf("result", "unexpected value %q", resp.Result)
	}
}

// DecodeUpdateByQuery decodes an update-by-query response.
func DecodeUpdateByQuery(status int, body []byte) (*UpdateByQueryResult, error) {
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}

	var resp struct {
		Took             *int64 `json:"took"`
		Total            *int64 `json:"total"`
		Updated          *int64 `json:"updated"`
		Deleted          *int64 `json:"deleted"`
		VersionConflicts *int64 `json:"version_conflicts"`
		Noops            *int64 `json:"noops"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return nil, err
	}

	fields := []struct {
		name     string
		value    *int64
		optional bool
	}{
		{"took", resp.Took, false},
		{"total", resp.Total, false},
		{"updated", resp.Updated, false},
		{"deleted", resp.Deleted, false},
		{"version_conflicts", resp.VersionConflicts, false},
		{"noops", resp.Noops, true},
	}
	for _, f := range fields {
		if f.value == nil {
			if f.optional {
				continue
			}
			return nil, decodeErrorf(f.name, "field is missing")
		}
		if *f.value < 0 {
			return nil, decodeErrorf(f.name, "negative count %d", *f.value)
		}
	}

	result := &UpdateByQueryResult{
		Took:             millis(*resp.Took),
		Total:            *resp.Total,
		Updated:          *resp.Updated,
		Deleted:          *resp.Deleted,
		VersionConflicts: *resp.VersionConflicts,
	}
	if resp.Noops != nil {
		result.Noops = *resp.Noops
	}
	if result.Updated+result.Deleted+result.VersionConflicts+result.Noops > result.Total {
		return nil, decodeErrorf("total", "total %d is lower than the sum of processed documents", result.Total)
	}
	return result, nil
}

func requireResult(body []byte, want string) error {
	var resp struct {
		Result string `json:"result"`
	}
	if err := unmarshalStrict(body, &resp); err != nil {
		return err
	}
	if resp.Result != want {
		return decodeErrorf("result", "expected %q, got %q", want, resp.Result)
	}
	return nil
}

// unmarshalStrict decodes a JSON object body, reporting the offending
// field on type mismatches.
func unmarshalStrict(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return decodeErrorf("", "expected a JSON object")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &DecodeError{Field: typeErr.Field, Reason: "unexpected " + typeErr.Value, Err: err}
		}
		return &DecodeError{Reason: "invalid JSON", Err: err}
	}
	return nil
}

// statusError builds a StatusError from an error response body.
func statusError(status int, body []byte) error {
	return &StatusError{StatusCode: status, Cause: engineError(body)}
}

// engineError extracts the "error" member of a failed response. It is
// either an object or, on some endpoints, a bare string.
func engineError(body []byte) *EngineError {
	var resp struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Error) == 0 {
		return nil
	}

	var e EngineError
	if err := json.Unmarshal(resp.Error, &e); err == nil {
		return &e
	}
	var reason string
	if err := json.Unmarshal(resp.Error, &reason); err == nil {
		return &EngineError{Reason: reason}
	}
	return nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
