package esclient

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v9/typedapi/types/enums/operationtype"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// BulkOperation is the action a bulk item was sent as.
type BulkOperation string

var (
	BulkCreate = BulkOperation(operationtype.Create.String())
	BulkIndex  = BulkOperation(operationtype.Index.String())
	BulkUpdate = BulkOperation(operationtype.Update.String())
	BulkDelete = BulkOperation(operationtype.Delete.String())
)

// ShardsSummary is the per-item shard count summary.
type ShardsSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkItemResult is the outcome of one bulk item. Result and Status are
// empty when the engine left them out.
type BulkItemResult struct {
	Operation BulkOperation
	Index     string
	ID        string
	Version   *int64
	Result    string
	Shards    *ShardsSummary
	Status    int
	Error     *EngineError
}

// Failed reports whether the engine rejected this item.
func (i BulkItemResult) Failed() bool { return i.Error != nil }

// BulkResult is the typed bulk response. Items follow request order.
type BulkResult struct {
	Took   time.Duration
	Errors bool
	Items  []BulkItemResult
}

// FailedItems returns the positions of the items that carry an error.
func (r *BulkResult) FailedItems() []int {
	var failed []int
	for i, item := range r.Items {
		if item.Failed() {
			failed = append(failed, i)
		}
	}
	return failed
}

type bulkAction struct {
	Index   string `json:"_index"`
	ID      string `json:"_id,omitempty"`
	Routing string `json:"routing,omitempty"`
}

func mapBulk(r BulkRequest) (WireRequest, error) {
	if len(r.Items) == 0 {
		return WireRequest{}, malformed(KindBulk, "items", "bulk request has no items")
	}

	var buf bytes.Buffer
	for i, item := range r.Items {
		if err := writeBulkItem(&buf, item); err != nil {
			var mre *MalformedRequestError
			if errors.As(err, &mre) {
				return WireRequest{}, malformed(KindBulk, "items["+strconv.Itoa(i)+"]."+mre.Field, mre.Reason)
			}
			return WireRequest{}, errors.Wrapf(err, "bulk item %d", i)
		}
	}

	q := url.Values{}
	setRouting(q, r.Routing)
	setRefresh(q, r.Refresh)

	return WireRequest{
		Method:      http.MethodPost,
		Path:        "/_bulk",
		Query:       q,
		Body:        buf.Bytes(),
		ContentType: contentTypeNDJSON,
	}, nil
}

// writeBulkItem writes the action line and, except for deletes, the source line.
func writeBulkItem(buf *bytes.Buffer, item BulkableRequest) error {
	var (
		op     BulkOperation
		action bulkAction
		source []byte
		err    error
	)

	switch r := item.(type) {
	case CreateRequest:
		if r.Index == "" {
			return malformed(r.Kind(), "index", "index name is required")
		}
		op, action = BulkCreate, bulkAction{Index: r.Index, Routing: r.Routing}
		source, err = encodeDocument(r.Kind(), "document", r.Document)
	case CreateWithIDRequest:
		if err := requireIndexAndID(r.Kind(), r.Index, r.ID); err != nil {
			return err
		}
		op, action = BulkCreate, bulkAction{Index: r.Index, ID: r.ID, Routing: r.Routing}
		source, err = encodeDocument(r.Kind(), "document", r.Document)
	case UpsertRequest:
		if err := requireIndexAndID(r.Kind(), r.Index, r.ID); err != nil {
			return err
		}
		op, action = BulkIndex, bulkAction{Index: r.Index, ID: r.ID, Routing: r.Routing}
		source, err = encodeDocument(r.Kind(), "document", r.Document)
	case DeleteByIDRequest:
		if err := requireIndexAndID(r.Kind(), r.Index, r.ID); err != nil {
			return err
		}
		op, action = BulkDelete, bulkAction{Index: r.Index, ID: r.ID, Routing: r.Routing}
	case UpdateByDocRequest:
		if err := requireIndexAndID(r.Kind(), r.Index, r.ID); err != nil {
			return err
		}
		op, action = BulkUpdate, bulkAction{Index: r.Index, ID: r.ID, Routing: r.Routing}
		source, err = docUpdateBody(r)
	case UpdateByScriptRequest:
		if err := requireIndexAndID(r.Kind(), r.Index, r.ID); err != nil {
			return err
		}
		op, action = BulkUpdate, bulkAction{Index: r.Index, ID: r.ID, Routing: r.Routing}
		source, err = scriptUpdateBody(r)
	default:
		return errors.Errorf("unsupported bulk item %T", item)
	}
	if err != nil {
		return err
	}

	line, err := json.Marshal(map[BulkOperation]bulkAction{op: action})
	if err != nil {
		return errors.Wrap(err, "failed to encode bulk action")
	}
	buf.Write(line)
	buf.WriteByte('\n')
	if op != BulkDelete {
		buf.Write(source)
		buf.WriteByte('\n')
	}
	return nil
}

type bulkResponse struct {
	Took   *int64                       `json:"took"`
	Errors *bool                        `json:"errors"`
	Items  []map[string]json.RawMessage `json:"items"`
}

type bulkItemBody struct {
	Index   string         `json:"_index"`
	ID      string         `json:"_id"`
	Version *int64         `json:"_version"`
	Result  string         `json:"result"`
	Shards  *ShardsSummary `json:"_shards"`
	Status  int            `json:"status"`
	Error   *EngineError   `json:"error"`
}

// DecodeBulk decodes a bulk response. A failed item does not stop the
// decoding of the items after it.
func DecodeBulk(status int, body []byte) (*BulkResult, error) {
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}

	var resp bulkResponse
	if err := unmarshalStrict(body, &resp); err != nil {
		return nil, err
	}
	if resp.Took == nil {
		return nil, decodeErrorf("took", "field is missing")
	}
	if resp.Errors == nil {
		return nil, decodeErrorf("errors", "field is missing")
	}
	if resp.Items == nil {
		return nil, decodeErrorf("items", "field is missing")
	}

	items := make([]BulkItemResult, 0, len(resp.Items))
	for i, raw := range resp.Items {
		item, err := decodeBulkItem(raw, "items."+strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return &BulkResult{
		Took:   millis(*resp.Took),
		Errors: lo.SomeBy(items, BulkItemResult.Failed),
		Items:  items,
	}, nil
}

func decodeBulkItem(raw map[string]json.RawMessage, path string) (BulkItemResult, error) {
	if len(raw) != 1 {
		return BulkItemResult{}, decodeErrorf(path, "expected exactly one operation key, got %d", len(raw))
	}

	var (
		key   string
		value json.RawMessage
	)
	for k, v := range raw {
		key, value = k, v
	}

	op := BulkOperation(key)
	switch op {
	case BulkCreate, BulkIndex, BulkUpdate, BulkDelete:
	default:
		return BulkItemResult{}, decodeErrorf(path+"."+key, "unknown bulk operation")
	}

	var b bulkItemBody
	if err := unmarshalStrict(value, &b); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Field = joinField(path+"."+key, de.Field)
		}
		return BulkItemResult{}, err
	}

	return BulkItemResult{
		Operation: op,
		Index:     b.Index,
		ID:        b.ID,
		Version:   b.Version,
		Result:    b.Result,
		Shards:    b.Shards,
		Status:    b.Status,
		Error:     b.Error,
	}, nil
}

func joinField(prefix, field string) string {
	if field == "" {
		return prefix
	}
	return prefix + "." + field
}
