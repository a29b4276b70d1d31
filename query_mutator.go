package esclient

import (
	"strings"

	"github.com/pkg/errors"
)

// IndexTarget tells whether an index holds one company's documents or
// many companies' documents.
type IndexTarget int

const (
	IndexTargetShared IndexTarget = iota
	IndexTargetPerCompany
)

func (t IndexTarget) String() string {
	if t == IndexTargetPerCompany {
		return "per_company"
	}
	return "shared"
}

// companyField is the keyword field shared indices are partitioned by.
const companyField = "company_id.keyword"

// DetectIndexTarget determines if index is per-company or shared
func DetectIndexTarget(indexName string) IndexTarget {
	parts := strings.Split(indexName, "_")
	if len(parts) < 2 {
		return IndexTargetShared
	}

	lastPart := parts[len(parts)-1]

	// UUID pattern: 36 chars with 4 dashes
	if len(lastPart) == 36 && strings.Count(lastPart, "-") == 4 {
		return IndexTargetPerCompany
	}

	return IndexTargetShared
}

type QueryMutator struct{}

func NewQueryMutator() *QueryMutator {
	return &QueryMutator{}
}

// Scope returns q restricted to companyID's documents on shared indices.
// q itself is never modified; per-company targets get q back as is.
func (m *QueryMutator) Scope(q Query, companyID string, target IndexTarget) (Query, error) {
	if target == IndexTargetPerCompany {
		return q, nil
	}

	if companyID == "" {
		return nil, errors.New("companyID required for shared index")
	}

	companyFilter := map[string]any{
		"term": map[string]any{
			companyField: companyID,
		},
	}

	if len(q) == 0 {
		return Query{
			"bool": map[string]any{
				"filter": []any{companyFilter},
			},
		}, nil
	}

	var boolMap map[string]any
	switch b := q["bool"].(type) {
	case map[string]any:
		boolMap = b
	case Query:
		boolMap = b
	}
	if boolMap != nil && len(q) == 1 {
		scoped, err := m.injectIntoBool(boolMap, companyFilter)
		if err != nil {
			return nil, err
		}
		return Query{"bool": scoped}, nil
	}

	// Wrap non-bool query
	return Query{
		"bool": map[string]any{
			"must":   []any{map[string]any(q)},
			"filter": []any{companyFilter},
		},
	}, nil
}

// injectIntoBool returns a copy of boolMap with filter appended to its
// filter clause.
func (m *QueryMutator) injectIntoBool(boolMap map[string]any, filter map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(boolMap)+1)
	for k, v := range boolMap {
		out[k] = v
	}

	filterVal, hasFilter := boolMap["filter"]
	if !hasFilter {
		out["filter"] = []any{filter}
		return out, nil
	}

	switch f := filterVal.(type) {
	case []any:
		filters := make([]any, 0, len(f)+1)
		out["filter"] = append(append(filters, f...), filter)
	case map[string]any:
		out["filter"] = []any{f, filter}
	case Query:
		out["filter"] = []any{map[string]any(f), filter}
	default:
		return nil, errors.Errorf("unexpected filter type: %T", filterVal)
	}

	return out, nil
}
