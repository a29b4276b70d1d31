package esclient

// AggregationType is the type tag Elasticsearch writes in front of the
// aggregation name when typed_keys is on ("terms#by_brand").
type AggregationType string

const (
	AggregationAvg         AggregationType = "avg"
	AggregationCardinality AggregationType = "cardinality"
	AggregationMax         AggregationType = "max"
	AggregationTerms       AggregationType = "terms"
)

// Aggregation describes one or more requested aggregations.
type Aggregation interface {
	// aggs returns the "aggs" object body, keyed by aggregation name.
	aggs() map[string]any
}

type fieldAggregation struct {
	typ   AggregationType
	name  string
	field string
}

func (a fieldAggregation) aggs() map[string]any {
	return map[string]any{
		a.name: map[string]any{
			string(a.typ): map[string]any{"field": a.field},
		},
	}
}

// AvgAggregation computes the average of a numeric field.
func AvgAggregation(name, field string) Aggregation {
	return fieldAggregation{typ: AggregationAvg, name: name, field: field}
}

// CardinalityAggregation counts distinct values of a field.
func CardinalityAggregation(name, field string) Aggregation {
	return fieldAggregation{typ: AggregationCardinality, name: name, field: field}
}

// MaxAggregation computes the maximum of a numeric field.
func MaxAggregation(name, field string) Aggregation {
	return fieldAggregation{typ: AggregationMax, name: name, field: field}
}

// TermsAggregationRequest groups documents into buckets by field value.
type TermsAggregationRequest struct {
	Name            string
	Field           string
	BucketSize      *int
	SubAggregations []Aggregation
}

// TermsAggregation creates a terms aggregation.
func TermsAggregation(name, field string) TermsAggregationRequest {
	return TermsAggregationRequest{Name: name, Field: field}
}

// Size limits the number of buckets returned.
func (a TermsAggregationRequest) Size(size int) TermsAggregationRequest {
	a.BucketSize = &size
	return a
}

// WithSubAggregation returns a copy with sub computed inside every bucket.
func (a TermsAggregationRequest) WithSubAggregation(sub Aggregation) TermsAggregationRequest {
	a.SubAggregations = append(append([]Aggregation(nil), a.SubAggregations...), sub)
	return a
}

func (a TermsAggregationRequest) aggs() map[string]any {
	terms := map[string]any{"field": a.Field}
	if a.BucketSize != nil {
		terms["size"] = *a.BucketSize
	}
	body := map[string]any{string(AggregationTerms): terms}
	if len(a.SubAggregations) > 0 {
		body["aggs"] = MultipleAggregations(a.SubAggregations...).aggs()
	}
	return map[string]any{a.Name: body}
}

type multipleAggregations []Aggregation

// MultipleAggregations requests several sibling aggregations at once.
func MultipleAggregations(aggs ...Aggregation) Aggregation {
	return multipleAggregations(append([]Aggregation(nil), aggs...))
}

func (m multipleAggregations) aggs() map[string]any {
	out := make(map[string]any)
	for _, agg := range m {
		if agg == nil {
			continue
		}
		for name, body := range agg.aggs() {
			out[name] = body
		}
	}
	return out
}
