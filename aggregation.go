package esclient

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Aggregations maps the requested aggregation name to its result.
type Aggregations map[string]AggregationResult

// AggregationResult is one of AvgResult, CardinalityResult, MaxResult or
// TermsResult.
type AggregationResult interface {
	Type() AggregationType
}

// AvgResult holds the average. Value is NaN when no document had the field.
type AvgResult struct {
	Value float64
}

func (AvgResult) Type() AggregationType { return AggregationAvg }

// CardinalityResult holds the approximate distinct count.
type CardinalityResult struct {
	Value int64
}

func (CardinalityResult) Type() AggregationType { return AggregationCardinality }

// MaxResult holds the maximum. Value is NaN when no document had the field.
type MaxResult struct {
	Value float64
}

func (MaxResult) Type() AggregationType { return AggregationMax }

// TermsResult holds the buckets of a terms aggregation.
type TermsResult struct {
	DocCountErrorUpperBound int64
	SumOtherDocCount        int64
	Buckets                 []TermsBucket
}

func (TermsResult) Type() AggregationType { return AggregationTerms }

// TermsBucket is one distinct value and the documents holding it.
// SubAggregations is nil when the bucket carries no sub-aggregation.
type TermsBucket struct {
	Key             string
	KeyAsString     string
	DocCount        int64
	SubAggregations Aggregations
}

// Avg returns the avg result named name.
func (a Aggregations) Avg(name string) (AvgResult, bool) {
	r, ok := a[name].(AvgResult)
	return r, ok
}

// Cardinality returns the cardinality result named name.
func (a Aggregations) Cardinality(name string) (CardinalityResult, bool) {
	r, ok := a[name].(CardinalityResult)
	return r, ok
}

// Max returns the max result named name.
func (a Aggregations) Max(name string) (MaxResult, bool) {
	r, ok := a[name].(MaxResult)
	return r, ok
}

// Terms returns the terms result named name.
func (a Aggregations) Terms(name string) (TermsResult, bool) {
	r, ok := a[name].(TermsResult)
	return r, ok
}

const typedKeySeparator = "#"

// Bucket fields that are not sub-aggregations.
var bucketReservedFields = map[string]struct{}{
	"key":                         {},
	"key_as_string":               {},
	"doc_count":                   {},
	"doc_count_error_upper_bound": {},
}

// DecodeAggregations decodes the "aggregations" object of a search
// response produced with typed_keys=true.
func DecodeAggregations(body []byte) (Aggregations, error) {
	if !gjson.ValidBytes(body) {
		return nil, decodeErrorf("", "body is not valid JSON")
	}
	aggs := gjson.GetBytes(body, "aggregations")
	if !aggs.Exists() {
		return nil, decodeErrorf("aggregations", "field is missing")
	}
	return decodeAggregationObject(aggs, "aggregations", nil)
}

// decodeAggregationObject decodes every "type#name" field of obj, skipping
// the reserved ones. It returns nil when obj has no aggregation field.
func decodeAggregationObject(obj gjson.Result, path string, reserved map[string]struct{}) (Aggregations, error) {
	if !obj.IsObject() {
		return nil, decodeErrorf(path, "expected an object")
	}

	var (
		out Aggregations
		err error
	)
	obj.ForEach(func(key, value gjson.Result) bool {
		field := key.String()
		if _, ok := reserved[field]; ok {
			return true
		}
		fieldPath := path + "." + field

		tag, name, found := strings.Cut(field, typedKeySeparator)
		if !found {
			err = decodeErrorf(fieldPath, "aggregation name carries no type tag")
			return false
		}

		var result AggregationResult
		result, err = decodeAggregation(AggregationType(tag), value, fieldPath)
		if err != nil {
			return false
		}

		if out == nil {
			out = make(Aggregations)
		}
		if _, dup := out[name]; dup {
			err = decodeErrorf(fieldPath, "duplicate aggregation name %q", name)
			return false
		}
		out[name] = result
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeAggregation(tag AggregationType, value gjson.Result, path string) (AggregationResult, error) {
	if !value.IsObject() {
		return nil, decodeErrorf(path, "expected an object")
	}

	switch tag {
	case AggregationAvg:
		v, err := metricValue(value, path)
		if err != nil {
			return nil, err
		}
		return AvgResult{Value: v}, nil
	case AggregationMax:
		v, err := metricValue(value, path)
		if err != nil {
			return nil, err
		}
		return MaxResult{Value: v}, nil
	case AggregationCardinality:
		v, err := integerField(value, "value", path)
		if err != nil {
			return nil, err
		}
		return CardinalityResult{Value: v}, nil
	case AggregationTerms:
		return decodeTerms(value, path)
	default:
		return nil, decodeErrorf(path, "unsupported aggregation type %q", string(tag))
	}
}

func decodeTerms(value gjson.Result, path string) (TermsResult, error) {
	errBound, err := integerField(value, "doc_count_error_upper_bound", path)
	if err != nil {
		return TermsResult{}, err
	}
	sumOther, err := integerField(value, "sum_other_doc_count", path)
	if err != nil {
		return TermsResult{}, err
	}

	buckets := value.Get("buckets")
	if !buckets.IsArray() {
		return TermsResult{}, decodeErrorf(path+".buckets", "expected an array")
	}

	result := TermsResult{
		DocCountErrorUpperBound: errBound,
		SumOtherDocCount:        sumOther,
		Buckets:                 make([]TermsBucket, 0, len(buckets.Array())),
	}
	for i, b := range buckets.Array() {
		bucket, err := decodeBucket(b, path+".buckets."+strconv.Itoa(i))
		if err != nil {
			return TermsResult{}, err
		}
		result.Buckets = append(result.Buckets, bucket)
	}
	return result, nil
}

func decodeBucket(value gjson.Result, path string) (TermsBucket, error) {
	if !value.IsObject() {
		return TermsBucket{}, decodeErrorf(path, "expected an object")
	}

	key := value.Get("key")
	switch key.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
	default:
		return TermsBucket{}, decodeErrorf(path+".key", "expected a scalar")
	}
	docCount, err := integerField(value, "doc_count", path)
	if err != nil {
		return TermsBucket{}, err
	}

	sub, err := decodeAggregationObject(value, path, bucketReservedFields)
	if err != nil {
		return TermsBucket{}, err
	}

	return TermsBucket{
		Key:             scalarString(key),
		KeyAsString:     value.Get("key_as_string").String(),
		DocCount:        docCount,
		SubAggregations: sub,
	}, nil
}

// metricValue reads "value" of a single-value numeric metric. Elasticsearch
// writes null when no document contributed.
func metricValue(obj gjson.Result, path string) (float64, error) {
	v := obj.Get("value")
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.Null:
		if !v.Exists() {
			return 0, decodeErrorf(path+".value", "field is missing")
		}
		return math.NaN(), nil
	default:
		return 0, decodeErrorf(path+".value", "expected a number")
	}
}

func integerField(obj gjson.Result, field, path string) (int64, error) {
	v := obj.Get(field)
	if !v.Exists() {
		return 0, decodeErrorf(path+"."+field, "field is missing")
	}
	if v.Type != gjson.Number {
		return 0, decodeErrorf(path+"."+field, "expected an integer")
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	if err != nil {
		return 0, decodeErrorf(path+"."+field, "expected an integer, got %s", v.Raw)
	}
	return n, nil
}

func scalarString(v gjson.Result) string {
	if v.Type == gjson.Number {
		return v.Raw
	}
	return v.String()
}
