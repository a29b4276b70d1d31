package esclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"

	"github.com/pkg/errors"
)

// newURL creates absolute URL from base URL, escaped path and query parameters.
func newURL(base *url.URL, path string, q url.Values) *url.URL {
	u := *base
	if unescaped, err := url.PathUnescape(path); err == nil {
		u.Path = unescaped
		u.RawPath = path
	} else {
		u.Path = path
		u.RawPath = ""
	}
	u.RawQuery = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return &u
}

// jsonBody marshals value to JSON and returns io.Reader.
func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal JSON")
	}
	return bytes.NewReader(b), nil
}

// parseBaseURL parses and validates base URL.
func parseBaseURL(address string) (*url.URL, error) {
	if address == "" {
		return nil, errors.New("empty base URL")
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("base URL must be absolute (include scheme and host)")
	}

	return u, nil
}
