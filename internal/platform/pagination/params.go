package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 25
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// ErrInvalidPageSize signals a non-numeric or out-of-range pageSize value.
var ErrInvalidPageSize = errors.New("pagination: invalid page size")

// Params bundles the pagination values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options control how Parse behaves for a given handler layer.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) withDefaults() Options {
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = DefaultMaxPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	return o
}

// Parse extracts pageSize and pageToken from the request query string,
// applying defaults and bounds and decoding the cursor.
func Parse(r *http.Request, opts Options) (Params, error) {
	opts = opts.withDefaults()

	params := Params{PageSize: opts.DefaultPageSize}
	if r == nil {
		return params, nil
	}

	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		if size > opts.MaxPageSize {
			size = opts.MaxPageSize
		}
		params.PageSize = size
	}

	if token := strings.TrimSpace(query.Get("pageToken")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}

	return params, nil
}
