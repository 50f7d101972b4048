package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// queryReader collects the first invalid parameter so handlers can parse
// everything and check once.
type queryReader struct {
	values url.Values
	err    error
}

func newQueryReader(values url.Values) *queryReader {
	return &queryReader{values: values}
}

func (q *queryReader) fail(name string) {
	if q.err == nil {
		q.err = fmt.Errorf("invalid %s", name)
	}
}

// enum returns the upper-cased value of name, which must be one of allowed.
func (q *queryReader) enum(name string, allowed ...string) *string {
	v := q.values.Get(name)
	if v == "" {
		return nil
	}
	upper := strings.ToUpper(v)
	for _, a := range allowed {
		if upper == a {
			return &upper
		}
	}
	q.fail(name)
	return nil
}

func (q *queryReader) str(name string) *string {
	if v := q.values.Get(name); v != "" {
		return &v
	}
	return nil
}

func (q *queryReader) timestamp(name string) *time.Time {
	v := q.values.Get(name)
	if v == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, v)
	if err != nil {
		q.fail(name)
		return nil
	}
	return &parsed
}

// intIn returns name within [1, limit], or def when absent.
func (q *queryReader) intIn(name string, def, limit int) int {
	v := q.values.Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > limit {
		q.fail(name)
		return def
	}
	return n
}

func (q *queryReader) id(name string) uint {
	v := q.values.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		q.fail(name)
		return 0
	}
	return uint(n)
}
