package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// SortOrder selects the ordering of paged reads.
type SortOrder string

const (
	OrderOffsetAsc     SortOrder = "offset_asc"
	OrderOffsetDesc    SortOrder = "offset_desc"
	OrderTimestampAsc  SortOrder = "timestamp_asc"
	OrderTimestampDesc SortOrder = "timestamp_desc"
)

// Valid reports whether the order is one of the supported values. The empty
// string means OrderOffsetDesc (newest-first, the browsing default).
func (o SortOrder) Valid() bool {
	switch o {
	case "", OrderOffsetAsc, OrderOffsetDesc, OrderTimestampAsc, OrderTimestampDesc:
		return true
	}
	return false
}

// OrDefault resolves the empty order to the browsing default.
func (o SortOrder) OrDefault() SortOrder {
	if o == "" {
		return OrderOffsetDesc
	}
	return o
}

// Filter restricts paged reads. Query is a plain substring over key, value
// and header content; Regex a regular expression over the same content; From
// and To bound the record timestamp (zero values mean unbounded). All set
// conditions must hold.
type Filter struct {
	Query string    `json:"query,omitempty"`
	Regex string    `json:"regex,omitempty"`
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
}

// IsZero reports whether the filter restricts nothing.
func (f *Filter) IsZero() bool {
	return f == nil || (f.Query == "" && f.Regex == "" && f.From.IsZero() && f.To.IsZero())
}

// NeedsScan reports whether the filter requires row-by-row evaluation
// (regex) instead of being fully pushed into an indexed query.
func (f *Filter) NeedsScan() bool {
	return f != nil && f.Regex != ""
}

// Compile validates the filter and prepares its matcher. A malformed regex
// is an InvalidRequest.
func (f *Filter) Compile() (*CompiledFilter, error) {
	cf := &CompiledFilter{}
	if f == nil {
		return cf, nil
	}
	cf.filter = *f
	if f.Regex != "" {
		re, err := regexp.Compile(f.Regex)
		if err != nil {
			return nil, NewError(ErrorInvalidRequest, "filter", err)
		}
		cf.re = re
	}
	return cf, nil
}

// CompiledFilter is a Filter with its regex compiled once.
type CompiledFilter struct {
	filter Filter
	re     *regexp.Regexp
}

// MatchTime checks the timestamp bounds.
func (cf *CompiledFilter) MatchTime(ts time.Time) bool {
	if !cf.filter.From.IsZero() && ts.Before(cf.filter.From) {
		return false
	}
	if !cf.filter.To.IsZero() && ts.After(cf.filter.To) {
		return false
	}
	return true
}

// MatchContent evaluates the substring and regex conditions over key, value
// and header content.
func (cf *CompiledFilter) MatchContent(m *CachedMessage) bool {
	if cf.filter.Query != "" && !containsSubstring(m, cf.filter.Query) {
		return false
	}
	if cf.re != nil && !matchesRegex(m, cf.re) {
		return false
	}
	return true
}

// Matches is the full predicate.
func (cf *CompiledFilter) Matches(m *CachedMessage) bool {
	return cf.MatchTime(m.Timestamp) && cf.MatchContent(m)
}

func containsSubstring(m *CachedMessage, q string) bool {
	if bytes.Contains(m.Key, []byte(q)) || bytes.Contains(m.Value, []byte(q)) {
		return true
	}
	for _, h := range m.Headers {
		if strings.Contains(h.Key, q) || bytes.Contains(h.Value, []byte(q)) {
			return true
		}
	}
	return false
}

func matchesRegex(m *CachedMessage, re *regexp.Regexp) bool {
	if re.Match(m.Key) || re.Match(m.Value) {
		return true
	}
	for _, h := range m.Headers {
		if re.MatchString(h.Key) || re.Match(h.Value) {
			return true
		}
	}
	return false
}

// Cursor is the continuation marker of a paged read. It names the last row
// the previous page returned; the next page starts strictly after it in the
// page's sort order.
type Cursor struct {
	Partition int32 `json:"p"`
	Offset    int64 `json:"o"`
	UnixMilli int64 `json:"t"`
}

// EncodeCursor renders a cursor as an opaque token.
func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor. The empty token
// means "from the beginning".
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	if token == "" {
		return c, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, NewError(ErrorInvalidRequest, "cursor", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, NewError(ErrorInvalidRequest, "cursor", err)
	}
	return c, nil
}

// Page is a bounded, ordered slice of cached messages plus the continuation
// token and the total row count so far for the query.
type Page struct {
	Messages   []CachedMessage `json:"messages"`
	NextCursor string          `json:"next_cursor,omitempty"`
	Total      int64           `json:"total"`
}
