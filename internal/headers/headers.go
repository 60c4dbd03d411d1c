// Package headers collects inbound request headers into the ordered,
// first-value-wins map that scopes every orchestration call.
package headers

import (
	"net/http"
	"net/textproto"
	"slices"
)

// Synthetic per-file entry names added to an upload's header view.
const (
	FileName        = "FileName"
	FileContentType = "FileContentType"
	FileLength      = "FileLength"
)

const contentType = "Content-Type"

// transportManaged lists headers that describe the inbound connection or body
// encoding and must not be copied onto an outbound request.
var transportManaged = map[string]bool{
	"Accept-Encoding":     true,
	"Connection":          true,
	"Content-Length":      true,
	"Host":                true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Entry is a single header name/value pair. Name keeps the spelling it was
// created with.
type Entry struct {
	Name  string
	Value string
}

// Map is an immutable ordered header collection. The zero value is empty and
// ready to use.
type Map struct {
	entries []Entry
}

// FromHTTP builds a Map from h, keeping only the first value of each name.
// Names are ordered lexically since http.Header does not retain wire order.
func FromHTTP(h http.Header) Map {
	names := make([]string, 0, len(h))
	for name, vals := range h {
		if len(vals) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	m := Map{entries: make([]Entry, 0, len(names))}
	for _, name := range names {
		m.entries = append(m.entries, Entry{Name: name, Value: h[name][0]})
	}
	return m
}

// FromRequest is FromHTTP applied to r.Header.
func FromRequest(r *http.Request) Map {
	return FromHTTP(r.Header)
}

// Get returns the value stored under name. Names compare in canonical MIME
// form, so "content-type" finds "Content-Type".
func (m Map) Get(name string) (string, bool) {
	i := m.index(name)
	if i < 0 {
		return "", false
	}
	return m.entries[i].Value, true
}

// Len returns the number of entries.
func (m Map) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in order.
func (m Map) Entries() []Entry {
	return slices.Clone(m.entries)
}

// With returns a new Map holding m's entries plus extra. An extra entry
// replaces an existing one with the same canonical name in place; otherwise it
// is appended. m itself is left untouched.
func (m Map) With(extra ...Entry) Map {
	out := Map{entries: slices.Clone(m.entries)}
	for _, e := range extra {
		if i := out.index(e.Name); i >= 0 {
			out.entries[i] = e
			continue
		}
		out.entries = append(out.entries, e)
	}
	return out
}

// HTTPHeader encodes m for an outbound request. Entry names are written as
// spelled, not canonicalized, and transport-managed headers are dropped.
func (m Map) HTTPHeader() http.Header {
	h := make(http.Header, len(m.entries))
	for _, e := range m.entries {
		if transportManaged[textproto.CanonicalMIMEHeaderKey(e.Name)] {
			continue
		}
		h[e.Name] = []string{e.Value}
	}
	return h
}

// ContentType returns the inbound Content-Type value, or "" when the caller
// sent none.
func (m Map) ContentType() string {
	v, _ := m.Get(contentType)
	return v
}

func (m Map) index(name string) int {
	key := textproto.CanonicalMIMEHeaderKey(name)
	for i, e := range m.entries {
		if textproto.CanonicalMIMEHeaderKey(e.Name) == key {
			return i
		}
	}
	return -1
}
