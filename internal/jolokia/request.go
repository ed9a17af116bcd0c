package jolokia

import (
	"net/url"
	"strings"
)

// Kind is the bridge's verb for a request.
type Kind string

const (
	KindRead   Kind = "read"
	KindWrite  Kind = "write"
	KindExec   Kind = "exec"
	KindSearch Kind = "search"
)

// Param is one extra operation argument. Only the value reaches the URL;
// the name is kept for the request echo on responses.
type Param struct {
	Name  string
	Value string
}

// Request addresses one management object and operation on the bridge.
// Built fresh per call and never mutated afterwards.
type Request struct {
	MBean  string
	Kind   Kind
	Params []Param
}

// NewRequest builds a request with the given extra params in order.
func NewRequest(mbean string, kind Kind, params ...Param) Request {
	return Request{MBean: mbean, Kind: kind, Params: params}
}

// URL renders the request as <base>/<kind>/<mbean>[/<value>...].
// Param values are appended as positional path segments in slice order;
// the bridge consumes operation arguments that way, not as query params.
// Every segment is percent-encoded, so quotes inside mbean names survive
// the trip as %22 rather than being stripped. The mbean's internal syntax
// is not validated here; a malformed name comes back as a bridge error.
func (r Request) URL(base string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteByte('/')
	b.WriteString(string(r.Kind))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(r.MBean))
	for _, p := range r.Params {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p.Value))
	}
	return b.String()
}
