package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/giantswarm/oauth2-core/storage"
)

// Request is a framework-neutral view of an incoming OAuth request. The
// hosting transport layer fills it in; see the root package for the net/http
// adapter.
type Request struct {
	Method   string
	Header   http.Header
	Query    url.Values
	Form     url.Values    // parsed application/x-www-form-urlencoded body
	User     *storage.User // authenticated resource owner, if any
	ClientIP string
}

// Get returns the first value of name from the body, falling back to the query.
func (r *Request) Get(name string) string {
	if v := r.Form.Get(name); v != "" {
		return v
	}
	return r.Query.Get(name)
}

// Values returns every value of name. Body values take precedence over the
// query when both are present.
func (r *Request) Values(name string) []string {
	if v, ok := r.Form[name]; ok && len(v) > 0 {
		return v
	}
	return r.Query[name]
}

// Has reports whether name is present in the body or query, even if empty.
func (r *Request) Has(name string) bool {
	return r.Form.Has(name) || r.Query.Has(name)
}

// Data returns the merged request parameters. Body values override query values.
func (r *Request) Data() url.Values {
	data := url.Values{}
	for k, v := range r.Query {
		data[k] = v
	}
	for k, v := range r.Form {
		data[k] = v
	}
	return data
}

// Response is what the engine asks the transport layer to send.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Location string // set for redirects
}

// NewJSONResponse creates a JSON response. Encoding failures produce a
// server_error body.
func NewJSONResponse(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"server_error"}`)
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: h, Body: body}
}

// NewHTMLResponse creates a text/html response.
func NewHTMLResponse(status int, body []byte) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &Response{Status: status, Header: h, Body: body}
}

// NewRedirectResponse creates a 302 Found response to location.
func NewRedirectResponse(location string) *Response {
	h := make(http.Header)
	h.Set("Location", location)
	return &Response{Status: http.StatusFound, Header: h, Location: location}
}

// noStore marks a response as uncacheable.
func (r *Response) noStore() *Response {
	r.Header.Set("Cache-Control", "no-store")
	r.Header.Set("Pragma", "no-cache")
	return r
}
