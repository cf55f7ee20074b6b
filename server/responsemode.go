package server

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sort"
)

// Response mode names
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// ResponseMode returns authorization response data to the user agent.
type ResponseMode interface {
	Name() string
	CreateResponse(redirectURI string, data url.Values) (*Response, error)
}

// QueryResponseMode appends data to the redirect URI's query string.
type QueryResponseMode struct{}

func (QueryResponseMode) Name() string { return ResponseModeQuery }

func (QueryResponseMode) CreateResponse(redirectURI string, data url.Values) (*Response, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	for k, vs := range data {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return NewRedirectResponse(u.String()), nil
}

// FragmentResponseMode encodes data into the redirect URI's fragment.
type FragmentResponseMode struct{}

func (FragmentResponseMode) Name() string { return ResponseModeFragment }

func (FragmentResponseMode) CreateResponse(redirectURI string, data url.Values) (*Response, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return NewRedirectResponse(u.String() + "#" + data.Encode()), nil
}

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit This Form</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>
{{- end}}
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

type formField struct {
	Name  string
	Value string
}

// FormPostResponseMode renders a self-submitting HTML form that posts data
// to the redirect URI.
type FormPostResponseMode struct{}

func (FormPostResponseMode) Name() string { return ResponseModeFormPost }

func (FormPostResponseMode) CreateResponse(redirectURI string, data url.Values) (*Response, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]formField, 0, len(keys))
	for _, k := range keys {
		for _, v := range data[k] {
			fields = append(fields, formField{Name: k, Value: v})
		}
	}

	var buf bytes.Buffer
	err := formPostTemplate.Execute(&buf, struct {
		Action string
		Fields []formField
	}{Action: redirectURI, Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to render form_post response: %w", err)
	}

	resp := NewHTMLResponse(http.StatusOK, buf.Bytes())
	resp.Header.Set("Content-Security-Policy", "default-src 'none'; script-src 'unsafe-inline'; form-action *")
	return resp.noStore(), nil
}

// ResponseModes is an ordered registry of response modes.
type ResponseModes []ResponseMode

// DefaultResponseModes returns query, fragment and form_post.
func DefaultResponseModes() ResponseModes {
	return ResponseModes{QueryResponseMode{}, FragmentResponseMode{}, FormPostResponseMode{}}
}

// Lookup returns the mode registered under name.
func (m ResponseModes) Lookup(name string) (ResponseMode, bool) {
	for _, mode := range m {
		if mode.Name() == name {
			return mode, true
		}
	}
	return nil, false
}

// Names lists the registered mode names in registry order.
func (m ResponseModes) Names() []string {
	names := make([]string, 0, len(m))
	for _, mode := range m {
		names = append(names, mode.Name())
	}
	return names
}
