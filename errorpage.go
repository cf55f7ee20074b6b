package oauth

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/security"
)

// errorPageTemplate renders authorization errors that could not be sent to
// the client. html/template escapes every field.
var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Authorization Error</title>
</head>
<body>
<h1>Authorization failed</h1>
<p><code>{{.Error}}</code></p>
{{- if .Description}}
<p>{{.Description}}</p>
{{- end}}
<p>You can close this window and return to the application.</p>
</body>
</html>
`))

// ServeErrorPage renders the page the authorization endpoint redirects to
// when the client's redirect URI cannot be trusted. Embedders that serve
// their own page point server.Config.ErrorPageURL elsewhere.
func (h *Handler) ServeErrorPage(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.error_page")
	defer span.End()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		h.recordHTTPMetrics(ctx, endpointErrorPage, r.Method, http.StatusMethodNotAllowed, startTime)
		return
	}

	q := r.URL.Query()
	code := q.Get("error")
	if code == "" {
		code = ErrorCodeInvalidRequest
	}

	var buf bytes.Buffer
	err := errorPageTemplate.Execute(&buf, struct {
		Error       string
		Description string
	}{Error: code, Description: q.Get("error_description")})
	if err != nil {
		h.logger.Error("Failed to render error page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		h.recordHTTPMetrics(ctx, endpointErrorPage, r.Method, http.StatusInternalServerError, startTime)
		return
	}

	security.SetSecurityHeaders(w.Header(), h.server.Config.Issuer)
	security.SetNoStore(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(buf.Bytes())

	instrumentation.AddHTTPAttributes(span, r.Method, endpointErrorPage, http.StatusBadRequest)
	h.recordHTTPMetrics(ctx, endpointErrorPage, r.Method, http.StatusBadRequest, startTime)
}
