package server

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth2-core/instrumentation"
)

// HandleTokenRequest processes a token request (RFC 6749 section 3.2).
func (s *Server) HandleTokenRequest(ctx context.Context, req *Request) *Response {
	ctx, span := s.tracer.Start(ctx, "oauth.token")
	defer span.End()

	grantType := req.Form.Get("grant_type")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	resp, err := s.token(ctx, req)
	if err != nil {
		instrumentation.SetSpanError(span, AsError(err).Code)
		return s.jsonError(ctx, "token", req, err)
	}

	instrumentation.SetSpanSuccess(span)
	return NewJSONResponse(http.StatusOK, resp).noStore()
}

func (s *Server) token(ctx context.Context, req *Request) (*TokenResponse, error) {
	if req.Method != http.MethodPost {
		return nil, ErrInvalidRequest("token requests must use POST")
	}

	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}

	grantType := req.Form.Get("grant_type")
	if grantType == "" {
		return nil, ErrInvalidRequest("grant_type is required")
	}
	grant, ok := s.grants.GrantType(grantType)
	if !ok {
		return nil, ErrUnsupportedGrantType("unsupported grant_type")
	}
	if !client.CheckGrantType(grantType) {
		return nil, ErrUnauthorizedClient("client is not allowed to use this grant_type")
	}
	if _, err := parseResources(req); err != nil {
		return nil, err
	}

	return grant.Token(ctx, req, client)
}

// jsonError renders err as an RFC 6749 section 5.2 JSON error.
func (s *Server) jsonError(ctx context.Context, endpoint string, req *Request, err error) *Response {
	oe := AsError(err)
	s.metrics.RecordOAuthError(ctx, endpoint, oe.Code)

	if oe.Code == ErrorCodeServerError {
		s.Logger.Error("Request failed",
			"endpoint", endpoint,
			"grant_type", req.Form.Get("grant_type"),
			"error", oe)
	} else {
		s.Logger.Debug("Request rejected",
			"endpoint", endpoint,
			"grant_type", req.Form.Get("grant_type"),
			"error", oe.Code,
			"description", oe.Description)
	}

	status := oe.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	resp := NewJSONResponse(status, oe.Response(s.Config.DevelopmentMode)).noStore()
	mergeHeaders(resp.Header, oe.Header)
	return resp
}
