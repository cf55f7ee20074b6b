package server

import (
	"context"
	"errors"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth2-core/instrumentation"
	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// authorizeTarget is where an authorization error is delivered.
type authorizeTarget struct {
	redirectURI string
	mode        ResponseMode
	state       string
}

// HandleAuthorizationRequest processes an authorization request (RFC 6749
// section 3.1). Errors found before the client's redirect URI is verified go
// to Config.ErrorPageURL; later errors go to the client.
func (s *Server) HandleAuthorizationRequest(ctx context.Context, req *Request) *Response {
	ctx, span := s.tracer.Start(ctx, "oauth.authorize")
	defer span.End()

	state := req.Get("state")
	responseType := req.Get("response_type")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, responseType))

	target := &authorizeTarget{redirectURI: s.Config.ErrorPageURL, state: state}
	target.mode, _ = s.responseModes.Lookup(ResponseModeQuery)

	data, err := s.authorize(ctx, req, target)
	if err != nil {
		oe := AsError(err)
		s.logAuthorizationError(ctx, req, oe)
		s.metrics.RecordAuthorizationRequest(ctx, responseType, resultFor(oe))
		instrumentation.SetSpanError(span, oe.Code)
		return s.authorizationErrorResponse(target, oe)
	}

	if state != "" {
		data.Set("state", state)
	}
	resp, err := target.mode.CreateResponse(target.redirectURI, data)
	if err != nil {
		oe := ErrServerError("failed to build authorization response").WithCause(err)
		s.logAuthorizationError(ctx, req, oe)
		return s.errorPage(oe.WithState(state))
	}

	s.metrics.RecordAuthorizationRequest(ctx, responseType, "issued")
	instrumentation.SetSpanSuccess(span)
	return resp
}

// authorize runs the authorization state machine. target is updated as soon
// as the redirect URI is trusted and the response mode is resolved.
func (s *Server) authorize(ctx context.Context, req *Request, target *authorizeTarget) (url.Values, error) {
	for _, param := range []string{"response_type", "client_id", "redirect_uri", "scope"} {
		if req.Get(param) == "" {
			return nil, ErrInvalidRequest(param + " is required")
		}
	}

	client, err := s.store.GetClient(ctx, req.Get("client_id"))
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, ErrServerError("failed to load client").WithCause(err)
	}

	grant, ok := s.grants.ResponseType(req.Get("response_type"))
	if !ok {
		return nil, ErrUnsupportedResponseType("unsupported response_type")
	}
	if !client.CheckResponseType(grant.ResponseType()) {
		return nil, ErrUnauthorizedClient("client is not allowed to use this response_type")
	}

	redirectURI := req.Get("redirect_uri")
	if !client.CheckRedirectURI(redirectURI) {
		if s.allowSecurityLog(ctx, "redirect:"+client.ClientID) {
			s.Auditor.LogInvalidRedirect(client.ClientID, req.ClientIP, redirectURI)
		}
		return nil, ErrAccessDenied("redirect_uri is not registered for this client")
	}

	// The redirect URI is trusted from here on. Errors use the grant's
	// default mode until the requested mode is resolved.
	defaultMode, ok := s.responseModes.Lookup(grant.DefaultResponseMode())
	if ok {
		target.redirectURI = redirectURI
		target.mode = defaultMode
	}
	modeName := req.Get("response_mode")
	if modeName == "" {
		modeName = grant.DefaultResponseMode()
	}
	mode, ok := s.responseModes.Lookup(modeName)
	if !ok || !grant.AllowsResponseMode(modeName) {
		return nil, ErrInvalidRequest("unsupported response_mode")
	}
	target.redirectURI = redirectURI
	target.mode = mode

	if _, err := parseResources(req); err != nil {
		return nil, err
	}

	user := req.User
	if user == nil {
		return nil, ErrAccessDenied("the resource owner is not authenticated")
	}

	if s.Config.Consent != nil {
		granted, err := s.Config.Consent(ctx, client, user, util.SplitList(req.Get("scope")))
		if err != nil {
			return nil, ErrServerError("consent check failed").WithCause(err)
		}
		if !granted {
			return nil, ErrAccessDenied("the resource owner denied the request")
		}
	}

	return grant.Authorize(ctx, req, client, user)
}

// authorizationErrorResponse delivers oe to target, falling back to the error page.
func (s *Server) authorizationErrorResponse(target *authorizeTarget, oe *Error) *Response {
	oe = oe.WithState(target.state)
	if target.mode == nil {
		return s.errorPage(oe)
	}
	resp, err := target.mode.CreateResponse(target.redirectURI, oe.Values(s.Config.DevelopmentMode))
	if err != nil {
		return s.errorPage(oe)
	}
	return resp
}

// errorPage redirects to the configured error page with oe in the query.
func (s *Server) errorPage(oe *Error) *Response {
	u, err := url.Parse(s.Config.ErrorPageURL)
	if err != nil {
		return NewJSONResponse(oe.Status, oe.Response(s.Config.DevelopmentMode))
	}
	q := u.Query()
	for k, vs := range oe.Values(s.Config.DevelopmentMode) {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return NewRedirectResponse(u.String())
}

func (s *Server) logAuthorizationError(ctx context.Context, req *Request, oe *Error) {
	s.metrics.RecordOAuthError(ctx, "authorization", oe.Code)
	if oe.Code == ErrorCodeServerError {
		s.Logger.Error("Authorization request failed",
			"client_id", req.Get("client_id"),
			"error", oe)
		return
	}
	s.Logger.Debug("Authorization request rejected",
		"client_id", req.Get("client_id"),
		"response_type", req.Get("response_type"),
		"error", oe.Code,
		"description", oe.Description)
}

func resultFor(oe *Error) string {
	if oe.Code == ErrorCodeAccessDenied {
		return "denied"
	}
	return "error"
}
