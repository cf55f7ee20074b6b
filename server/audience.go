package server

import (
	"context"
	"net/url"

	"github.com/giantswarm/oauth2-core/internal/util"
	"github.com/giantswarm/oauth2-core/storage"
)

// parseResources returns the RFC 8707 resource parameters of req. Each value
// must be an absolute URI without a fragment.
func parseResources(req *Request) ([]string, error) {
	if !req.Has("resource") {
		return nil, nil
	}

	values := req.Values("resource")
	resources := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			return nil, ErrInvalidTarget("resource must not be empty")
		}
		u, err := url.Parse(v)
		if err != nil || !u.IsAbs() {
			return nil, ErrInvalidTarget("resource must be an absolute URI")
		}
		if u.Fragment != "" || u.RawFragment != "" {
			return nil, ErrInvalidTarget("resource must not contain a fragment")
		}
		key := util.NormalizeURL(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		resources = append(resources, v)
	}
	return resources, nil
}

// negotiateAudience narrows scopes to the requested resources. With an
// AudienceResolver the adapter decides; without one scopes pass through and
// the audience is the list of resources.
func (s *Server) negotiateAudience(ctx context.Context, resources, scopes []string, client *storage.Client, user *storage.User) ([]string, []string, error) {
	if len(resources) == 0 {
		return scopes, nil, nil
	}

	resolver, ok := s.store.(storage.AudienceResolver)
	if !ok {
		return scopes, resources, nil
	}

	narrowed, err := resolver.GetAudienceScopes(ctx, resources, scopes, client, user)
	if err != nil {
		return nil, nil, scopePolicyError(err)
	}
	return narrowed, resources, nil
}

// resolveScopesAndAudience runs the shared scope check and audience
// negotiation for grants that start a new grant (everything but refresh).
func (s *Server) resolveScopesAndAudience(ctx context.Context, req *Request, client *storage.Client, user *storage.User, requested []string) ([]string, []string, error) {
	resources, err := parseResources(req)
	if err != nil {
		return nil, nil, err
	}
	scopes, err := s.checkClientScope(ctx, client, requested)
	if err != nil {
		return nil, nil, err
	}
	return s.negotiateAudience(ctx, resources, scopes, client, user)
}
