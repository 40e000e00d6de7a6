package authclient

import (
	"fmt"
	"io"
	"net/http"
)

// Transport attaches the bearer token to outgoing requests. A 401 answer triggers exactly one
// forced refresh and one retry.
type Transport struct {
	Base  http.RoundTripper
	Cache *TokenCache
}

// NewTransport wraps base, falling back to http.DefaultTransport.
func NewTransport(base http.RoundTripper, cache *TokenCache) *Transport {
	return &Transport{Base: base, Cache: cache}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := t.Cache.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	retry, err := rewind(req)
	if err != nil || retry == nil {
		return resp, nil
	}

	fresh, err := t.Cache.ForceRefresh(ctx, token)
	if err != nil {
		if IsAuthRejection(err) {
			// The 401 response is still the most useful thing to hand back.
			return resp, nil
		}
		resp.Body.Close()
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return t.base().RoundTrip(authorize(retry, fresh))
}

func authorize(req *http.Request, token string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return clone
}

// rewind returns a copy of req with a fresh body, or nil when the body cannot be replayed.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	retry := req.Clone(req.Context())
	retry.Body = body
	return retry, nil
}
