package auth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/meigma/acr/errdef"
)

// Transport is an http.RoundTripper that signs requests with credentials from
// Provider.
//
// When the registry answers 401 and the provider implements Invalidator, the
// rejected credential is invalidated, a fresh one is obtained and the request
// is retried exactly once. A second 401 is returned to the caller as is.
type Transport struct {
	// Base is the underlying transport; http.DefaultTransport when nil.
	Base http.RoundTripper

	// Provider supplies credentials; requests are sent unsigned when nil.
	Provider Provider

	// Header is added to every request (e.g. User-Agent).
	Header http.Header

	Logger *slog.Logger
}

func (t *Transport) log() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Provider == nil {
		return t.send(req, Credential{})
	}

	ctx := req.Context()
	cred, err := t.Provider.Credential(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	resp, err := t.send(req, cred)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	inv, ok := t.Provider.(Invalidator)
	if !ok || cred.IsEmpty() {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		t.log().Debug("cannot replay request body after 401", "method", req.Method, "url", req.URL.Redacted())
		return resp, nil
	}

	drain(resp)
	inv.Invalidate(cred)
	t.log().Debug("credential rejected, refreshing once", "method", req.Method, "url", req.URL.Redacted())

	fresh, err := t.Provider.Credential(ctx)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errdef.New(opTransport, errdef.ErrTransport, fmt.Errorf("replay request body: %w", err))
		}
		retry.Body = body
	}
	return t.send(retry, fresh)
}

// send clones req, applies headers and credentials and sends it.
func (t *Transport) send(req *http.Request, cred Credential) (*http.Response, error) {
	out := req.Clone(req.Context())
	for k, vs := range t.Header {
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	if value := cred.AuthorizationHeader(); value != "" {
		out.Header.Set("Authorization", value)
	}
	return t.base().RoundTrip(out)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck // best-effort drain for connection reuse
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
