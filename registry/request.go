package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/meigma/acr/errdef"
)

const (
	// maxMetadataBytes bounds JSON responses other than manifests.
	maxMetadataBytes = 4 << 20

	// maxErrorBodyBytes bounds error responses.
	maxErrorBodyBytes = 64 << 10
)

// request describes a single registry call.
type request struct {
	op     string
	method string

	// url is the absolute request URL.
	url *url.URL

	// query, when non-nil, is encoded with go-querystring and merged into url.
	query any

	body        []byte
	contentType string
	accept      string
}

// endpoint returns the absolute URL of the given path segments below the
// registry root. Repository names keep their slashes.
func (c *Client) endpoint(segments ...string) *url.URL {
	return c.base.JoinPath(segments...)
}

// do sends req and returns the response when the status is 2xx. Any other
// outcome is returned as a classified *errdef.Error; the response body is
// closed in that case.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	u := *req.url
	if req.query != nil {
		values, err := query.Values(req.query)
		if err != nil {
			return nil, errdef.New(req.op, errdef.ErrInvalidReference, fmt.Errorf("encode query: %w", err))
		}
		merged := u.Query()
		for k, vs := range values {
			merged[k] = vs
		}
		u.RawQuery = merged.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, errdef.New(req.op, errdef.ErrInvalidReference, err)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.accept != "" {
		httpReq.Header.Set("Accept", req.accept)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, req.op, err)
	}
	c.log().Debug("registry request",
		"op", req.op,
		"method", req.method,
		"url", u.Redacted(),
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(req.op, resp)
	}
	return resp, nil
}

// doJSON sends req and decodes a JSON response body into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, req request, out any) (*http.Response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes)) //nolint:errcheck // drain for connection reuse
		return resp, nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBytes)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty body; out keeps its zero value.
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(req.op, ctxErr)
		}
		return nil, &errdef.Error{
			Op:         req.op,
			StatusCode: resp.StatusCode,
			Kind:       errdef.ErrUnexpectedStatus,
			Err:        fmt.Errorf("decode %s %s response: %w", req.method, resp.Request.URL.Redacted(), err),
		}
	}
	return resp, nil
}

// transportError classifies a failure that produced no HTTP response.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &errdef.Error{Op: op, Kind: contextKind(ctxErr), Err: err}
	}

	// Credential failures surface through the transport wrapped in *url.Error.
	var classified *errdef.Error
	if errors.As(err, &classified) {
		return &errdef.Error{Op: op, StatusCode: classified.StatusCode, Kind: classified.Kind, Err: classified.Err}
	}

	c.log().Debug("registry transport failure", "op", op, "error", err)
	return &errdef.Error{Op: op, Kind: errdef.ErrTransport, Err: err}
}

func contextKind(ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return errdef.ErrTimeout
	}
	return errdef.ErrCancelled
}

func contextError(op string, ctxErr error) error {
	return &errdef.Error{Op: op, Kind: contextKind(ctxErr), Err: ctxErr}
}

// statusError maps a non-2xx response to an *errdef.Error whose cause is the
// registry's error body as an ORAS errcode.ErrorResponse.
func statusError(op string, resp *http.Response) error {
	errResp := &errcode.ErrorResponse{
		StatusCode: resp.StatusCode,
	}
	if resp.Request != nil {
		errResp.Method = resp.Request.Method
		errResp.URL = resp.Request.URL
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes)) //nolint:errcheck // best-effort error detail
	var body struct {
		Errors errcode.Errors `json:"errors"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Errors) > 0 {
		errResp.Errors = body.Errors
	} else if msg := strings.TrimSpace(string(raw)); msg != "" && !strings.HasPrefix(msg, "{") {
		errResp.Errors = errcode.Errors{{Code: "UNKNOWN", Message: msg}}
	}

	e := &errdef.Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Kind:       errdef.FromStatus(resp.StatusCode),
		Err:        errResp,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

// parseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date. It returns zero when absent or malformed.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		// ParseInt saturates on overflow; the multiplication must not.
		return time.Duration(min(max(secs, 0), int64(math.MaxInt64/time.Second))) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return max(at.Sub(now), 0)
	}
	return 0
}

// nextLink extracts the rel="next" target from the response Link header,
// resolved against the request URL. It returns "" on the last page.
//
// The link must stay on the registry host, since credentials are attached
// to every request.
func (c *Client) nextLink(resp *http.Response) (string, error) {
	for _, header := range resp.Header.Values("Link") {
		for _, link := range strings.Split(header, ",") {
			target, params, ok := strings.Cut(strings.TrimSpace(link), ";")
			if !ok || !isNextRel(params) {
				continue
			}
			target = strings.TrimSpace(target)
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				return "", fmt.Errorf("invalid next link %q: missing angle brackets", target)
			}
			next, err := resp.Request.URL.Parse(target[1 : len(target)-1])
			if err != nil {
				return "", fmt.Errorf("invalid next link %q: %w", target, err)
			}
			if next.Host != c.base.Host || next.Scheme != c.base.Scheme {
				return "", fmt.Errorf("next link %q leaves %s", next.Redacted(), c.base.Host)
			}
			return next.String(), nil
		}
	}
	return "", nil
}

func isNextRel(params string) bool {
	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"`)) {
			if strings.EqualFold(rel, "next") {
				return true
			}
		}
	}
	return false
}

// cursorURL turns a pager cursor into a request URL. The empty cursor
// selects first.
func (c *Client) cursorURL(op, cursor string, first *url.URL) (*url.URL, error) {
	if cursor == "" {
		return first, nil
	}
	u, err := url.Parse(cursor)
	if err != nil || u.Host != c.base.Host {
		return nil, errdef.New(op, errdef.ErrInvalidReference, fmt.Errorf("invalid cursor %q", cursor))
	}
	return u, nil
}
