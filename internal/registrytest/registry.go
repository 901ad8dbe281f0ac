// Package registrytest provides an in-memory registry for tests.
//
// The registry serves the ACR attribute API (/acr/v1), the distribution API
// (/v2) and the ACR token endpoints (/oauth2/token, /oauth2/exchange) from
// an httptest.Server. Listings paginate with Link headers, changeable
// attributes are enforced, and bearer tokens can be revoked to exercise
// credential refresh.
package registrytest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
)

const defaultMaxPageSize = 100

// Attributes are the changeable attributes of a repository, tag or manifest.
type Attributes struct {
	DeleteEnabled bool `json:"deleteEnabled"`
	ListEnabled   bool `json:"listEnabled"`
	ReadEnabled   bool `json:"readEnabled"`
	WriteEnabled  bool `json:"writeEnabled"`
}

// Unlocked has every flag enabled; new items start with it.
var Unlocked = Attributes{DeleteEnabled: true, ListEnabled: true, ReadEnabled: true, WriteEnabled: true}

// Request records one request received by the registry.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Authorization string
}

type manifestEntry struct {
	mediaType string
	content   []byte
	created   time.Time
	updated   time.Time
	attrs     Attributes
}

type tagEntry struct {
	digest  digest.Digest
	created time.Time
	updated time.Time
	attrs   Attributes
}

type repository struct {
	created   time.Time
	updated   time.Time
	attrs     Attributes
	manifests map[digest.Digest]*manifestEntry
	tags      map[string]*tagEntry
}

// Registry is an in-memory registry. Methods are safe for concurrent use.
type Registry struct {
	server *httptest.Server
	router *mux.Router

	authMode      authMode
	username      string
	password      string
	aadTokens     []string
	maxPageSize   int
	tokenLifetime time.Duration
	now           func() time.Time
	middleware    []mux.MiddlewareFunc

	mu            sync.Mutex
	repos         map[string]*repository
	accessTokens  map[string]time.Time
	refreshTokens map[string]struct{}
	tokenSeq      int
	tokensIssued  int
	requests      []Request
}

// Option configures a Registry.
type Option func(*Registry)

// WithBasicAuth requires HTTP basic authentication with username and password.
func WithBasicAuth(username, password string) Option {
	return func(r *Registry) {
		r.authMode = authBasic
		r.username, r.password = username, password
	}
}

// WithTokenAuth requires bearer tokens issued by /oauth2/token. Password
// grants must present username and password.
func WithTokenAuth(username, password string) Option {
	return func(r *Registry) {
		r.authMode = authToken
		r.username, r.password = username, password
	}
}

// WithAADTokens lists the AAD access tokens accepted by /oauth2/exchange.
// It implies token authentication.
func WithAADTokens(tokens ...string) Option {
	return func(r *Registry) {
		r.authMode = authToken
		r.aadTokens = append(r.aadTokens, tokens...)
	}
}

// WithMaxPageSize caps listing pages; it is also the size used when the
// client sends none.
func WithMaxPageSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxPageSize = n
		}
	}
}

// WithTokenLifetime sets the lifetime of issued access tokens.
func WithTokenLifetime(d time.Duration) Option {
	return func(r *Registry) {
		r.tokenLifetime = d
	}
}

// WithClock overrides the time source for timestamps and token expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMiddleware wraps every route, e.g. to inject failures.
func WithMiddleware(mw mux.MiddlewareFunc) Option {
	return func(r *Registry) {
		r.middleware = append(r.middleware, mw)
	}
}

// New starts a registry. It is closed when tb finishes.
func New(tb testing.TB, opts ...Option) *Registry {
	tb.Helper()

	r := &Registry{
		maxPageSize:   defaultMaxPageSize,
		tokenLifetime: time.Hour,
		now:           time.Now,
		repos:         make(map[string]*repository),
		accessTokens:  make(map[string]time.Time),
		refreshTokens: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.router = r.routes()
	r.server = httptest.NewServer(r.router)
	tb.Cleanup(r.server.Close)
	return r
}

// URL returns the base URL, e.g. "http://127.0.0.1:40123".
func (r *Registry) URL() string {
	return r.server.URL
}

// Host returns the host:port of the registry.
func (r *Registry) Host() string {
	return strings.TrimPrefix(r.server.URL, "http://")
}

// Client returns an HTTP client for the registry.
func (r *Registry) Client() *http.Client {
	return r.server.Client()
}

// Requests returns the requests received so far, excluding token requests.
func (r *Registry) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.requests)
}

// CountRequests counts received requests with method whose path starts
// with prefix. An empty method matches any method.
func (r *Registry) CountRequests(method, prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if (method == "" || req.Method == method) && strings.HasPrefix(req.Path, prefix) {
			n++
		}
	}
	return n
}

// ResetRequests forgets the recorded requests.
func (r *Registry) ResetRequests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}

// PushManifest stores content under repo and, when tag is non-empty, points
// tag at it. It returns the manifest digest.
func (r *Registry) PushManifest(repo, tag, mediaType string, content []byte) digest.Digest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putManifestLocked(repo, tag, mediaType, content)
}

// SetRepositoryAttributes replaces the changeable attributes of repo.
// It reports false when repo does not exist.
func (r *Registry) SetRepositoryAttributes(repo string, attrs Attributes) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[repo]
	if ok {
		rep.attrs = attrs
	}
	return ok
}

// SetTagAttributes replaces the changeable attributes of repo:tag.
// It reports false when the tag does not exist.
func (r *Registry) SetTagAttributes(repo, tag string, attrs Attributes) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tagLocked(repo, tag)
	if ok {
		t.attrs = attrs
	}
	return ok
}

// SetManifestAttributes replaces the changeable attributes of repo@dgst.
// It reports false when the manifest does not exist.
func (r *Registry) SetManifestAttributes(repo string, dgst digest.Digest, attrs Attributes) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manifestLocked(repo, dgst)
	if ok {
		m.attrs = attrs
	}
	return ok
}

// TagAttributes returns the changeable attributes of repo:tag.
func (r *Registry) TagAttributes(repo, tag string) (Attributes, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tagLocked(repo, tag)
	if !ok {
		return Attributes{}, false
	}
	return t.attrs, true
}

// ManifestAttributes returns the changeable attributes of repo@dgst.
func (r *Registry) ManifestAttributes(repo string, dgst digest.Digest) (Attributes, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manifestLocked(repo, dgst)
	if !ok {
		return Attributes{}, false
	}
	return m.attrs, true
}

// HasTag reports whether repo:tag exists.
func (r *Registry) HasTag(repo, tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tagLocked(repo, tag)
	return ok
}

// HasManifest reports whether repo@dgst exists.
func (r *Registry) HasManifest(repo string, dgst digest.Digest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.manifestLocked(repo, dgst)
	return ok
}

// HasRepository reports whether repo exists.
func (r *Registry) HasRepository(repo string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.repos[repo]
	return ok
}

func (r *Registry) tagLocked(repo, tag string) (*tagEntry, bool) {
	rep, ok := r.repos[repo]
	if !ok {
		return nil, false
	}
	t, ok := rep.tags[tag]
	return t, ok
}

func (r *Registry) manifestLocked(repo string, dgst digest.Digest) (*manifestEntry, bool) {
	rep, ok := r.repos[repo]
	if !ok {
		return nil, false
	}
	m, ok := rep.manifests[dgst]
	return m, ok
}

func (r *Registry) putManifestLocked(repo, tag, mediaType string, content []byte) digest.Digest {
	now := r.now()
	rep, ok := r.repos[repo]
	if !ok {
		rep = &repository{
			created:   now,
			attrs:     Unlocked,
			manifests: make(map[digest.Digest]*manifestEntry),
			tags:      make(map[string]*tagEntry),
		}
		r.repos[repo] = rep
	}
	rep.updated = now

	dgst := digest.FromBytes(content)
	if m, ok := rep.manifests[dgst]; ok {
		m.updated = now
	} else {
		rep.manifests[dgst] = &manifestEntry{
			mediaType: mediaType,
			content:   slices.Clone(content),
			created:   now,
			updated:   now,
			attrs:     Unlocked,
		}
	}

	if tag != "" {
		if t, ok := rep.tags[tag]; ok {
			t.digest = dgst
			t.updated = now
		} else {
			rep.tags[tag] = &tagEntry{digest: dgst, created: now, updated: now, attrs: Unlocked}
		}
	}
	return dgst
}

// tagsOf returns the tags pointing at dgst, sorted.
func (rep *repository) tagsOf(dgst digest.Digest) []string {
	var out []string
	for name, t := range rep.tags {
		if t.digest == dgst {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// SeedRepositories creates each named repository with one small manifest
// tagged "latest".
func SeedRepositories(r *Registry, names ...string) {
	for _, name := range names {
		content := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json",` +
			`"config":{"mediaType":"application/vnd.oci.empty.v1+json","digest":"` + digest.FromString(name).String() + `","size":0},"layers":[]}`)
		r.PushManifest(name, "latest", "application/vnd.oci.image.manifest.v1+json", content)
	}
}
