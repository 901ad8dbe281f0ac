package registrytest

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
)

type repositoryJSON struct {
	Registry      string     `json:"registry"`
	ImageName     string     `json:"imageName"`
	CreatedTime   time.Time  `json:"createdTime"`
	LastUpdate    time.Time  `json:"lastUpdateTime"`
	ManifestCount int        `json:"manifestCount"`
	TagCount      int        `json:"tagCount"`
	Attributes    Attributes `json:"changeableAttributes"`
}

type tagJSON struct {
	Name        string        `json:"name"`
	Digest      digest.Digest `json:"digest"`
	CreatedTime time.Time     `json:"createdTime"`
	LastUpdate  time.Time     `json:"lastUpdateTime"`
	Signed      bool          `json:"signed"`
	Attributes  Attributes    `json:"changeableAttributes"`
}

type manifestJSON struct {
	Digest      digest.Digest `json:"digest"`
	ImageSize   int64         `json:"imageSize"`
	CreatedTime time.Time     `json:"createdTime"`
	LastUpdate  time.Time     `json:"lastUpdateTime"`
	MediaType   string        `json:"mediaType"`
	Tags        []string      `json:"tags,omitempty"`
	Attributes  Attributes    `json:"changeableAttributes"`
}

// attributesPatch mirrors the PATCH body: absent flags keep their value.
type attributesPatch struct {
	DeleteEnabled *bool `json:"deleteEnabled"`
	ListEnabled   *bool `json:"listEnabled"`
	ReadEnabled   *bool `json:"readEnabled"`
	WriteEnabled  *bool `json:"writeEnabled"`
}

func (p attributesPatch) apply(a Attributes) Attributes {
	if p.DeleteEnabled != nil {
		a.DeleteEnabled = *p.DeleteEnabled
	}
	if p.ListEnabled != nil {
		a.ListEnabled = *p.ListEnabled
	}
	if p.ReadEnabled != nil {
		a.ReadEnabled = *p.ReadEnabled
	}
	if p.WriteEnabled != nil {
		a.WriteEnabled = *p.WriteEnabled
	}
	return a
}

func decodePatch(w http.ResponseWriter, req *http.Request) (attributesPatch, bool) {
	var p attributesPatch
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid attributes body")
		return attributesPatch{}, false
	}
	return p, true
}

func (r *Registry) repositoryJSONLocked(name string, rep *repository) repositoryJSON {
	return repositoryJSON{
		Registry:      r.Host(),
		ImageName:     name,
		CreatedTime:   rep.created,
		LastUpdate:    rep.updated,
		ManifestCount: len(rep.manifests),
		TagCount:      len(rep.tags),
		Attributes:    rep.attrs,
	}
}

func tagJSONOf(name string, t *tagEntry) tagJSON {
	return tagJSON{
		Name:        name,
		Digest:      t.digest,
		CreatedTime: t.created,
		LastUpdate:  t.updated,
		Attributes:  t.attrs,
	}
}

func manifestJSONOf(rep *repository, dgst digest.Digest, m *manifestEntry) manifestJSON {
	return manifestJSON{
		Digest:      dgst,
		ImageSize:   int64(len(m.content)),
		CreatedTime: m.created,
		LastUpdate:  m.updated,
		MediaType:   m.mediaType,
		Tags:        rep.tagsOf(dgst),
		Attributes:  m.attrs,
	}
}

func (r *Registry) handleACRCatalog(w http.ResponseWriter, req *http.Request) {
	r.handleCatalog(w, req)
}

func (r *Registry) handleACRGetRepository(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}
	writeJSON(w, http.StatusOK, r.repositoryJSONLocked(name, rep))
}

func (r *Registry) handleACRPatchRepository(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	patch, ok := decodePatch(w, req)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}
	rep.attrs = patch.apply(rep.attrs)
	writeJSON(w, http.StatusOK, r.repositoryJSONLocked(name, rep))
}

func (r *Registry) handleACRDeleteRepository(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}
	if !rep.attrs.DeleteEnabled || !rep.attrs.WriteEnabled {
		writeError(w, http.StatusForbidden, "DENIED", "delete operation is disabled")
		return
	}

	tags := slices.Sorted(maps.Keys(rep.tags))
	manifests := slices.Sorted(maps.Keys(rep.manifests))
	delete(r.repos, name)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"manifestsDeleted": manifests,
		"tagsDeleted":      tags,
	})
}

// orderedKeys returns keys sorted for the requested orderby parameter.
func orderedKeys[V any](items map[string]V, updated func(V) time.Time, orderBy string) []string {
	keys := slices.Sorted(maps.Keys(items))
	switch orderBy {
	case "timedesc":
		slices.SortStableFunc(keys, func(a, b string) int { return updated(items[b]).Compare(updated(items[a])) })
	case "timeasc":
		slices.SortStableFunc(keys, func(a, b string) int { return updated(items[a]).Compare(updated(items[b])) })
	}
	return keys
}

func (r *Registry) handleACRTags(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	n, err := r.pageSize(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PAGINATION_NUMBER_INVALID", err.Error())
		return
	}
	q := req.URL.Query()
	filter := digest.Digest(q.Get("digest"))

	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}

	visible := make(map[string]*tagEntry)
	for tag, t := range rep.tags {
		if t.attrs.ListEnabled && (filter == "" || t.digest == filter) {
			visible[tag] = t
		}
	}
	keys := orderedKeys(visible, func(t *tagEntry) time.Time { return t.updated }, q.Get("orderby"))

	tags := []tagJSON{}
	for _, tag := range r.paginate(w, req, n, keys) {
		tags = append(tags, tagJSONOf(tag, visible[tag]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":  r.Host(),
		"imageName": name,
		"tags":      tags,
	})
}

func (r *Registry) handleACRGetTag(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tagLocked(vars["name"], vars["reference"])
	if !ok {
		writeError(w, http.StatusNotFound, "TAG_UNKNOWN", "the specified tag does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":  r.Host(),
		"imageName": vars["name"],
		"tag":       tagJSONOf(vars["reference"], t),
	})
}

func (r *Registry) handleACRPatchTag(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	patch, ok := decodePatch(w, req)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tagLocked(vars["name"], vars["reference"])
	if !ok {
		writeError(w, http.StatusNotFound, "TAG_UNKNOWN", "the specified tag does not exist")
		return
	}
	t.attrs = patch.apply(t.attrs)
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":  r.Host(),
		"imageName": vars["name"],
		"tag":       tagJSONOf(vars["reference"], t),
	})
}

func (r *Registry) handleACRDeleteTag(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[vars["name"]]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}
	t, ok := rep.tags[vars["reference"]]
	if !ok {
		writeError(w, http.StatusNotFound, "TAG_UNKNOWN", "the specified tag does not exist")
		return
	}
	if !t.attrs.DeleteEnabled || !t.attrs.WriteEnabled {
		writeError(w, http.StatusForbidden, "DENIED", "delete operation is disabled")
		return
	}
	delete(rep.tags, vars["reference"])
	rep.updated = r.now()
	w.WriteHeader(http.StatusAccepted)
}

func (r *Registry) handleACRManifests(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	n, err := r.pageSize(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PAGINATION_NUMBER_INVALID", err.Error())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}

	visible := make(map[string]*manifestEntry)
	for dgst, m := range rep.manifests {
		if m.attrs.ListEnabled {
			visible[dgst.String()] = m
		}
	}
	keys := orderedKeys(visible, func(m *manifestEntry) time.Time { return m.updated }, req.URL.Query().Get("orderby"))

	manifests := []manifestJSON{}
	for _, key := range r.paginate(w, req, n, keys) {
		manifests = append(manifests, manifestJSONOf(rep, digest.Digest(key), visible[key]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":  r.Host(),
		"imageName": name,
		"manifests": manifests,
	})
}

func (r *Registry) handleACRGetManifest(w http.ResponseWriter, req *http.Request) {
	r.serveManifestAttributes(w, req, nil)
}

func (r *Registry) handleACRPatchManifest(w http.ResponseWriter, req *http.Request) {
	patch, ok := decodePatch(w, req)
	if !ok {
		return
	}
	r.serveManifestAttributes(w, req, &patch)
}

// serveManifestAttributes answers GET and PATCH on a manifest, applying
// patch first when given.
func (r *Registry) serveManifestAttributes(w http.ResponseWriter, req *http.Request, patch *attributesPatch) {
	vars := mux.Vars(req)
	dgst, err := digest.Parse(vars["reference"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "manifest attributes are addressed by digest")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.repos[vars["name"]]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}
	m, ok := rep.manifests[dgst]
	if !ok {
		writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest unknown")
		return
	}
	if patch != nil {
		m.attrs = patch.apply(m.attrs)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry":  r.Host(),
		"imageName": vars["name"],
		"manifest":  manifestJSONOf(rep, dgst, m),
	})
}
