package registrytest

import (
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
)

const maxManifestBytes = 4 << 20

func (r *Registry) handleV2Base(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	writeJSON(w, http.StatusOK, struct{}{})
}

func (r *Registry) handleCatalog(w http.ResponseWriter, req *http.Request) {
	n, err := r.pageSize(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PAGINATION_NUMBER_INVALID", err.Error())
		return
	}

	r.mu.Lock()
	names := slices.Sorted(maps.Keys(r.repos))
	r.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string][]string{
		"repositories": nonNil(r.paginate(w, req, n, names)),
	})
}

func (r *Registry) handleTagList(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	n, err := r.pageSize(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PAGINATION_NUMBER_INVALID", err.Error())
		return
	}

	r.mu.Lock()
	rep, ok := r.repos[name]
	var tags []string
	if ok {
		for tag, t := range rep.tags {
			if t.attrs.ListEnabled {
				tags = append(tags, tag)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}
	slices.Sort(tags)
	writeJSON(w, http.StatusOK, map[string]any{
		"name": name,
		"tags": nonNil(r.paginate(w, req, n, tags)),
	})
}

// resolveLocked finds the manifest named by reference, a tag or a digest.
// tag is nil for digest references.
func (r *Registry) resolveLocked(name, reference string) (*manifestEntry, *tagEntry, digest.Digest, int, string) {
	rep, ok := r.repos[name]
	if !ok {
		return nil, nil, "", http.StatusNotFound, "NAME_UNKNOWN"
	}
	if dgst, err := digest.Parse(reference); err == nil {
		m, ok := rep.manifests[dgst]
		if !ok {
			return nil, nil, "", http.StatusNotFound, "MANIFEST_UNKNOWN"
		}
		return m, nil, dgst, 0, ""
	}
	t, ok := rep.tags[reference]
	if !ok {
		return nil, nil, "", http.StatusNotFound, "MANIFEST_UNKNOWN"
	}
	return rep.manifests[t.digest], t, t.digest, 0, ""
}

func (r *Registry) handleGetManifest(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	r.mu.Lock()
	m, t, dgst, status, code := r.resolveLocked(vars["name"], vars["reference"])
	var mediaType string
	var body []byte
	readable := true
	if status == 0 {
		mediaType, body = m.mediaType, slices.Clone(m.content)
		readable = m.attrs.ReadEnabled && (t == nil || t.attrs.ReadEnabled)
	}
	r.mu.Unlock()

	if status != 0 {
		writeError(w, status, code, "manifest unknown")
		return
	}
	if !readable {
		writeError(w, http.StatusForbidden, "DENIED", "read operation is disabled")
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		_, _ = w.Write(body) //nolint:errcheck // test server
	}
}

func (r *Registry) handlePutManifest(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name, reference := vars["name"], vars["reference"]

	body, err := io.ReadAll(io.LimitReader(req.Body, maxManifestBytes+1))
	if err != nil || len(body) > maxManifestBytes {
		writeError(w, http.StatusBadRequest, "MANIFEST_INVALID", "unreadable or oversized manifest")
		return
	}
	mediaType := req.Header.Get("Content-Type")
	if mediaType == "" || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "MANIFEST_INVALID", "manifest invalid")
		return
	}

	dgst := digest.FromBytes(body)
	tag := reference
	if want, err := digest.Parse(reference); err == nil {
		if want != dgst {
			writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "provided digest did not match uploaded content")
			return
		}
		tag = ""
	}

	r.mu.Lock()
	if rep, ok := r.repos[name]; ok {
		if !rep.attrs.WriteEnabled {
			r.mu.Unlock()
			writeError(w, http.StatusForbidden, "DENIED", "write operation is disabled for the repository")
			return
		}
		if t, ok := rep.tags[tag]; ok && !t.attrs.WriteEnabled {
			r.mu.Unlock()
			writeError(w, http.StatusForbidden, "DENIED", "write operation is disabled for the tag")
			return
		}
	}
	r.putManifestLocked(name, tag, mediaType, body)
	r.mu.Unlock()

	w.Header().Set("Location", "/v2/"+name+"/manifests/"+dgst.String())
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.WriteHeader(http.StatusCreated)
}

func (r *Registry) handleDeleteManifest(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	name := vars["name"]
	dgst, err := digest.Parse(vars["reference"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "DIGEST_INVALID", "manifests can only be deleted by digest")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rep, ok := r.repos[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NAME_UNKNOWN", "repository name not known to registry")
		return
	}
	m, ok := rep.manifests[dgst]
	if !ok {
		writeError(w, http.StatusNotFound, "MANIFEST_UNKNOWN", "manifest unknown")
		return
	}
	if !m.attrs.DeleteEnabled || !m.attrs.WriteEnabled {
		writeError(w, http.StatusForbidden, "DENIED", "delete operation is disabled")
		return
	}

	for _, tag := range rep.tagsOf(dgst) {
		delete(rep.tags, tag)
	}
	delete(rep.manifests, dgst)
	rep.updated = r.now()
	w.WriteHeader(http.StatusAccepted)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
