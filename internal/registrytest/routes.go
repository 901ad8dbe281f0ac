package registrytest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// namePattern matches repository names, slashes included.
const namePattern = `[a-z0-9]+(?:(?:[._]|__|[-]*)[a-z0-9]+)*(?:/[a-z0-9]+(?:(?:[._]|__|[-]*)[a-z0-9]+)*)*`

func (r *Registry) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(r.record)
	for _, mw := range r.middleware {
		router.Use(mw)
	}

	oauth := router.PathPrefix("/oauth2").Subrouter()
	oauth.HandleFunc("/token", r.handleToken).Methods(http.MethodPost)
	oauth.HandleFunc("/exchange", r.handleExchange).Methods(http.MethodPost)

	api := router.NewRoute().Subrouter()
	api.Use(r.authenticate)

	name := "{name:" + namePattern + "}"

	api.HandleFunc("/v2/", r.handleV2Base).Methods(http.MethodGet)
	api.HandleFunc("/v2/_catalog", r.handleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/v2/"+name+"/tags/list", r.handleTagList).Methods(http.MethodGet)
	api.HandleFunc("/v2/"+name+"/manifests/{reference}", r.handleGetManifest).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/v2/"+name+"/manifests/{reference}", r.handlePutManifest).Methods(http.MethodPut)
	api.HandleFunc("/v2/"+name+"/manifests/{reference}", r.handleDeleteManifest).Methods(http.MethodDelete)

	api.HandleFunc("/acr/v1/_catalog", r.handleACRCatalog).Methods(http.MethodGet)
	api.HandleFunc("/acr/v1/"+name+"/_tags", r.handleACRTags).Methods(http.MethodGet)
	api.HandleFunc("/acr/v1/"+name+"/_tags/{reference}", r.handleACRGetTag).Methods(http.MethodGet)
	api.HandleFunc("/acr/v1/"+name+"/_tags/{reference}", r.handleACRPatchTag).Methods(http.MethodPatch)
	api.HandleFunc("/acr/v1/"+name+"/_tags/{reference}", r.handleACRDeleteTag).Methods(http.MethodDelete)
	api.HandleFunc("/acr/v1/"+name+"/_manifests", r.handleACRManifests).Methods(http.MethodGet)
	api.HandleFunc("/acr/v1/"+name+"/_manifests/{reference}", r.handleACRGetManifest).Methods(http.MethodGet)
	api.HandleFunc("/acr/v1/"+name+"/_manifests/{reference}", r.handleACRPatchManifest).Methods(http.MethodPatch)
	api.HandleFunc("/acr/v1/"+name, r.handleACRGetRepository).Methods(http.MethodGet)
	api.HandleFunc("/acr/v1/"+name, r.handleACRPatchRepository).Methods(http.MethodPatch)
	api.HandleFunc("/acr/v1/"+name, r.handleACRDeleteRepository).Methods(http.MethodDelete)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such endpoint")
	})
	return router
}

// record stores every request except token requests.
func (r *Registry) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasPrefix(req.URL.Path, "/oauth2/") {
			r.mu.Lock()
			r.requests = append(r.requests, Request{
				Method:        req.Method,
				Path:          req.URL.Path,
				Query:         req.URL.Query(),
				Authorization: req.Header.Get("Authorization"),
			})
			r.mu.Unlock()
		}
		next.ServeHTTP(w, req)
	})
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// writeError writes a distribution-style error body.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string][]apiError{
		"errors": {{Code: code, Message: message}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}
