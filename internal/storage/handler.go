package storage

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	jsonwriter "github.com/dgellow/ebo-bff/internal/json"
	"github.com/dgellow/ebo-bff/internal/log"
)

const maxSessionBodyBytes = 64 << 10

// Handler exposes a SessionStore over the same HTTP contract RemoteStorage
// speaks, so one BFF instance can serve as the shared store for others.
type Handler struct {
	store SessionStore
	token string
	mux   *http.ServeMux
}

// NewHandler serves store under /sessions/{id}. When token is non-empty every
// request must present it as a bearer token.
func NewHandler(store SessionStore, token string) *Handler {
	h := &Handler{store: store, token: token, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /sessions/{id}", h.get)
	h.mux.HandleFunc("PUT /sessions/{id}", h.put)
	h.mux.HandleFunc("DELETE /sessions/{id}", h.delete)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		jsonwriter.WriteUnauthorized(w)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrSessionNotFound) {
		jsonwriter.WriteNotFound(w, "Session not found.")
		return
	}
	if err != nil {
		log.LogErrorWithFieldsCtx(r.Context(), "storage", "Failed to load session", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Internal error")
		return
	}
	_ = jsonwriter.WriteNoStore(w, sess)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	var sess Session
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBodyBytes)).Decode(&sess); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid session body.")
		return
	}
	if err := h.store.PutSession(r.Context(), r.PathValue("id"), &sess); err != nil {
		log.LogErrorWithFieldsCtx(r.Context(), "storage", "Failed to save session", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		log.LogErrorWithFieldsCtx(r.Context(), "storage", "Failed to delete session", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
