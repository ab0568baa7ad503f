package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBodyBytes caps request payloads.
const maxBodyBytes = 1 << 20

// Handler handles HTTP requests for confessions.
type Handler struct {
	svc       *Service
	logger    *slog.Logger
	metrics   *Metrics
	staticDir string
}

// NewHandler creates a Handler with dependencies.
func NewHandler(svc *Service, logger *slog.Logger, metrics *Metrics, staticDir string) *Handler {
	return &Handler{svc: svc, logger: logger, metrics: metrics, staticDir: staticDir}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /confessions", h.handleCreateConfession)
	mux.HandleFunc("GET /confessions/{id}", h.handleGetConfession)
	mux.HandleFunc("POST /confessions/{id}/reactions", h.handleReact)
	mux.HandleFunc("GET /api/confessions/random", h.handleRandomConfessions)
	mux.HandleFunc("GET /api/confessions/tag/{tag}", h.handleConfessionsByTag)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	mux.Handle("GET /metrics", h.metrics.Handler())
	if h.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(h.staticDir)))
	}
	return mux
}

// handleCreateConfession processes POST /confessions.
func (h *Handler) handleCreateConfession(w http.ResponseWriter, r *http.Request) {
	var req CreateConfessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Error creating confession")
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/confessions/%s", id))
	writeJSON(w, http.StatusCreated, CreateConfessionResponse{
		Message:      "Confession created successfully!",
		ConfessionID: id,
	})
}

// handleGetConfession processes GET /confessions/{id}.
func (h *Handler) handleGetConfession(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "Error fetching confession")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleReact processes POST /confessions/{id}/reactions.
func (h *Handler) handleReact(w http.ResponseWriter, r *http.Request) {
	var req ReactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.svc.React(r.Context(), r.PathValue("id"), req.ReactionType, req.UserID)
	if err != nil {
		h.writeServiceError(w, err, "Error updating reaction")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleRandomConfessions processes GET /api/confessions/random.
func (h *Handler) handleRandomConfessions(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Random(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Error fetching confessions")
		return
	}
	writeJSON(w, http.StatusOK, RandomConfessionsResponse{Confessions: out})
}

// handleConfessionsByTag processes GET /api/confessions/tag/{tag}.
func (h *Handler) handleConfessionsByTag(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ByTag(r.Context(), r.PathValue("tag"))
	if err != nil {
		h.writeServiceError(w, err, http.StatusText(http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealthz reports that the process is up.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports whether the store answers a ping.
func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.Ping(ctx); err != nil {
		h.logger.Warn("store not ready", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeServiceError maps service errors onto status codes. Storage failures
// were already logged by the service and only get the generic message.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, generic string) {
	var storageErr *StorageError
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Confession not found")
	case errors.Is(err, ErrInvalidReaction):
		writeError(w, http.StatusBadRequest, "Invalid reaction type")
	case errors.Is(err, ErrDuplicateReaction):
		writeError(w, http.StatusBadRequest, "User has already reacted")
	case errors.As(err, &storageErr):
		writeError(w, http.StatusInternalServerError, generic)
	default:
		h.logger.Error("unexpected error", "err", err)
		writeError(w, http.StatusInternalServerError, generic)
	}
}

// errorResponse is the body of every error reply.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeError sends msg as an errorResponse with status code.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Status: "error", Message: msg})
}

// writeJSON encodes v as the response body with status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request payload: %v", err)
	}
	return ensureSingleJSON(dec)
}

// ensureSingleJSON ensures only a single JSON object is in the request body.
func ensureSingleJSON(dec *json.Decoder) error {
	if t, err := dec.Token(); err != io.EOF || t != nil {
		return fmt.Errorf("request body must only contain a single JSON object")
	}
	return nil
}
