// ABOUTME: HTTP JSON API exposing decorated documents and annotation CRUD
// ABOUTME: Bearer tokens resolve the acting user; reads work unauthenticated

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/RcityHarold/rainbow-annotate/internal/anchor"
	"github.com/RcityHarold/rainbow-annotate/internal/annotator"
	"github.com/RcityHarold/rainbow-annotate/internal/auth"
	"github.com/RcityHarold/rainbow-annotate/internal/document"
	"github.com/RcityHarold/rainbow-annotate/internal/store"
)

// CreateAnnotationRequest is the JSON request body for
// POST /api/documents/{id}/annotations.
type CreateAnnotationRequest struct {
	Selection anchor.Range `json:"selection"`
	Color     string       `json:"color"`
	Note      *string      `json:"note,omitempty"`
}

// UpdateAnnotationRequest is the JSON request body for
// PATCH /api/annotations/{id}. Absent fields are left unchanged; an empty
// note clears the note.
type UpdateAnnotationRequest struct {
	Note  *string `json:"note,omitempty"`
	Color *string `json:"color,omitempty"`
}

// AnnotationsResponse is the JSON response for listing annotations.
type AnnotationsResponse struct {
	Annotations []*store.Annotation `json:"annotations"`
}

// Server serves the annotation HTTP API.
type Server struct {
	annotator *annotator.Service
	verifier  auth.TokenVerifier
	logger    *slog.Logger
}

// NewServer creates the API server.
func NewServer(svc *annotator.Service, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		annotator: svc,
		verifier:  verifier,
		logger:    logger.With("component", "api"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/", s.handleDocumentRoutes)
	mux.HandleFunc("/api/annotations/", s.handleAnnotationRoutes)
	mux.HandleFunc("/healthz", s.handleHealth)
	return s.withAuth(mux)
}

// withAuth resolves an optional bearer token into the request context.
// Requests without a token pass through; mutations then fail with 401 when
// the controller finds no acting user. A present-but-invalid token is
// rejected outright rather than silently treated as anonymous.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			s.sendJSONError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}
		userID, err := s.verifier.Verify(token)
		if err != nil {
			s.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	})
}

// handleDocumentRoutes dispatches /api/documents/{id}/decorated and
// /api/documents/{id}/annotations.
func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	documentID, action := parts[0], parts[1]

	switch {
	case action == "decorated" && r.Method == http.MethodGet:
		s.handleGetDecorated(w, r, documentID)
	case action == "annotations" && r.Method == http.MethodGet:
		s.handleListAnnotations(w, r, documentID)
	case action == "annotations" && r.Method == http.MethodPost:
		s.handleCreateAnnotation(w, r, documentID)
	case action == "decorated" || action == "annotations":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		s.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleGetDecorated handles GET /api/documents/{id}/decorated.
func (s *Server) handleGetDecorated(w http.ResponseWriter, r *http.Request, documentID string) {
	decorated, err := s.annotator.ListDecorated(r.Context(), documentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, decorated)
}

// handleListAnnotations handles GET /api/documents/{id}/annotations.
func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request, documentID string) {
	annotations, err := s.annotator.ListAnnotations(r.Context(), documentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if annotations == nil {
		annotations = []*store.Annotation{}
	}
	s.sendJSON(w, http.StatusOK, AnnotationsResponse{Annotations: annotations})
}

// handleCreateAnnotation handles POST /api/documents/{id}/annotations.
func (s *Server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request, documentID string) {
	var req CreateAnnotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	color := store.Color(req.Color)
	if !color.Valid() {
		s.sendJSONError(w, http.StatusBadRequest, "unknown color")
		return
	}

	a, err := s.annotator.Annotate(r.Context(), documentID, req.Selection, color, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, a)
}

// handleAnnotationRoutes dispatches PATCH and DELETE on /api/annotations/{id}.
func (s *Server) handleAnnotationRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/annotations/")
	if id == "" || strings.Contains(id, "/") {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		s.handleUpdateAnnotation(w, r, id)
	case http.MethodDelete:
		s.handleDeleteAnnotation(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleUpdateAnnotation handles PATCH /api/annotations/{id}.
func (s *Server) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		s.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req UpdateAnnotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := store.Patch{}
	if req.Note != nil {
		if *req.Note == "" {
			// Empty note clears it
			patch.Note = new(string)
			*patch.Note = ""
		} else {
			patch.Note = req.Note
		}
	}
	if req.Color != nil {
		c := store.Color(*req.Color)
		if !c.Valid() {
			s.sendJSONError(w, http.StatusBadRequest, "unknown color")
			return
		}
		patch.Color = &c
	}

	a, err := s.annotator.UpdateAnnotation(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, a)
}

// handleDeleteAnnotation handles DELETE /api/annotations/{id}.
// Deletion is idempotent, so unknown ids still return 204.
func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		s.sendJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.annotator.RemoveAnnotation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound), errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, annotator.ErrUnauthenticated):
		s.sendJSONError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, anchor.ErrEmptySelection):
		s.sendJSONError(w, http.StatusUnprocessableEntity, "selection is empty")
	case errors.Is(err, anchor.ErrInvalidRange):
		s.sendJSONError(w, http.StatusUnprocessableEntity, "selection is out of range")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, map[string]string{"error": msg})
}
