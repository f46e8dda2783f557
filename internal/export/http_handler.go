package export

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/rpattn/easel/internal/session"
)

// Handler streams scene exports over HTTP. Mount it on a pattern that names
// the {id} path segment, e.g. "GET /scenes/{id}/export".
type Handler struct {
	service *Service
}

// NewHTTPHandler wires the export service into an http.Handler.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sceneID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid scene id", http.StatusBadRequest)
		return
	}

	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Export(sceneID, format)
	if err != nil {
		if errors.Is(err, session.ErrSceneNotOpen) {
			http.Error(w, "scene not open", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("failed to export scene: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	_, _ = w.Write(result.Data)
}
