// Package api exposes the scene session engine over plain HTTP JSON: scene
// CRUD, change submission, undo/redo, explicit save, activation, conflict
// handling, and history inspection.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/easel/internal/domain"
	"github.com/rpattn/easel/internal/history"
	"github.com/rpattn/easel/internal/middleware"
	"github.com/rpattn/easel/internal/session"
	"github.com/rpattn/easel/internal/storage"
	"github.com/rpattn/easel/pkg/validator"
)

// maxChangeBody caps a single change submission. Change records are small;
// anything near this size is a client bug.
const maxChangeBody = 1 << 20

type Handler struct {
	manager   *session.Manager
	collab    storage.Collaborator
	validator *validator.SceneValidator
	mux       *http.ServeMux
}

// NewHTTPHandler wires every scene endpoint onto a method-pattern mux.
func NewHTTPHandler(manager *session.Manager, collab storage.Collaborator) http.Handler {
	h := &Handler{manager: manager, collab: collab, validator: validator.NewSceneValidator()}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scenes", h.handleCreateScene)
	mux.HandleFunc("GET /scenes", h.handleListScenes)
	mux.HandleFunc("GET /scenes/{id}", h.handleGetScene)
	mux.HandleFunc("DELETE /scenes/{id}", h.handleDeleteScene)
	mux.HandleFunc("POST /scenes/{id}/open", h.handleOpenScene)
	mux.HandleFunc("POST /scenes/{id}/close", h.handleCloseScene)
	mux.HandleFunc("POST /scenes/{id}/changes", h.handleApplyChange)
	mux.HandleFunc("POST /scenes/{id}/undo", h.handleUndo)
	mux.HandleFunc("POST /scenes/{id}/redo", h.handleRedo)
	mux.HandleFunc("POST /scenes/{id}/save", h.handleSave)
	mux.HandleFunc("POST /scenes/{id}/activate", h.handleActivate)
	mux.HandleFunc("POST /scenes/{id}/conflict/clear", h.handleClearConflict)
	mux.HandleFunc("GET /scenes/{id}/status", h.handleStatus)
	mux.HandleFunc("GET /scenes/{id}/validate", h.handleValidate)
	mux.HandleFunc("GET /scenes/{id}/history", h.handleHistory)
	mux.HandleFunc("POST /resume", h.handleResume)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type createScenePayload struct {
	Name string `json:"name"`
}

type sceneDocument struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Items       []domain.Item   `json:"items"`
	SelectedIDs []string        `json:"selectedIds"`
	Status      *session.Status `json:"status,omitempty"`
}

type sceneListEntry struct {
	ID      uuid.UUID            `json:"id"`
	Name    string               `json:"name"`
	Token   storage.Token        `json:"token"`
	Open    bool                 `json:"open"`
	Payload *domain.ScenePayload `json:"payload,omitempty"`
}

type listScenesResponse struct {
	Scenes []sceneListEntry `json:"scenes"`
}

type historyStepResponse struct {
	Applied bool            `json:"applied"`
	Record  json.RawMessage `json:"record,omitempty"`
	Status  session.Status  `json:"status"`
}

type statusResponse struct {
	session.Status
	Diff string `json:"diff,omitempty"`
}

type resumeResponse struct {
	Scenes []session.Status `json:"scenes"`
}

func (h *Handler) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload createScenePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	status := h.manager.CreateScene(name)
	writeJSON(w, http.StatusCreated, status)
}

func (h *Handler) handleListScenes(w http.ResponseWriter, r *http.Request) {
	refs, err := h.manager.ListScenes(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("list scenes: %v", err), http.StatusInternalServerError)
		return
	}
	open := make(map[uuid.UUID]bool)
	for _, st := range h.manager.OpenStatuses() {
		open[st.SceneID] = true
	}
	entries := make([]sceneListEntry, 0, len(refs))
	for _, ref := range refs {
		entries = append(entries, sceneListEntry{
			ID:    ref.ID,
			Name:  ref.Name,
			Token: ref.Token,
			Open:  open[ref.ID],
		})
	}
	if r.URL.Query().Get("expand") == "payload" {
		if err := h.expandPayloads(r, entries); err != nil {
			http.Error(w, fmt.Sprintf("expand payloads: %v", err), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, listScenesResponse{Scenes: entries})
}

// expandPayloads attaches each listed scene's stored payload. It goes
// through the per-request batch loader when one is mounted, so concurrent
// expansions inside one request window collapse into a single storage
// fetch; without the middleware it batch-fetches directly.
func (h *Handler) expandPayloads(r *http.Request, entries []sceneListEntry) error {
	loader := middleware.SceneLoaderFromContext(r.Context())
	if loader == nil {
		ids := make([]uuid.UUID, 0, len(entries))
		for _, entry := range entries {
			ids = append(ids, entry.ID)
		}
		records, err := h.collab.FetchScenes(r.Context(), ids)
		if err != nil {
			return err
		}
		for i := range entries {
			record, ok := records[entries[i].ID]
			if !ok {
				continue
			}
			if err := attachPayload(&entries[i], record.Blob); err != nil {
				return err
			}
		}
		return nil
	}
	for i := range entries {
		record, ok, err := loader.Load(r.Context(), entries[i].ID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := attachPayload(&entries[i], record.Blob); err != nil {
			return err
		}
	}
	return nil
}

func attachPayload(entry *sceneListEntry, blob []byte) error {
	payload, err := domain.ScenePayloadFromJSON(blob)
	if err != nil {
		return fmt.Errorf("scene %s: %w", entry.ID, err)
	}
	entry.Payload = &payload
	return nil
}

// handleGetScene serves the live working copy when the scene is open and
// falls back to the stored payload otherwise. Reading never opens a
// session; POST /scenes/{id}/open does that.
func (h *Handler) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	if scene, err := h.manager.Scene(id); err == nil {
		status, statusErr := h.manager.Status(id)
		if statusErr != nil {
			h.writeError(w, statusErr)
			return
		}
		writeJSON(w, http.StatusOK, sceneDocument{
			ID:          scene.ID,
			Name:        scene.Name,
			Items:       scene.Items,
			SelectedIDs: scene.SelectedIDs,
			Status:      &status,
		})
		return
	}
	blob, _, present, err := h.collab.FetchScene(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("fetch scene: %v", err), http.StatusInternalServerError)
		return
	}
	if !present {
		http.Error(w, fmt.Sprintf("scene %s not found", id), http.StatusNotFound)
		return
	}
	payload, err := domain.ScenePayloadFromJSON(blob)
	if err != nil {
		http.Error(w, fmt.Sprintf("stored scene is unreadable: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sceneDocument{
		ID:          id,
		Name:        payload.Name,
		Items:       payload.Items,
		SelectedIDs: payload.SelectedIDs,
	})
}

func (h *Handler) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	if err := h.manager.DeleteScene(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleOpenScene(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	status, err := h.manager.OpenScene(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCloseScene(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	if err := h.manager.CloseScene(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyChange accepts one wire-format change record and applies it to
// the open scene. The body is the record envelope itself, exactly as it
// appears inside a persisted history blob.
func (h *Handler) handleApplyChange(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxChangeBody))
	if err != nil {
		http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}
	change, err := history.UnmarshalRecord(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid change record: %v", err), http.StatusBadRequest)
		return
	}
	status, err := h.manager.ApplyChange(id, change)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	h.handleHistoryStep(w, r, h.manager.Undo)
}

func (h *Handler) handleRedo(w http.ResponseWriter, r *http.Request) {
	h.handleHistoryStep(w, r, h.manager.Redo)
}

func (h *Handler) handleHistoryStep(w http.ResponseWriter, r *http.Request, step func(uuid.UUID) (history.Change, session.Status, error)) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	change, status, err := step(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := historyStepResponse{Status: status}
	if change != nil {
		record, encErr := history.MarshalRecord(change)
		if encErr != nil {
			http.Error(w, fmt.Sprintf("encode record: %v", encErr), http.StatusInternalServerError)
			return
		}
		resp.Applied = true
		resp.Record = record
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	status, err := h.manager.SaveNow(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	status, err := h.manager.Activate(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleClearConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	status, err := h.manager.ClearConflict(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStatus reports the scene's session snapshot. With ?diff=1 and a
// detected conflict it also renders the local-versus-remote line diff.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	status, err := h.manager.Status(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := statusResponse{Status: status}
	if r.URL.Query().Get("diff") == "1" && status.Conflict.Detected {
		diff, diffErr := h.manager.ConflictDiff(r.Context(), id)
		if diffErr != nil {
			http.Error(w, fmt.Sprintf("diff scene: %v", diffErr), http.StatusInternalServerError)
			return
		}
		resp.Diff = diff
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleValidate runs structural validation over the scene: the live
// working copy when the scene is open, the stored payload otherwise.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	var payload domain.ScenePayload
	if scene, err := h.manager.Scene(id); err == nil {
		payload = scene.Payload()
	} else {
		blob, _, present, fetchErr := h.collab.FetchScene(r.Context(), id)
		if fetchErr != nil {
			http.Error(w, fmt.Sprintf("fetch scene: %v", fetchErr), http.StatusInternalServerError)
			return
		}
		if !present {
			http.Error(w, fmt.Sprintf("scene %s not found", id), http.StatusNotFound)
			return
		}
		payload, fetchErr = domain.ScenePayloadFromJSON(blob)
		if fetchErr != nil {
			http.Error(w, fmt.Sprintf("stored scene is unreadable: %v", fetchErr), http.StatusUnprocessableEntity)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.validator.ValidateScene(payload))
}

// handleHistory streams the history blob in wire form. ?full=1 includes the
// redo future; that form is for inspection and never what gets persisted.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := sceneID(w, r)
	if !ok {
		return
	}
	full := r.URL.Query().Get("full") == "1"
	blob, err := h.manager.SerializeHistory(id, full)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	statuses := h.manager.Resume(r.Context())
	writeJSON(w, http.StatusOK, resumeResponse{Scenes: statuses})
}

func sceneID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid scene id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var decodeErr *history.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrSceneNotFound), errors.Is(err, session.ErrSceneNotOpen):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrItemExists),
		errors.Is(err, domain.ErrUnknownFlag):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
