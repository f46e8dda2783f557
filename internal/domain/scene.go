package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Errors returned by scene item operations.
var (
	// ErrItemExists is returned when inserting an item whose id is already
	// present in the scene.
	ErrItemExists = fmt.Errorf("item already exists in scene")

	// ErrItemNotFound is returned when an operation targets an item id the
	// scene does not contain.
	ErrItemNotFound = fmt.Errorf("item not found in scene")

	// ErrUnknownFlag is returned when a flag name is not one of the
	// toggleable item flags.
	ErrUnknownFlag = fmt.Errorf("unknown item flag")
)

// Scene is an editable canvas document: an ordered list of items (order is
// z-order) plus the current selection. Selection is part of document state
// and participates in undo history.
type Scene struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Items       []Item    `json:"items"`
	SelectedIDs []string  `json:"selectedIds"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ScenePayload is the persisted form of a scene's editable state. Identity
// and timestamps stay out of it so the canonical bytes only move when the
// document itself does.
type ScenePayload struct {
	Name        string   `json:"name"`
	Items       []Item   `json:"items"`
	SelectedIDs []string `json:"selectedIds"`
}

// NewScene creates an empty scene.
func NewScene(name string) Scene {
	now := time.Now()
	return Scene{
		ID:          uuid.New(),
		Name:        name,
		Items:       []Item{},
		SelectedIDs: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SceneFromPayload reconstructs a scene from its persisted payload.
func SceneFromPayload(id uuid.UUID, payload ScenePayload) Scene {
	now := time.Now()
	return Scene{
		ID:          id,
		Name:        payload.Name,
		Items:       cloneItems(payload.Items),
		SelectedIDs: cloneIDs(payload.SelectedIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithName returns a copy of the scene with an updated name.
func (s Scene) WithName(name string) Scene {
	out := s.Clone()
	out.Name = name
	out.UpdatedAt = time.Now()
	return out
}

// WithSelection returns a copy of the scene with an updated selection.
func (s Scene) WithSelection(ids []string) Scene {
	out := s.Clone()
	out.SelectedIDs = cloneIDs(ids)
	out.UpdatedAt = time.Now()
	return out
}

// Clone returns a fully independent copy. Items are plain values, so a
// slice copy is a deep copy.
func (s Scene) Clone() Scene {
	return Scene{
		ID:          s.ID,
		Name:        s.Name,
		Items:       cloneItems(s.Items),
		SelectedIDs: cloneIDs(s.SelectedIDs),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// ItemIndex returns the position of the item with the given id, or -1.
func (s *Scene) ItemIndex(id string) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// Item returns a pointer into the scene's item list for in-place edits.
func (s *Scene) Item(id string) (*Item, bool) {
	idx := s.ItemIndex(id)
	if idx < 0 {
		return nil, false
	}
	return &s.Items[idx], true
}

// InsertItem places the item at the given list position. The index is
// clamped to the list bounds.
func (s *Scene) InsertItem(item Item, index int) error {
	if s.ItemIndex(item.ID) >= 0 {
		return fmt.Errorf("%w: %q", ErrItemExists, item.ID)
	}
	if index < 0 {
		index = 0
	}
	if index > len(s.Items) {
		index = len(s.Items)
	}
	s.Items = append(s.Items, Item{})
	copy(s.Items[index+1:], s.Items[index:])
	s.Items[index] = item
	return nil
}

// RemoveItem removes the item with the given id, returning the removed
// snapshot and the position it occupied.
func (s *Scene) RemoveItem(id string) (Item, int, error) {
	idx := s.ItemIndex(id)
	if idx < 0 {
		return Item{}, -1, fmt.Errorf("%w: %q", ErrItemNotFound, id)
	}
	removed := s.Items[idx]
	s.Items = append(s.Items[:idx], s.Items[idx+1:]...)
	return removed, idx, nil
}

// Payload extracts the persisted form of the scene's editable state.
func (s Scene) Payload() ScenePayload {
	return ScenePayload{
		Name:        s.Name,
		Items:       cloneItems(s.Items),
		SelectedIDs: cloneIDs(s.SelectedIDs),
	}
}

// CanonicalPayload serializes the scene's editable state to RFC 8785
// canonical JSON. The same bytes drive the dirty check and the persisted
// blob, so what is compared is exactly what is stored.
func (s Scene) CanonicalPayload() ([]byte, error) {
	raw, err := json.Marshal(s.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scene payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize scene payload: %w", err)
	}
	return canonical, nil
}

// ScenePayloadFromJSON parses and structurally validates a persisted scene
// blob.
func ScenePayloadFromJSON(raw []byte) (ScenePayload, error) {
	var payload ScenePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ScenePayload{}, fmt.Errorf("failed to decode scene payload: %w", err)
	}
	if payload.Items == nil {
		payload.Items = []Item{}
	}
	if payload.SelectedIDs == nil {
		payload.SelectedIDs = []string{}
	}
	seen := make(map[string]struct{}, len(payload.Items))
	for _, item := range payload.Items {
		if err := item.Validate(); err != nil {
			return ScenePayload{}, fmt.Errorf("invalid scene payload: %w", err)
		}
		if _, dup := seen[item.ID]; dup {
			return ScenePayload{}, fmt.Errorf("invalid scene payload: duplicate item id %q", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return payload, nil
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
