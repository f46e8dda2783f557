package history

import (
	"fmt"

	"github.com/rpattn/easel/internal/domain"
)

// TransformItem records a geometry change on one item as a pair of partial
// placement patches: New carries the fields the gesture changed, Old
// captures their previous values.
type TransformItem struct {
	base
	Old domain.PlacementPatch `json:"old"`
	New domain.PlacementPatch `json:"new"`
}

// NewTransformItem builds a transform record from explicit before/after
// patches.
func NewTransformItem(itemID string, old, new domain.PlacementPatch) *TransformItem {
	return &TransformItem{base: newBase(itemID), Old: old, New: new}
}

// NewTransformItemFromScene builds a transform record for patch against the
// item's current placement, capturing the inverse automatically.
func NewTransformItemFromScene(s *domain.Scene, itemID string, patch domain.PlacementPatch) (*TransformItem, error) {
	item, ok := s.Item(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrItemNotFound, itemID)
	}
	return NewTransformItem(itemID, domain.CapturePlacement(*item, patch), patch), nil
}

func (c *TransformItem) Kind() Kind { return KindTransformItem }

func (c *TransformItem) Apply(s *domain.Scene) error {
	return c.patch(s, c.New)
}

func (c *TransformItem) Revert(s *domain.Scene) error {
	return c.patch(s, c.Old)
}

func (c *TransformItem) patch(s *domain.Scene, p domain.PlacementPatch) error {
	item, ok := s.Item(c.Subject)
	if !ok {
		return fmt.Errorf("failed to apply %s: %w: %q", KindTransformItem, domain.ErrItemNotFound, c.Subject)
	}
	p.ApplyTo(item)
	return nil
}

// TransformEntry is one item's before/after patch pair inside a batch
// transform.
type TransformEntry struct {
	ItemID string                `json:"itemId"`
	Old    domain.PlacementPatch `json:"old"`
	New    domain.PlacementPatch `json:"new"`
}

// TransformItems records a geometry change over several items as one undo
// step, e.g. a multi-select drag. Application is atomic: every target is
// validated before any patch lands.
type TransformItems struct {
	base
	Entries []TransformEntry `json:"entries"`
}

// NewTransformItems builds a batch transform record.
func NewTransformItems(entries []TransformEntry) *TransformItems {
	return &TransformItems{base: newBase(""), Entries: entries}
}

func (c *TransformItems) Kind() Kind { return KindTransformItems }

func (c *TransformItems) Apply(s *domain.Scene) error {
	return c.patchAll(s, false)
}

func (c *TransformItems) Revert(s *domain.Scene) error {
	return c.patchAll(s, true)
}

func (c *TransformItems) patchAll(s *domain.Scene, revert bool) error {
	targets := make([]*domain.Item, len(c.Entries))
	for i, entry := range c.Entries {
		item, ok := s.Item(entry.ItemID)
		if !ok {
			return fmt.Errorf("failed to apply %s: %w: %q", KindTransformItems, domain.ErrItemNotFound, entry.ItemID)
		}
		targets[i] = item
	}
	for i, entry := range c.Entries {
		if revert {
			entry.Old.ApplyTo(targets[i])
		} else {
			entry.New.ApplyTo(targets[i])
		}
	}
	return nil
}
