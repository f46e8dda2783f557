package history

import (
	"fmt"

	"github.com/rpattn/easel/internal/domain"
)

// AddItem records the creation of an item and carries its full snapshot.
type AddItem struct {
	base
	Item domain.Item `json:"item"`
}

// NewAddItem builds the record for an item about to be added.
func NewAddItem(item domain.Item) *AddItem {
	return &AddItem{base: newBase(item.ID), Item: item}
}

func (c *AddItem) Kind() Kind { return KindAddItem }

func (c *AddItem) Apply(s *domain.Scene) error {
	if err := s.InsertItem(c.Item, len(s.Items)); err != nil {
		return fmt.Errorf("failed to apply %s: %w", KindAddItem, err)
	}
	return nil
}

func (c *AddItem) Revert(s *domain.Scene) error {
	if _, _, err := s.RemoveItem(c.Item.ID); err != nil {
		return fmt.Errorf("failed to revert %s: %w", KindAddItem, err)
	}
	return nil
}

// DeleteItem records the removal of an item. It keeps the full snapshot and
// the list position the item occupied, so revert restores the scene's item
// order exactly.
type DeleteItem struct {
	base
	Item  domain.Item `json:"item"`
	Index int         `json:"index"`
}

// NewDeleteItem builds the record for an item about to be removed. index is
// the position the item currently occupies in the scene's item list.
func NewDeleteItem(item domain.Item, index int) *DeleteItem {
	return &DeleteItem{base: newBase(item.ID), Item: item, Index: index}
}

func (c *DeleteItem) Kind() Kind { return KindDeleteItem }

func (c *DeleteItem) Apply(s *domain.Scene) error {
	if _, _, err := s.RemoveItem(c.Item.ID); err != nil {
		return fmt.Errorf("failed to apply %s: %w", KindDeleteItem, err)
	}
	return nil
}

func (c *DeleteItem) Revert(s *domain.Scene) error {
	if err := s.InsertItem(c.Item, c.Index); err != nil {
		return fmt.Errorf("failed to revert %s: %w", KindDeleteItem, err)
	}
	return nil
}
