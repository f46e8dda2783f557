package history

import (
	"fmt"

	"github.com/rpattn/easel/internal/domain"
)

// SetSelection records a change of the scene's selected item ids. Selection
// is document state, so selecting and deselecting participate in undo like
// any other edit.
type SetSelection struct {
	base
	Old []string `json:"oldSelectedIds"`
	New []string `json:"newSelectedIds"`
}

// NewSetSelection builds a selection record from the previous and next id
// sets.
func NewSetSelection(old, new []string) *SetSelection {
	return &SetSelection{base: newBase(""), Old: copyIDs(old), New: copyIDs(new)}
}

func (c *SetSelection) Kind() Kind { return KindSetSelection }

func (c *SetSelection) Apply(s *domain.Scene) error {
	s.SelectedIDs = copyIDs(c.New)
	return nil
}

func (c *SetSelection) Revert(s *domain.Scene) error {
	s.SelectedIDs = copyIDs(c.Old)
	return nil
}

func copyIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Composite bundles the records of one multi-part gesture into a single
// undo step. Apply runs children first to last; Revert runs them last to
// first, so each child reverts against exactly the state its apply left
// behind.
type Composite struct {
	base
	Children []Change `json:"-"`
}

// NewComposite builds a composite from child records.
func NewComposite(children ...Change) *Composite {
	return &Composite{base: newBase(""), Children: children}
}

func (c *Composite) Kind() Kind { return KindComposite }

func (c *Composite) Apply(s *domain.Scene) error {
	for i, child := range c.Children {
		if err := child.Apply(s); err != nil {
			return fmt.Errorf("failed to apply %s child %d: %w", KindComposite, i, err)
		}
	}
	return nil
}

func (c *Composite) Revert(s *domain.Scene) error {
	for i := len(c.Children) - 1; i >= 0; i-- {
		if err := c.Children[i].Revert(s); err != nil {
			return fmt.Errorf("failed to revert %s child %d: %w", KindComposite, i, err)
		}
	}
	return nil
}
