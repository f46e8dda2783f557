package history

import (
	"fmt"

	"github.com/rpattn/easel/internal/domain"
)

// sceneItem resolves the record's subject item or reports which kind of
// record failed to find it.
func sceneItem(s *domain.Scene, subject string, kind Kind) (*domain.Item, error) {
	item, ok := s.Item(subject)
	if !ok {
		return nil, fmt.Errorf("failed to apply %s: %w: %q", kind, domain.ErrItemNotFound, subject)
	}
	return item, nil
}

// SetText records an edit to an item's text content.
type SetText struct {
	base
	Old string `json:"old"`
	New string `json:"new"`
}

// NewSetText builds a text-edit record for the given item.
func NewSetText(itemID, old, new string) *SetText {
	return &SetText{base: newBase(itemID), Old: old, New: new}
}

func (c *SetText) Kind() Kind { return KindSetText }

func (c *SetText) Apply(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetText)
	if err != nil {
		return err
	}
	item.Text = c.New
	return nil
}

func (c *SetText) Revert(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetText)
	if err != nil {
		return err
	}
	item.Text = c.Old
	return nil
}

// SetPrompt records an edit to a prompt item's label and body. Both fields
// move in one gesture and undo in one step.
type SetPrompt struct {
	base
	OldLabel string `json:"oldLabel"`
	NewLabel string `json:"newLabel"`
	OldBody  string `json:"oldBody"`
	NewBody  string `json:"newBody"`
}

// NewSetPrompt builds a prompt-edit record for the given item.
func NewSetPrompt(itemID, oldLabel, newLabel, oldBody, newBody string) *SetPrompt {
	return &SetPrompt{
		base:     newBase(itemID),
		OldLabel: oldLabel, NewLabel: newLabel,
		OldBody: oldBody, NewBody: newBody,
	}
}

func (c *SetPrompt) Kind() Kind { return KindSetPrompt }

func (c *SetPrompt) Apply(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetPrompt)
	if err != nil {
		return err
	}
	item.PromptLabel = c.NewLabel
	item.PromptBody = c.NewBody
	return nil
}

func (c *SetPrompt) Revert(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetPrompt)
	if err != nil {
		return err
	}
	item.PromptLabel = c.OldLabel
	item.PromptBody = c.OldBody
	return nil
}

// SetModel records a change of an item's model selector.
type SetModel struct {
	base
	Old string `json:"old"`
	New string `json:"new"`
}

// NewSetModel builds a model-selector record for the given item.
func NewSetModel(itemID, old, new string) *SetModel {
	return &SetModel{base: newBase(itemID), Old: old, New: new}
}

func (c *SetModel) Kind() Kind { return KindSetModel }

func (c *SetModel) Apply(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetModel)
	if err != nil {
		return err
	}
	item.Model = c.New
	return nil
}

func (c *SetModel) Revert(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetModel)
	if err != nil {
		return err
	}
	item.Model = c.Old
	return nil
}

// SetName records a change of an item's display name.
type SetName struct {
	base
	Old string `json:"old"`
	New string `json:"new"`
}

// NewSetName builds a display-name record for the given item.
func NewSetName(itemID, old, new string) *SetName {
	return &SetName{base: newBase(itemID), Old: old, New: new}
}

func (c *SetName) Kind() Kind { return KindSetName }

func (c *SetName) Apply(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetName)
	if err != nil {
		return err
	}
	item.DisplayName = c.New
	return nil
}

func (c *SetName) Revert(s *domain.Scene) error {
	item, err := sceneItem(s, c.Subject, KindSetName)
	if err != nil {
		return err
	}
	item.DisplayName = c.Old
	return nil
}

// SetFlag records a toggle of a named boolean flag on an item.
type SetFlag struct {
	base
	Flag string `json:"flag"`
	Old  bool   `json:"old"`
	New  bool   `json:"new"`
}

// NewSetFlag builds a flag-toggle record for the given item.
func NewSetFlag(itemID, flag string, old, new bool) *SetFlag {
	return &SetFlag{base: newBase(itemID), Flag: flag, Old: old, New: new}
}

func (c *SetFlag) Kind() Kind { return KindSetFlag }

func (c *SetFlag) Apply(s *domain.Scene) error {
	return c.set(s, c.New)
}

func (c *SetFlag) Revert(s *domain.Scene) error {
	return c.set(s, c.Old)
}

func (c *SetFlag) set(s *domain.Scene, value bool) error {
	item, err := sceneItem(s, c.Subject, KindSetFlag)
	if err != nil {
		return err
	}
	if err := item.SetFlag(c.Flag, value); err != nil {
		return fmt.Errorf("failed to apply %s: %w", KindSetFlag, err)
	}
	return nil
}
