package domain

import (
	"fmt"
	"math"
)

// Item kinds supported by the canvas.
const (
	ItemKindText   = "text"
	ItemKindImage  = "image"
	ItemKindPrompt = "prompt"
	ItemKindShape  = "shape"
)

// Boolean flags toggleable on an item.
const (
	FlagLocked = "locked"
	FlagHidden = "hidden"
)

// KnownItemKinds lists every kind the service accepts on ingest.
var KnownItemKinds = []string{ItemKindText, ItemKindImage, ItemKindPrompt, ItemKindShape}

// Item is a single object placed on a scene canvas.
type Item struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Rotation    float64 `json:"rotation"`
	Scale       float64 `json:"scale"`
	Text        string  `json:"text,omitempty"`
	PromptLabel string  `json:"promptLabel,omitempty"`
	PromptBody  string  `json:"promptBody,omitempty"`
	Model       string  `json:"model,omitempty"`
	DisplayName string  `json:"displayName,omitempty"`
	Locked      bool    `json:"locked,omitempty"`
	Hidden      bool    `json:"hidden,omitempty"`
}

// NewItem creates an item at the given position with sane placement defaults.
func NewItem(id, kind string, x, y float64) Item {
	return Item{
		ID:    id,
		Kind:  kind,
		X:     x,
		Y:     y,
		Width: 100, Height: 100,
		Scale: 1,
	}
}

// Flag returns the named boolean flag.
func (i Item) Flag(name string) (bool, error) {
	switch name {
	case FlagLocked:
		return i.Locked, nil
	case FlagHidden:
		return i.Hidden, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
	}
}

// SetFlag sets the named boolean flag.
func (i *Item) SetFlag(name string, value bool) error {
	switch name {
	case FlagLocked:
		i.Locked = value
	case FlagHidden:
		i.Hidden = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, name)
	}
	return nil
}

// IsKnownKind reports whether kind is one of the kinds the service accepts.
func IsKnownKind(kind string) bool {
	for _, k := range KnownItemKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate checks structural soundness of a single item.
func (i Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("item has empty id")
	}
	if !IsKnownKind(i.Kind) {
		return fmt.Errorf("item %q has unknown kind %q", i.ID, i.Kind)
	}
	for name, v := range map[string]float64{
		"x": i.X, "y": i.Y,
		"width": i.Width, "height": i.Height,
		"rotation": i.Rotation, "scale": i.Scale,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("item %q has non-finite %s", i.ID, name)
		}
	}
	return nil
}

// PlacementPatch is a partial update of an item's geometry. Only fields
// present (non-nil) are touched when the patch is applied; a transform
// record carries one patch for the new values and one capturing the old.
type PlacementPatch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
}

// IsZero reports whether the patch touches no fields.
func (p PlacementPatch) IsZero() bool {
	return p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil &&
		p.Rotation == nil && p.Scale == nil
}

// ApplyTo writes the patch's present fields onto the item.
func (p PlacementPatch) ApplyTo(item *Item) {
	if p.X != nil {
		item.X = *p.X
	}
	if p.Y != nil {
		item.Y = *p.Y
	}
	if p.Width != nil {
		item.Width = *p.Width
	}
	if p.Height != nil {
		item.Height = *p.Height
	}
	if p.Rotation != nil {
		item.Rotation = *p.Rotation
	}
	if p.Scale != nil {
		item.Scale = *p.Scale
	}
}

// CapturePlacement reads the item's current values for exactly the fields
// that mask touches, producing the inverse patch for a transform.
func CapturePlacement(item Item, mask PlacementPatch) PlacementPatch {
	var out PlacementPatch
	if mask.X != nil {
		v := item.X
		out.X = &v
	}
	if mask.Y != nil {
		v := item.Y
		out.Y = &v
	}
	if mask.Width != nil {
		v := item.Width
		out.Width = &v
	}
	if mask.Height != nil {
		v := item.Height
		out.Height = &v
	}
	if mask.Rotation != nil {
		v := item.Rotation
		out.Rotation = &v
	}
	if mask.Scale != nil {
		v := item.Scale
		out.Scale = &v
	}
	return out
}

// Float returns a pointer to v, for building placement patches inline.
func Float(v float64) *float64 {
	return &v
}
