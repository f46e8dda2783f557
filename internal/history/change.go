// Package history implements the undo/redo engine for scene documents: a
// closed set of self-inverting change records and the cursor-based stack
// that replays them.
package history

import (
	"time"

	"github.com/rpattn/easel/internal/domain"
)

// Kind identifies a change-record variant on the wire.
type Kind string

const (
	KindAddItem        Kind = "add_item"
	KindDeleteItem     Kind = "delete_item"
	KindTransformItem  Kind = "transform_item"
	KindTransformItems Kind = "transform_items"
	KindSetText        Kind = "set_text"
	KindSetPrompt      Kind = "set_prompt"
	KindSetModel       Kind = "set_model"
	KindSetName        Kind = "set_name"
	KindSetFlag        Kind = "set_flag"
	KindSetSelection   Kind = "set_selection"
	KindComposite      Kind = "composite"
)

// Change is one edit to a scene, carrying enough before/after data to be
// self-inverting: for any scene the record matches, Revert(Apply(s)) == s.
//
// The set of implementations is closed. Decoding dispatches on Kind, every
// variant lives in this package, and the unexported marker keeps outside
// packages from adding variants the codec cannot round-trip.
type Change interface {
	Kind() Kind
	// SubjectID is the target item id, or "" for records not scoped to a
	// single item (selection, batches, composites).
	SubjectID() string
	// Timestamp is unix milliseconds at record creation.
	Timestamp() int64
	Apply(s *domain.Scene) error
	Revert(s *domain.Scene) error

	isChange()
}

// Compile-time check that every variant satisfies Change.
var (
	_ Change = (*AddItem)(nil)
	_ Change = (*DeleteItem)(nil)
	_ Change = (*TransformItem)(nil)
	_ Change = (*TransformItems)(nil)
	_ Change = (*SetText)(nil)
	_ Change = (*SetPrompt)(nil)
	_ Change = (*SetModel)(nil)
	_ Change = (*SetName)(nil)
	_ Change = (*SetFlag)(nil)
	_ Change = (*SetSelection)(nil)
	_ Change = (*Composite)(nil)
)

// base carries the envelope fields shared by every record. The json tags
// keep them out of variant payloads; the codec reads and writes them on the
// record envelope instead.
type base struct {
	Subject string `json:"-"`
	At      int64  `json:"-"`
}

func newBase(subject string) base {
	return base{Subject: subject, At: time.Now().UnixMilli()}
}

func (b base) SubjectID() string { return b.Subject }
func (b base) Timestamp() int64  { return b.At }
func (b base) isChange()         {}
