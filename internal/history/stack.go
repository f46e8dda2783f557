package history

import (
	"encoding/json"
	"fmt"

	"github.com/rpattn/easel/internal/domain"
)

// DefaultCapacity bounds how many records a stack retains before evicting
// the oldest.
const DefaultCapacity = 100

// Stack is the undo/redo history for one scene. records[0..cursor] is the
// undo past; records[cursor+1..] is the redo future. There is no separate
// redo stack: the cursor position alone decides what undo and redo do next.
type Stack struct {
	records  []Change
	cursor   int
	capacity int
}

// NewStack creates an empty stack. capacity <= 0 selects DefaultCapacity.
func NewStack(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stack{records: []Change{}, cursor: -1, capacity: capacity}
}

// Push appends a record that has already been applied to the scene. Any
// redo future past the cursor is discarded first: an edit after undo
// forks history, it does not splice into it. When the stack exceeds its
// capacity the oldest record is evicted and the cursor shifts with it,
// never below -1.
func (st *Stack) Push(c Change) {
	st.records = append(st.records[:st.cursor+1], c)
	st.cursor++

	if overflow := len(st.records) - st.capacity; overflow > 0 {
		st.records = append([]Change{}, st.records[overflow:]...)
		st.cursor -= overflow
		if st.cursor < -1 {
			st.cursor = -1
		}
	}
}

// Undo reverts the record at the cursor against the scene and steps the
// cursor back. With nothing to undo it returns (nil, nil).
func (st *Stack) Undo(s *domain.Scene) (Change, error) {
	if st.cursor < 0 {
		return nil, nil
	}
	c := st.records[st.cursor]
	if err := c.Revert(s); err != nil {
		return nil, err
	}
	st.cursor--
	return c, nil
}

// Redo re-applies the record after the cursor against the scene and steps
// the cursor forward. With no redo future it returns (nil, nil).
func (st *Stack) Redo(s *domain.Scene) (Change, error) {
	if st.cursor >= len(st.records)-1 {
		return nil, nil
	}
	c := st.records[st.cursor+1]
	if err := c.Apply(s); err != nil {
		return nil, err
	}
	st.cursor++
	return c, nil
}

// CanUndo reports whether a record is available behind the cursor.
func (st *Stack) CanUndo() bool { return st.cursor >= 0 }

// CanRedo reports whether a record is available past the cursor.
func (st *Stack) CanRedo() bool { return st.cursor < len(st.records)-1 }

// Len returns the total number of retained records, redo future included.
func (st *Stack) Len() int { return len(st.records) }

// Cursor returns the index of the last applied record, -1 when none.
func (st *Stack) Cursor() int { return st.cursor }

// Capacity returns the retention bound.
func (st *Stack) Capacity() int { return st.capacity }

// Records returns a copy of all retained records in order.
func (st *Stack) Records() []Change {
	out := make([]Change, len(st.records))
	copy(out, st.records)
	return out
}

// Serialize emits the persistence form of the stack: the records up to and
// including the cursor, plus the cursor. The redo future is deliberately
// excluded; a reloaded session starts with nothing to redo.
func (st *Stack) Serialize() ([]byte, error) {
	return st.serialize(st.records[:st.cursor+1])
}

// SerializeFull emits every retained record including the redo future. For
// diagnostics only: this form must never reach the persistence path.
func (st *Stack) SerializeFull() ([]byte, error) {
	return st.serialize(st.records)
}

func (st *Stack) serialize(records []Change) ([]byte, error) {
	wire := wireStack{Records: make([]wireRecord, len(records)), CurrentIndex: st.cursor}
	for i, c := range records {
		w, err := encodeRecord(c)
		if err != nil {
			return nil, err
		}
		wire.Records[i] = w
	}
	return json.Marshal(wire)
}

// Clone returns an independent copy of the stack. Records are immutable
// once pushed, so sharing them is safe; the backing slice and cursor are
// the clone's own.
func (st *Stack) Clone() *Stack {
	return &Stack{
		records:  append([]Change{}, st.records...),
		cursor:   st.cursor,
		capacity: st.capacity,
	}
}

// DeserializeStack reconstructs a stack from its persisted form. The
// declared currentIndex is validated against the actual record count; a
// blob whose cursor points outside its own records is rejected whole with
// a *DecodeError, as is any record that fails to decode. A blob holding
// more records than capacity is trimmed from the front, cursor adjusted.
func DeserializeStack(raw []byte, capacity int) (*Stack, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	var wire wireStack
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, decodeErrf("", err, "malformed history blob: %v", err)
	}

	if wire.CurrentIndex < -1 || wire.CurrentIndex > len(wire.Records)-1 {
		return nil, decodeErrf("", nil, "currentIndex %d out of range for %d records", wire.CurrentIndex, len(wire.Records))
	}

	records := make([]Change, len(wire.Records))
	for i, w := range wire.Records {
		c, err := decodeRecord(w)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records[i] = c
	}

	st := &Stack{records: records, cursor: wire.CurrentIndex, capacity: capacity}
	if overflow := len(st.records) - capacity; overflow > 0 {
		st.records = append([]Change{}, st.records[overflow:]...)
		st.cursor -= overflow
		if st.cursor < -1 {
			st.cursor = -1
		}
	}
	return st, nil
}
