package history

import (
	"encoding/json"
	"fmt"

	"github.com/rpattn/easel/internal/domain"
)

// wireRecord is the envelope every record serializes to: the discriminant
// plus the shared fields, with the variant payload nested under data.
type wireRecord struct {
	Kind      Kind            `json:"kind"`
	SubjectID string          `json:"subjectId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// wireStack is the persisted history blob: the records up to the cursor and
// the cursor itself.
type wireStack struct {
	Records      []wireRecord `json:"records"`
	CurrentIndex int          `json:"currentIndex"`
}

// DecodeError reports malformed or unrecognized history input. It is a hard
// failure: a blob that fails to decode must be discarded whole, because a
// partially reconstructed history cannot be trusted to replay safely.
type DecodeError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("history decode failed (%s): %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("history decode failed: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrf(kind Kind, err error, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// MarshalRecord serializes one record to its wire envelope.
func MarshalRecord(c Change) ([]byte, error) {
	w, err := encodeRecord(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalRecord parses one wire envelope into a record. Unknown kinds and
// structurally invalid payloads return a *DecodeError.
func UnmarshalRecord(raw []byte) (Change, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, decodeErrf("", err, "malformed record envelope: %v", err)
	}
	return decodeRecord(w)
}

func encodeRecord(c Change) (wireRecord, error) {
	var (
		data []byte
		err  error
	)

	switch v := c.(type) {
	case *Composite:
		children := make([]wireRecord, len(v.Children))
		for i, child := range v.Children {
			children[i], err = encodeRecord(child)
			if err != nil {
				return wireRecord{}, err
			}
		}
		data, err = json.Marshal(struct {
			Children []wireRecord `json:"children"`
		}{children})
	default:
		// base fields are tagged out, so marshaling the variant yields
		// exactly the data payload.
		data, err = json.Marshal(c)
	}
	if err != nil {
		return wireRecord{}, fmt.Errorf("failed to encode %s record: %w", c.Kind(), err)
	}

	return wireRecord{
		Kind:      c.Kind(),
		SubjectID: c.SubjectID(),
		Timestamp: c.Timestamp(),
		Data:      data,
	}, nil
}

func decodeRecord(w wireRecord) (Change, error) {
	b := base{Subject: w.SubjectID, At: w.Timestamp}

	switch w.Kind {
	case KindAddItem:
		var c AddItem
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if err := c.Item.Validate(); err != nil {
			return nil, decodeErrf(w.Kind, err, "invalid item snapshot: %v", err)
		}
		if w.SubjectID != c.Item.ID {
			return nil, decodeErrf(w.Kind, nil, "subject %q does not match item %q", w.SubjectID, c.Item.ID)
		}
		c.base = b
		return &c, nil

	case KindDeleteItem:
		var c DeleteItem
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if err := c.Item.Validate(); err != nil {
			return nil, decodeErrf(w.Kind, err, "invalid item snapshot: %v", err)
		}
		if w.SubjectID != c.Item.ID {
			return nil, decodeErrf(w.Kind, nil, "subject %q does not match item %q", w.SubjectID, c.Item.ID)
		}
		if c.Index < 0 {
			return nil, decodeErrf(w.Kind, nil, "negative item index %d", c.Index)
		}
		c.base = b
		return &c, nil

	case KindTransformItem:
		var c TransformItem
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if w.SubjectID == "" {
			return nil, decodeErrf(w.Kind, nil, "missing subject item id")
		}
		if c.Old.IsZero() && c.New.IsZero() {
			return nil, decodeErrf(w.Kind, nil, "empty transform for %q", w.SubjectID)
		}
		c.base = b
		return &c, nil

	case KindTransformItems:
		var c TransformItems
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if len(c.Entries) == 0 {
			return nil, decodeErrf(w.Kind, nil, "batch transform without entries")
		}
		seen := make(map[string]struct{}, len(c.Entries))
		for _, entry := range c.Entries {
			if entry.ItemID == "" {
				return nil, decodeErrf(w.Kind, nil, "batch entry missing item id")
			}
			if _, dup := seen[entry.ItemID]; dup {
				return nil, decodeErrf(w.Kind, nil, "duplicate batch entry for %q", entry.ItemID)
			}
			seen[entry.ItemID] = struct{}{}
		}
		c.base = b
		return &c, nil

	case KindSetText:
		var c SetText
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if w.SubjectID == "" {
			return nil, decodeErrf(w.Kind, nil, "missing subject item id")
		}
		c.base = b
		return &c, nil

	case KindSetPrompt:
		var c SetPrompt
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if w.SubjectID == "" {
			return nil, decodeErrf(w.Kind, nil, "missing subject item id")
		}
		c.base = b
		return &c, nil

	case KindSetModel:
		var c SetModel
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if w.SubjectID == "" {
			return nil, decodeErrf(w.Kind, nil, "missing subject item id")
		}
		c.base = b
		return &c, nil

	case KindSetName:
		var c SetName
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if w.SubjectID == "" {
			return nil, decodeErrf(w.Kind, nil, "missing subject item id")
		}
		c.base = b
		return &c, nil

	case KindSetFlag:
		var c SetFlag
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if w.SubjectID == "" {
			return nil, decodeErrf(w.Kind, nil, "missing subject item id")
		}
		if c.Flag != domain.FlagLocked && c.Flag != domain.FlagHidden {
			return nil, decodeErrf(w.Kind, nil, "unknown flag %q", c.Flag)
		}
		c.base = b
		return &c, nil

	case KindSetSelection:
		var c SetSelection
		if err := json.Unmarshal(w.Data, &c); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		if c.Old == nil {
			c.Old = []string{}
		}
		if c.New == nil {
			c.New = []string{}
		}
		c.base = b
		return &c, nil

	case KindComposite:
		var payload struct {
			Children []wireRecord `json:"children"`
		}
		if err := json.Unmarshal(w.Data, &payload); err != nil {
			return nil, decodeErrf(w.Kind, err, "malformed payload: %v", err)
		}
		children := make([]Change, len(payload.Children))
		for i, childWire := range payload.Children {
			child, err := decodeRecord(childWire)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return &Composite{base: b, Children: children}, nil

	default:
		return nil, decodeErrf(w.Kind, nil, "unknown record kind")
	}
}
