package history_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/easel/internal/domain"
	"github.com/rpattn/easel/internal/history"
)

func TestRecordRoundTrip(t *testing.T) {
	item := domain.NewItem("round", domain.ItemKindPrompt, 12, 34)
	item.PromptLabel = "voice"
	item.PromptBody = "neutral"

	cases := []struct {
		name   string
		record history.Change
	}{
		{"add", history.NewAddItem(item)},
		{"delete", history.NewDeleteItem(item, 2)},
		{"transform", history.NewTransformItem("round",
			domain.PlacementPatch{X: domain.Float(12)},
			domain.PlacementPatch{X: domain.Float(70)})},
		{"batch", history.NewTransformItems([]history.TransformEntry{
			{ItemID: "a", Old: domain.PlacementPatch{Y: domain.Float(1)}, New: domain.PlacementPatch{Y: domain.Float(2)}},
			{ItemID: "b", Old: domain.PlacementPatch{Scale: domain.Float(1)}, New: domain.PlacementPatch{Scale: domain.Float(2)}},
		})},
		{"text", history.NewSetText("round", "before", "after")},
		{"prompt", history.NewSetPrompt("round", "voice", "style", "neutral", "direct")},
		{"model", history.NewSetModel("round", "fast", "quality")},
		{"name", history.NewSetName("round", "Old", "New")},
		{"flag", history.NewSetFlag("round", domain.FlagLocked, false, true)},
		{"selection", history.NewSetSelection([]string{"a"}, []string{"b", "c"})},
		{"composite", history.NewComposite(
			history.NewAddItem(item),
			history.NewSetText("round", "", "inner"),
		)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := history.MarshalRecord(tc.record)
			require.NoError(t, err)

			decoded, err := history.UnmarshalRecord(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.record, decoded)
		})
	}
}

func TestSelectionWireFieldNames(t *testing.T) {
	raw, err := history.MarshalRecord(history.NewSetSelection([]string{"x"}, []string{"y"}))
	require.NoError(t, err)

	var wire struct {
		Kind      string `json:"kind"`
		SubjectID string `json:"subjectId"`
		Timestamp int64  `json:"timestamp"`
		Data      struct {
			Old []string `json:"oldSelectedIds"`
			New []string `json:"newSelectedIds"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))

	assert.Equal(t, "set_selection", wire.Kind)
	assert.Empty(t, wire.SubjectID, "selection records are not item-scoped")
	assert.NotZero(t, wire.Timestamp)
	assert.Equal(t, []string{"x"}, wire.Data.Old)
	assert.Equal(t, []string{"y"}, wire.Data.New)
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	_, err := history.UnmarshalRecord([]byte(`{"kind":"repaint_scene","subjectId":"x","timestamp":1,"data":{}}`))
	require.Error(t, err)

	var decodeErr *history.DecodeError
	require.True(t, errors.As(err, &decodeErr), "unknown kind must surface as DecodeError, got %T", err)
	assert.Equal(t, history.Kind("repaint_scene"), decodeErr.Kind)
}

func TestUnmarshalValidatesPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"subject mismatch on add", `{"kind":"add_item","subjectId":"other","timestamp":1,"data":{"item":{"id":"a","kind":"text","x":0,"y":0,"width":1,"height":1,"rotation":0,"scale":1}}}`},
		{"invalid item kind", `{"kind":"add_item","subjectId":"a","timestamp":1,"data":{"item":{"id":"a","kind":"wormhole","x":0,"y":0,"width":1,"height":1,"rotation":0,"scale":1}}}`},
		{"negative delete index", `{"kind":"delete_item","subjectId":"a","timestamp":1,"data":{"item":{"id":"a","kind":"text","x":0,"y":0,"width":1,"height":1,"rotation":0,"scale":1},"index":-2}}`},
		{"empty transform", `{"kind":"transform_item","subjectId":"a","timestamp":1,"data":{"old":{},"new":{}}}`},
		{"transform without subject", `{"kind":"transform_item","subjectId":"","timestamp":1,"data":{"old":{},"new":{"x":1}}}`},
		{"batch without entries", `{"kind":"transform_items","subjectId":"","timestamp":1,"data":{"entries":[]}}`},
		{"batch duplicate target", `{"kind":"transform_items","subjectId":"","timestamp":1,"data":{"entries":[{"itemId":"a","old":{},"new":{"x":1}},{"itemId":"a","old":{},"new":{"x":2}}]}}`},
		{"unknown flag", `{"kind":"set_flag","subjectId":"a","timestamp":1,"data":{"flag":"iridescent","old":false,"new":true}}`},
		{"text without subject", `{"kind":"set_text","subjectId":"","timestamp":1,"data":{"old":"a","new":"b"}}`},
		{"garbage envelope", `{"kind":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := history.UnmarshalRecord([]byte(tc.raw))
			require.Error(t, err)
			var decodeErr *history.DecodeError
			assert.True(t, errors.As(err, &decodeErr), "want DecodeError, got %T: %v", err, err)
		})
	}
}

func TestCompositeDecodeFailsOnBadChild(t *testing.T) {
	blob := `{"kind":"composite","subjectId":"","timestamp":1,"data":{"children":[
		{"kind":"set_text","subjectId":"a","timestamp":1,"data":{"old":"x","new":"y"}},
		{"kind":"unheard_of","subjectId":"","timestamp":1,"data":{}}
	]}}`

	_, err := history.UnmarshalRecord([]byte(blob))
	require.Error(t, err)
	var decodeErr *history.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, history.Kind("unheard_of"), decodeErr.Kind)
}

func TestDeserializeValidatesCurrentIndex(t *testing.T) {
	record := `{"kind":"set_text","subjectId":"a","timestamp":1,"data":{"old":"x","new":"y"}}`

	cases := []struct {
		name string
		blob string
	}{
		{"cursor past end", `{"records":[` + record + `],"currentIndex":1}`},
		{"cursor far past end", `{"records":[],"currentIndex":5}`},
		{"cursor below -1", `{"records":[` + record + `],"currentIndex":-2}`},
		{"malformed blob", `{"records":[}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := history.DeserializeStack([]byte(tc.blob), 0)
			require.Error(t, err)
			var decodeErr *history.DecodeError
			assert.True(t, errors.As(err, &decodeErr), "want DecodeError, got %T: %v", err, err)
		})
	}

	t.Run("cursor at -1 with empty records is valid", func(t *testing.T) {
		st, err := history.DeserializeStack([]byte(`{"records":[],"currentIndex":-1}`), 0)
		require.NoError(t, err)
		assert.Equal(t, -1, st.Cursor())
		assert.Equal(t, 0, st.Len())
	})
}

func TestDeserializeTrimsBlobsOverCapacity(t *testing.T) {
	record := func(new string) string {
		return `{"kind":"set_name","subjectId":"a","timestamp":1,"data":{"old":"o","new":"` + new + `"}}`
	}
	blob := `{"records":[` + record("r0") + `,` + record("r1") + `,` + record("r2") + `,` + record("r3") + `,` + record("r4") + `],"currentIndex":1}`

	st, err := history.DeserializeStack([]byte(blob), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Len())
	assert.Equal(t, -1, st.Cursor(), "cursor clamps at -1 when the trimmed window passes it")

	first, ok := st.Records()[0].(*history.SetName)
	require.True(t, ok)
	assert.Equal(t, "r2", first.New)
}
