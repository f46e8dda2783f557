package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/easel/internal/api"
	"github.com/rpattn/easel/internal/domain"
	"github.com/rpattn/easel/internal/history"
	"github.com/rpattn/easel/internal/middleware"
	"github.com/rpattn/easel/internal/session"
	"github.com/rpattn/easel/internal/storage"
)

type testAPI struct {
	manager *session.Manager
	collab  storage.Collaborator
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	collab := storage.NewMemoryCollaborator()
	manager := session.NewManager(collab,
		session.WithSceneSaveDelay(15*time.Millisecond),
		session.WithHistorySaveDelay(30*time.Millisecond),
		session.WithPollInterval(0),
	)
	t.Cleanup(manager.Close)
	handler := middleware.DataLoaderMiddleware(collab)(api.NewHTTPHandler(manager, collab))
	return &testAPI{manager: manager, collab: collab, handler: handler}
}

func (ta *testAPI) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func (ta *testAPI) createScene(t *testing.T, name string) session.Status {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/scenes", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var status session.Status
	decodeInto(t, rec, &status)
	return status
}

func (ta *testAPI) applyRecord(t *testing.T, id uuid.UUID, change history.Change) session.Status {
	t.Helper()
	raw, err := history.MarshalRecord(change)
	require.NoError(t, err)
	rec := ta.do(t, http.MethodPost, "/scenes/"+id.String()+"/changes", raw)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status session.Status
	decodeInto(t, rec, &status)
	return status
}

func TestCreateAndFetchScene(t *testing.T) {
	ta := newTestAPI(t)

	status := ta.createScene(t, "Storyboard")
	assert.Equal(t, "Storyboard", status.Name)
	assert.True(t, status.Active)
	assert.Equal(t, session.StateUnsaved, status.State)
	assert.False(t, status.PersistedOnce)

	rec := ta.do(t, http.MethodGet, "/scenes/"+status.SceneID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		ID     uuid.UUID       `json:"id"`
		Name   string          `json:"name"`
		Items  []domain.Item   `json:"items"`
		Status *session.Status `json:"status"`
	}
	decodeInto(t, rec, &doc)
	assert.Equal(t, status.SceneID, doc.ID)
	assert.Equal(t, "Storyboard", doc.Name)
	assert.Empty(t, doc.Items)
	require.NotNil(t, doc.Status)
	assert.True(t, doc.Status.Active)
}

func TestCreateSceneRequiresName(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/scenes", map[string]string{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPost, "/scenes", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyChangeRoundTrip(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Canvas")

	status := ta.applyRecord(t, created.SceneID, history.NewAddItem(domain.NewItem("n1", domain.ItemKindText, 10, 20)))
	assert.True(t, status.CanUndo)
	assert.Equal(t, 1, status.HistoryLen)

	rec := ta.do(t, http.MethodGet, "/scenes/"+created.SceneID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Items []domain.Item `json:"items"`
	}
	decodeInto(t, rec, &doc)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "n1", doc.Items[0].ID)
	assert.Equal(t, 10.0, doc.Items[0].X)
}

func TestApplyChangeRejectsBadRecords(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Canvas")
	target := "/scenes/" + created.SceneID.String() + "/changes"

	rec := ta.do(t, http.MethodPost, target, []byte(`{"kind":"warp_item","subjectId":"n1","timestamp":0,"data":{}}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid change record")

	rec = ta.do(t, http.MethodPost, target, []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Structurally valid record against a missing target item.
	raw, err := history.MarshalRecord(history.NewSetText("ghost", "a", "b"))
	require.NoError(t, err)
	rec = ta.do(t, http.MethodPost, target, raw)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyChangeOnUnopenedScene(t *testing.T) {
	ta := newTestAPI(t)

	raw, err := history.MarshalRecord(history.NewAddItem(domain.NewItem("n1", domain.ItemKindText, 0, 0)))
	require.NoError(t, err)
	rec := ta.do(t, http.MethodPost, "/scenes/"+uuid.NewString()+"/changes", raw)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUndoRedoEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Canvas")
	id := created.SceneID.String()
	ta.applyRecord(t, created.SceneID, history.NewAddItem(domain.NewItem("n1", domain.ItemKindShape, 0, 0)))

	rec := ta.do(t, http.MethodPost, "/scenes/"+id+"/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var step struct {
		Applied bool            `json:"applied"`
		Record  json.RawMessage `json:"record"`
		Status  session.Status  `json:"status"`
	}
	decodeInto(t, rec, &step)
	assert.True(t, step.Applied)
	assert.False(t, step.Status.CanUndo)
	assert.True(t, step.Status.CanRedo)
	var envelope struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(step.Record, &envelope))
	assert.Equal(t, "add_item", envelope.Kind)

	scene, err := ta.manager.Scene(created.SceneID)
	require.NoError(t, err)
	assert.Empty(t, scene.Items)

	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/redo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &step)
	assert.True(t, step.Applied)
	scene, err = ta.manager.Scene(created.SceneID)
	require.NoError(t, err)
	assert.Len(t, scene.Items, 1)

	// Past the end of the future: a quiet no-op, not an error.
	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/redo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	step.Applied, step.Record, step.Status = false, nil, session.Status{}
	decodeInto(t, rec, &step)
	assert.False(t, step.Applied)
	assert.Empty(t, step.Record)
}

func TestSaveEndpointPersists(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Canvas")

	rec := ta.do(t, http.MethodPost, "/scenes/"+created.SceneID.String()+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status session.Status
	decodeInto(t, rec, &status)
	assert.Equal(t, session.StateSaved, status.State)
	assert.True(t, status.PersistedOnce)

	_, _, ok, err := ta.collab.FetchScene(context.Background(), created.SceneID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHistoryEndpointCompactAndFull(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Canvas")
	id := created.SceneID.String()
	ta.applyRecord(t, created.SceneID, history.NewAddItem(domain.NewItem("n1", domain.ItemKindText, 0, 0)))
	ta.applyRecord(t, created.SceneID, history.NewSetText("n1", "", "hello"))
	rec := ta.do(t, http.MethodPost, "/scenes/"+id+"/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodGet, "/scenes/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var blob struct {
		Records      []json.RawMessage `json:"records"`
		CurrentIndex int               `json:"currentIndex"`
	}
	decodeInto(t, rec, &blob)
	assert.Len(t, blob.Records, 1)
	assert.Equal(t, 0, blob.CurrentIndex)

	rec = ta.do(t, http.MethodGet, "/scenes/"+id+"/history?full=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &blob)
	assert.Len(t, blob.Records, 2)
	assert.Equal(t, 0, blob.CurrentIndex)
}

func TestListScenesExpandsPayloads(t *testing.T) {
	ta := newTestAPI(t)
	first := ta.createScene(t, "First")
	second := ta.createScene(t, "Second")
	for _, id := range []uuid.UUID{first.SceneID, second.SceneID} {
		rec := ta.do(t, http.MethodPost, "/scenes/"+id.String()+"/save", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ta.do(t, http.MethodGet, "/scenes?expand=payload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Scenes []struct {
			ID      uuid.UUID            `json:"id"`
			Name    string               `json:"name"`
			Open    bool                 `json:"open"`
			Payload *domain.ScenePayload `json:"payload"`
		} `json:"scenes"`
	}
	decodeInto(t, rec, &resp)
	require.Len(t, resp.Scenes, 2)
	names := map[string]bool{}
	for _, entry := range resp.Scenes {
		assert.True(t, entry.Open)
		require.NotNil(t, entry.Payload)
		assert.Equal(t, entry.Name, entry.Payload.Name)
		names[entry.Name] = true
	}
	assert.True(t, names["First"] && names["Second"])
}

func TestDeleteSceneRemovesEverything(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Doomed")
	id := created.SceneID.String()
	rec := ta.do(t, http.MethodPost, "/scenes/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodDelete, "/scenes/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ta.do(t, http.MethodGet, "/scenes/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(t, http.MethodGet, "/scenes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Scenes []json.RawMessage `json:"scenes"`
	}
	decodeInto(t, rec, &resp)
	assert.Empty(t, resp.Scenes)
}

func TestOpenCloseLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Reopenable")
	id := created.SceneID.String()
	rec := ta.do(t, http.MethodPost, "/scenes/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/close", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Closed scenes still read from storage, without session status.
	rec = ta.do(t, http.MethodGet, "/scenes/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Name   string          `json:"name"`
		Status *session.Status `json:"status"`
	}
	decodeInto(t, rec, &doc)
	assert.Equal(t, "Reopenable", doc.Name)
	assert.Nil(t, doc.Status)

	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status session.Status
	decodeInto(t, rec, &status)
	assert.Equal(t, session.StateSaved, status.State)
	assert.True(t, status.PersistedOnce)

	// Opening again is idempotent.
	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/open", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenSceneMissingFromStorage(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/scenes/"+uuid.NewString()+"/open", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConflictSurfaceAndClear(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Shared")
	id := created.SceneID.String()
	rec := ta.do(t, http.MethodPost, "/scenes/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Someone else overwrites the stored scene behind the session's back.
	_, err := ta.collab.PersistScene(context.Background(), created.SceneID,
		[]byte(`{"name":"Shared (edited elsewhere)","items":[],"selectedIds":[]}`))
	require.NoError(t, err)

	ta.applyRecord(t, created.SceneID, history.NewAddItem(domain.NewItem("n1", domain.ItemKindText, 0, 0)))
	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status session.Status
	decodeInto(t, rec, &status)
	assert.True(t, status.Conflict.Detected)
	assert.Equal(t, session.StateUnsaved, status.State)

	rec = ta.do(t, http.MethodGet, "/scenes/"+id+"/status?diff=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var withDiff struct {
		Conflict session.ConflictState `json:"conflict"`
		Diff     string                `json:"diff"`
	}
	decodeInto(t, rec, &withDiff)
	assert.True(t, withDiff.Conflict.Detected)
	assert.Contains(t, withDiff.Diff, "edited elsewhere")
	assert.Contains(t, withDiff.Diff, "n1")

	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/conflict/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &status)
	assert.False(t, status.Conflict.Detected)

	// Clearing adopted the remote token, so the save is a deliberate
	// overwrite now.
	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &status)
	assert.Equal(t, session.StateSaved, status.State)
	assert.False(t, status.Conflict.Detected)
}

func TestActivateEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	first := ta.createScene(t, "First")
	second := ta.createScene(t, "Second")
	assert.True(t, first.Active)
	assert.False(t, second.Active)

	rec := ta.do(t, http.MethodPost, "/scenes/"+second.SceneID.String()+"/activate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status session.Status
	decodeInto(t, rec, &status)
	assert.True(t, status.Active)

	got, err := ta.manager.Status(first.SceneID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	rec = ta.do(t, http.MethodPost, "/scenes/"+uuid.NewString()+"/activate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResumeEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	ta.createScene(t, "One")
	ta.createScene(t, "Two")

	rec := ta.do(t, http.MethodPost, "/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Scenes []session.Status `json:"scenes"`
	}
	decodeInto(t, rec, &resp)
	assert.Len(t, resp.Scenes, 2)
}

func TestValidateEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	created := ta.createScene(t, "Checked")
	id := created.SceneID.String()
	ta.applyRecord(t, created.SceneID, history.NewAddItem(domain.NewItem("n1", domain.ItemKindText, 0, 0)))
	ta.applyRecord(t, created.SceneID, history.NewSetSelection(nil, []string{"n1", "ghost"}))

	rec := ta.do(t, http.MethodGet, "/scenes/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		IsValid  bool `json:"is_valid"`
		Errors   []json.RawMessage
		Warnings []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"warnings"`
	}
	decodeInto(t, rec, &result)
	assert.True(t, result.IsValid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "ghost")

	// A closed scene validates from its stored payload.
	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ta.do(t, http.MethodPost, "/scenes/"+id+"/close", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ta.do(t, http.MethodGet, "/scenes/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(t, http.MethodGet, "/scenes/"+uuid.NewString()+"/validate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOnUnopenedScene(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/scenes/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidSceneIDRejected(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/scenes/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
