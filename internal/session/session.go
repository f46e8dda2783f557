// Package session is the live editing engine: it holds the working copy of
// every open scene, routes edits through the undo stack, debounces writes to
// storage, and watches remote storage for writes made by someone else.
package session

import (
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/easel/internal/domain"
	"github.com/rpattn/easel/internal/history"
	"github.com/rpattn/easel/internal/storage"
)

var (
	// ErrSceneNotOpen is returned for operations on a scene id that has no
	// live session in this manager.
	ErrSceneNotOpen = errors.New("scene is not open")

	// ErrSceneNotFound is returned by OpenScene when storage holds no scene
	// under the requested id.
	ErrSceneNotFound = errors.New("scene not found")
)

// SaveState is where a scene sits in its persistence lifecycle.
type SaveState string

const (
	// StateUnsaved means local edits exist that storage has not acknowledged.
	StateUnsaved SaveState = "unsaved"
	// StateSaving means a write is in flight.
	StateSaving SaveState = "saving"
	// StateSaved means the working copy matches the last acknowledged write.
	StateSaved SaveState = "saved"
	// StateError means the last write failed. The manager stays here until a
	// new edit or an explicit save schedules another attempt; it never
	// retries on its own.
	StateError SaveState = "error"
)

// ConflictState records a detected remote overwrite. Once set it sticks
// until ClearConflict or a scene activation resets it; the manager keeps
// editing locally and never merges.
type ConflictState struct {
	Detected    bool          `json:"detected"`
	RemoteToken storage.Token `json:"remoteToken,omitempty"`
}

// Status is a point-in-time snapshot of one open scene's session.
type Status struct {
	SceneID       uuid.UUID     `json:"sceneId"`
	Name          string        `json:"name"`
	Active        bool          `json:"active"`
	State         SaveState     `json:"state"`
	Conflict      ConflictState `json:"conflict"`
	CanUndo       bool          `json:"canUndo"`
	CanRedo       bool          `json:"canRedo"`
	HistoryLen    int           `json:"historyLen"`
	HistoryCursor int           `json:"historyCursor"`
	PersistedOnce bool          `json:"persistedOnce"`
}

// session is the in-memory working state of one open scene: the document,
// its undo stack, and the persistence bookkeeping the scheduler runs on.
type session struct {
	id    uuid.UUID
	scene domain.Scene
	stack *history.Stack

	state    SaveState
	conflict ConflictState

	// lastToken is the storage token from the most recent fetch or
	// acknowledged save; empty until the scene has touched storage.
	lastToken storage.Token

	// lastSaved holds the canonical payload bytes storage last
	// acknowledged; nil for a never-saved scene. The dirty check compares
	// the current canonical bytes against it.
	lastSaved []byte

	// lastScheduled holds the canonical bytes the pending save timer was
	// armed for, so re-observing identical content does not push the
	// deadline out.
	lastScheduled []byte

	// persistedOnce flips on the first acknowledged scene write and gates
	// history writes: a history blob must never exist for a scene storage
	// has not seen.
	persistedOnce bool

	// saving marks a scene write in flight; at most one runs per scene.
	saving bool

	// historySeq counts history mutations so a completed history write can
	// tell whether the stack moved while it was on the wire.
	historySeq   uint64
	historyDirty bool

	monitorStop func()
}

func (s *session) statusLocked(active bool) Status {
	return Status{
		SceneID:       s.id,
		Name:          s.scene.Name,
		Active:        active,
		State:         s.state,
		Conflict:      s.conflict,
		CanUndo:       s.stack.CanUndo(),
		CanRedo:       s.stack.CanRedo(),
		HistoryLen:    s.stack.Len(),
		HistoryCursor: s.stack.Cursor(),
		PersistedOnce: s.persistedOnce,
	}
}

func (s *session) markHistoryDirtyLocked() {
	s.historyDirty = true
	s.historySeq++
}
