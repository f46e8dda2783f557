package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/easel/internal/domain"
	"github.com/rpattn/easel/internal/history"
	"github.com/rpattn/easel/internal/storage"
)

// Default scheduling parameters. The scene window is shorter than the
// history window because scene content is what another session would fetch;
// history is lower-priority convenience state.
const (
	DefaultSceneSaveDelay   = 1 * time.Second
	DefaultHistorySaveDelay = 2 * time.Second
	DefaultPollInterval     = 30 * time.Second

	writeTimeout = 15 * time.Second
	checkTimeout = 5 * time.Second
)

// Manager owns every open scene session. It applies edits through the undo
// stack, debounces writes to the storage collaborator, and runs the remote
// change monitor for scenes on remote storage.
//
// Two open scenes are fully independent: separate timers, separate tokens,
// separate monitors. The only shared state is the session map itself.
type Manager struct {
	collab storage.Collaborator
	logger *slog.Logger

	sceneSaveDelay   time.Duration
	historySaveDelay time.Duration
	pollInterval     time.Duration
	capacity         int
	now              func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	active   uuid.UUID

	timers *debouncer

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Manager)

// WithSceneSaveDelay sets the debounce window between the last scene edit
// and the write it schedules.
func WithSceneSaveDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sceneSaveDelay = d
		}
	}
}

// WithHistorySaveDelay sets the debounce window for history writes.
func WithHistorySaveDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.historySaveDelay = d
		}
	}
}

// WithPollInterval sets the remote check cadence. Zero disables periodic
// polling; activation and explicit checks still run.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.pollInterval = d
		}
	}
}

// WithHistoryCapacity bounds the undo stack of every scene opened by this
// manager.
func WithHistoryCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(collab storage.Collaborator, opts ...Option) *Manager {
	m := &Manager{
		collab:           collab,
		logger:           slog.Default().With("component", "session"),
		sceneSaveDelay:   DefaultSceneSaveDelay,
		historySaveDelay: DefaultHistorySaveDelay,
		pollInterval:     DefaultPollInterval,
		capacity:         history.DefaultCapacity,
		now:              time.Now,
		sessions:         make(map[uuid.UUID]*session),
		timers:           newDebouncer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.baseCtx = ctx
	m.stop = cancel
	return m
}

func sceneTimerKey(id uuid.UUID) string   { return "scene/" + id.String() }
func historyTimerKey(id uuid.UUID) string { return "history/" + id.String() }

// CreateScene opens a brand new empty scene in memory. Nothing touches
// storage until the first debounced save fires. When no scene is active yet
// the new one becomes active.
func (m *Manager) CreateScene(name string) Status {
	scene := domain.NewScene(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	sess := &session{
		id:    scene.ID,
		scene: scene,
		stack: history.NewStack(m.capacity),
		state: StateUnsaved,
	}
	m.sessions[scene.ID] = sess
	if m.active == uuid.Nil {
		m.active = scene.ID
	}
	m.startMonitorLocked(sess)
	m.scheduleSceneSaveLocked(sess)
	return sess.statusLocked(m.active == sess.id)
}

// OpenScene loads a scene and its history from storage into a live session.
// Opening an already-open scene returns the existing session untouched. A
// scene whose payload does not parse cannot be opened; a history blob that
// does not parse only costs the undo past, the session starts with an empty
// stack.
func (m *Manager) OpenScene(ctx context.Context, id uuid.UUID) (Status, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		st := sess.statusLocked(m.active == id)
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	blob, token, ok, err := m.collab.FetchScene(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("failed to fetch scene %s: %w", id, err)
	}
	if !ok {
		return Status{}, fmt.Errorf("failed to open scene %s: %w", id, ErrSceneNotFound)
	}
	payload, err := domain.ScenePayloadFromJSON(blob)
	if err != nil {
		return Status{}, fmt.Errorf("failed to open scene %s: %w", id, err)
	}
	scene := domain.SceneFromPayload(id, payload)
	canonical, err := scene.CanonicalPayload()
	if err != nil {
		return Status{}, fmt.Errorf("failed to open scene %s: %w", id, err)
	}

	stack := history.NewStack(m.capacity)
	if histBlob, histOK, histErr := m.collab.FetchHistory(ctx, id); histErr != nil {
		m.logger.Warn("failed to fetch scene history, starting empty", "scene", id, "error", histErr)
	} else if histOK {
		restored, decErr := history.DeserializeStack(histBlob, m.capacity)
		if decErr != nil {
			m.logger.Warn("stored scene history is unreadable, starting empty", "scene", id, "error", decErr)
		} else {
			stack = restored
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		// Lost a race with a concurrent open; keep the winner.
		return sess.statusLocked(m.active == id), nil
	}
	sess := &session{
		id:            id,
		scene:         scene,
		stack:         stack,
		state:         StateSaved,
		lastToken:     token,
		lastSaved:     canonical,
		persistedOnce: true,
	}
	m.sessions[id] = sess
	if m.active == uuid.Nil {
		m.active = id
	}
	m.startMonitorLocked(sess)
	return sess.statusLocked(m.active == id), nil
}

// Activate makes the scene the active one. The outgoing scene's pending
// saves are cancelled and its conflict state reset; the incoming scene's
// conflict state is cleared and a remote check runs before the status is
// snapshotted, so a still-present remote change is re-detected immediately.
func (m *Manager) Activate(ctx context.Context, id uuid.UUID) (Status, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Status{}, fmt.Errorf("failed to activate scene %s: %w", id, ErrSceneNotOpen)
	}
	if prev := m.active; prev != uuid.Nil && prev != id {
		if outgoing, stillOpen := m.sessions[prev]; stillOpen {
			m.timers.cancel(sceneTimerKey(prev))
			m.timers.cancel(historyTimerKey(prev))
			outgoing.lastScheduled = nil
			m.clearConflictLocked(outgoing)
		}
	}
	m.active = id
	m.clearConflictLocked(sess)
	m.mu.Unlock()

	m.checkRemote(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.statusLocked(m.active == id), nil
}

// Resume signals that the host became foreground again: every open scene
// gets an immediate remote check.
func (m *Manager) Resume(ctx context.Context) []Status {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.checkRemote(ctx, id)
	}
	return m.OpenStatuses()
}

// CloseScene drops the scene's live session. Pending saves are cancelled;
// a write already on the wire finishes against detached bookkeeping.
func (m *Manager) CloseScene(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("failed to close scene %s: %w", id, ErrSceneNotOpen)
	}
	m.timers.cancel(sceneTimerKey(id))
	m.timers.cancel(historyTimerKey(id))
	if sess.monitorStop != nil {
		sess.monitorStop()
	}
	delete(m.sessions, id)
	if m.active == id {
		m.active = uuid.Nil
	}
	return nil
}

// DeleteScene closes any live session for the scene and removes it from
// storage together with its history blob.
func (m *Manager) DeleteScene(ctx context.Context, id uuid.UUID) error {
	if err := m.CloseScene(id); err != nil && !errors.Is(err, ErrSceneNotOpen) {
		return err
	}
	if err := m.collab.DeleteScene(ctx, id); err != nil {
		return fmt.Errorf("failed to delete scene %s: %w", id, err)
	}
	return nil
}

// ListScenes enumerates scenes in storage.
func (m *Manager) ListScenes(ctx context.Context) ([]storage.SceneRef, error) {
	return m.collab.ListScenes(ctx)
}

// ApplyChange applies the change to the scene and pushes it onto the undo
// stack. The change runs against a clone first, so a failing change leaves
// both the scene and the stack untouched.
func (m *Manager) ApplyChange(id uuid.UUID, c history.Change) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return Status{}, fmt.Errorf("failed to apply change: %w", ErrSceneNotOpen)
	}
	next := sess.scene.Clone()
	if err := c.Apply(&next); err != nil {
		return sess.statusLocked(m.active == id), fmt.Errorf("failed to apply %s change: %w", c.Kind(), err)
	}
	next.UpdatedAt = m.now()
	sess.scene = next
	sess.stack.Push(c)
	sess.markHistoryDirtyLocked()
	m.scheduleSceneSaveLocked(sess)
	m.scheduleHistorySaveLocked(sess)
	return sess.statusLocked(m.active == id), nil
}

// Undo reverts the newest applied record. With nothing to undo it is a
// quiet no-op returning a nil change.
func (m *Manager) Undo(id uuid.UUID) (history.Change, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, Status{}, fmt.Errorf("failed to undo: %w", ErrSceneNotOpen)
	}
	next := sess.scene.Clone()
	c, err := sess.stack.Undo(&next)
	if err != nil {
		return nil, sess.statusLocked(m.active == id), fmt.Errorf("failed to undo: %w", err)
	}
	if c == nil {
		return nil, sess.statusLocked(m.active == id), nil
	}
	next.UpdatedAt = m.now()
	sess.scene = next
	sess.markHistoryDirtyLocked()
	m.scheduleSceneSaveLocked(sess)
	m.scheduleHistorySaveLocked(sess)
	return c, sess.statusLocked(m.active == id), nil
}

// Redo re-applies the record past the cursor. With no redo future it is a
// quiet no-op returning a nil change.
func (m *Manager) Redo(id uuid.UUID) (history.Change, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, Status{}, fmt.Errorf("failed to redo: %w", ErrSceneNotOpen)
	}
	next := sess.scene.Clone()
	c, err := sess.stack.Redo(&next)
	if err != nil {
		return nil, sess.statusLocked(m.active == id), fmt.Errorf("failed to redo: %w", err)
	}
	if c == nil {
		return nil, sess.statusLocked(m.active == id), nil
	}
	next.UpdatedAt = m.now()
	sess.scene = next
	sess.markHistoryDirtyLocked()
	m.scheduleSceneSaveLocked(sess)
	m.scheduleHistorySaveLocked(sess)
	return c, sess.statusLocked(m.active == id), nil
}

// Status returns a snapshot of the scene's session.
func (m *Manager) Status(id uuid.UUID) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return Status{}, fmt.Errorf("failed to read scene status: %w", ErrSceneNotOpen)
	}
	return sess.statusLocked(m.active == id), nil
}

// Scene returns an independent copy of the scene's working state.
func (m *Manager) Scene(id uuid.UUID) (domain.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return domain.Scene{}, fmt.Errorf("failed to read scene: %w", ErrSceneNotOpen)
	}
	return sess.scene.Clone(), nil
}

// OpenStatuses lists a snapshot for every open scene, ordered by id.
func (m *Manager) OpenStatuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.statusLocked(m.active == sess.id))
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].SceneID[:], out[j].SceneID[:]) < 0
	})
	return out
}

// ActiveScene returns the id of the active scene, uuid.Nil when none.
func (m *Manager) ActiveScene() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SerializeHistory emits the scene's history in wire form. full includes
// the redo future and is for diagnostics only; it must never be persisted.
func (m *Manager) SerializeHistory(id uuid.UUID, full bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("failed to serialize history: %w", ErrSceneNotOpen)
	}
	if full {
		return sess.stack.SerializeFull()
	}
	return sess.stack.Serialize()
}

// ConflictDiff renders a line diff between the local working copy and the
// scene currently in storage. An absent remote record diffs as empty.
func (m *Manager) ConflictDiff(ctx context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("failed to diff scene %s: %w", id, ErrSceneNotOpen)
	}
	local := domain.NewSceneSnapshot(sess.scene)
	m.mu.Unlock()

	blob, _, present, err := m.collab.FetchScene(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to fetch remote scene %s: %w", id, err)
	}
	if !present {
		return "", nil
	}
	payload, err := domain.ScenePayloadFromJSON(blob)
	if err != nil {
		return "", fmt.Errorf("failed to parse remote scene %s: %w", id, err)
	}
	remote := domain.NewSceneSnapshotFromPayload(payload)
	diff, err := domain.DiffSceneSnapshots("local", &local, "remote", &remote)
	if err != nil {
		return "", fmt.Errorf("failed to diff scene %s: %w", id, err)
	}
	return diff, nil
}

// SaveNow flushes the scene synchronously, bypassing the debounce windows.
// It is also the explicit retry path out of the error state.
func (m *Manager) SaveNow(ctx context.Context, id uuid.UUID) (Status, error) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("failed to save scene %s: %w", id, ErrSceneNotOpen)
	}
	m.timers.cancel(sceneTimerKey(id))
	m.flushScene(ctx, id)
	m.timers.cancel(historyTimerKey(id))
	m.flushHistory(ctx, id)
	return m.Status(id)
}

// ClearConflict resets the scene's conflict state. The recorded remote
// token, if any, becomes the new comparison baseline, so the next save
// proceeds as a deliberate overwrite instead of tripping the gate again.
func (m *Manager) ClearConflict(id uuid.UUID) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return Status{}, fmt.Errorf("failed to clear conflict: %w", ErrSceneNotOpen)
	}
	if sess.conflict.Detected && sess.conflict.RemoteToken != "" {
		sess.lastToken = sess.conflict.RemoteToken
	}
	m.clearConflictLocked(sess)
	return sess.statusLocked(m.active == id), nil
}

// SaveAll synchronously flushes every open scene. For shutdown paths.
func (m *Manager) SaveAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.timers.cancel(sceneTimerKey(id))
		m.flushScene(ctx, id)
		m.timers.cancel(historyTimerKey(id))
		m.flushHistory(ctx, id)
	}
}

// Close stops the monitors, drops all pending timers, and aborts in-flight
// writes. It does not flush; call SaveAll first when shutdown should.
func (m *Manager) Close() {
	m.stop()
	m.timers.cancelAll()
	m.wg.Wait()
}

// scheduleSceneSaveLocked is the mutation-observed path: dirty-check the
// scene against its last acknowledged save and (re)arm the debounced write
// when the content genuinely moved. Re-observing content identical to an
// already-pending write leaves the existing deadline alone, so there is at
// most one scheduled write per scene no matter how often an unchanged scene
// is observed.
func (m *Manager) scheduleSceneSaveLocked(sess *session) {
	canonical, err := sess.scene.CanonicalPayload()
	if err != nil {
		m.logger.Error("failed to serialize scene", "scene", sess.id, "error", err)
		return
	}
	if sess.lastSaved != nil && bytes.Equal(canonical, sess.lastSaved) {
		return
	}
	key := sceneTimerKey(sess.id)
	if sess.lastScheduled != nil && bytes.Equal(canonical, sess.lastScheduled) && m.timers.pending(key) {
		return
	}
	sess.state = StateUnsaved
	sess.lastScheduled = canonical
	id := sess.id
	m.timers.arm(key, m.sceneSaveDelay, func() { m.flushScene(m.baseCtx, id) })
}

// scheduleHistorySaveLocked (re)arms the debounced history write.
func (m *Manager) scheduleHistorySaveLocked(sess *session) {
	if !sess.historyDirty {
		return
	}
	id := sess.id
	m.timers.arm(historyTimerKey(id), m.historySaveDelay, func() { m.flushHistory(m.baseCtx, id) })
}

// flushScene runs one scene write: re-serialize, dirty re-check, pre-write
// freshness gate, then the write itself. At most one write per scene is in
// flight; a flush landing during one re-arms the timer instead.
func (m *Manager) flushScene(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if sess.saving {
		m.timers.arm(sceneTimerKey(id), m.sceneSaveDelay, func() { m.flushScene(m.baseCtx, id) })
		m.mu.Unlock()
		return
	}
	canonical, err := sess.scene.CanonicalPayload()
	if err != nil {
		sess.state = StateError
		m.mu.Unlock()
		m.logger.Error("failed to serialize scene for save", "scene", id, "error", err)
		return
	}
	if sess.lastSaved != nil && bytes.Equal(canonical, sess.lastSaved) {
		// Edited back to the saved content while the timer was pending.
		sess.state = StateSaved
		sess.lastScheduled = nil
		m.mu.Unlock()
		return
	}
	lastKnown := sess.lastToken
	sess.saving = true
	sess.state = StateSaving
	m.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if lastKnown != "" {
		remote, present, err := m.collab.FetchSceneToken(wctx, id)
		switch {
		case err != nil:
			// Fail open: a failing check must not block the user's own work.
			m.logger.Warn("freshness check failed, saving anyway", "scene", id, "error", err)
		case present && remote != lastKnown:
			m.mu.Lock()
			if m.sessions[id] == sess {
				sess.saving = false
				sess.state = StateUnsaved
				m.setConflictLocked(sess, remote)
			}
			m.mu.Unlock()
			return
		}
	}

	newToken, err := m.collab.PersistScene(wctx, id, canonical)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] != sess {
		// Scene closed mid-write; nothing left to book-keep.
		return
	}
	sess.saving = false
	if err != nil {
		if sess.state == StateSaving {
			sess.state = StateError
		}
		m.logger.Error("scene save failed", "scene", id, "error", err)
		return
	}
	sess.lastToken = newToken
	sess.lastSaved = canonical
	if bytes.Equal(canonical, sess.lastScheduled) {
		sess.lastScheduled = nil
	}
	if sess.state == StateSaving {
		sess.state = StateSaved
	}
	first := !sess.persistedOnce
	sess.persistedOnce = true
	if first && sess.historyDirty {
		// History writes were gated until the scene existed in storage.
		m.scheduleHistorySaveLocked(sess)
	}
	m.logger.Debug("scene saved", "scene", id, "token", string(newToken))
}

// flushHistory runs one history write. Gated on the scene having been
// persisted at least once, so no history blob can exist for a scene storage
// has never seen.
func (m *Manager) flushHistory(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if !sess.persistedOnce {
		m.logger.Debug("history save deferred until the scene is persisted", "scene", id)
		m.mu.Unlock()
		return
	}
	if !sess.historyDirty {
		m.mu.Unlock()
		return
	}
	seq := sess.historySeq
	blob, err := sess.stack.Serialize()
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("failed to serialize scene history", "scene", id, "error", err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	persistErr := m.collab.PersistHistory(wctx, id, blob)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] != sess {
		return
	}
	if persistErr != nil {
		// History is convenience state; the next history mutation
		// reschedules the write.
		m.logger.Warn("history save failed", "scene", id, "error", persistErr)
		return
	}
	if sess.historySeq == seq {
		sess.historyDirty = false
	}
}
