package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/easel/internal/storage"
)

// startMonitorLocked launches the remote change monitor for one open scene.
// Local backends are never polled.
func (m *Manager) startMonitorLocked(sess *session) {
	if !m.collab.Remote() || m.pollInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	sess.monitorStop = cancel
	m.wg.Add(1)
	go m.monitorLoop(ctx, sess.id)
}

func (m *Manager) monitorLoop(ctx context.Context, id uuid.UUID) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkRemote(ctx, id)
		}
	}
}

// CheckNow runs one immediate remote check for the scene, outside the
// polling cadence.
func (m *Manager) CheckNow(ctx context.Context, id uuid.UUID) {
	m.checkRemote(ctx, id)
}

// checkRemote compares the scene's last known token against storage. The
// check is skipped for local backends, while a save is in flight (the write
// is about to move the token), and before the first save (nothing to
// compare yet). An absent remote record is not a conflict, and fetch
// failures are swallowed: a failing check must never falsely flag the
// user's own work.
func (m *Manager) checkRemote(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || !m.collab.Remote() || sess.saving || sess.lastToken == "" {
		m.mu.Unlock()
		return
	}
	lastKnown := sess.lastToken
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	remote, present, err := m.collab.FetchSceneToken(cctx, id)
	if err != nil {
		m.logger.Debug("remote check failed", "scene", id, "error", err)
		return
	}
	if !present || remote == lastKnown {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, stillOpen := m.sessions[id]
	if !stillOpen || current != sess || sess.saving || sess.lastToken != lastKnown {
		// The session moved on while the check was on the wire; the result
		// no longer applies.
		return
	}
	m.setConflictLocked(sess, remote)
}

// setConflictLocked and clearConflictLocked are the single funnel both
// detection paths go through: the scheduler's pre-write gate and the
// monitor's checks.
func (m *Manager) setConflictLocked(sess *session, remote storage.Token) {
	sess.conflict = ConflictState{Detected: true, RemoteToken: remote}
	m.logger.Info("remote change detected", "scene", sess.id, "remoteToken", string(remote))
}

func (m *Manager) clearConflictLocked(sess *session) {
	sess.conflict = ConflictState{}
}
