// Package tabsession owns one state machine per configured site and the
// window geometry record, persisting both on a debounce timer and restoring
// them at launch with orphan pruning.
package tabsession

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/infrastructure/monitoring"
	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
	"github.com/sitedock/sitedock/internal/storage"
	"github.com/sitedock/sitedock/internal/whitelist"
)

// Manager owns all tab sessions. It implements whitelist.Listener so site
// additions and removals create and destroy sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[id.SiteID]*Session
	window   types.WindowState

	records  *storage.Store
	cfg      config.SessionConfig
	metrics  *monitoring.Metrics
	log      *logging.Logger
	onChange func(types.TabSession)

	dirty       map[id.SiteID]struct{}
	windowDirty bool
	timer       *time.Timer
	closed      bool
}

// NewManager creates a session manager.
func NewManager(
	records *storage.Store,
	cfg config.SessionConfig,
	metrics *monitoring.Metrics,
	log *logging.Logger,
) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{
		sessions: make(map[id.SiteID]*Session),
		records:  records,
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
		dirty:    make(map[id.SiteID]struct{}),
	}
}

// OnChange registers a callback invoked with a session snapshot after every
// committed mutation. Must be called before sessions are created.
func (m *Manager) OnChange(fn func(types.TabSession)) {
	m.onChange = fn
}

// Restore builds an Idle session for every current site, applying any saved
// record, and prunes persisted sessions whose site no longer exists.
func (m *Manager) Restore(entries []*types.SiteEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[id.SiteID]bool, len(entries))
	for _, e := range entries {
		current[e.ID] = true
		if _, exists := m.sessions[e.ID]; exists {
			continue
		}
		s := newSession(e.ID, m.sessionChanged)

		if m.records != nil {
			var saved types.TabSession
			err := m.records.Get(storage.KindTabSession, e.ID.String(), &saved)
			switch {
			case err == nil:
				s.restoreSaved(saved)
			case err != storage.ErrNotFound:
				m.log.Warn("skipping corrupt session record",
					zap.String("site_id", e.ID.String()), zap.Error(err))
			}
		}
		m.sessions[e.ID] = s
	}
	m.metrics.SessionsActive.Set(float64(len(m.sessions)))

	if m.records == nil {
		return nil
	}

	// Orphan pruning: a site removed since last run takes its session
	// record with it.
	keys, err := m.records.Keys(storage.KindTabSession)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if current[id.SiteID(key)] {
			continue
		}
		if err := m.records.Delete(storage.KindTabSession, key); err != nil {
			m.log.Warn("failed to prune orphaned session", zap.String("key", key), zap.Error(err))
			continue
		}
		m.log.Info("pruned orphaned session", zap.String("site_id", key))
	}

	var saved types.WindowState
	if err := m.records.Get(storage.KindWindowState, storage.WindowStateKey, &saved); err == nil {
		m.window = saved
	}
	return nil
}

// SiteAdded creates the session for a newly configured site.
func (m *Manager) SiteAdded(entry *types.SiteEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[entry.ID]; exists {
		return
	}
	m.sessions[entry.ID] = newSession(entry.ID, m.sessionChanged)
	m.metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.markDirtyLocked(entry.ID)
}

// SiteRemoved destroys the session and its persisted record.
func (m *Manager) SiteRemoved(siteID id.SiteID) {
	m.mu.Lock()
	delete(m.sessions, siteID)
	delete(m.dirty, siteID)
	m.metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if m.records != nil {
		if err := m.records.Delete(storage.KindTabSession, siteID.String()); err != nil {
			m.log.Warn("failed to delete session record",
				zap.String("site_id", siteID.String()), zap.Error(err))
		}
	}
}

// Session returns the session for a site.
func (m *Manager) Session(siteID id.SiteID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[siteID]
	return s, ok
}

// Snapshots returns the current state of every session.
func (m *Manager) Snapshots() []types.TabSession {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]types.TabSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Focus activates a site's tab as a navigation side effect. It returns false
// without doing anything if the site was removed between the decision and
// this call.
func (m *Manager) Focus(siteID id.SiteID) bool {
	m.mu.Lock()
	s, ok := m.sessions[siteID]
	if ok {
		m.window.LastActiveSite = siteID
		m.windowDirty = true
		m.scheduleLocked()
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Activate()
	return true
}

// WindowState returns the current window geometry record.
func (m *Manager) WindowState() types.WindowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window
}

// SetWindowState records new window geometry, persisted on the session
// debounce lifecycle.
func (m *Manager) SetWindowState(ws types.WindowState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = ws
	m.windowDirty = true
	m.scheduleLocked()
}

// Flush persists all pending state immediately. Called on shutdown.
func (m *Manager) Flush() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	for sid := range m.sessions {
		m.dirty[sid] = struct{}{}
	}
	m.windowDirty = true
	m.mu.Unlock()

	m.persistDirty()
}

// Close flushes and stops the debounce timer.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Flush()
}

// sessionChanged is the per-session change hook: schedule persistence and
// fan the snapshot out.
func (m *Manager) sessionChanged(snap types.TabSession) {
	m.mu.Lock()
	m.markDirtyLocked(snap.SiteID)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

func (m *Manager) markDirtyLocked(siteID id.SiteID) {
	m.dirty[siteID] = struct{}{}
	m.scheduleLocked()
}

func (m *Manager) scheduleLocked() {
	if m.closed || m.records == nil || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.cfg.PersistDebounce, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		m.persistDirty()
	})
}

// persistDirty writes every dirty session plus the window record. A failed
// write stays dirty and is retried on the next debounce tick.
func (m *Manager) persistDirty() {
	if m.records == nil {
		return
	}

	m.mu.Lock()
	pending := make(map[id.SiteID]*Session, len(m.dirty))
	for sid := range m.dirty {
		if s, ok := m.sessions[sid]; ok {
			pending[sid] = s
		}
		delete(m.dirty, sid)
	}
	windowDirty := m.windowDirty
	m.windowDirty = false
	window := m.window
	m.mu.Unlock()

	for sid, s := range pending {
		snap := s.Snapshot()
		if err := m.records.Put(storage.KindTabSession, sid.String(), snap); err != nil {
			m.metrics.PersistErrors.Inc()
			m.log.Warn("failed to persist session",
				zap.String("site_id", sid.String()), zap.Error(err))
			m.mu.Lock()
			m.dirty[sid] = struct{}{}
			m.scheduleLocked()
			m.mu.Unlock()
			continue
		}
		m.metrics.PersistsTotal.Inc()
	}

	if windowDirty {
		if err := m.records.Put(storage.KindWindowState, storage.WindowStateKey, window); err != nil {
			m.metrics.PersistErrors.Inc()
			m.log.Warn("failed to persist window state", zap.Error(err))
			m.mu.Lock()
			m.windowDirty = true
			m.scheduleLocked()
			m.mu.Unlock()
		} else {
			m.metrics.PersistsTotal.Inc()
		}
	}
}

var _ whitelist.Listener = (*Manager)(nil)
