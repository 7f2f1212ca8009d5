package tabsession

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/monitoring"
	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
	"github.com/sitedock/sitedock/internal/storage"
)

func testEntry(name string) *types.SiteEntry {
	return &types.SiteEntry{
		ID:      id.NewSiteID(),
		Name:    name,
		Pattern: name + ".example.com",
	}
}

func newTestManager(t *testing.T, records *storage.Store) *Manager {
	t.Helper()
	cfg := config.SessionConfig{
		PersistDebounce:    5 * time.Millisecond,
		UnreadPollInterval: time.Second,
	}
	m := NewManager(records, cfg, monitoring.NewMetrics(), nil)
	t.Cleanup(m.Close)
	return m
}

func openRecords(t *testing.T) *storage.Store {
	t.Helper()
	records, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	return records
}

func TestSessionLifecycle(t *testing.T) {
	s := newSession("site_1", nil)
	assert.Equal(t, types.PhaseIdle, s.Snapshot().Phase)

	s.OnLoadStarted("https://mail.example.com/inbox")
	snap := s.Snapshot()
	assert.Equal(t, types.PhaseLoading, snap.Phase)
	assert.Equal(t, "https://mail.example.com/inbox", snap.CurrentURL)

	s.OnLoadFinished(true)
	assert.Equal(t, types.PhaseLoaded, s.Snapshot().Phase)

	// Finish without a load in flight is ignored.
	s.OnLoadFinished(false)
	assert.Equal(t, types.PhaseLoaded, s.Snapshot().Phase)
}

func TestSessionFailedRetry(t *testing.T) {
	s := newSession("site_1", nil)

	s.OnLoadStarted("https://a.example.com/")
	s.OnLoadFinished(false)
	assert.Equal(t, types.PhaseFailed, s.Snapshot().Phase)

	// Manual reload out of Failed.
	s.OnLoadStarted("https://a.example.com/")
	assert.Equal(t, types.PhaseLoading, s.Snapshot().Phase)
	s.OnLoadFinished(true)
	assert.Equal(t, types.PhaseLoaded, s.Snapshot().Phase)
}

func TestUnreadRequiresTwoStablePolls(t *testing.T) {
	s := newSession("site_1", nil)

	s.OnUnreadSignal(7, true)
	snap := s.Snapshot()
	assert.False(t, snap.UnreadKnown)
	assert.Zero(t, snap.Unread)

	s.OnUnreadSignal(7, true)
	snap = s.Snapshot()
	assert.True(t, snap.UnreadKnown)
	assert.Equal(t, 7, snap.Unread)
}

func TestUnreadFlickerSuppressed(t *testing.T) {
	s := newSession("site_1", nil)

	s.OnUnreadSignal(3, true)
	s.OnUnreadSignal(3, true)
	require.Equal(t, 3, s.Snapshot().Unread)

	// A single divergent poll (transient DOM state) changes nothing.
	s.OnUnreadSignal(0, true)
	assert.Equal(t, 3, s.Snapshot().Unread)

	// Two agreeing polls commit the new value.
	s.OnUnreadSignal(0, true)
	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Unread)
	assert.True(t, snap.UnreadKnown)
}

func TestFaviconIgnoresEmpty(t *testing.T) {
	s := newSession("site_1", nil)

	s.OnFaviconReceived([]byte{1, 2, 3}, false)
	s.OnFaviconReceived(nil, false)

	snap := s.Snapshot()
	assert.Equal(t, []byte{1, 2, 3}, snap.Favicon)
	assert.False(t, snap.FaviconGenerated)
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	records := openRecords(t)
	entry := testEntry("mail")

	m1 := newTestManager(t, records)
	require.NoError(t, m1.Restore([]*types.SiteEntry{entry}))

	s, ok := m1.Session(entry.ID)
	require.True(t, ok)
	s.OnLoadStarted("https://mail.example.com/inbox")
	s.OnLoadFinished(true)
	s.OnFaviconReceived([]byte("icon"), true)
	s.OnUnreadSignal(4, true)
	s.OnUnreadSignal(4, true)
	m1.Close()

	// Fresh process instance.
	m2 := newTestManager(t, records)
	require.NoError(t, m2.Restore([]*types.SiteEntry{entry}))

	s2, ok := m2.Session(entry.ID)
	require.True(t, ok)
	snap := s2.Snapshot()
	assert.Equal(t, types.PhaseIdle, snap.Phase, "restored sessions start Idle")
	assert.Equal(t, "https://mail.example.com/inbox", snap.CurrentURL)
	assert.Equal(t, []byte("icon"), snap.Favicon)
	assert.True(t, snap.FaviconGenerated)
	assert.Equal(t, 4, snap.Unread)
	assert.True(t, snap.UnreadKnown)
}

func TestRestorePrunesOrphans(t *testing.T) {
	records := openRecords(t)
	kept := testEntry("kept")
	removed := testEntry("removed")

	m1 := newTestManager(t, records)
	require.NoError(t, m1.Restore([]*types.SiteEntry{kept, removed}))
	m1.Close()

	keys, err := records.Keys(storage.KindTabSession)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	// Next cycle starts without the removed site.
	m2 := newTestManager(t, records)
	require.NoError(t, m2.Restore([]*types.SiteEntry{kept}))

	keys, err = records.Keys(storage.KindTabSession)
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID.String()}, keys)
}

func TestSiteRemovedDeletesRecord(t *testing.T) {
	records := openRecords(t)
	entry := testEntry("gone")

	m := newTestManager(t, records)
	require.NoError(t, m.Restore([]*types.SiteEntry{entry}))
	m.Flush()

	m.SiteRemoved(entry.ID)

	_, ok := m.Session(entry.ID)
	assert.False(t, ok)

	keys, err := records.Keys(storage.KindTabSession)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFocusNoopAfterRemoval(t *testing.T) {
	m := newTestManager(t, nil)
	entry := testEntry("chat")
	require.NoError(t, m.Restore([]*types.SiteEntry{entry}))

	assert.True(t, m.Focus(entry.ID))
	assert.Equal(t, entry.ID, m.WindowState().LastActiveSite)

	m.SiteRemoved(entry.ID)
	assert.False(t, m.Focus(entry.ID))
}

func TestDebouncedPersistence(t *testing.T) {
	records := openRecords(t)
	entry := testEntry("mail")

	m := newTestManager(t, records)
	require.NoError(t, m.Restore([]*types.SiteEntry{entry}))

	s, _ := m.Session(entry.ID)
	s.OnLoadStarted("https://mail.example.com/")

	require.Eventually(t, func() bool {
		var saved types.TabSession
		if err := records.Get(storage.KindTabSession, entry.ID.String(), &saved); err != nil {
			return false
		}
		return saved.CurrentURL == "https://mail.example.com/"
	}, time.Second, 10*time.Millisecond)
}

func TestWindowStatePersistence(t *testing.T) {
	records := openRecords(t)

	m1 := newTestManager(t, records)
	require.NoError(t, m1.Restore(nil))
	m1.SetWindowState(types.WindowState{Width: 1280, Height: 800, X: 40, Y: 20})
	m1.Close()

	m2 := newTestManager(t, records)
	require.NoError(t, m2.Restore(nil))
	ws := m2.WindowState()
	assert.Equal(t, 1280, ws.Width)
	assert.Equal(t, 800, ws.Height)
}

func TestOnChangeFanout(t *testing.T) {
	m := newTestManager(t, nil)
	entry := testEntry("mail")

	var snaps []types.TabSession
	m.OnChange(func(s types.TabSession) { snaps = append(snaps, s) })
	require.NoError(t, m.Restore([]*types.SiteEntry{entry}))

	s, _ := m.Session(entry.ID)
	s.OnLoadStarted("https://mail.example.com/")
	s.OnLoadFinished(true)

	require.Len(t, snaps, 2)
	assert.Equal(t, types.PhaseLoading, snaps[0].Phase)
	assert.Equal(t, types.PhaseLoaded, snaps[1].Phase)
}
