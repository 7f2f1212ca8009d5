package tabsession

import (
	"sync"
	"time"

	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
)

// Session is the state machine for one configured site's tab:
// Idle -> Loading -> Loaded | Failed, with Failed -> Loading on manual
// reload. All mutation goes through its methods; other components only ever
// see snapshots.
type Session struct {
	mu    sync.Mutex
	state types.TabSession

	// lastPoll holds the previous unread poll result. A signal is committed
	// only when two consecutive polls agree, so transient DOM states during
	// page transitions do not flicker the badge.
	lastPoll      int
	lastPollKnown bool
	lastPollValid bool

	// changed is invoked after every committed mutation, outside the
	// session lock.
	changed func(types.TabSession)
}

func newSession(siteID id.SiteID, changed func(types.TabSession)) *Session {
	if changed == nil {
		changed = func(types.TabSession) {}
	}
	return &Session{
		state: types.TabSession{
			SiteID: siteID,
			Phase:  types.PhaseIdle,
		},
		changed: changed,
	}
}

// Activate marks the tab as the user's current one.
func (s *Session) Activate() {
	s.mu.Lock()
	s.state.LastActive = time.Now().UTC()
	snap := s.state
	s.mu.Unlock()
	s.changed(snap)
}

// OnLoadStarted records the start of a page load.
func (s *Session) OnLoadStarted(url string) {
	s.mu.Lock()
	s.state.Phase = types.PhaseLoading
	if url != "" {
		s.state.CurrentURL = url
	}
	snap := s.state
	s.mu.Unlock()
	s.changed(snap)
}

// OnLoadFinished records the outcome of the in-flight load.
func (s *Session) OnLoadFinished(success bool) {
	s.mu.Lock()
	if s.state.Phase != types.PhaseLoading {
		s.mu.Unlock()
		return
	}
	if success {
		s.state.Phase = types.PhaseLoaded
	} else {
		s.state.Phase = types.PhaseFailed
	}
	snap := s.state
	s.mu.Unlock()
	s.changed(snap)
}

// OnFaviconReceived stores the tab's icon. generated marks the deterministic
// fallback rather than a fetched image. Nil bytes are ignored.
func (s *Session) OnFaviconReceived(icon []byte, generated bool) {
	if len(icon) == 0 {
		return
	}
	s.mu.Lock()
	s.state.Favicon = icon
	s.state.FaviconGenerated = generated
	snap := s.state
	s.mu.Unlock()
	s.changed(snap)
}

// OnUnreadSignal feeds one unread poll result. known distinguishes a counted
// value from bare badge presence (reported as 1/0 with known=false). The
// value is committed only when it matches the immediately preceding poll.
func (s *Session) OnUnreadSignal(value int, known bool) {
	s.mu.Lock()

	stable := s.lastPollValid && s.lastPoll == value && s.lastPollKnown == known
	s.lastPoll = value
	s.lastPollKnown = known
	s.lastPollValid = true

	if !stable || (s.state.UnreadKnown == known && s.state.Unread == value) {
		s.mu.Unlock()
		return
	}

	s.state.Unread = value
	s.state.UnreadKnown = known
	snap := s.state
	s.mu.Unlock()
	s.changed(snap)
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() types.TabSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// restoreSaved applies a persisted record onto a fresh Idle session: favicon
// and unread show immediately while the real page has not loaded yet.
func (s *Session) restoreSaved(saved types.TabSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.CurrentURL = saved.CurrentURL
	s.state.Favicon = saved.Favicon
	s.state.FaviconGenerated = saved.FaviconGenerated
	s.state.Unread = saved.Unread
	s.state.UnreadKnown = saved.UnreadKnown
	s.state.LastActive = saved.LastActive
	s.state.Phase = types.PhaseIdle
}
