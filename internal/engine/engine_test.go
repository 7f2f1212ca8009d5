package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedock/sitedock/internal/filter"
	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
)

type fakeRenderer struct {
	applied map[id.SiteID]int
	unread  int
}

func (f *fakeRenderer) ApplyContentRules(tab id.SiteID, _ []byte, _ int) error {
	if f.applied == nil {
		f.applied = make(map[id.SiteID]int)
	}
	f.applied[tab]++
	return nil
}

func (f *fakeRenderer) QueryUnread(context.Context, id.SiteID) (int, bool, error) {
	return f.unread, true, nil
}

type recordingOpener struct {
	opened []string
}

func (o *recordingOpener) OpenExternal(url string) error {
	o.opened = append(o.opened, url)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeRenderer, *recordingOpener) {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "test.db")

	renderer := &fakeRenderer{}
	opener := &recordingOpener{}

	e, err := New(cfg, renderer, opener, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Stop(context.Background()) })
	return e, renderer, opener
}

func TestDecideNavigationInScope(t *testing.T) {
	e, _, opener := newTestEngine(t)

	mail, err := e.Sites().Add("mail.example.com", "Mail")
	require.NoError(t, err)

	d := e.DecideNavigation(mail.ID, "https://mail.example.com/inbox", "", false)

	assert.Equal(t, types.VerdictInScope, d.Verdict)
	assert.Empty(t, opener.opened)
}

func TestDecideNavigationHandoffExactlyOnce(t *testing.T) {
	e, _, opener := newTestEngine(t)

	mail, err := e.Sites().Add("mail.example.com", "Mail")
	require.NoError(t, err)

	d := e.DecideNavigation(mail.ID, "https://news.example.net/story", "", false)

	assert.Equal(t, types.VerdictOutOfScope, d.Verdict)
	assert.False(t, d.Allowed(), "the in-tab load must be cancelled")
	assert.Equal(t, []string{"https://news.example.net/story"}, opener.opened)
}

func TestDecideNavigationFocusSwitch(t *testing.T) {
	e, _, opener := newTestEngine(t)

	mail, err := e.Sites().Add("mail.example.com", "Mail")
	require.NoError(t, err)
	chat, err := e.Sites().Add("chat.example.com", "Chat")
	require.NoError(t, err)

	d := e.DecideNavigation(mail.ID, "https://chat.example.com/room", "", false)

	require.Equal(t, types.VerdictFocusSwitch, d.Verdict)
	assert.Equal(t, chat.ID, d.FocusTarget.ID)
	assert.Empty(t, opener.opened)

	// The focused tab became the active one.
	assert.Equal(t, chat.ID, e.Sessions().WindowState().LastActiveSite)
}

func TestSiteAddedCreatesSession(t *testing.T) {
	e, _, _ := newTestEngine(t)

	entry, err := e.Sites().Add("mail.example.com", "Mail")
	require.NoError(t, err)

	s, ok := e.Sessions().Session(entry.ID)
	require.True(t, ok)
	assert.Equal(t, types.PhaseIdle, s.Snapshot().Phase)

	require.NoError(t, e.Sites().Remove(entry.ID))
	_, ok = e.Sessions().Session(entry.ID)
	assert.False(t, ok)
}

func TestLoadCallbacksDriveSession(t *testing.T) {
	e, _, _ := newTestEngine(t)

	entry, err := e.Sites().Add("mail.example.com", "Mail")
	require.NoError(t, err)

	e.OnLoadStarted(entry.ID, "https://mail.example.com/inbox")
	e.OnLoadFinished(entry.ID, true)

	s, _ := e.Sessions().Session(entry.ID)
	snap := s.Snapshot()
	assert.Equal(t, types.PhaseLoaded, snap.Phase)
	assert.Equal(t, "https://mail.example.com/inbox", snap.CurrentURL)
}

func TestShouldBlockLoadUsesActiveRules(t *testing.T) {
	e, _, _ := newTestEngine(t)

	url := "https://ads.example.com/banner.js"
	assert.False(t, e.ShouldBlockLoad(url, filter.ResScript, "example.com"))

	e.active.Swap(filter.Compile("||ads.example.com^", filter.Options{}))
	assert.True(t, e.ShouldBlockLoad(url, filter.ResScript, "example.com"))
}
