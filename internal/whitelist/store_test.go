package whitelist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
	"github.com/sitedock/sitedock/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(nil, nil)
	require.NoError(t, err)
	return s
}

type recordingListener struct {
	added   []*types.SiteEntry
	removed []id.SiteID
}

func (r *recordingListener) SiteAdded(e *types.SiteEntry) { r.added = append(r.added, e) }
func (r *recordingListener) SiteRemoved(sid id.SiteID)    { r.removed = append(r.removed, sid) }

func TestAddNormalizes(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.Add("HTTPS://Mail.Example.COM./inbox", "Mail")
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com", entry.Pattern)
	assert.False(t, entry.Subdomains)
	assert.Equal(t, 1, entry.Position)
	assert.True(t, id.IsValid(entry.ID.String(), id.SitePrefix))
}

func TestAddWildcard(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.Add("*.example.com", "Example")
	require.NoError(t, err)

	assert.Equal(t, "*.example.com", entry.Pattern)
	assert.True(t, entry.Subdomains)
	assert.Equal(t, "example.com", entry.Host())
}

func TestAddDuplicate(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("example.com", "A")
	require.NoError(t, err)

	_, err = s.Add("EXAMPLE.com.", "B")
	assert.ErrorIs(t, err, ErrDuplicatePattern)
}

func TestAddInvalid(t *testing.T) {
	s := newTestStore(t)

	for _, pattern := range []string{"", "nodots", "bad host.com", "a..b.com", "ex%ample.com"} {
		_, err := s.Add(pattern, "X")
		assert.ErrorIs(t, err, ErrInvalidPattern, "pattern %q", pattern)
	}
}

func TestAddPositionsFull(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < types.MaxPosition; i++ {
		_, err := s.Add("site"+string(rune('a'+i))+".example.com", "S")
		require.NoError(t, err)
	}

	_, err := s.Add("overflow.example.com", "X")
	assert.ErrorIs(t, err, ErrPositionsFull)
}

func TestMatchHostExact(t *testing.T) {
	s := newTestStore(t)

	entry, err := s.Add("mail.example.com", "Mail")
	require.NoError(t, err)

	got, ok := s.MatchHost("mail.example.com")
	require.True(t, ok)
	assert.Equal(t, entry.ID, got.ID)

	// Not subdomain-inclusive: a subdomain must not match.
	_, ok = s.MatchHost("deep.mail.example.com")
	assert.False(t, ok)
}

func TestMatchHostSubdomains(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("*.example.com", "Example")
	require.NoError(t, err)

	got, ok := s.MatchHost("mail.example.com")
	require.True(t, ok)
	assert.Equal(t, "*.example.com", got.Pattern)

	// The apex host matches its own subdomain-inclusive entry.
	_, ok = s.MatchHost("example.com")
	assert.True(t, ok)

	// Suffix tricks must not match.
	_, ok = s.MatchHost("evilexample.com")
	assert.False(t, ok)
}

func TestMatchHostLongestSuffixWins(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("*.example.com", "Apex")
	require.NoError(t, err)
	corp, err := s.Add("*.corp.example.com", "Corp")
	require.NoError(t, err)

	got, ok := s.MatchHost("mail.corp.example.com")
	require.True(t, ok)
	assert.Equal(t, corp.ID, got.ID)
}

func TestRemoveNotifiesAndRenumbers(t *testing.T) {
	s := newTestStore(t)
	l := &recordingListener{}
	s.Subscribe(l)

	a, _ := s.Add("a.example.com", "A")
	b, _ := s.Add("b.example.com", "B")

	require.NoError(t, s.Remove(a.ID))

	assert.Equal(t, []id.SiteID{a.ID}, l.removed)

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, b.ID, entries[0].ID)
	assert.Equal(t, 1, entries[0].Position)

	assert.ErrorIs(t, s.Remove(a.ID), ErrNotFound)
}

func TestReorder(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.Add("a.example.com", "A")
	b, _ := s.Add("b.example.com", "B")
	c, _ := s.Add("c.example.com", "C")

	require.NoError(t, s.Reorder(c.ID, 1))

	entries := s.List()
	assert.Equal(t, []id.SiteID{c.ID, a.ID, b.ID}, []id.SiteID{entries[0].ID, entries[1].ID, entries[2].ID})

	assert.ErrorIs(t, s.Reorder(a.ID, 0), ErrInvalidPosition)
	assert.ErrorIs(t, s.Reorder(a.ID, types.MaxPosition+1), ErrInvalidPosition)
}

func TestPersistRestore(t *testing.T) {
	dir := t.TempDir()
	records, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer records.Close()

	s1, err := NewStore(records, nil)
	require.NoError(t, err)
	added, err := s1.Add("mail.example.com", "Mail")
	require.NoError(t, err)

	s2, err := NewStore(records, nil)
	require.NoError(t, err)

	entries := s2.List()
	require.Len(t, entries, 1)
	assert.Equal(t, added.ID, entries[0].ID)
	assert.Equal(t, "mail.example.com", entries[0].Pattern)
}
