package filter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedock/sitedock/internal/fetch"
	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/monitoring"
	"github.com/sitedock/sitedock/internal/storage"
)

func newTestRefresher(t *testing.T) (*Refresher, *Active) {
	t.Helper()

	records, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	active := NewActive()
	r := NewRefresher(
		active,
		fetch.NewClient(),
		records,
		config.Default().Filter,
		monitoring.NewMetrics(),
		nil,
	)
	return r, active
}

func TestRestoreCachedWithoutCache(t *testing.T) {
	r, active := newTestRefresher(t)

	assert.False(t, r.RestoreCached())
	assert.Equal(t, 0, active.Load().Len())
}

func TestCacheRoundTrip(t *testing.T) {
	r, active := newTestRefresher(t)

	raw := "||ads.example.com^\n@@||example.com/allowed^"
	r.storeCache(raw, `"etag-1"`)

	restored, err := r.loadCachedSource()
	require.NoError(t, err)
	assert.Equal(t, raw, restored)

	meta := r.loadMeta()
	assert.Equal(t, `"etag-1"`, meta.ETag)
	assert.False(t, meta.FetchedAt.IsZero())

	require.True(t, r.RestoreCached())
	assert.Equal(t, 2, active.Load().Len())
	assert.Equal(t, ActionBlock,
		active.Load().Match("https://ads.example.com/b.js", ResScript, "example.com"))
}

func TestSwapInvokesCallback(t *testing.T) {
	r, active := newTestRefresher(t)

	var got *RuleSet
	r.OnSwap(func(rs *RuleSet) { got = rs })

	rs := Compile("||ads.example.com^", Options{})
	r.swap(rs)

	assert.Same(t, rs, got)
	assert.Same(t, rs, active.Load())
}
