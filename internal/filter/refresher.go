package filter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/fetch"
	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/infrastructure/monitoring"
	"github.com/sitedock/sitedock/internal/storage"
)

const (
	cacheSourceKey = "source"
	cacheMetaKey   = "meta"
)

// cacheMeta describes the cached block-list source.
type cacheMeta struct {
	ETag      string    `json:"etag"`
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Refresher keeps the active rule set current: it restores the cached list at
// startup, refreshes it on a schedule, and swaps compiled sets in atomically.
// A failed refresh keeps the previous set active.
type Refresher struct {
	active  *Active
	client  *fetch.Client
	records *storage.Store
	cfg     config.FilterConfig
	metrics *monitoring.Metrics
	log     *logging.Logger

	// onSwap is invoked after each successful swap, outside any lock.
	onSwap func(*RuleSet)
}

// NewRefresher creates a refresher bound to an active rule-set holder.
func NewRefresher(
	active *Active,
	client *fetch.Client,
	records *storage.Store,
	cfg config.FilterConfig,
	metrics *monitoring.Metrics,
	log *logging.Logger,
) *Refresher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Refresher{
		active:  active,
		client:  client,
		records: records,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// OnSwap registers a callback invoked with each newly activated rule set.
// Must be called before Start.
func (r *Refresher) OnSwap(fn func(*RuleSet)) {
	r.onSwap = fn
}

// RestoreCached compiles the cached list source, if any, so the engine blocks
// with last-known rules before the first network refresh completes.
func (r *Refresher) RestoreCached() bool {
	if r.records == nil {
		return false
	}

	raw, err := r.loadCachedSource()
	if err != nil {
		if err != storage.ErrNotFound {
			r.log.Warn("cached filter list unreadable", zap.Error(err))
		}
		return false
	}

	r.swap(Compile(raw, r.compileOptions()))
	r.log.Info("restored cached filter list",
		zap.Int("rules", r.active.Load().Len()))
	return true
}

// Start refreshes immediately, then on the configured interval, until ctx is
// cancelled.
func (r *Refresher) Start(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("initial filter refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn("scheduled filter refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh fetches the configured list, compiles it, and swaps it in. A 304
// from the mirror leaves the active set untouched.
func (r *Refresher) Refresh(ctx context.Context) error {
	meta := r.loadMeta()

	req, err := r.client.Request(ctx)
	if err != nil {
		r.metrics.RefreshFailures.Inc()
		return fmt.Errorf("filter list request rejected: %w", err)
	}
	if meta.ETag != "" && meta.URL == r.cfg.ListURL {
		req.SetHeader("If-None-Match", meta.ETag)
	}

	resp, err := r.client.Execute(func() (*resty.Response, error) {
		return req.Get(r.cfg.ListURL)
	})
	if err != nil {
		r.metrics.RefreshFailures.Inc()
		return fmt.Errorf("failed to fetch filter list: %w", err)
	}

	if resp.StatusCode() == http.StatusNotModified {
		r.log.Debug("filter list unchanged", zap.String("etag", meta.ETag))
		return nil
	}
	if resp.StatusCode() != http.StatusOK {
		r.metrics.RefreshFailures.Inc()
		return fmt.Errorf("filter list fetch returned status %d", resp.StatusCode())
	}

	raw := string(resp.Body())
	rs := Compile(raw, r.compileOptions())
	if rs.Len() == 0 && rs.Stats().TotalLines > 1 {
		// A mirror serving an error page instead of a list must not wipe
		// the active rules.
		r.metrics.RefreshFailures.Inc()
		return fmt.Errorf("fetched list compiled to zero rules, keeping previous set")
	}

	r.swap(rs)
	r.storeCache(raw, resp.Header().Get("ETag"))

	stats := rs.Stats()
	r.log.Info("filter list refreshed",
		zap.Int("rules", rs.Len()),
		zap.Int("skipped", stats.SkippedLines),
		zap.Int("cosmetic", stats.CosmeticLines))
	return nil
}

func (r *Refresher) compileOptions() Options {
	return Options{MaxRegexRules: r.cfg.MaxRegexRules}
}

func (r *Refresher) swap(rs *RuleSet) {
	r.active.Swap(rs)

	stats := rs.Stats()
	r.metrics.CompilesTotal.Inc()
	r.metrics.RulesActive.Set(float64(rs.Len()))
	r.metrics.CompileSkippedLast.Set(float64(stats.SkippedLines))

	if r.onSwap != nil {
		r.onSwap(rs)
	}
}

func (r *Refresher) loadMeta() cacheMeta {
	var meta cacheMeta
	if r.records == nil {
		return meta
	}
	if err := r.records.Get(storage.KindFilterCache, cacheMetaKey, &meta); err != nil {
		return cacheMeta{}
	}
	return meta
}

func (r *Refresher) storeCache(raw string, etag string) {
	if r.records == nil {
		return
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(raw)); err == nil && gz.Close() == nil {
		if err := r.records.PutRaw(storage.KindFilterCache, cacheSourceKey, buf.Bytes()); err != nil {
			r.log.Warn("failed to cache filter list", zap.Error(err))
			return
		}
	}

	meta := cacheMeta{ETag: etag, URL: r.cfg.ListURL, FetchedAt: time.Now().UTC()}
	if err := r.records.Put(storage.KindFilterCache, cacheMetaKey, meta); err != nil {
		r.log.Warn("failed to store filter list metadata", zap.Error(err))
	}
}

func (r *Refresher) loadCachedSource() (string, error) {
	data, err := r.records.GetRaw(storage.KindFilterCache, cacheSourceKey)
	if err != nil {
		return "", err
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("corrupt filter cache: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return "", fmt.Errorf("corrupt filter cache: %w", err)
	}
	return string(raw), nil
}
