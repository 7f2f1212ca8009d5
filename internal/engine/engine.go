// Package engine composes the policy and session components behind the two
// collaborator seams the shell provides: the page renderer and the OS
// default-browser opener.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	apihttp "github.com/sitedock/sitedock/internal/api/http"
	"github.com/sitedock/sitedock/internal/contentblock"
	"github.com/sitedock/sitedock/internal/favicon"
	"github.com/sitedock/sitedock/internal/fetch"
	"github.com/sitedock/sitedock/internal/filter"
	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/infrastructure/monitoring"
	"github.com/sitedock/sitedock/internal/navigation"
	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
	"github.com/sitedock/sitedock/internal/storage"
	"github.com/sitedock/sitedock/internal/tabsession"
	"github.com/sitedock/sitedock/internal/whitelist"
	"github.com/sitedock/sitedock/internal/ws"
)

// PageRenderer is the rendering collaborator: it applies compiled content
// rules and answers unread-badge introspection polls. The engine never drives
// rendering directly; lifecycle events flow in through the On* methods.
type PageRenderer interface {
	contentblock.RuleTarget
	// QueryUnread probes the page for its unread badge. known is false when
	// the page only exposes badge presence, not a count.
	QueryUnread(ctx context.Context, siteID id.SiteID) (value int, known bool, err error)
}

// ExternalOpener hands a URL to the system default browser. Fire and forget:
// failures are logged at this boundary, never retried.
type ExternalOpener interface {
	OpenExternal(url string) error
}

// Engine is the composition root.
type Engine struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *monitoring.Metrics
	registry *prometheus.Registry

	records   *storage.Store
	sites     *whitelist.Store
	active    *filter.Active
	refresher *filter.Refresher
	policy    *navigation.Engine
	blocker   *contentblock.Adapter
	sessions  *tabsession.Manager
	favicons  *favicon.Resolver
	hub       *ws.Hub
	server    *apihttp.Server

	renderer PageRenderer
	opener   ExternalOpener

	mu            sync.Mutex
	faviconCancel map[id.SiteID]context.CancelFunc

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New wires the engine. renderer and opener are the shell's collaborators.
func New(cfg *config.Config, renderer PageRenderer, opener ExternalOpener, log *logging.Logger) (*Engine, error) {
	if log == nil {
		log = logging.NewNop()
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsOn(registry)

	records, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	sites, err := whitelist.NewStore(records, log)
	if err != nil {
		records.Close()
		return nil, err
	}

	policy, err := navigation.NewEngine(sites, cfg.Navigation, metrics, log)
	if err != nil {
		records.Close()
		return nil, err
	}

	client := fetch.NewClient()
	active := filter.NewActive()
	refresher := filter.NewRefresher(active, client, records, cfg.Filter, metrics, log)

	e := &Engine{
		cfg:           cfg,
		log:           log,
		metrics:       metrics,
		registry:      registry,
		records:       records,
		sites:         sites,
		active:        active,
		refresher:     refresher,
		policy:        policy,
		blocker:       contentblock.NewAdapter(renderer, cfg.Filter.RuleCeiling, log),
		sessions:      tabsession.NewManager(records, cfg.Session, metrics, log),
		favicons:      favicon.NewResolver(client, metrics, log),
		hub:           ws.NewHub(log),
		renderer:      renderer,
		opener:        opener,
		faviconCancel: make(map[id.SiteID]context.CancelFunc),
	}

	e.sessions.OnChange(func(snap types.TabSession) {
		e.hub.Broadcast(ws.NewEvent(ws.EventSessionUpdated, snap))
	})
	e.refresher.OnSwap(e.onRuleSetSwapped)
	e.sites.Subscribe(e.sessions)
	e.sites.Subscribe(e)

	handlers := apihttp.NewHandlers(sites, e.sessions, policy, active, e.refreshForAPI, log)
	e.server = apihttp.NewServer(cfg, handlers, e.hub, registry, log)

	return e, nil
}

// Start restores persisted state and launches the background loops.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx, e.runCancel = context.WithCancel(ctx)

	if err := e.sessions.Restore(e.sites.List()); err != nil {
		return err
	}

	// Last-known rules block immediately; the first network refresh runs in
	// the background.
	e.refresher.RestoreCached()
	e.applyRulesAll(e.active.Load())

	for _, entry := range e.sites.List() {
		e.resolveFaviconAsync(entry)
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.refresher.Start(e.runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.unreadPollLoop(e.runCtx)
	}()

	go func() {
		if err := e.server.Run(); err != nil {
			e.log.Error("control api stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the engine down: background loops cancelled, sessions flushed,
// store closed.
func (e *Engine) Stop(ctx context.Context) {
	if e.runCancel != nil {
		e.runCancel()
	}
	e.cancelAllFavicons()
	e.wg.Wait()

	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Warn("control api shutdown", zap.Error(err))
	}
	e.hub.Close()
	e.sessions.Close()
	if err := e.records.Close(); err != nil {
		e.log.Warn("record store close", zap.Error(err))
	}
}

// Sites exposes the whitelist store.
func (e *Engine) Sites() *whitelist.Store { return e.sites }

// Sessions exposes the tab session manager.
func (e *Engine) Sessions() *tabsession.Manager { return e.sessions }

// DecideNavigation is the renderer's pre-navigation interception hook. The
// decision's side effects (handoff, focus switch) happen here; the caller
// only honors the returned allow/cancel.
func (e *Engine) DecideNavigation(siteID id.SiteID, url, currentURL string, isRedirect bool) types.NavigationDecision {
	var origin *types.SiteEntry
	if entry, ok := e.sites.Get(siteID); ok {
		origin = entry
	}

	decision := e.policy.Decide(navigation.Request{
		URL:        url,
		CurrentURL: currentURL,
		Origin:     origin,
		IsRedirect: isRedirect,
	})

	switch decision.Verdict {
	case types.VerdictOutOfScope:
		e.metrics.HandoffsTotal.Inc()
		if err := e.opener.OpenExternal(url); err != nil {
			e.log.Warn("default browser handoff failed",
				zap.String("url", url), zap.Error(err))
		}
	case types.VerdictFocusSwitch:
		if decision.FocusTarget != nil {
			if e.sessions.Focus(decision.FocusTarget.ID) {
				e.hub.Broadcast(ws.NewEvent(ws.EventFocusRequested, decision.FocusTarget))
			}
		}
	}
	return decision
}

// ShouldBlockLoad answers the renderer's per-resource filter check.
func (e *Engine) ShouldBlockLoad(url string, resource filter.Resource, originHost string) bool {
	if e.active.Load().ShouldBlock(url, resource, originHost) {
		e.metrics.BlockedTotal.WithLabelValues(resource.String()).Inc()
		return true
	}
	return false
}

// OnLoadStarted is the renderer's load-start callback.
func (e *Engine) OnLoadStarted(siteID id.SiteID, url string) {
	if s, ok := e.sessions.Session(siteID); ok {
		s.OnLoadStarted(url)
	}
}

// OnLoadFinished is the renderer's load-completion callback.
func (e *Engine) OnLoadFinished(siteID id.SiteID, success bool) {
	if s, ok := e.sessions.Session(siteID); ok {
		s.OnLoadFinished(success)
	}
}

// ActivateTab marks a tab active (sidebar click or Cmd+N shortcut).
func (e *Engine) ActivateTab(siteID id.SiteID) bool {
	return e.sessions.Focus(siteID)
}

// SiteAdded implements whitelist.Listener: push the event, apply content
// rules to the new tab, resolve its icon.
func (e *Engine) SiteAdded(entry *types.SiteEntry) {
	e.hub.Broadcast(ws.NewEvent(ws.EventSiteAdded, entry))
	e.applyRules(e.active.Load(), entry.ID)
	e.resolveFaviconAsync(entry)
}

// SiteRemoved implements whitelist.Listener: cancel the in-flight favicon
// fetch and push the event.
func (e *Engine) SiteRemoved(siteID id.SiteID) {
	e.mu.Lock()
	if cancel, ok := e.faviconCancel[siteID]; ok {
		cancel()
		delete(e.faviconCancel, siteID)
	}
	e.mu.Unlock()
	e.hub.Broadcast(ws.NewEvent(ws.EventSiteRemoved, siteID))
}

func (e *Engine) onRuleSetSwapped(rs *filter.RuleSet) {
	e.applyRulesAll(rs)
	e.hub.Broadcast(ws.NewEvent(ws.EventFilterSwapped, rs.Stats()))
}

func (e *Engine) applyRulesAll(rs *filter.RuleSet) {
	for _, entry := range e.sites.List() {
		e.applyRules(rs, entry.ID)
	}
}

func (e *Engine) applyRules(rs *filter.RuleSet, siteID id.SiteID) {
	if rs.Len() == 0 {
		return
	}
	applied, err := e.blocker.Activate(rs, siteID)
	if err != nil {
		e.log.Warn("content rules not applied",
			zap.String("site_id", siteID.String()), zap.Error(err))
		return
	}
	if applied.Truncated {
		e.log.Info("content rules applied truncated",
			zap.String("site_id", siteID.String()),
			zap.Int("rules", applied.Rules),
			zap.Int("dropped", applied.Dropped))
	}
}

// resolveFaviconAsync fetches the site's icon in the background. The task is
// cancelled if the site is removed; a fetch completing after removal is
// discarded because the session no longer exists.
func (e *Engine) resolveFaviconAsync(entry *types.SiteEntry) {
	if e.runCtx == nil {
		return
	}

	ctx, cancel := context.WithTimeout(e.runCtx, 30*time.Second)
	e.mu.Lock()
	if prev, ok := e.faviconCancel[entry.ID]; ok {
		prev()
	}
	e.faviconCancel[entry.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		icon := e.favicons.Resolve(ctx, entry)

		e.mu.Lock()
		delete(e.faviconCancel, entry.ID)
		e.mu.Unlock()

		if s, ok := e.sessions.Session(entry.ID); ok {
			s.OnFaviconReceived(icon.Bytes, icon.Generated)
		}
	}()
}

func (e *Engine) cancelAllFavicons() {
	e.mu.Lock()
	for sid, cancel := range e.faviconCancel {
		cancel()
		delete(e.faviconCancel, sid)
	}
	e.mu.Unlock()
}

// unreadPollLoop periodically probes every loaded tab for its unread badge.
func (e *Engine) unreadPollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Session.UnreadPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollUnread(ctx)
		}
	}
}

func (e *Engine) pollUnread(ctx context.Context) {
	for _, snap := range e.sessions.Snapshots() {
		if snap.Phase != types.PhaseLoaded {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		value, known, err := e.renderer.QueryUnread(probeCtx, snap.SiteID)
		cancel()
		if err != nil {
			continue
		}

		if s, ok := e.sessions.Session(snap.SiteID); ok {
			s.OnUnreadSignal(value, known)
		}
	}
}

func (e *Engine) refreshForAPI(c *gin.Context) error {
	return e.refresher.Refresh(c.Request.Context())
}
