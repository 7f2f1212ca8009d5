// Package navigation implements the policy engine deciding, for every
// outgoing or redirected navigation, whether it stays in the originating tab,
// rides an SSO redirect chain, focuses another configured tab, or is handed
// to the system default browser.
//
// Decide is on the critical path of every page load: it is synchronous, does
// no I/O, and keeps no state beyond a small bounded redirect-chain record.
package navigation

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/infrastructure/monitoring"
	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
	"github.com/sitedock/sitedock/internal/whitelist"
)

// Request describes one navigation to evaluate.
type Request struct {
	// URL is the navigation target.
	URL string
	// CurrentURL is the document currently shown in the originating tab,
	// used to recognize same-document (hash-only) navigations.
	CurrentURL string
	// Origin is the configured site owning the originating tab.
	Origin *types.SiteEntry
	// IsRedirect marks a server/client redirect hop of a previously allowed
	// request, as opposed to a fresh top-level navigation.
	IsRedirect bool
}

// Engine evaluates navigation requests against the whitelist and the SSO
// heuristics.
type Engine struct {
	sites   *whitelist.Store
	heur    *Heuristics
	metrics *monitoring.Metrics
	log     *logging.Logger

	mu     sync.Mutex
	chains *chainRing
}

// NewEngine creates a policy engine.
func NewEngine(
	sites *whitelist.Store,
	cfg config.NavigationConfig,
	metrics *monitoring.Metrics,
	log *logging.Logger,
) (*Engine, error) {
	if log == nil {
		log = logging.NewNop()
	}

	heur, err := LoadHeuristics(cfg.SSOHeuristicsPath)
	if err != nil {
		return nil, err
	}

	capacity := cfg.ChainCapacity
	if capacity <= 0 {
		capacity = 32
	}

	return &Engine{
		sites:   sites,
		heur:    heur,
		metrics: metrics,
		log:     log,
		chains:  newChainRing(capacity),
	}, nil
}

// Decide evaluates one navigation request. It never returns an error: an
// unparseable or ambiguous target resolves to the safest verdict,
// out-of-scope.
func (e *Engine) Decide(req Request) types.NavigationDecision {
	start := time.Now()
	d := e.decide(req)
	e.metrics.DecisionSeconds.Observe(time.Since(start).Seconds())
	e.metrics.DecisionsTotal.WithLabelValues(string(d.Verdict)).Inc()

	e.log.Debug("navigation decided",
		zap.String("url", req.URL),
		zap.String("verdict", string(d.Verdict)),
		zap.String("reason", d.Reason),
		zap.String("chain_id", d.ChainID))
	return d
}

func (e *Engine) decide(req Request) types.NavigationDecision {
	target, err := url.Parse(req.URL)
	if err != nil || target.Hostname() == "" {
		return types.NavigationDecision{
			Verdict: types.VerdictOutOfScope,
			Reason:  "unparseable target",
			ChainID: id.NewNavID().String(),
		}
	}
	host := strings.ToLower(target.Hostname())

	if req.Origin != nil && sameDocument(req.CurrentURL, req.URL) {
		return types.NavigationDecision{
			Verdict: types.VerdictInScope,
			Matched: req.Origin,
			Reason:  "same-document navigation",
			ChainID: e.chainFor(req),
		}
	}

	chainID := e.chainFor(req)

	// Rule 1: the target stays on the tab's own site. This check runs first
	// on every hop, so an SSO chain that lands back on the originating host
	// resolves in-scope again without special casing.
	if req.Origin != nil && hostMatchesEntry(host, req.Origin) {
		return types.NavigationDecision{
			Verdict: types.VerdictInScope,
			Matched: req.Origin,
			Reason:  "host matches originating site",
			ChainID: chainID,
		}
	}

	// Rule 2: redirect hops through known federated-login endpoints stay
	// in-tab without re-homing the tab's identity.
	if req.IsRedirect && e.heur.Matches(target) {
		e.markSSO(chainID, host)
		return types.NavigationDecision{
			Verdict: types.VerdictSSOPassthrough,
			Reason:  "sso redirect hop",
			ChainID: chainID,
		}
	}

	// Rule 3: the target belongs to another configured site; focus that tab
	// instead of duplicating it here.
	if other, ok := e.sites.MatchHost(host); ok {
		if req.Origin == nil || other.ID != req.Origin.ID {
			e.metrics.FocusSwitches.Inc()
			return types.NavigationDecision{
				Verdict:     types.VerdictFocusSwitch,
				FocusTarget: other,
				Reason:      "target belongs to another configured site",
				ChainID:     chainID,
			}
		}
	}

	// Rule 4: everything else leaves the shell.
	return types.NavigationDecision{
		Verdict: types.VerdictOutOfScope,
		Reason:  "host matches no configured site",
		ChainID: chainID,
	}
}

// chainFor returns the chain ID for the request: redirect hops continue the
// originating tab's most recent chain, fresh navigations start a new one.
func (e *Engine) chainFor(req Request) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var siteID id.SiteID
	if req.Origin != nil {
		siteID = req.Origin.ID
	}

	if req.IsRedirect {
		if c := e.chains.find(siteID); c != nil {
			c.hops++
			return c.chainID
		}
	}

	chainID := id.NewNavID().String()
	e.chains.push(chainEntry{chainID: chainID, siteID: siteID, hops: 1})
	return chainID
}

func (e *Engine) markSSO(chainID, host string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.chains.findByID(chainID); c != nil {
		c.sso = true
		c.lastHost = host
	}
}

func hostMatchesEntry(host string, entry *types.SiteEntry) bool {
	apex := entry.Host()
	if host == apex {
		return true
	}
	return entry.Subdomains && strings.HasSuffix(host, "."+apex)
}

// sameDocument reports whether next differs from current only in its
// fragment.
func sameDocument(current, next string) bool {
	if current == "" {
		return false
	}
	cu, err := url.Parse(current)
	if err != nil {
		return false
	}
	nu, err := url.Parse(next)
	if err != nil {
		return false
	}
	if nu.Fragment == "" && cu.Fragment == "" {
		return false
	}
	cu.Fragment = ""
	nu.Fragment = ""
	return cu.String() == nu.String()
}

// chainEntry records one in-flight navigation chain.
type chainEntry struct {
	chainID  string
	siteID   id.SiteID
	lastHost string
	sso      bool
	hops     int
}

// chainRing is a fixed-capacity record of recent navigation chains, oldest
// evicted first. Callers hold the engine mutex.
type chainRing struct {
	entries []chainEntry
	next    int
	filled  bool
}

func newChainRing(capacity int) *chainRing {
	return &chainRing{entries: make([]chainEntry, capacity)}
}

func (r *chainRing) push(c chainEntry) {
	r.entries[r.next] = c
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.filled = true
	}
}

// find returns the most recently pushed chain for a site.
func (r *chainRing) find(siteID id.SiteID) *chainEntry {
	n := r.len()
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		if r.entries[idx].siteID == siteID {
			return &r.entries[idx]
		}
	}
	return nil
}

func (r *chainRing) findByID(chainID string) *chainEntry {
	n := r.len()
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		if r.entries[idx].chainID == chainID {
			return &r.entries[idx]
		}
	}
	return nil
}

func (r *chainRing) len() int {
	if r.filled {
		return len(r.entries)
	}
	return r.next
}
