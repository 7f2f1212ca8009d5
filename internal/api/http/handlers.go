// Package http serves the loopback control API consumed by the settings UI
// and the sidebar: whitelist CRUD, session snapshots, filter status, and the
// event stream.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitedock/sitedock/internal/filter"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/navigation"
	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
	"github.com/sitedock/sitedock/internal/tabsession"
	"github.com/sitedock/sitedock/internal/whitelist"
)

// Handlers carries the collaborators behind the control API routes.
type Handlers struct {
	sites    *whitelist.Store
	sessions *tabsession.Manager
	engine   *navigation.Engine
	active   *filter.Active
	refresh  func(*gin.Context) error
	log      *logging.Logger
}

// NewHandlers creates the control API handlers.
func NewHandlers(
	sites *whitelist.Store,
	sessions *tabsession.Manager,
	engine *navigation.Engine,
	active *filter.Active,
	refresh func(*gin.Context) error,
	log *logging.Logger,
) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{
		sites:    sites,
		sessions: sessions,
		engine:   engine,
		active:   active,
		refresh:  refresh,
		log:      log,
	}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type addSiteRequest struct {
	Pattern string `json:"pattern" binding:"required"`
	Name    string `json:"name"`
}

// AddSite creates a whitelist entry. Validation errors surface synchronously
// to the settings UI.
func (h *Handlers) AddSite(c *gin.Context) {
	var req addSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.sites.Add(req.Pattern, req.Name)
	if err != nil {
		c.JSON(statusForWhitelistErr(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// ListSites returns entries in sidebar order.
func (h *Handlers) ListSites(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sites": h.sites.List()})
}

// RemoveSite deletes a whitelist entry.
func (h *Handlers) RemoveSite(c *gin.Context) {
	if err := h.sites.Remove(id.SiteID(c.Param("id"))); err != nil {
		c.JSON(statusForWhitelistErr(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderRequest struct {
	Position int `json:"position" binding:"required"`
}

// ReorderSite moves an entry to a new sidebar position.
func (h *Handlers) ReorderSite(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sites.Reorder(id.SiteID(c.Param("id")), req.Position); err != nil {
		c.JSON(statusForWhitelistErr(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// FocusSite activates a site's tab.
func (h *Handlers) FocusSite(c *gin.Context) {
	siteID := id.SiteID(c.Param("id"))
	if !h.sessions.Focus(siteID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSessions returns a snapshot of every tab session.
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.Snapshots()})
}

// GetSession returns one tab session.
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.sessions.Session(id.SiteID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// GetWindow returns the window geometry record.
func (h *Handlers) GetWindow(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.WindowState())
}

// PutWindow replaces the window geometry record.
func (h *Handlers) PutWindow(c *gin.Context) {
	var ws types.WindowState
	if err := c.ShouldBindJSON(&ws); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.sessions.SetWindowState(ws)
	c.Status(http.StatusNoContent)
}

type decideRequest struct {
	URL        string    `json:"url" binding:"required"`
	CurrentURL string    `json:"current_url"`
	SiteID     id.SiteID `json:"site_id"`
	IsRedirect bool      `json:"is_redirect"`
}

// Decide evaluates one navigation request on behalf of the renderer shim.
func (h *Handlers) Decide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var origin *types.SiteEntry
	if req.SiteID != "" {
		if entry, ok := h.sites.Get(req.SiteID); ok {
			origin = entry
		}
	}

	decision := h.engine.Decide(navigation.Request{
		URL:        req.URL,
		CurrentURL: req.CurrentURL,
		Origin:     origin,
		IsRedirect: req.IsRedirect,
	})
	c.JSON(http.StatusOK, gin.H{
		"verdict":      decision.Verdict,
		"allowed":      decision.Allowed(),
		"matched":      decision.Matched,
		"focus_target": decision.FocusTarget,
		"reason":       decision.Reason,
		"chain_id":     decision.ChainID,
	})
}

// FilterStatus reports the active rule set.
func (h *Handlers) FilterStatus(c *gin.Context) {
	rs := h.active.Load()
	c.JSON(http.StatusOK, gin.H{
		"rules": rs.Len(),
		"stats": rs.Stats(),
	})
}

// RefreshFilter triggers an on-demand filter list refresh.
func (h *Handlers) RefreshFilter(c *gin.Context) {
	if err := h.refresh(c); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	rs := h.active.Load()
	c.JSON(http.StatusOK, gin.H{"rules": rs.Len(), "stats": rs.Stats()})
}

func statusForWhitelistErr(err error) int {
	switch {
	case errors.Is(err, whitelist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, whitelist.ErrDuplicatePattern):
		return http.StatusConflict
	case errors.Is(err, whitelist.ErrInvalidPattern),
		errors.Is(err, whitelist.ErrInvalidPosition),
		errors.Is(err, whitelist.ErrPositionsFull):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
