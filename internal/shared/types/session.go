package types

import (
	"time"

	"github.com/sitedock/sitedock/internal/shared/id"
)

// LoadPhase is the lifecycle state of a tab's page load.
type LoadPhase string

const (
	PhaseIdle    LoadPhase = "idle"
	PhaseLoading LoadPhase = "loading"
	PhaseLoaded  LoadPhase = "loaded"
	PhaseFailed  LoadPhase = "failed"
)

// TabSession is the persisted runtime state for one configured site's tab.
type TabSession struct {
	SiteID     id.SiteID `json:"site_id"`
	CurrentURL string    `json:"current_url"`
	Phase      LoadPhase `json:"phase"`
	// Favicon holds the raw image bytes; FaviconGenerated marks the
	// deterministic fallback icon rather than a fetched one.
	Favicon          []byte `json:"favicon,omitempty"`
	FaviconGenerated bool   `json:"favicon_generated"`
	// Unread is the badge value when known. UnreadKnown distinguishes
	// "zero unread" from "no signal observed yet".
	Unread      int       `json:"unread"`
	UnreadKnown bool      `json:"unread_known"`
	LastActive  time.Time `json:"last_active"`
}

// WindowState is the single process-wide window geometry record.
type WindowState struct {
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	X              int       `json:"x"`
	Y              int       `json:"y"`
	LastActiveSite id.SiteID `json:"last_active_site"`
}
