package types

import (
	"time"

	"github.com/sitedock/sitedock/internal/shared/id"
)

// SiteEntry is one user-configured site bound to a persistent tab.
type SiteEntry struct {
	ID   id.SiteID `json:"id"`
	Name string    `json:"name"`
	// Pattern is the normalized host pattern: lowercase, trailing dot
	// stripped, no scheme. A leading "*." marks the entry
	// subdomain-inclusive.
	Pattern string `json:"pattern"`
	// Subdomains is true when subdomains of Pattern are in scope. Entries
	// are never implicitly subdomain-inclusive.
	Subdomains bool `json:"subdomains"`
	// Position is the sidebar ordinal (1-9); it also binds the Cmd+N
	// shortcut.
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Host returns the pattern without any wildcard prefix.
func (e *SiteEntry) Host() string {
	if len(e.Pattern) > 2 && e.Pattern[:2] == "*." {
		return e.Pattern[2:]
	}
	return e.Pattern
}

// MaxPosition is the highest sidebar ordinal; it mirrors the Cmd+1..Cmd+9
// shortcut range.
const MaxPosition = 9
