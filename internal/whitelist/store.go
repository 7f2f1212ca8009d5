// Package whitelist owns the user-curated list of sites the shell may
// navigate within. Host patterns are normalized and unique; matching is
// exact-first with explicit, never implicit, subdomain inclusion.
package whitelist

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/shared/id"
	"github.com/sitedock/sitedock/internal/shared/types"
	"github.com/sitedock/sitedock/internal/storage"
)

var (
	ErrDuplicatePattern = errors.New("pattern already configured")
	ErrInvalidPattern   = errors.New("invalid host pattern")
	ErrInvalidPosition  = errors.New("position out of range")
	ErrNotFound         = errors.New("site entry not found")
	// ErrPositionsFull is returned when all sidebar ordinals (1-9) are taken.
	ErrPositionsFull = errors.New("all sidebar positions in use")
)

// Listener receives whitelist mutations. Callbacks run outside the store
// lock, after the mutation has been persisted.
type Listener interface {
	SiteAdded(entry *types.SiteEntry)
	SiteRemoved(siteID id.SiteID)
}

// Store owns the ordered set of configured sites.
type Store struct {
	mu        sync.RWMutex
	entries   []*types.SiteEntry // sorted by Position
	records   *storage.Store
	log       *logging.Logger
	listeners []Listener
}

// NewStore creates a whitelist store, restoring persisted entries.
func NewStore(records *storage.Store, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNop()
	}

	s := &Store{
		records: records,
		log:     log,
	}

	if records != nil {
		if err := s.restore(); err != nil {
			return nil, fmt.Errorf("failed to restore whitelist: %w", err)
		}
	}

	return s, nil
}

// Subscribe registers a mutation listener.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Add validates and stores a new site entry.
func (s *Store) Add(pattern, name string) (*types.SiteEntry, error) {
	normalized, subdomains, err := NormalizePattern(pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()

	for _, e := range s.entries {
		if e.Pattern == normalized {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePattern, normalized)
		}
	}

	pos, ok := s.nextPositionLocked()
	if !ok {
		s.mu.Unlock()
		return nil, ErrPositionsFull
	}

	entry := &types.SiteEntry{
		ID:         id.NewSiteID(),
		Name:       name,
		Pattern:    normalized,
		Subdomains: subdomains,
		Position:   pos,
		CreatedAt:  time.Now().UTC(),
	}

	s.entries = append(s.entries, entry)
	s.sortLocked()

	if err := s.persistLocked(entry); err != nil {
		// Roll back the in-memory insert so store and disk agree.
		s.removeLocked(entry.ID)
		s.mu.Unlock()
		return nil, err
	}

	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.log.Info("site added",
		zap.String("site_id", entry.ID.String()),
		zap.String("pattern", entry.Pattern),
		zap.Int("position", entry.Position))

	for _, l := range listeners {
		l.SiteAdded(entry)
	}
	return entry, nil
}

// Remove deletes a site entry. The persisted tab session for the entry is
// removed by the session manager listener.
func (s *Store) Remove(siteID id.SiteID) error {
	s.mu.Lock()

	if _, ok := s.getLocked(siteID); !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	s.removeLocked(siteID)

	if s.records != nil {
		if err := s.records.Delete(storage.KindSite, siteID.String()); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.log.Info("site removed", zap.String("site_id", siteID.String()))

	for _, l := range listeners {
		l.SiteRemoved(siteID)
	}
	return nil
}

// Reorder moves an entry to a new sidebar position, shifting others.
func (s *Store) Reorder(siteID id.SiteID, newPosition int) error {
	if newPosition < 1 || newPosition > types.MaxPosition {
		return ErrInvalidPosition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.getLocked(siteID)
	if !ok {
		return ErrNotFound
	}
	if entry.Position == newPosition {
		return nil
	}

	old := entry.Position
	for _, e := range s.entries {
		switch {
		case e.ID == siteID:
			e.Position = newPosition
		case old < newPosition && e.Position > old && e.Position <= newPosition:
			e.Position--
		case old > newPosition && e.Position >= newPosition && e.Position < old:
			e.Position++
		}
	}
	s.sortLocked()

	for _, e := range s.entries {
		if err := s.persistLocked(e); err != nil {
			return err
		}
	}
	return nil
}

// List returns entries in sidebar order.
func (s *Store) List() []*types.SiteEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.SiteEntry, len(s.entries))
	for i, e := range s.entries {
		copied := *e
		out[i] = &copied
	}
	return out
}

// Get returns the entry with the given ID.
func (s *Store) Get(siteID id.SiteID) (*types.SiteEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.getLocked(siteID)
	if !ok {
		return nil, false
	}
	copied := *e
	return &copied, true
}

// MatchHost resolves a host to a configured entry: exact host first, then the
// longest-suffix match among subdomain-inclusive entries.
func (s *Store) MatchHost(host string) (*types.SiteEntry, bool) {
	host = normalizeHost(host)
	if host == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Host() == host {
			copied := *e
			return &copied, true
		}
	}

	var best *types.SiteEntry
	for _, e := range s.entries {
		if !e.Subdomains {
			continue
		}
		if matched, _ := doublestar.Match("*."+e.Host(), host); !matched {
			continue
		}
		if best == nil || len(e.Host()) > len(best.Host()) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	copied := *best
	return &copied, true
}

func (s *Store) restore() error {
	var loaded []*types.SiteEntry
	err := s.records.Each(storage.KindSite, func(key string, data []byte) error {
		var entry types.SiteEntry
		if err := unmarshalEntry(data, &entry); err != nil {
			// A corrupt record should not block startup.
			s.log.Warn("skipping corrupt site record", zap.String("key", key), zap.Error(err))
			return nil
		}
		loaded = append(loaded, &entry)
		return nil
	})
	if err != nil {
		return err
	}

	s.entries = loaded
	s.sortLocked()
	return nil
}

func (s *Store) persistLocked(entry *types.SiteEntry) error {
	if s.records == nil {
		return nil
	}
	return s.records.Put(storage.KindSite, entry.ID.String(), entry)
}

func (s *Store) getLocked(siteID id.SiteID) (*types.SiteEntry, bool) {
	for _, e := range s.entries {
		if e.ID == siteID {
			return e, true
		}
	}
	return nil, false
}

func (s *Store) removeLocked(siteID id.SiteID) {
	for i, e := range s.entries {
		if e.ID == siteID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	// Close the ordinal gap left by the removed entry.
	for i, e := range s.entries {
		e.Position = i + 1
	}
}

func (s *Store) nextPositionLocked() (int, bool) {
	if len(s.entries) >= types.MaxPosition {
		return 0, false
	}
	return len(s.entries) + 1, true
}

func (s *Store) sortLocked() {
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].Position < s.entries[j].Position
	})
}

func unmarshalEntry(data []byte, out *types.SiteEntry) error {
	return sonic.Unmarshal(data, out)
}

// NormalizePattern canonicalizes a user-supplied host pattern. It accepts an
// optional scheme, strips any path, lowercases, removes a trailing dot, and
// recognizes a leading "*." as the subdomain-inclusive marker.
func NormalizePattern(pattern string) (normalized string, subdomains bool, err error) {
	p := strings.TrimSpace(strings.ToLower(pattern))
	if p == "" {
		return "", false, ErrInvalidPattern
	}

	if strings.Contains(p, "://") {
		u, uerr := url.Parse(p)
		if uerr != nil || u.Host == "" {
			return "", false, fmt.Errorf("%w: %s", ErrInvalidPattern, pattern)
		}
		p = u.Host
	}
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}

	if strings.HasPrefix(p, "*.") {
		subdomains = true
		p = p[2:]
	}

	p = strings.TrimSuffix(p, ".")
	if !validHost(p) {
		return "", false, fmt.Errorf("%w: %s", ErrInvalidPattern, pattern)
	}

	if subdomains {
		return "*." + p, true, nil
	}
	return p, false, nil
}

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

func validHost(host string) bool {
	if host == "" || len(host) > 253 || !strings.Contains(host, ".") {
		return false
	}
	// doublestar rejects broken glob syntax; the char check rejects
	// everything that is not a hostname.
	if !doublestar.ValidatePattern(host) {
		return false
	}
	for _, r := range host {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return false
		}
	}
	return !strings.Contains(host, "..")
}
