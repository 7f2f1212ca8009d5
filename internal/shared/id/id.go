// Package id provides centralized ID generation for the engine.
//
// IDs are prefixed ULIDs (site_*, nav_*): lexicographically sortable, safe to
// use as record-store keys, and readable in logs. Separate types keep a
// SiteID from ever being handed where a NavID is expected.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SiteID identifies a configured site entry.
type SiteID string

// NavID identifies an in-flight navigation chain.
type NavID string

const (
	SitePrefix = "site"
	NavPrefix  = "nav"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSiteID generates a new site entry ID.
func NewSiteID() SiteID {
	return SiteID(Default().GenerateWithPrefix(SitePrefix))
}

// NewNavID generates a new navigation chain ID.
func NewNavID() NavID {
	return NavID(Default().GenerateWithPrefix(NavPrefix))
}

func (id SiteID) String() string { return string(id) }
func (id NavID) String() string  { return string(id) }

// IsValid checks if an ID carries the given prefix and a parseable ULID.
func IsValid(s, prefix string) bool {
	rest, ok := cutPrefix(s, prefix+"_")
	if !ok {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return s, false
	}
	return s[len(prefix):], true
}
