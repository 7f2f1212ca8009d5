package filter

import (
	"regexp"
	"strings"
)

// Resource is a bitmask of network resource types a rule applies to.
type Resource uint16

const (
	ResScript Resource = 1 << iota
	ResImage
	ResStylesheet
	ResFont
	ResMedia
	ResXHR
	ResSubdocument
	ResDocument
	ResWebsocket
	ResPing
	ResOther

	// ResAll matches every resource type.
	ResAll Resource = 1<<11 - 1
)

var resourceNames = map[string]Resource{
	"script":         ResScript,
	"image":          ResImage,
	"stylesheet":     ResStylesheet,
	"font":           ResFont,
	"media":          ResMedia,
	"xmlhttprequest": ResXHR,
	"subdocument":    ResSubdocument,
	"document":       ResDocument,
	"websocket":      ResWebsocket,
	"ping":           ResPing,
	"other":          ResOther,
	"object":         ResOther,
}

// ParseResource maps a filter option name to its resource bit.
func ParseResource(name string) (Resource, bool) {
	r, ok := resourceNames[strings.ToLower(name)]
	return r, ok
}

// String returns the canonical name of a single resource bit, or "any".
func (r Resource) String() string {
	for name, bit := range resourceNames {
		if r == bit && name != "object" {
			return name
		}
	}
	return "any"
}

// Kind distinguishes the matching strategy required for a rule.
type Kind int

const (
	// KindDomain rules carry a ||domain^ anchor and match the request host
	// plus an optional path remainder.
	KindDomain Kind = iota
	// KindPath rules are unanchored substring/wildcard patterns.
	KindPath
	// KindRegex rules carry a raw /re/ body.
	KindRegex
)

// Rule is one compiled network rule.
type Rule struct {
	Kind      Kind
	Exception bool
	// Pattern is the original pattern body, kept for diagnostics and for
	// the content-block adapter's payload translation.
	Pattern string
	// Anchor is the domain anchor for KindDomain rules, "" otherwise.
	Anchor    string
	Resources Resource
	// ThirdParty restricts the rule to cross-origin (true) or same-origin
	// (false) loads; nil applies to both.
	ThirdParty *bool
	// IfDomains / UnlessDomains restrict the rule by the originating
	// page's domain ($domain= option).
	IfDomains     []string
	UnlessDomains []string
	MatchCase     bool

	re *regexp.Regexp
}

// matchesURL reports whether the rule's pattern matches the request URL.
func (r *Rule) matchesURL(rawURL string) bool {
	if r.re == nil {
		return false
	}
	if !r.MatchCase {
		rawURL = strings.ToLower(rawURL)
	}
	return r.re.MatchString(rawURL)
}

// appliesTo reports whether the rule's option constraints accept the load.
func (r *Rule) appliesTo(res Resource, originDomain string, thirdParty bool) bool {
	if r.Resources&res == 0 {
		return false
	}
	if r.ThirdParty != nil && *r.ThirdParty != thirdParty {
		return false
	}
	if len(r.IfDomains) > 0 && !domainListMatches(r.IfDomains, originDomain) {
		return false
	}
	if len(r.UnlessDomains) > 0 && domainListMatches(r.UnlessDomains, originDomain) {
		return false
	}
	return true
}

func domainListMatches(domains []string, origin string) bool {
	for _, d := range domains {
		if origin == d || strings.HasSuffix(origin, "."+d) {
			return true
		}
	}
	return false
}
