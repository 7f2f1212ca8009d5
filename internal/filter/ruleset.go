// Package filter parses EasyList-style block lists into indexed, immutable
// rule sets and answers "should this network load be blocked" on the
// navigation hot path.
//
// A compile never fails as a whole: malformed lines are dropped and counted.
// The active set is replaced atomically; readers always see either the old
// or the new complete snapshot.
package filter

import (
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// Action is the outcome of matching one request against a rule set.
type Action int

const (
	// ActionNone means no rule matched; the load proceeds.
	ActionNone Action = iota
	// ActionBlock means a block rule matched and no exception overrode it.
	ActionBlock
	// ActionAllow means an exception rule matched; exceptions always
	// override block rules for the same request.
	ActionAllow
)

// CompileStats describes what one compile did with its input.
type CompileStats struct {
	TotalLines    int       `json:"total_lines"`
	Rules         int       `json:"rules"`
	Exceptions    int       `json:"exceptions"`
	SkippedLines  int       `json:"skipped_lines"`
	CosmeticLines int       `json:"cosmetic_lines"`
	CommentLines  int       `json:"comment_lines"`
	RegexDropped  int       `json:"regex_dropped"`
	CompiledAt    time.Time `json:"compiled_at"`
}

// Options bounds compilation.
type Options struct {
	// MaxRegexRules caps raw /re/ rules per set; rules beyond the cap are
	// dropped and counted in RegexDropped. Zero means no cap.
	MaxRegexRules int
}

// RuleSet is an immutable compiled snapshot of a block list. Do not mutate a
// set after Compile returns; swap a new one in via Active instead.
type RuleSet struct {
	rules []Rule
	// byAnchor indexes rule positions by their ||domain anchor so a match
	// walks only candidates sharing a host suffix, not the full set.
	byAnchor map[string][]int
	global   []int
	stats    CompileStats
}

// Compile parses raw block-list text into a rule set. Individual malformed
// lines are skipped and counted, never abort the whole compile.
func Compile(raw string, opts Options) *RuleSet {
	rs := &RuleSet{
		byAnchor: make(map[string][]int),
	}

	regexCount := 0
	for _, line := range strings.Split(raw, "\n") {
		rs.stats.TotalLines++

		rule, class := parseLine(line)
		switch class {
		case lineEmpty:
			continue
		case lineComment:
			rs.stats.CommentLines++
			continue
		case lineCosmetic:
			rs.stats.CosmeticLines++
			continue
		case lineMalformed:
			rs.stats.SkippedLines++
			continue
		}

		if rule.Kind == KindRegex {
			regexCount++
			if opts.MaxRegexRules > 0 && regexCount > opts.MaxRegexRules {
				rs.stats.RegexDropped++
				continue
			}
		}

		idx := len(rs.rules)
		rs.rules = append(rs.rules, *rule)
		if rule.Anchor != "" {
			rs.byAnchor[rule.Anchor] = append(rs.byAnchor[rule.Anchor], idx)
		} else {
			rs.global = append(rs.global, idx)
		}

		if rule.Exception {
			rs.stats.Exceptions++
		} else {
			rs.stats.Rules++
		}
	}

	rs.stats.CompiledAt = time.Now().UTC()
	return rs
}

// Match evaluates one network load. originHost is the host of the page that
// initiated the load; it drives $domain and third-party options.
func (rs *RuleSet) Match(rawURL string, res Resource, originHost string) Action {
	reqHost := hostOf(rawURL)
	if reqHost == "" {
		return ActionNone
	}
	originHost = strings.ToLower(originHost)
	thirdParty := !sameSite(reqHost, originHost)

	blocked := false
	for _, idx := range rs.candidates(reqHost) {
		r := &rs.rules[idx]
		if !r.appliesTo(res, originHost, thirdParty) {
			continue
		}
		if !r.matchesURL(rawURL) {
			continue
		}
		if r.Exception {
			return ActionAllow
		}
		blocked = true
	}

	if blocked {
		return ActionBlock
	}
	return ActionNone
}

// ShouldBlock reports whether the load must be cancelled.
func (rs *RuleSet) ShouldBlock(rawURL string, res Resource, originHost string) bool {
	return rs.Match(rawURL, res, originHost) == ActionBlock
}

// Stats returns the compile statistics for this set.
func (rs *RuleSet) Stats() CompileStats {
	return rs.stats
}

// Len returns the number of usable rules in the set.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Rules returns the compiled rules. The returned slice is shared; callers
// must treat it as read-only.
func (rs *RuleSet) Rules() []Rule {
	return rs.rules
}

// AnchorBuckets returns rule positions grouped by domain anchor, with the
// global bucket under "". Used by the content-block adapter for
// priority-ordered truncation.
func (rs *RuleSet) AnchorBuckets() map[string][]int {
	out := make(map[string][]int, len(rs.byAnchor)+1)
	for k, v := range rs.byAnchor {
		out[k] = v
	}
	if len(rs.global) > 0 {
		out[""] = rs.global
	}
	return out
}

// candidates returns the rule positions worth checking for a request host:
// every anchor bucket whose domain is a suffix of the host, plus globals.
func (rs *RuleSet) candidates(reqHost string) []int {
	out := rs.global

	host := reqHost
	for {
		if bucket, ok := rs.byAnchor[host]; ok {
			out = appendIdx(out, bucket)
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			break
		}
		host = host[dot+1:]
	}
	return out
}

func appendIdx(base, extra []int) []int {
	// base may alias rs.global; copy on first growth.
	out := make([]int, 0, len(base)+len(extra))
	out = append(out, base...)
	out = append(out, extra...)
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// sameSite reports whether two hosts belong to the same site: equal, or one
// is a subdomain of the other.
func sameSite(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

// Active holds the engine-wide rule set pointer. Swaps are atomic: a reader
// mid-navigation keeps the snapshot it loaded.
type Active struct {
	ptr atomic.Pointer[RuleSet]
}

// NewActive creates an active holder with an empty initial set.
func NewActive() *Active {
	a := &Active{}
	a.ptr.Store(Compile("", Options{}))
	return a
}

// Load returns the current rule set. Never nil.
func (a *Active) Load() *RuleSet {
	return a.ptr.Load()
}

// Swap installs a new rule set.
func (a *Active) Swap(rs *RuleSet) {
	if rs == nil {
		return
	}
	a.ptr.Store(rs)
}
