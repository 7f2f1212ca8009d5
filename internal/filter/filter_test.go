package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileCountsLineClasses(t *testing.T) {
	raw := `! comment line
[Adblock Plus 2.0]
example.com##.ad-banner
||ads.example.com^
not a valid rule $$ at all $unknownopt

@@||example.com/ads^`

	rs := Compile(raw, Options{})

	stats := rs.Stats()
	assert.Equal(t, 2, stats.CommentLines)
	assert.Equal(t, 1, stats.CosmeticLines)
	assert.Equal(t, 1, stats.SkippedLines)
	assert.Equal(t, 1, stats.Rules)
	assert.Equal(t, 1, stats.Exceptions)
	assert.Equal(t, 2, rs.Len())
}

func TestCompileMalformedLineDoesNotAbort(t *testing.T) {
	// One good rule, one malformed: the good rule survives, the bad one is
	// counted, and the compile as a whole succeeds.
	rs := Compile("||ads.example.com^\n||^", Options{})

	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, 1, rs.Stats().SkippedLines)
}

func TestCompileIdempotent(t *testing.T) {
	raw := `||ads.example.com^
@@||example.com/allowed^
/banner/*/track
bad rule $nonsense`

	a := Compile(raw, Options{})
	b := Compile(raw, Options{})

	assert.Equal(t, a.Len(), b.Len())
	assert.Equal(t, a.Stats().Rules, b.Stats().Rules)
	assert.Equal(t, a.Stats().Exceptions, b.Stats().Exceptions)
	assert.Equal(t, a.Stats().SkippedLines, b.Stats().SkippedLines)

	url := "https://ads.example.com/banner.js"
	assert.Equal(t, a.Match(url, ResScript, "example.com"), b.Match(url, ResScript, "example.com"))
}

func TestDomainAnchorMatching(t *testing.T) {
	rs := Compile("||ads.example.com^", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://ads.example.com/banner.png", ResImage, "example.com"))
	assert.Equal(t, ActionBlock, rs.Match("https://sub.ads.example.com/x.js", ResScript, "example.com"))
	assert.Equal(t, ActionNone, rs.Match("https://example.com/page", ResDocument, "example.com"))
	// A host that merely ends with the anchor text must not match.
	assert.Equal(t, ActionNone, rs.Match("https://notads.example.com.evil.net/x", ResScript, "example.com"))
}

func TestExceptionOverridesBlock(t *testing.T) {
	rs := Compile("||example.com/ads^\n@@||example.com/ads^", Options{})

	assert.Equal(t, ActionAllow, rs.Match("https://example.com/ads/banner", ResImage, "example.com"))
}

func TestExceptionOrderIndependent(t *testing.T) {
	forward := Compile("||example.com/ads^\n@@||example.com/ads^", Options{})
	reverse := Compile("@@||example.com/ads^\n||example.com/ads^", Options{})

	url := "https://example.com/ads/x.gif"
	assert.Equal(t, ActionAllow, forward.Match(url, ResImage, "example.com"))
	assert.Equal(t, ActionAllow, reverse.Match(url, ResImage, "example.com"))
}

func TestResourceOption(t *testing.T) {
	rs := Compile("||tracker.example.net^$script", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://tracker.example.net/t.js", ResScript, "example.com"))
	assert.Equal(t, ActionNone, rs.Match("https://tracker.example.net/t.png", ResImage, "example.com"))
}

func TestResourceExcludeOption(t *testing.T) {
	rs := Compile("||tracker.example.net^$~image", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://tracker.example.net/t.js", ResScript, "example.com"))
	assert.Equal(t, ActionNone, rs.Match("https://tracker.example.net/t.png", ResImage, "example.com"))
}

func TestThirdPartyOption(t *testing.T) {
	rs := Compile("||cdn.example.net^$third-party", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://cdn.example.net/lib.js", ResScript, "other.org"))
	assert.Equal(t, ActionNone, rs.Match("https://cdn.example.net/lib.js", ResScript, "cdn.example.net"))
	// A subdomain of the origin is first-party.
	assert.Equal(t, ActionNone, rs.Match("https://cdn.example.net/lib.js", ResScript, "example.net"))
}

func TestDomainOption(t *testing.T) {
	rs := Compile("||widget.example.net^$domain=news.example.org|~sports.news.example.org", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://widget.example.net/w.js", ResScript, "news.example.org"))
	assert.Equal(t, ActionBlock, rs.Match("https://widget.example.net/w.js", ResScript, "tech.news.example.org"))
	assert.Equal(t, ActionNone, rs.Match("https://widget.example.net/w.js", ResScript, "sports.news.example.org"))
	assert.Equal(t, ActionNone, rs.Match("https://widget.example.net/w.js", ResScript, "unrelated.org"))
}

func TestUnknownOptionSkipsLine(t *testing.T) {
	rs := Compile("||example.com^$rewrite=abp-resource:blank-js", Options{})

	assert.Equal(t, 0, rs.Len())
	assert.Equal(t, 1, rs.Stats().SkippedLines)
}

func TestPathPattern(t *testing.T) {
	rs := Compile("banner/*/ads", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://any.example.com/banner/728x90/ads/top.gif", ResImage, "example.com"))
	assert.Equal(t, ActionNone, rs.Match("https://any.example.com/banner/top.gif", ResImage, "example.com"))
}

func TestRegexRule(t *testing.T) {
	rs := Compile(`/ads?\.example\.(com|net)/`, Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://ad.example.com/x", ResImage, "example.org"))
	assert.Equal(t, ActionBlock, rs.Match("https://tracker.net/ads.example.net/y", ResImage, "example.org"))
	assert.Equal(t, ActionNone, rs.Match("https://example.org/clean", ResDocument, "example.org"))
}

func TestRegexRuleCaseInsensitiveByDefault(t *testing.T) {
	rs := Compile(`/TrackingPixel/`, Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://example.com/trackingpixel.gif", ResImage, "example.com"))
}

func TestRegexCap(t *testing.T) {
	raw := "/first/\n/second/\n/third/"
	rs := Compile(raw, Options{MaxRegexRules: 2})

	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, 1, rs.Stats().RegexDropped)
}

func TestInvalidRegexSkipped(t *testing.T) {
	rs := Compile(`/[unclosed/`, Options{})

	assert.Equal(t, 0, rs.Len())
	assert.Equal(t, 1, rs.Stats().SkippedLines)
}

func TestMatchCaseOption(t *testing.T) {
	rs := Compile("||example.com/AdServer^$match-case", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://example.com/AdServer/x", ResScript, "example.com"))
	assert.Equal(t, ActionNone, rs.Match("https://example.com/adserver/x", ResScript, "example.com"))
}

func TestSeparatorClass(t *testing.T) {
	rs := Compile("||example.com/path^", Options{})

	assert.Equal(t, ActionBlock, rs.Match("https://example.com/path?q=1", ResDocument, "example.com"))
	assert.Equal(t, ActionBlock, rs.Match("https://example.com/path", ResDocument, "example.com"))
	assert.Equal(t, ActionNone, rs.Match("https://example.com/pathology", ResDocument, "example.com"))
}

func TestAnchorIndexLimitsCandidates(t *testing.T) {
	rs := Compile("||ads.example.com^\n||tracker.other.net^\nglobalpattern", Options{})

	buckets := rs.AnchorBuckets()
	require.Contains(t, buckets, "ads.example.com")
	require.Contains(t, buckets, "tracker.other.net")
	require.Contains(t, buckets, "")
	assert.Len(t, buckets[""], 1)
}

func TestActiveSwap(t *testing.T) {
	active := NewActive()
	assert.Equal(t, 0, active.Load().Len())

	url := "https://ads.example.com/banner.js"
	assert.Equal(t, ActionNone, active.Load().Match(url, ResScript, "example.com"))

	// A reader holding the old snapshot is unaffected by the swap.
	old := active.Load()
	active.Swap(Compile("||ads.example.com^", Options{}))

	assert.Equal(t, ActionNone, old.Match(url, ResScript, "example.com"))
	assert.Equal(t, ActionBlock, active.Load().Match(url, ResScript, "example.com"))

	active.Swap(nil)
	assert.Equal(t, 1, active.Load().Len())
}

func TestEmptyExceptionBodyMalformed(t *testing.T) {
	rs := Compile("@@", Options{})

	assert.Equal(t, 0, rs.Len())
	assert.Equal(t, 1, rs.Stats().SkippedLines)
}
