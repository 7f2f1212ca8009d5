package contentblock

import (
	"regexp"
	"strings"

	"github.com/sitedock/sitedock/internal/filter"
)

// webkitRule is one entry of the renderer's content-blocker JSON payload.
type webkitRule struct {
	Trigger webkitTrigger `json:"trigger"`
	Action  webkitAction  `json:"action"`
}

type webkitTrigger struct {
	URLFilter                string   `json:"url-filter"`
	URLFilterIsCaseSensitive *bool    `json:"url-filter-is-case-sensitive,omitempty"`
	ResourceType             []string `json:"resource-type,omitempty"`
	LoadType                 []string `json:"load-type,omitempty"`
	IfDomain                 []string `json:"if-domain,omitempty"`
	UnlessDomain             []string `json:"unless-domain,omitempty"`
}

type webkitAction struct {
	Type string `json:"type"`
}

const (
	actionBlock       = "block"
	actionIgnorePrior = "ignore-previous-rules"

	loadFirstParty = "first-party"
	loadThirdParty = "third-party"
)

// webkitResourceNames maps engine resource bits onto the renderer's
// resource-type vocabulary. XHR, websocket, ping and other all land on "raw".
var webkitResourceNames = []struct {
	bit  filter.Resource
	name string
}{
	{filter.ResScript, "script"},
	{filter.ResImage, "image"},
	{filter.ResStylesheet, "style-sheet"},
	{filter.ResFont, "font"},
	{filter.ResMedia, "media"},
	{filter.ResXHR, "raw"},
	{filter.ResSubdocument, "document"},
	{filter.ResDocument, "document"},
	{filter.ResWebsocket, "raw"},
	{filter.ResPing, "raw"},
	{filter.ResOther, "raw"},
}

// translateRule converts one compiled rule into the renderer's shape.
func translateRule(r *filter.Rule) webkitRule {
	out := webkitRule{
		Trigger: webkitTrigger{
			URLFilter: webkitURLFilter(r),
		},
		Action: webkitAction{Type: actionBlock},
	}
	if r.Exception {
		out.Action.Type = actionIgnorePrior
	}

	if r.MatchCase {
		v := true
		out.Trigger.URLFilterIsCaseSensitive = &v
	}

	if r.Resources != filter.ResAll {
		seen := map[string]bool{}
		for _, m := range webkitResourceNames {
			if r.Resources&m.bit != 0 && !seen[m.name] {
				seen[m.name] = true
				out.Trigger.ResourceType = append(out.Trigger.ResourceType, m.name)
			}
		}
	}

	if r.ThirdParty != nil {
		if *r.ThirdParty {
			out.Trigger.LoadType = []string{loadThirdParty}
		} else {
			out.Trigger.LoadType = []string{loadFirstParty}
		}
	}

	// The renderer's "*domain" form includes subdomains, which is what the
	// $domain= option means.
	for _, d := range r.IfDomains {
		out.Trigger.IfDomain = append(out.Trigger.IfDomain, "*"+d)
	}
	for _, d := range r.UnlessDomains {
		out.Trigger.UnlessDomain = append(out.Trigger.UnlessDomain, "*"+d)
	}

	return out
}

// webkitURLFilter builds the renderer's url-filter regex for a rule.
func webkitURLFilter(r *filter.Rule) string {
	if r.Kind == filter.KindRegex {
		return r.Pattern
	}

	pattern := r.Pattern
	var b strings.Builder

	switch {
	case strings.HasPrefix(pattern, "||"):
		b.WriteString(`^https?://([^/]+\.)?`)
		pattern = pattern[2:]
	case strings.HasPrefix(pattern, "|"):
		b.WriteString(`^`)
		pattern = pattern[1:]
	}

	endAnchor := false
	if strings.HasSuffix(pattern, "|") {
		endAnchor = true
		pattern = pattern[:len(pattern)-1]
	}

	for _, c := range pattern {
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '^':
			b.WriteString(`[^a-zA-Z0-9_.%-]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	if endAnchor {
		b.WriteString(`$`)
	}
	return b.String()
}
