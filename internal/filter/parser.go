package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// lineClass classifies one raw block-list line.
type lineClass int

const (
	lineRule lineClass = iota
	lineEmpty
	lineComment
	lineCosmetic
	lineMalformed
)

// parseLine parses a single block-list line into a rule. Cosmetic (element
// hiding) rules are recognized and ignored: this engine blocks network loads
// only.
func parseLine(raw string) (*Rule, lineClass) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil, lineEmpty
	}
	if strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
		return nil, lineComment
	}
	if strings.Contains(line, "##") || strings.Contains(line, "#@#") || strings.Contains(line, "#?#") {
		return nil, lineCosmetic
	}

	rule := &Rule{Resources: ResAll}

	if strings.HasPrefix(line, "@@") {
		rule.Exception = true
		line = line[2:]
		if line == "" {
			return nil, lineMalformed
		}
	}

	body := line

	// Raw regex rules carry no option suffix; for everything else the last
	// '$' separates pattern from options.
	if !(strings.HasPrefix(line, "/") && strings.HasSuffix(line, "/") && len(line) > 1) {
		if i := strings.LastIndexByte(line, '$'); i > 0 {
			body = line[:i]
			if err := parseOptions(line[i+1:], rule); err != nil {
				return nil, lineMalformed
			}
		}
	}

	if body == "" {
		return nil, lineMalformed
	}

	switch {
	case strings.HasPrefix(body, "/") && strings.HasSuffix(body, "/") && len(body) > 2:
		rule.Kind = KindRegex
		rule.Pattern = body[1 : len(body)-1]
	case strings.HasPrefix(body, "||"):
		rule.Kind = KindDomain
		rule.Pattern = body
		anchor := extractAnchor(body[2:])
		if anchor == "" {
			return nil, lineMalformed
		}
		rule.Anchor = anchor
	default:
		rule.Kind = KindPath
		rule.Pattern = body
	}

	if err := compileMatcher(rule); err != nil {
		return nil, lineMalformed
	}

	return rule, lineRule
}

// extractAnchor returns the domain anchor of a ||-rule body: the host part up
// to the first separator, wildcard, or path character.
func extractAnchor(rest string) string {
	end := strings.IndexAny(rest, "^/*|:")
	if end < 0 {
		end = len(rest)
	}
	anchor := strings.ToLower(rest[:end])
	if anchor == "" || !strings.Contains(anchor, ".") {
		return ""
	}
	for _, r := range anchor {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return ""
		}
	}
	return anchor
}

// parseOptions applies a $-option suffix to the rule. Unknown options make
// the whole line malformed; silently widening a rule's match surface would
// be worse than dropping it.
func parseOptions(opts string, rule *Rule) error {
	var include, exclude Resource

	for _, opt := range strings.Split(opts, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return fmt.Errorf("empty option")
		}

		switch {
		case opt == "third-party" || opt == "3p":
			v := true
			rule.ThirdParty = &v
		case opt == "~third-party" || opt == "~3p" || opt == "first-party" || opt == "1p":
			v := false
			rule.ThirdParty = &v
		case opt == "match-case":
			rule.MatchCase = true
		case opt == "important":
			// Accepted for compatibility; precedence here is fixed to
			// standard exception-over-block semantics.
		case strings.HasPrefix(opt, "domain="):
			if err := parseDomainOption(opt[len("domain="):], rule); err != nil {
				return err
			}
		case strings.HasPrefix(opt, "~"):
			res, ok := ParseResource(opt[1:])
			if !ok {
				return fmt.Errorf("unknown option %q", opt)
			}
			exclude |= res
		default:
			res, ok := ParseResource(opt)
			if !ok {
				return fmt.Errorf("unknown option %q", opt)
			}
			include |= res
		}
	}

	switch {
	case include != 0:
		rule.Resources = include
	case exclude != 0:
		rule.Resources = ResAll &^ exclude
	}
	return nil
}

func parseDomainOption(list string, rule *Rule) error {
	for _, d := range strings.Split(list, "|") {
		d = strings.TrimSpace(strings.ToLower(d))
		if d == "" {
			return fmt.Errorf("empty domain in $domain option")
		}
		if strings.HasPrefix(d, "~") {
			rule.UnlessDomains = append(rule.UnlessDomains, d[1:])
		} else {
			rule.IfDomains = append(rule.IfDomains, d)
		}
	}
	return nil
}

// compileMatcher builds the rule's URL matcher.
func compileMatcher(rule *Rule) error {
	var expr string
	switch rule.Kind {
	case KindRegex:
		expr = rule.Pattern
		if !rule.MatchCase {
			expr = "(?i)" + expr
		}
	default:
		body := rule.Pattern
		if !rule.MatchCase {
			// The URL is lowercased at match time; lowercase the pattern
			// body before translation so the two agree.
			body = strings.ToLower(body)
		}
		expr = translatePattern(body)
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	rule.re = re
	return nil
}

// translatePattern converts an ABP wildcard pattern into an anchored regular
// expression: "||" anchors at a host boundary, "|" at string edges, "*" is a
// wildcard, and "^" is the separator class.
func translatePattern(pattern string) string {
	var b strings.Builder

	switch {
	case strings.HasPrefix(pattern, "||"):
		b.WriteString(`^https?://([^/:]+\.)?`)
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

	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '^':
			b.WriteString(`([^a-zA-Z0-9_.%-]|$)`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	if endAnchor {
		b.WriteString(`$`)
	}
	return b.String()
}
