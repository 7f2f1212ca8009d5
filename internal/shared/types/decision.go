package types

// Verdict classifies a navigation target.
type Verdict string

const (
	// VerdictInScope keeps the navigation inside the originating tab.
	VerdictInScope Verdict = "in-scope"
	// VerdictOutOfScope hands the URL to the system default browser.
	VerdictOutOfScope Verdict = "out-of-scope"
	// VerdictSSOPassthrough keeps a federated-login redirect hop in-tab
	// despite the host not matching the whitelist.
	VerdictSSOPassthrough Verdict = "sso-passthrough"
	// VerdictFocusSwitch cancels the load here and focuses the tab of the
	// configured site the target belongs to.
	VerdictFocusSwitch Verdict = "focus-switch"
)

// NavigationDecision is the ephemeral result of evaluating one navigation
// request. It is produced per request and never persisted.
type NavigationDecision struct {
	Verdict Verdict
	// Matched is the whitelist entry the target resolved to, nil for
	// out-of-scope and sso-passthrough verdicts.
	Matched *SiteEntry
	// FocusTarget is set when the target belongs to a different configured
	// site: the shell should focus that tab instead of loading here.
	FocusTarget *SiteEntry
	Reason      string
	// ChainID correlates all hops of one redirect chain in logs.
	ChainID string
}

// Allowed reports whether the load may proceed in the originating tab.
func (d NavigationDecision) Allowed() bool {
	return d.Verdict == VerdictInScope || d.Verdict == VerdictSSOPassthrough
}
