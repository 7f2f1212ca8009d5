package navigation

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Heuristics recognizes federated-login endpoints. Classification is
// best-effort: the shapes below cover the common OAuth/SAML/OIDC flows, and
// deployments with unusual identity providers can override the whole set via
// a YAML file.
type Heuristics struct {
	// PathPrefixes match against the URL path.
	PathPrefixes []string `yaml:"path_prefixes"`
	// IdPDomains match the host exactly or as a parent domain.
	IdPDomains []string `yaml:"idp_domains"`
}

// DefaultHeuristics returns the compiled-in SSO endpoint shapes.
func DefaultHeuristics() *Heuristics {
	return &Heuristics{
		PathPrefixes: []string{
			"/oauth/authorize",
			"/oauth2/authorize",
			"/oauth2/v2.0/authorize",
			"/o/oauth2",
			"/login/oauth",
			"/signin/oauth",
			"/saml/",
			"/saml2/",
			"/sso/saml",
			"/idp/profile",
			"/adfs/ls",
			"/auth/realms",
		},
		IdPDomains: []string{
			"accounts.google.com",
			"login.microsoftonline.com",
			"login.live.com",
			"login.yahoo.com",
			"appleid.apple.com",
			"okta.com",
			"auth0.com",
			"onelogin.com",
			"duosecurity.com",
			"pingidentity.com",
		},
	}
}

// LoadHeuristics reads heuristics from a YAML file. An empty path returns the
// defaults; a file that provides only one section keeps the default for the
// other.
func LoadHeuristics(path string) (*Heuristics, error) {
	h := DefaultHeuristics()
	if path == "" {
		return h, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sso heuristics: %w", err)
	}

	var override Heuristics
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse sso heuristics: %w", err)
	}

	if len(override.PathPrefixes) > 0 {
		h.PathPrefixes = override.PathPrefixes
	}
	if len(override.IdPDomains) > 0 {
		h.IdPDomains = override.IdPDomains
	}
	return h, nil
}

// Matches reports whether the URL looks like a federated-login endpoint.
func (h *Heuristics) Matches(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, d := range h.IdPDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}

	path := strings.ToLower(u.EscapedPath())
	for _, p := range h.PathPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
