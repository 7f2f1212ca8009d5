// Package favicon resolves sidebar icons for configured sites. Resolution
// never fails outward: a direct /favicon.ico fetch, then HTML <link rel>
// discovery, then a deterministic generated fallback so the sidebar never
// shows a blank slot.
package favicon

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/fetch"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/infrastructure/monitoring"
	"github.com/sitedock/sitedock/internal/shared/types"
)

// maxIconBytes bounds what we accept as an icon.
const maxIconBytes = 1 << 20

// Icon is a resolved sidebar icon.
type Icon struct {
	Bytes []byte
	// Generated marks the deterministic fallback rather than a fetched
	// image.
	Generated   bool
	ContentType string
}

// Resolver fetches site icons.
type Resolver struct {
	client  *fetch.Client
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewResolver creates a favicon resolver.
func NewResolver(client *fetch.Client, metrics *monitoring.Metrics, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.NewNop()
	}
	return &Resolver{client: client, metrics: metrics, log: log}
}

// Resolve returns an icon for the site. Any fetch failure falls back to the
// generated icon; the only way to observe ctx cancellation is that the
// fallback comes back sooner.
func (r *Resolver) Resolve(ctx context.Context, entry *types.SiteEntry) Icon {
	host := entry.Host()

	if icon, ok := r.fetchDirect(ctx, host); ok {
		r.metrics.FaviconFetches.WithLabelValues("direct").Inc()
		return icon
	}
	if icon, ok := r.fetchDiscovered(ctx, host); ok {
		r.metrics.FaviconFetches.WithLabelValues("discovered").Inc()
		return icon
	}

	r.metrics.FaviconFetches.WithLabelValues("fallback").Inc()
	r.metrics.FaviconFallbacks.Inc()
	r.log.Debug("serving generated favicon", zap.String("host", host))
	return Icon{
		Bytes:       Generate(entry),
		Generated:   true,
		ContentType: "image/png",
	}
}

// fetchDirect tries the conventional /favicon.ico location.
func (r *Resolver) fetchDirect(ctx context.Context, host string) (Icon, bool) {
	return r.fetchIcon(ctx, fmt.Sprintf("https://%s/favicon.ico", host))
}

// fetchDiscovered loads the site's root document and follows its icon links.
func (r *Resolver) fetchDiscovered(ctx context.Context, host string) (Icon, bool) {
	return r.discoverFrom(ctx, fmt.Sprintf("https://%s/", host))
}

// discoverFrom parses the document at base and tries each <link rel=icon>
// candidate in order.
func (r *Resolver) discoverFrom(ctx context.Context, base string) (Icon, bool) {
	body, err := r.get(ctx, base)
	if err != nil {
		return Icon{}, false
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Icon{}, false
	}

	var hrefs []string
	doc.Find("link[rel]").Each(func(_ int, sel *goquery.Selection) {
		rel, _ := sel.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "icon") {
			return
		}
		if href, ok := sel.Attr("href"); ok && href != "" {
			hrefs = append(hrefs, href)
		}
	})

	baseURL, err := url.Parse(base)
	if err != nil {
		return Icon{}, false
	}
	for _, href := range hrefs {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		if icon, ok := r.fetchIcon(ctx, baseURL.ResolveReference(ref).String()); ok {
			return icon, true
		}
	}
	return Icon{}, false
}

// fetchIcon fetches one candidate URL and sniffs that it is really an image.
func (r *Resolver) fetchIcon(ctx context.Context, rawURL string) (Icon, bool) {
	body, err := r.get(ctx, rawURL)
	if err != nil || len(body) == 0 || len(body) > maxIconBytes {
		return Icon{}, false
	}

	mtype := mimetype.Detect(body)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return Icon{}, false
	}

	return Icon{Bytes: body, ContentType: mtype.String()}, true
}

func (r *Resolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := r.client.Request(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Execute(func() (*resty.Response, error) {
		return req.Get(rawURL)
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("status %d fetching %s", resp.StatusCode(), rawURL)
	}
	return resp.Body(), nil
}
