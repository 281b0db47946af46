package nintendo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sarayalth/nxapi/internal/domain"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ErrVersionNotFound is returned when the store listing has no recognisable version.
var ErrVersionNotFound = errors.New("app version not found in store listing")

// VersionResolver discovers the current NSO app version from its Play Store listing.
type VersionResolver struct {
	listingURL string
	http       *httpDoer
}

// NewVersionResolver creates a resolver for listingURL.
func NewVersionResolver(listingURL string, opts ClientOptions) *VersionResolver {
	return &VersionResolver{listingURL: listingURL, http: opts.doer()}
}

// Resolve fetches the listing and returns a version such as "2.0.0".
func (r *VersionResolver) Resolve(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.listingURL, nil)
	if err != nil {
		return "", fmt.Errorf("build listing request: %w", err)
	}
	resp, err := r.http.do(ctx, domain.StepService, req)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", upstreamError(domain.StepService, req, resp.Status, "", "store listing unavailable")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return "", fmt.Errorf("parse store listing: %w", err)
	}
	return versionFromDocument(doc)
}

// versionFromDocument looks for the "Current Version" value in the listing's
// additional-information cells.
func versionFromDocument(doc *goquery.Document) (string, error) {
	var version string
	doc.Find(".htlgb").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if versionPattern.MatchString(text) {
			version = text
			return false
		}
		return true
	})
	if version == "" {
		return "", ErrVersionNotFound
	}
	return version, nil
}
