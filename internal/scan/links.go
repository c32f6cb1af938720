package scan

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks parses one HTML document and returns every hyperlink
// candidate with its resolved absolute URL and anchor text, plus the
// resolved src of every embedded iframe. It never fetches anything itself.
func ExtractLinks(baseURL, html string) ([]LinkCandidate, []string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing HTML: %w", err)
	}

	var candidates []LinkCandidate
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		resolved, ok := resolveHref(base, href)
		if !ok || resolved == baseURL {
			return
		}
		candidates = append(candidates, LinkCandidate{
			URL:  resolved,
			Text: cleanText(sel.Text()),
		})
	})

	var iframes []string
	doc.Find("iframe[src]").Each(func(i int, sel *goquery.Selection) {
		src := sel.AttrOr("src", "")
		resolved, ok := resolveHref(base, src)
		if !ok || resolved == baseURL {
			return
		}
		iframes = append(iframes, resolved)
	})

	return candidates, iframes, nil
}

// resolveHref resolves a raw href against the base URL. Resolution is
// deliberately conservative:
//   - absolute http(s) URLs pass through unchanged
//   - root-relative paths resolve against scheme+host
//   - scheme-relative and bare relative paths resolve against scheme+host+"/"
//   - parent-relative (..) paths are rejected to avoid traversal loops on
//     malformed sites
//   - fragments, javascript:, mailto:, tel: and other non-http schemes are
//     rejected
func resolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:", "ftp:", "file:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	if strings.Contains(href, "..") {
		return "", false
	}

	// Drop any fragment portion before resolving.
	if idx := strings.Index(href, "#"); idx >= 0 {
		href = href[:idx]
		if href == "" {
			return "", false
		}
	}

	origin := base.Scheme + "://" + base.Host

	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return href, true
	case strings.HasPrefix(href, "//"):
		return base.Scheme + ":" + href, true
	case strings.HasPrefix(href, "/"):
		return origin + href, true
	default:
		return origin + "/" + href, true
	}
}

// DiscoverLinks fetches a municipality's calendar page, extracts all link
// candidates, and folds in the links of every embedded iframe document.
// A failed iframe fetch is logged and skipped; a failed top-level fetch
// propagates, yielding zero candidates for the municipality.
func DiscoverLinks(ctx context.Context, fetcher Fetcher, calendarURL string) ([]LinkCandidate, error) {
	html, err := fetchHTML(ctx, fetcher, calendarURL)
	if err != nil {
		return nil, fmt.Errorf("fetching calendar page: %w", err)
	}

	candidates, iframes, err := ExtractLinks(calendarURL, html)
	if err != nil {
		return nil, err
	}

	for _, iframeURL := range iframes {
		iframeHTML, err := fetchHTML(ctx, fetcher, iframeURL)
		if err != nil {
			log.Printf("[scan] iframe fetch failed for %s: %v", iframeURL, err)
			continue
		}
		iframeLinks, _, err := ExtractLinks(iframeURL, iframeHTML)
		if err != nil {
			log.Printf("[scan] iframe parse failed for %s: %v", iframeURL, err)
			continue
		}
		candidates = append(candidates, iframeLinks...)
	}

	return candidates, nil
}

func fetchHTML(ctx context.Context, fetcher Fetcher, pageURL string) (string, error) {
	doc, err := fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer doc.Body.Close()

	body, err := io.ReadAll(doc.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(body), nil
}
