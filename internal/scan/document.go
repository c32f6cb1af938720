package scan

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// minDocumentChars is the data-quality gate: documents yielding less text
// than this are skipped, not treated as errors.
const minDocumentChars = 100

// DocOutcome classifies a document-normalization attempt so callers can
// distinguish "no data, expected" from an unexpected failure without
// re-inspecting errors.
type DocOutcome string

const (
	DocOK           DocOutcome = "ok"
	DocFetchFailed  DocOutcome = "fetch_failed"
	DocParseFailed  DocOutcome = "parse_failed"
	DocInsufficient DocOutcome = "insufficient"
)

// DocumentText is the typed result of fetching and normalizing one meeting
// document. Err is informational; it never propagates past this boundary.
type DocumentText struct {
	Outcome DocOutcome
	Text    string
	Err     error
}

// OK reports whether the document produced usable text.
func (d DocumentText) OK() bool { return d.Outcome == DocOK }

// DocumentFetcher retrieves a meeting document and normalizes it to plain
// text.
type DocumentFetcher struct {
	Fetcher Fetcher
}

// FetchText fetches one document and normalizes HTML or PDF content to
// plain text. All failures are folded into the returned DocumentText.
func (f *DocumentFetcher) FetchText(ctx context.Context, doc Document) DocumentText {
	fetched, err := f.Fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		return DocumentText{Outcome: DocFetchFailed, Err: err}
	}
	defer fetched.Body.Close()

	body, err := io.ReadAll(fetched.Body)
	if err != nil {
		return DocumentText{Outcome: DocFetchFailed, Err: fmt.Errorf("reading body: %w", err)}
	}

	var text string
	switch doc.Type {
	case DocumentPDF:
		text, err = extractPDFText(body)
		if err != nil {
			return DocumentText{Outcome: DocParseFailed, Err: err}
		}
	default:
		text = htmlToText(string(body))
	}

	text = cleanText(text)
	if len(text) < minDocumentChars {
		return DocumentText{Outcome: DocInsufficient, Text: text}
	}

	return DocumentText{Outcome: DocOK, Text: text}
}

// htmlToText strips script/style blocks and all remaining markup, collapsing
// whitespace.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript").Remove()
	return cleanText(doc.Text())
}
