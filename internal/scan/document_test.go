package scan

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestFetchText_HTML(t *testing.T) {
	body := `<html><head><style>body{}</style><script>var x=1;</script></head>
	<body><h1>Regular   Council Meeting</h1>
	<p>` + strings.Repeat("The council discussed the water treatment plant upgrade. ", 5) + `</p>
	</body></html>`

	fetcher := &fakeFetcher{pages: map[string]string{"https://town.ca/minutes": body}}
	df := &DocumentFetcher{Fetcher: fetcher}

	got := df.FetchText(context.Background(), Document{URL: "https://town.ca/minutes", Type: DocumentHTML})
	if !got.OK() {
		t.Fatalf("expected ok, got %s (%v)", got.Outcome, got.Err)
	}
	if strings.Contains(got.Text, "var x=1") {
		t.Fatal("script content leaked into text")
	}
	if !strings.HasPrefix(got.Text, "Regular Council Meeting") {
		t.Fatalf("whitespace not normalized: %q", got.Text[:40])
	}
}

func TestFetchText_InsufficientText(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://town.ca/stub": "<html><body><p>Page not found.</p></body></html>",
	}}
	df := &DocumentFetcher{Fetcher: fetcher}

	got := df.FetchText(context.Background(), Document{URL: "https://town.ca/stub", Type: DocumentHTML})
	if got.Outcome != DocInsufficient {
		t.Fatalf("expected insufficient, got %s", got.Outcome)
	}
	if got.OK() {
		t.Fatal("insufficient text must not be ok")
	}
}

func TestFetchText_FetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"https://town.ca/gone": fmt.Errorf("404"),
	}}
	df := &DocumentFetcher{Fetcher: fetcher}

	got := df.FetchText(context.Background(), Document{URL: "https://town.ca/gone", Type: DocumentHTML})
	if got.Outcome != DocFetchFailed {
		t.Fatalf("expected fetch_failed, got %s", got.Outcome)
	}
}

func TestFetchText_CorruptPDF(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://town.ca/minutes.pdf": "this is not a pdf",
	}}
	df := &DocumentFetcher{Fetcher: fetcher}

	got := df.FetchText(context.Background(), Document{URL: "https://town.ca/minutes.pdf", Type: DocumentPDF})
	if got.Outcome != DocParseFailed {
		t.Fatalf("expected parse_failed, got %s (%v)", got.Outcome, got.Err)
	}
	if got.Err == nil {
		t.Fatal("parse failure should carry the underlying error")
	}
}
