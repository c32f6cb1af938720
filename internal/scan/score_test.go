package scan

import (
	"fmt"
	"testing"
	"time"
)

var scoreNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestScoreLink(t *testing.T) {
	tests := []struct {
		name      string
		haystack  string
		wantScore int
		wantDoc   bool
	}{
		{
			// agenda +4, council +2, 2026 +3, january +2, "january 15" +3,
			// document link +3, .pdf bonus +2
			name:      "dated council agenda pdf",
			haystack:  "https://town.ca/docs/council-agenda-january-15-2026.pdf council agenda january 15, 2026",
			wantScore: 19,
			wantDoc:   true,
		},
		{
			// meeting +2, council +2
			name:      "bare council meetings page",
			haystack:  "https://town.ca/meetings council",
			wantScore: 4,
			wantDoc:   false,
		},
		{
			// water +1, endpoint +3
			name:      "document endpoint with industry keyword",
			haystack:  "https://town.ca/showdocument?id=4 water",
			wantScore: 4,
			wantDoc:   true,
		},
		{
			// year window spans the current and prior two years only
			name:      "stale year contributes nothing",
			haystack:  "council meeting 2021",
			wantScore: 4,
			wantDoc:   false,
		},
		{
			name:      "prior year within window",
			haystack:  "council meeting 2024",
			wantScore: 7,
			wantDoc:   false,
		},
		{
			// document link +3, then the .pdf bonus +2 on a positive score
			name:      "pdf mention alone",
			haystack:  "download our brochure in .pdf format",
			wantScore: 5,
			wantDoc:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, isDoc := scoreLink(tt.haystack, scoreNow)
			if isDoc != tt.wantDoc {
				t.Fatalf("scoreLink(%q) isDoc = %v, want %v", tt.haystack, isDoc, tt.wantDoc)
			}
			if score != tt.wantScore {
				t.Fatalf("scoreLink(%q) = %d, want %d", tt.haystack, score, tt.wantScore)
			}
		})
	}
}

func TestScoreCandidates_ThresholdsByLinkShape(t *testing.T) {
	candidates := []LinkCandidate{
		// score 4 non-document: below the 6 threshold
		{URL: "https://town.ca/meetings", Text: "Council"},
		// score 4 document link: meets the 4 threshold
		{URL: "https://town.ca/showdocument?id=4", Text: "Water"},
	}

	docs := ScoreCandidates(candidates, "https://town.ca/calendar", scoreNow)
	if len(docs) != 1 {
		t.Fatalf("expected 1 accepted document, got %v", docs)
	}
	if docs[0].URL != "https://town.ca/showdocument?id=4" {
		t.Fatalf("wrong candidate accepted: %+v", docs[0])
	}
	if docs[0].Type != DocumentHTML {
		t.Fatalf("endpoint without .pdf should be HTML, got %s", docs[0].Type)
	}
}

func TestScoreCandidates_ExcludeKeywordsDropBeforeScoring(t *testing.T) {
	candidates := []LinkCandidate{
		{URL: "https://facebook.com/town/council-meeting-minutes-2026.pdf", Text: "Council Meeting Minutes 2026"},
		{URL: "https://town.ca/formcenter/agenda-request", Text: "Agenda Minutes Meeting Council 2026"},
	}

	if docs := ScoreCandidates(candidates, "https://town.ca/calendar", scoreNow); len(docs) != 0 {
		t.Fatalf("excluded candidates must never be accepted: %v", docs)
	}
}

func TestScoreCandidates_SkipsCalendarURLAndDuplicates(t *testing.T) {
	calendar := "https://town.ca/calendar"
	pdf := "https://town.ca/council-agenda-2026.pdf"
	candidates := []LinkCandidate{
		{URL: calendar, Text: "Council Meeting Agenda 2026"},
		{URL: pdf, Text: "Council Agenda"},
		{URL: pdf, Text: "Same document, second anchor"},
	}

	docs := ScoreCandidates(candidates, calendar, scoreNow)
	if len(docs) != 1 {
		t.Fatalf("expected single deduplicated document, got %v", docs)
	}
	if docs[0].Title != "Council Agenda" {
		t.Fatalf("first occurrence must win, got %+v", docs[0])
	}
}

func TestScoreCandidates_CapsAtFifty(t *testing.T) {
	var candidates []LinkCandidate
	for i := 0; i < 80; i++ {
		candidates = append(candidates, LinkCandidate{
			URL:  fmt.Sprintf("https://town.ca/agendacenter/viewfile/item/%d", i),
			Text: "Council Meeting Agenda January 15 2026",
		})
	}

	docs := ScoreCandidates(candidates, "https://town.ca/calendar", scoreNow)
	if len(docs) != maxMeetingDocuments {
		t.Fatalf("expected cap of %d documents, got %d", maxMeetingDocuments, len(docs))
	}
	// Discovery order preserved.
	if docs[0].URL != "https://town.ca/agendacenter/viewfile/item/0" {
		t.Fatalf("discovery order not preserved: %+v", docs[0])
	}
}

func TestInferDocumentType(t *testing.T) {
	tests := []struct {
		url  string
		want DocumentType
	}{
		{"https://town.ca/minutes.pdf", DocumentPDF},
		{"https://town.ca/minutes.PDF", DocumentPDF},
		{"https://town.ca/download?file=agenda.pdf", DocumentPDF},
		{"https://town.ca/agendacenter/viewfile/item/3", DocumentHTML},
	}
	for _, tt := range tests {
		if got := inferDocumentType(tt.url); got != tt.want {
			t.Fatalf("inferDocumentType(%q) = %s, want %s", tt.url, got, tt.want)
		}
	}
}
