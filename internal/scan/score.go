package scan

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxMeetingDocuments caps the scorer's output. Pathological pages can carry
// thousands of links; callers treat this as a hard budget.
const maxMeetingDocuments = 50

// Keyword classes. Each class contributes once per candidate, checked as
// substring presence over lowercased(url + " " + anchor).
var (
	strongKeywords = []string{"agenda", "minute", "minutes"}

	meetingKeywords = []string{
		"meeting", "council", "committee", "session",
		"board", "commission", "regular", "special",
	}

	industryKeywords = []string{
		"public works", "water", "waste", "wastewater",
		"environment", "utilities", "infrastructure",
	}

	// Any hit drops the candidate unconditionally, before scoring.
	excludeKeywords = []string{
		"formcenter", "master-plan", "utility-fees", "fee-schedule",
		"privacy-policy", "terms-of-use", "sitemap", "accessibility",
		"staff-directory", "employment", "careers", "login", "subscribe",
		"newsletter", "facebook", "twitter", "instagram", "youtube",
		"linkedin", "translate",
	}

	monthNames = []string{
		"january", "february", "march", "april", "may", "june", "july",
		"august", "september", "october", "november", "december",
	}

	documentExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx"}

	// Known download/view endpoints and meeting-system page patterns.
	documentEndpoints = []string{
		"/download", "/viewfile", "/getfile", "/showdocument",
		"documentcenter", "agendacenter", "meetingdetail", "viewagenda",
		"viewminutes", "filestream", "weblink",
	}

	monthDayPattern = regexp.MustCompile(`(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}\b`)
)

// ScoreCandidates filters and ranks raw link candidates into at most 50
// meeting documents. Candidates matching an exclude keyword or equal to the
// calendar URL are dropped before scoring. Acceptance requires a score of at
// least 4 for structural document links, 6 otherwise: a document-shaped URL
// is a stronger independent signal than keyword co-occurrence and clears a
// lower bar. Output preserves discovery order; exact duplicate URLs keep the
// first occurrence.
func ScoreCandidates(candidates []LinkCandidate, calendarURL string, now time.Time) []Document {
	seen := make(map[string]bool, len(candidates))
	var docs []Document

	for _, c := range candidates {
		if len(docs) >= maxMeetingDocuments {
			break
		}
		if c.URL == calendarURL || seen[c.URL] {
			continue
		}

		haystack := strings.ToLower(c.URL + " " + c.Text)
		if containsAny(haystack, excludeKeywords) {
			continue
		}

		score, isDocumentLink := scoreLink(haystack, now)

		threshold := 6
		if isDocumentLink {
			threshold = 4
		}
		if score < threshold {
			continue
		}

		seen[c.URL] = true
		docs = append(docs, Document{
			URL:   c.URL,
			Type:  inferDocumentType(c.URL),
			Title: c.Text,
			Score: score,
		})
	}

	return docs
}

func scoreLink(haystack string, now time.Time) (int, bool) {
	score := 0

	for _, kw := range strongKeywords {
		if strings.Contains(haystack, kw) {
			score += 4
		}
	}
	for _, kw := range meetingKeywords {
		if strings.Contains(haystack, kw) {
			score += 2
		}
	}
	for _, kw := range industryKeywords {
		if strings.Contains(haystack, kw) {
			score++
		}
	}

	// Recent year token: current year or either of the prior two.
	for offset := 0; offset <= 2; offset++ {
		if strings.Contains(haystack, strconv.Itoa(now.Year()-offset)) {
			score += 3
			break
		}
	}

	for _, month := range monthNames {
		if strings.Contains(haystack, month) {
			score += 2
			break
		}
	}

	if monthDayPattern.MatchString(haystack) {
		score += 3
	}

	isDocumentLink := looksLikeDocumentLink(haystack)
	if isDocumentLink {
		score += 3
	}

	if score > 0 && strings.Contains(haystack, ".pdf") {
		score += 2
	}

	return score, isDocumentLink
}

func looksLikeDocumentLink(haystack string) bool {
	for _, ext := range documentExtensions {
		if strings.Contains(haystack, ext) {
			return true
		}
	}
	for _, endpoint := range documentEndpoints {
		if strings.Contains(haystack, endpoint) {
			return true
		}
	}
	if idx := strings.Index(haystack, "?"); idx >= 0 && strings.Contains(haystack[idx:], "id=") {
		return true
	}
	return false
}

func inferDocumentType(rawURL string) DocumentType {
	lower := strings.ToLower(rawURL)
	if idx := strings.Index(lower, "?"); idx >= 0 {
		lower = lower[:idx]
	}
	if strings.HasSuffix(lower, ".pdf") {
		return DocumentPDF
	}
	if strings.Contains(strings.ToLower(rawURL), ".pdf") {
		return DocumentPDF
	}
	return DocumentHTML
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
