package scan

import (
	"context"
	"io"
	"time"

	"github.com/civicscan/municipal-scanner/internal/models"
	"github.com/google/uuid"
)

// DocumentType classifies how a discovered meeting document is normalized.
type DocumentType string

const (
	DocumentHTML DocumentType = "html"
	DocumentPDF  DocumentType = "pdf"
)

// Document is one discovered agenda/minutes candidate. Ephemeral: produced
// by the scorer per scan and consumed immediately by the document fetcher.
type Document struct {
	URL   string
	Type  DocumentType
	Title string // anchor text, may be empty
	Score int
}

// LinkCandidate is a resolved hyperlink with its nearby anchor text, before
// relevance scoring.
type LinkCandidate struct {
	URL  string
	Text string
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// Extractor turns normalized document text into validated opportunities.
// Implemented by ai.Engine; faked in tests.
type Extractor interface {
	Extract(ctx context.Context, text, municipalityName, province string) ([]models.ExtractedOpportunity, error)
}

// Store is the persistence boundary the scan pipeline depends on. The
// concrete implementation lives in internal/db.
type Store interface {
	ListScanTargets(ctx context.Context, province string, limit int, retryFailed bool) ([]models.Municipality, error)
	UpdateMunicipalityScan(ctx context.Context, id uuid.UUID, upd models.ScanStatusUpdate) error
	FindOrCreateOrganization(ctx context.Context, name, jurisdiction, country string) (*models.Organization, error)
	GetRFPByTitle(ctx context.Context, orgID uuid.UUID, title string) (*models.RFP, error)
	CreateRFP(ctx context.Context, rfp *models.RFP) error
	AddRFPMentions(ctx context.Context, id uuid.UUID, mentions int, lastMentioned string, meetingURLs []string) error
}

// ScanResult is one municipality's outcome for a single run.
type ScanResult struct {
	MunicipalityID    uuid.UUID
	Name              string
	Province          string
	Status            string // success, failed, no_minutes
	DocumentsFetched  int
	OpportunitiesSeen int
	RFPsCreated       int
	RFPsUpdated       int
	Error             string
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Terminal statuses for a ScanResult.
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultNoMinutes = "no_minutes"
)

// ScanSummary aggregates a whole batch.
type ScanSummary struct {
	Results           []ScanResult
	Municipalities    int
	Succeeded         int
	Failed            int
	NoMinutes         int
	DocumentsFetched  int
	OpportunitiesSeen int
	RFPsCreated       int
	RFPsUpdated       int
	StartedAt         time.Time
	FinishedAt        time.Time
}

// ProvinceCount is one entry of the per-province leaderboard.
type ProvinceCount struct {
	Province    string
	RFPsCreated int
}

// TopProvinces returns up to n provinces ordered by RFPs created, ties in
// first-seen order.
func (s *ScanSummary) TopProvinces(n int) []ProvinceCount {
	totals := make(map[string]int)
	var order []string
	for _, r := range s.Results {
		if _, seen := totals[r.Province]; !seen {
			order = append(order, r.Province)
		}
		totals[r.Province] += r.RFPsCreated
	}

	counts := make([]ProvinceCount, 0, len(order))
	for _, p := range order {
		counts = append(counts, ProvinceCount{Province: p, RFPsCreated: totals[p]})
	}
	// Insertion sort keeps first-seen order on ties.
	for i := 1; i < len(counts); i++ {
		for j := i; j > 0 && counts[j].RFPsCreated > counts[j-1].RFPsCreated; j-- {
			counts[j], counts[j-1] = counts[j-1], counts[j]
		}
	}
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
