package scan

import (
	"context"
	"fmt"
	"testing"

	"github.com/civicscan/municipal-scanner/internal/models"
	"github.com/google/uuid"
)

// fakeStore is an in-memory Store recording every mutation.
type fakeStore struct {
	targets       []models.Municipality
	statusUpdates map[uuid.UUID][]models.ScanStatusUpdate
	rfps          []*models.RFP
	mentionCalls  []mentionCall
	orgLookups    int

	listErr   error
	createErr error
}

type mentionCall struct {
	ID            uuid.UUID
	Mentions      int
	LastMentioned string
	MeetingURLs   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{statusUpdates: make(map[uuid.UUID][]models.ScanStatusUpdate)}
}

func (s *fakeStore) ListScanTargets(ctx context.Context, province string, limit int, retryFailed bool) ([]models.Municipality, error) {
	return s.targets, s.listErr
}

func (s *fakeStore) UpdateMunicipalityScan(ctx context.Context, id uuid.UUID, upd models.ScanStatusUpdate) error {
	s.statusUpdates[id] = append(s.statusUpdates[id], upd)
	return nil
}

func (s *fakeStore) FindOrCreateOrganization(ctx context.Context, name, jurisdiction, country string) (*models.Organization, error) {
	s.orgLookups++
	return &models.Organization{ID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)), ProjectID: "test", Name: name, Jurisdiction: jurisdiction, Country: country}, nil
}

func (s *fakeStore) GetRFPByTitle(ctx context.Context, orgID uuid.UUID, title string) (*models.RFP, error) {
	for _, r := range s.rfps {
		if r.OrganizationID == orgID && r.Title == title {
			return r, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateRFP(ctx context.Context, rfp *models.RFP) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.rfps = append(s.rfps, rfp)
	return nil
}

func (s *fakeStore) AddRFPMentions(ctx context.Context, id uuid.UUID, mentions int, lastMentioned string, meetingURLs []string) error {
	s.mentionCalls = append(s.mentionCalls, mentionCall{ID: id, Mentions: mentions, LastMentioned: lastMentioned, MeetingURLs: meetingURLs})
	return nil
}

func mention(title, url, date string) models.ExtractedOpportunity {
	return models.ExtractedOpportunity{
		Title:            title,
		Description:      "Description of " + title,
		Confidence:       80,
		OpportunityType:  models.OpportunityProjectDiscussion,
		SourceMeetingURL: url,
		MeetingDate:      date,
	}
}

func TestGroupByTitle(t *testing.T) {
	first := mention("Water Treatment Upgrade", "https://town.ca/jan.pdf", "2026-01-15")
	first.Description = "canonical description"
	mentions := []models.ExtractedOpportunity{
		first,
		mention("Curbside Organics Collection", "https://town.ca/jan.pdf", "2026-01-15"),
		mention("Water Treatment Upgrade", "https://town.ca/feb.pdf", "2026-02-10"),
		mention("Water Treatment Upgrade", "https://town.ca/feb.pdf", ""),
	}

	groups := GroupByTitle(mentions)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	water := groups[0]
	if water.Canonical.Title != "Water Treatment Upgrade" {
		t.Fatalf("group order should follow first appearance, got %q", water.Canonical.Title)
	}
	if water.Canonical.Description != "canonical description" {
		t.Fatal("first mention must stay canonical")
	}
	if water.Mentions != 3 {
		t.Fatalf("expected 3 mentions, got %d", water.Mentions)
	}
	if water.LastMentioned != "2026-02-10" {
		t.Fatalf("last mentioned should be the max non-empty date, got %q", water.LastMentioned)
	}
	if len(water.MeetingURLs) != 2 {
		t.Fatalf("meeting URLs should be deduplicated: %v", water.MeetingURLs)
	}
}

func TestAggregatorPersist_CreatesThenUpdates(t *testing.T) {
	store := newFakeStore()
	agg := NewAggregator(store, false)
	ctx := context.Background()

	mun := models.Municipality{Name: "Milton", Province: "Ontario", Country: "Canada"}
	org, _ := store.FindOrCreateOrganization(ctx, mun.Name, mun.Province, mun.Country)

	mentions := []models.ExtractedOpportunity{
		mention("Water Treatment Upgrade", "https://town.ca/jan.pdf", "2026-01-15"),
		mention("Water Treatment Upgrade", "https://town.ca/feb.pdf", "2026-02-10"),
	}

	created, updated := agg.Persist(ctx, org, mun, mentions)
	if created != 1 || updated != 0 {
		t.Fatalf("first run: created=%d updated=%d", created, updated)
	}

	rfp := store.rfps[0]
	if rfp.Source != "municipal_minutes_discussion" {
		t.Fatalf("project discussion should classify as discussion source, got %q", rfp.Source)
	}
	if rfp.Status != "identified" {
		t.Fatalf("new records start as identified, got %q", rfp.Status)
	}
	if rfp.CustomFields["mention_count"] != 2 {
		t.Fatalf("mention count not recorded: %v", rfp.CustomFields)
	}
	if rfp.CustomFields["region"] != "Ontario" {
		t.Fatalf("provenance region missing: %v", rfp.CustomFields)
	}

	// Second run against the same store updates instead of duplicating.
	created, updated = agg.Persist(ctx, org, mun, mentions)
	if created != 0 || updated != 1 {
		t.Fatalf("second run: created=%d updated=%d", created, updated)
	}
	if len(store.rfps) != 1 {
		t.Fatalf("re-running a scan must not duplicate records: %d", len(store.rfps))
	}
	if len(store.mentionCalls) != 1 || store.mentionCalls[0].Mentions != 2 {
		t.Fatalf("mention update not recorded: %v", store.mentionCalls)
	}
}

func TestAggregatorPersist_FormalRFPSource(t *testing.T) {
	store := newFakeStore()
	agg := NewAggregator(store, false)

	m := mention("Recycling Contract RFP", "https://town.ca/jan.pdf", "2026-01-15")
	m.OpportunityType = models.OpportunityFormalRFP

	mun := models.Municipality{Name: "Milton", Province: "Ontario", Country: "Canada"}
	org, _ := store.FindOrCreateOrganization(context.Background(), mun.Name, mun.Province, mun.Country)
	agg.Persist(context.Background(), org, mun, []models.ExtractedOpportunity{m})

	if store.rfps[0].Source != "municipal_minutes_rfp" {
		t.Fatalf("formal_rfp should classify as rfp source, got %q", store.rfps[0].Source)
	}
}

func TestAggregatorPersist_SanitizesDescription(t *testing.T) {
	store := newFakeStore()
	agg := NewAggregator(store, false)

	m := mention("Lift Station Rehabilitation", "https://town.ca/jan.pdf", "2026-01-15")
	m.Description = `Rehab of <script>alert(1)</script>lift station 4`

	mun := models.Municipality{Name: "Milton", Province: "Ontario", Country: "Canada"}
	org, _ := store.FindOrCreateOrganization(context.Background(), mun.Name, mun.Province, mun.Country)
	agg.Persist(context.Background(), org, mun, []models.ExtractedOpportunity{m})

	if desc := store.rfps[0].Description; desc != "Rehab of lift station 4" {
		t.Fatalf("markup not stripped: %q", desc)
	}
}

func TestAggregatorPersist_DryRunWritesNothing(t *testing.T) {
	store := newFakeStore()
	agg := NewAggregator(store, true)

	mun := models.Municipality{Name: "Milton", Province: "Ontario", Country: "Canada"}
	org, _ := store.FindOrCreateOrganization(context.Background(), mun.Name, mun.Province, mun.Country)
	created, _ := agg.Persist(context.Background(), org, mun, []models.ExtractedOpportunity{
		mention("Water Treatment Upgrade", "https://town.ca/jan.pdf", "2026-01-15"),
	})

	if created != 1 {
		t.Fatalf("dry run still reports would-be creates, got %d", created)
	}
	if len(store.rfps) != 0 || len(store.mentionCalls) != 0 {
		t.Fatal("dry run must not touch the store")
	}
}

func TestAggregatorPersist_FailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	store.createErr = fmt.Errorf("insert failed")
	agg := NewAggregator(store, false)

	mun := models.Municipality{Name: "Milton", Province: "Ontario", Country: "Canada"}
	org, _ := store.FindOrCreateOrganization(context.Background(), mun.Name, mun.Province, mun.Country)
	created, updated := agg.Persist(context.Background(), org, mun, []models.ExtractedOpportunity{
		mention("A", "https://town.ca/jan.pdf", "2026-01-15"),
		mention("B", "https://town.ca/jan.pdf", "2026-01-15"),
	})

	if created != 0 || updated != 0 {
		t.Fatalf("failed upserts must not be counted: created=%d updated=%d", created, updated)
	}
}
