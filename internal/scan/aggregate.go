package scan

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/civicscan/municipal-scanner/internal/models"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// mentionGroup collects every mention of one opportunity title across the
// documents of a single municipality scan.
type mentionGroup struct {
	Canonical     models.ExtractedOpportunity // first mention wins
	Mentions      int
	MeetingURLs   []string
	MeetingDates  []string
	LastMentioned string // latest non-empty meeting_date, YYYY-MM-DD
}

// GroupByTitle groups mentions by exact title, preserving the order of first
// appearance. Processing order is stable, so "first mention is canonical"
// is deterministic.
func GroupByTitle(mentions []models.ExtractedOpportunity) []mentionGroup {
	byTitle := make(map[string]*mentionGroup, len(mentions))
	var order []string

	for _, m := range mentions {
		g, ok := byTitle[m.Title]
		if !ok {
			g = &mentionGroup{Canonical: m}
			byTitle[m.Title] = g
			order = append(order, m.Title)
		}
		g.Mentions++
		if m.SourceMeetingURL != "" {
			g.MeetingURLs = appendUnique(g.MeetingURLs, m.SourceMeetingURL)
		}
		if m.MeetingDate != "" {
			g.MeetingDates = appendUnique(g.MeetingDates, m.MeetingDate)
			if m.MeetingDate > g.LastMentioned {
				g.LastMentioned = m.MeetingDate
			}
		}
	}

	groups := make([]mentionGroup, 0, len(order))
	for _, title := range order {
		groups = append(groups, *byTitle[title])
	}
	return groups
}

// Aggregator merges extracted mentions into persisted RFP records: a
// title-keyed, at-least-once upsert against the store. No fuzzy matching of
// differently-worded titles.
type Aggregator struct {
	Store  Store
	DryRun bool

	sanitizer *bluemonday.Policy
}

func NewAggregator(store Store, dryRun bool) *Aggregator {
	return &Aggregator{
		Store:     store,
		DryRun:    dryRun,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Persist reconciles all mentions for one municipality against the store.
// Returns counts of created and updated records. A failed upsert for one
// group is logged and does not abort the remaining groups.
func (a *Aggregator) Persist(ctx context.Context, org *models.Organization, mun models.Municipality, mentions []models.ExtractedOpportunity) (created, updated int) {
	for _, group := range GroupByTitle(mentions) {
		if a.DryRun {
			log.Printf("[dry-run] would upsert %q for %s (%d mentions, confidence %d)",
				group.Canonical.Title, mun.Name, group.Mentions, group.Canonical.Confidence)
			created++
			continue
		}

		wasCreated, err := a.upsertGroup(ctx, org, mun, group)
		if err != nil {
			log.Printf("[aggregate] failed to persist %q for %s: %v", group.Canonical.Title, mun.Name, err)
			continue
		}
		if wasCreated {
			created++
		} else {
			updated++
		}
	}
	return created, updated
}

func (a *Aggregator) upsertGroup(ctx context.Context, org *models.Organization, mun models.Municipality, group mentionGroup) (bool, error) {
	existing, err := a.Store.GetRFPByTitle(ctx, org.ID, group.Canonical.Title)
	if err != nil {
		return false, fmt.Errorf("lookup failed: %w", err)
	}

	if existing != nil {
		if err := a.Store.AddRFPMentions(ctx, existing.ID, group.Mentions, group.LastMentioned, group.MeetingURLs); err != nil {
			return false, fmt.Errorf("mention update failed: %w", err)
		}
		return false, nil
	}

	canon := group.Canonical
	rfp := &models.RFP{
		ID:               uuid.New(),
		ProjectID:        org.ProjectID,
		OrganizationID:   org.ID,
		Title:            canon.Title,
		Description:      a.sanitizer.Sanitize(canon.Description),
		EstimatedValue:   canon.EstimatedValue,
		Currency:         canon.Currency,
		Status:           "identified",
		Source:           classifySource(canon.OpportunityType),
		SubmissionMethod: canon.SubmissionMethod,
		SubmissionEmail:  canon.ContactEmail,
		CustomFields: map[string]interface{}{
			"country":             mun.Country,
			"region":              mun.Province,
			"meeting_urls":        group.MeetingURLs,
			"meeting_dates":       group.MeetingDates,
			"ai_confidence":       canon.Confidence,
			"mention_count":       group.Mentions,
			"last_mentioned_date": group.LastMentioned,
			"committee_name":      canon.CommitteeName,
			"agenda_item":         canon.AgendaItem,
			"excerpt":             a.sanitizer.Sanitize(canon.Excerpt),
		},
	}

	if canon.DueDate != "" {
		if due, err := time.Parse("2006-01-02", canon.DueDate); err == nil {
			rfp.DueDate = &due
		}
	}

	if err := a.Store.CreateRFP(ctx, rfp); err != nil {
		return false, fmt.Errorf("insert failed: %w", err)
	}
	return true, nil
}

// classifySource distinguishes issued RFPs from opportunities surfaced out
// of minutes discussion.
func classifySource(opportunityType string) string {
	if opportunityType == models.OpportunityFormalRFP {
		return "municipal_minutes_rfp"
	}
	return "municipal_minutes_discussion"
}
