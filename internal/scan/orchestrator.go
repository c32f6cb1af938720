package scan

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/civicscan/municipal-scanner/internal/models"
)

// Orchestrator drives the full scan pipeline for a batch of municipalities.
// Municipalities are processed strictly sequentially with politeness delays
// between document fetches and between municipalities; one municipality's
// failure never aborts the batch.
type Orchestrator struct {
	Store     Store
	Fetcher   Fetcher
	Extractor Extractor

	DocumentDelay     time.Duration
	MunicipalityDelay time.Duration
	DryRun            bool
}

func NewOrchestrator(store Store, fetcher Fetcher, extractor Extractor, docDelay, munDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		Store:             store,
		Fetcher:           fetcher,
		Extractor:         extractor,
		DocumentDelay:     docDelay,
		MunicipalityDelay: munDelay,
	}
}

// Run scans up to limit municipalities in the given province (empty province
// means all). Targets with no minutes URL are never selected; previously
// retryFailed narrows the batch to previously failed targets.
func (o *Orchestrator) Run(ctx context.Context, province string, limit int, retryFailed bool) (*ScanSummary, error) {
	targets, err := o.Store.ListScanTargets(ctx, province, limit, retryFailed)
	if err != nil {
		return nil, fmt.Errorf("listing scan targets: %w", err)
	}

	summary := &ScanSummary{StartedAt: time.Now()}
	log.Printf("[scan] starting batch: %d municipalities (province=%q retry_failed=%v dry_run=%v)",
		len(targets), province, retryFailed, o.DryRun)

	for i, mun := range targets {
		if err := ctx.Err(); err != nil {
			log.Printf("[scan] batch cancelled after %d/%d municipalities", i, len(targets))
			break
		}

		result := o.scanMunicipality(ctx, mun)
		summary.Results = append(summary.Results, result)
		summary.Municipalities++
		summary.DocumentsFetched += result.DocumentsFetched
		summary.OpportunitiesSeen += result.OpportunitiesSeen
		summary.RFPsCreated += result.RFPsCreated
		summary.RFPsUpdated += result.RFPsUpdated
		switch result.Status {
		case ResultSuccess:
			summary.Succeeded++
		case ResultNoMinutes:
			summary.NoMinutes++
		default:
			summary.Failed++
		}

		if i < len(targets)-1 {
			sleepCtx(ctx, o.MunicipalityDelay)
		}
	}

	summary.FinishedAt = time.Now()
	log.Printf("[scan] batch done: %d scanned, %d succeeded, %d failed, %d without minutes, %d RFPs created, %d updated",
		summary.Municipalities, summary.Succeeded, summary.Failed, summary.NoMinutes,
		summary.RFPsCreated, summary.RFPsUpdated)
	return summary, nil
}

// scanMunicipality runs the whole pipeline for one target and persists its
// terminal scan status. Panics inside the pipeline are converted into a
// failed result so a single pathological site cannot kill the batch.
func (o *Orchestrator) scanMunicipality(ctx context.Context, mun models.Municipality) (result ScanResult) {
	result = ScanResult{
		MunicipalityID: mun.ID,
		Name:           mun.Name,
		Province:       mun.Province,
		StartedAt:      time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = ResultFailed
			result.Error = fmt.Sprintf("panic: %v", r)
			log.Printf("[scan] panic while scanning %s: %v", mun.Name, r)
		}
		result.FinishedAt = time.Now()
		o.persistOutcome(ctx, mun, &result)
	}()

	if mun.MinutesURL == "" {
		result.Status = ResultNoMinutes
		result.Error = "no minutes URL configured"
		return result
	}

	log.Printf("[scan] scanning %s, %s (%s)", mun.Name, mun.Province, mun.MinutesURL)
	o.markScanning(ctx, mun)

	candidates, err := DiscoverLinks(ctx, o.Fetcher, mun.MinutesURL)
	if err != nil {
		result.Status = ResultFailed
		result.Error = fmt.Sprintf("fetching minutes page: %v", err)
		return result
	}

	documents := ScoreCandidates(candidates, mun.MinutesURL, time.Now())
	log.Printf("[scan] %s: %d links found, %d meeting documents selected", mun.Name, len(candidates), len(documents))
	if len(documents) == 0 {
		result.Status = ResultNoMinutes
		result.Error = "no meeting documents found"
		return result
	}

	mentions := o.extractFromDocuments(ctx, mun, documents, &result)
	if len(mentions) == 0 {
		// Nothing extracted; do not create an organization record for a
		// municipality with no opportunities.
		result.Status = ResultSuccess
		return result
	}

	org, err := o.lookupOrganization(ctx, mun)
	if err != nil {
		result.Status = ResultFailed
		result.Error = fmt.Sprintf("resolving organization: %v", err)
		return result
	}

	agg := NewAggregator(o.Store, o.DryRun)
	result.RFPsCreated, result.RFPsUpdated = agg.Persist(ctx, org, mun, mentions)
	result.Status = ResultSuccess
	return result
}

// extractFromDocuments fetches and extracts each scored document in order.
// Individual document failures are logged and skipped.
func (o *Orchestrator) extractFromDocuments(ctx context.Context, mun models.Municipality, documents []Document, result *ScanResult) []models.ExtractedOpportunity {
	docFetcher := &DocumentFetcher{Fetcher: o.Fetcher}
	var mentions []models.ExtractedOpportunity

	for i, doc := range documents {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			sleepCtx(ctx, o.DocumentDelay)
		}

		text := docFetcher.FetchText(ctx, doc)
		if !text.OK() {
			log.Printf("[scan] %s: skipping %s (%s): %v", mun.Name, doc.URL, text.Outcome, text.Err)
			continue
		}
		result.DocumentsFetched++

		found, err := o.Extractor.Extract(ctx, text.Text, mun.Name, mun.Province)
		if err != nil {
			log.Printf("[scan] %s: extraction failed for %s: %v", mun.Name, doc.URL, err)
			continue
		}

		for _, opp := range found {
			opp.SourceMeetingURL = doc.URL
			mentions = append(mentions, opp)
		}
		result.OpportunitiesSeen += len(found)
	}
	return mentions
}

func (o *Orchestrator) lookupOrganization(ctx context.Context, mun models.Municipality) (*models.Organization, error) {
	if o.DryRun {
		return &models.Organization{Name: mun.Name, Jurisdiction: mun.Province, Country: mun.Country}, nil
	}
	return o.Store.FindOrCreateOrganization(ctx, mun.Name, mun.Province, mun.Country)
}

// markScanning records the in-progress state before any network work so an
// operator can see which municipality a long batch is on.
func (o *Orchestrator) markScanning(ctx context.Context, mun models.Municipality) {
	if o.DryRun {
		return
	}
	upd := models.ScanStatusUpdate{Status: models.ScanStatusScanning}
	if err := o.Store.UpdateMunicipalityScan(ctx, mun.ID, upd); err != nil {
		log.Printf("[scan] failed to mark %s as scanning: %v", mun.Name, err)
	}
}

// persistOutcome writes the terminal scan status for a municipality. The
// no_minutes outcome is stored as failed with a descriptive error; the target
// stays eligible for future runs in case documents appear later.
func (o *Orchestrator) persistOutcome(ctx context.Context, mun models.Municipality, result *ScanResult) {
	if o.DryRun {
		return
	}

	now := time.Now()
	upd := models.ScanStatusUpdate{LastScannedAt: &now}

	switch result.Status {
	case ResultSuccess:
		found := result.RFPsCreated + result.RFPsUpdated
		cleared := ""
		upd.Status = models.ScanStatusSuccess
		upd.RFPsFound = &found
		upd.Error = &cleared
	case ResultNoMinutes:
		msg := result.Error
		if msg == "" {
			msg = "no meeting documents found"
		}
		upd.Status = models.ScanStatusFailed
		upd.Error = &msg
	default:
		// Error text ends up in an operator-facing column; keep it short.
		msg := truncateText(result.Error, 500)
		upd.Status = models.ScanStatusFailed
		upd.Error = &msg
	}

	if err := o.Store.UpdateMunicipalityScan(ctx, mun.ID, upd); err != nil {
		log.Printf("[scan] failed to record scan outcome for %s: %v", mun.Name, err)
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
