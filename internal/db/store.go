package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/civicscan/municipal-scanner/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool      *pgxpool.Pool
	projectID string
}

func NewStore(pool *pgxpool.Pool, projectID string) *Store {
	return &Store{pool: pool, projectID: projectID}
}

// municipalityCols is the full column list shared by all municipality queries.
const municipalityCols = `id, name, province, country, official_website, minutes_url,
	population, municipality_type, scan_status, scan_error, last_scanned_at,
	rfps_found_count, created_at, updated_at`

func scanMunicipality(scan func(dest ...interface{}) error) (models.Municipality, error) {
	var m models.Municipality
	var website, minutesURL, munType, scanError *string
	var population *int

	err := scan(
		&m.ID, &m.Name, &m.Province, &m.Country, &website, &minutesURL,
		&population, &munType, &m.ScanStatus, &scanError, &m.LastScannedAt,
		&m.RFPsFoundCount, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}

	if website != nil {
		m.OfficialWebsite = *website
	}
	if minutesURL != nil {
		m.MinutesURL = *minutesURL
	}
	if population != nil {
		m.Population = *population
	}
	if munType != nil {
		m.MunicipalityType = *munType
	}
	if scanError != nil {
		m.ScanError = *scanError
	}

	return m, nil
}

// ListScanTargets selects municipalities eligible for scanning: a minutes URL
// must be configured and the target must not already be scanned successfully.
// With retryFailed set, only previously failed targets are selected. Rows
// stuck in 'scanning' after a crash are never picked up automatically.
// Ordered by province then name so runs are deterministic.
func (s *Store) ListScanTargets(ctx context.Context, province string, limit int, retryFailed bool) ([]models.Municipality, error) {
	where := "WHERE minutes_url IS NOT NULL AND minutes_url != ''"
	var args []interface{}
	argIdx := 1

	if retryFailed {
		where += " AND scan_status = 'failed'"
	} else {
		where += " AND scan_status IN ('pending', 'failed')"
	}
	if province != "" {
		where += fmt.Sprintf(" AND province = $%d", argIdx)
		args = append(args, province)
		argIdx++
	}

	sql := fmt.Sprintf("SELECT %s FROM municipalities %s ORDER BY province, name", municipalityCols, where)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var targets []models.Municipality
	for rows.Next() {
		m, err := scanMunicipality(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		targets = append(targets, m)
	}
	return targets, rows.Err()
}

// UpdateMunicipalityScan applies the scan lifecycle fields carried by upd.
// Nil pointers leave the stored value untouched.
func (s *Store) UpdateMunicipalityScan(ctx context.Context, id uuid.UUID, upd models.ScanStatusUpdate) error {
	set := "scan_status = $1, updated_at = NOW()"
	args := []interface{}{upd.Status}
	argIdx := 2

	if upd.Error != nil {
		set += fmt.Sprintf(", scan_error = $%d", argIdx)
		args = append(args, nilIfEmpty(*upd.Error))
		argIdx++
	}
	if upd.LastScannedAt != nil {
		set += fmt.Sprintf(", last_scanned_at = $%d", argIdx)
		args = append(args, *upd.LastScannedAt)
		argIdx++
	}
	if upd.RFPsFound != nil {
		set += fmt.Sprintf(", rfps_found_count = $%d", argIdx)
		args = append(args, *upd.RFPsFound)
		argIdx++
	}

	args = append(args, id)
	sql := fmt.Sprintf("UPDATE municipalities SET %s WHERE id = $%d", set, argIdx)
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}

// UpsertMunicipality inserts a seed record or refreshes the descriptive
// fields of an existing one. Scan lifecycle fields are never overwritten.
func (s *Store) UpsertMunicipality(ctx context.Context, m models.Municipality) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO municipalities (name, province, country, official_website, minutes_url, population, municipality_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name, province, country) DO UPDATE SET
			official_website = EXCLUDED.official_website,
			minutes_url = EXCLUDED.minutes_url,
			population = EXCLUDED.population,
			municipality_type = EXCLUDED.municipality_type,
			updated_at = NOW()
	`, m.Name, m.Province, m.Country, nilIfEmpty(m.OfficialWebsite), nilIfEmpty(m.MinutesURL),
		zeroToNil(m.Population), nilIfEmpty(m.MunicipalityType))
	if err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}
	return nil
}

// FindOrCreateOrganization is idempotent per project: an existing
// organization is matched case-insensitively by name before anything is
// inserted, so "Town of Milton" seeded twice with different casing stays
// one record.
func (s *Store) FindOrCreateOrganization(ctx context.Context, name, jurisdiction, country string) (*models.Organization, error) {
	const cols = "id, project_id, name, jurisdiction, country, created_at"

	org, err := scanOrganization(s.pool.QueryRow(ctx,
		"SELECT "+cols+" FROM organizations WHERE project_id = $1 AND name ILIKE $2 LIMIT 1",
		s.projectID, name).Scan)
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("organization lookup failed: %w", err)
	}

	org, err = scanOrganization(s.pool.QueryRow(ctx, `
		INSERT INTO organizations (project_id, name, jurisdiction, country)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, name) DO UPDATE SET
			jurisdiction = COALESCE(organizations.jurisdiction, EXCLUDED.jurisdiction),
			country = COALESCE(organizations.country, EXCLUDED.country)
		RETURNING `+cols,
		s.projectID, name, nilIfEmpty(jurisdiction), nilIfEmpty(country)).Scan)
	if err != nil {
		return nil, fmt.Errorf("organization upsert failed: %w", err)
	}
	return &org, nil
}

func scanOrganization(scan func(dest ...interface{}) error) (models.Organization, error) {
	var org models.Organization
	var jur, ctry *string

	err := scan(&org.ID, &org.ProjectID, &org.Name, &jur, &ctry, &org.CreatedAt)
	if err != nil {
		return org, err
	}
	if jur != nil {
		org.Jurisdiction = *jur
	}
	if ctry != nil {
		org.Country = *ctry
	}
	return org, nil
}

const rfpCols = `id, project_id, organization_id, title, description, due_date,
	estimated_value, currency, status, source, submission_method, submission_email,
	custom_fields, created_at, updated_at`

func scanRFP(scan func(dest ...interface{}) error) (models.RFP, error) {
	var r models.RFP
	var description, currency, source, method, email *string
	var estimatedValue *float64
	var customFieldsRaw []byte

	err := scan(
		&r.ID, &r.ProjectID, &r.OrganizationID, &r.Title, &description, &r.DueDate,
		&estimatedValue, &currency, &r.Status, &source, &method, &email,
		&customFieldsRaw, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}

	if description != nil {
		r.Description = *description
	}
	if estimatedValue != nil {
		r.EstimatedValue = *estimatedValue
	}
	if currency != nil {
		r.Currency = *currency
	}
	if source != nil {
		r.Source = *source
	}
	if method != nil {
		r.SubmissionMethod = *method
	}
	if email != nil {
		r.SubmissionEmail = *email
	}
	if len(customFieldsRaw) > 0 {
		_ = json.Unmarshal(customFieldsRaw, &r.CustomFields)
	}

	return r, nil
}

// GetRFPByTitle looks up an RFP by its exact title within one organization.
// Returns (nil, nil) when no record exists.
func (s *Store) GetRFPByTitle(ctx context.Context, orgID uuid.UUID, title string) (*models.RFP, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM rfps
		WHERE project_id = $1 AND organization_id = $2 AND title = $3
	`, rfpCols)

	r, err := scanRFP(s.pool.QueryRow(ctx, sql, s.projectID, orgID, title).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	return &r, nil
}

func (s *Store) CreateRFP(ctx context.Context, rfp *models.RFP) error {
	customFields, err := json.Marshal(rfp.CustomFields)
	if err != nil {
		return fmt.Errorf("encoding custom fields: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rfps (id, project_id, organization_id, title, description, due_date,
			estimated_value, currency, status, source, submission_method, submission_email, custom_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rfp.ID, s.projectID, rfp.OrganizationID, rfp.Title, nilIfEmpty(rfp.Description), rfp.DueDate,
		zeroFloatToNil(rfp.EstimatedValue), nilIfEmpty(rfp.Currency), rfp.Status, nilIfEmpty(rfp.Source),
		nilIfEmpty(rfp.SubmissionMethod), nilIfEmpty(rfp.SubmissionEmail), customFields)
	if err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}
	return nil
}

// AddRFPMentions folds a new batch of mentions into an existing record's
// custom_fields: mention_count accumulates, last_mentioned_date advances, and
// meeting_urls is a set union.
func (s *Store) AddRFPMentions(ctx context.Context, id uuid.UUID, mentions int, lastMentioned string, meetingURLs []string) error {
	var raw []byte
	if err := s.pool.QueryRow(ctx, "SELECT custom_fields FROM rfps WHERE id = $1", id).Scan(&raw); err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	fields := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fields)
	}

	fields["mention_count"] = asInt(fields["mention_count"]) + mentions
	if lastMentioned != "" {
		if prev, _ := fields["last_mentioned_date"].(string); lastMentioned > prev {
			fields["last_mentioned_date"] = lastMentioned
		}
	}

	urls := asStringSlice(fields["meeting_urls"])
	for _, u := range meetingURLs {
		urls = appendMissing(urls, u)
	}
	fields["meeting_urls"] = urls

	updated, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding custom fields: %w", err)
	}

	if _, err := s.pool.Exec(ctx, "UPDATE rfps SET custom_fields = $1, updated_at = NOW() WHERE id = $2", updated, id); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}

type MunicipalityListParams struct {
	Province   string
	ScanStatus string
	Limit      int
	Offset     int
}

type MunicipalityList struct {
	Municipalities []models.Municipality `json:"municipalities"`
	Total          int                   `json:"total"`
	Limit          int                   `json:"limit"`
	Offset         int                   `json:"offset"`
}

func (s *Store) ListMunicipalities(ctx context.Context, params MunicipalityListParams) (*MunicipalityList, error) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.Province != "" {
		where += fmt.Sprintf(" AND province = $%d", argIdx)
		args = append(args, params.Province)
		argIdx++
	}
	if params.ScanStatus != "" {
		where += fmt.Sprintf(" AND scan_status = $%d", argIdx)
		args = append(args, params.ScanStatus)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM municipalities "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	sql := fmt.Sprintf("SELECT %s FROM municipalities %s ORDER BY province, name LIMIT $%d OFFSET $%d",
		municipalityCols, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	list := &MunicipalityList{
		Municipalities: []models.Municipality{},
		Total:          total,
		Limit:          params.Limit,
		Offset:         params.Offset,
	}
	for rows.Next() {
		m, err := scanMunicipality(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		list.Municipalities = append(list.Municipalities, m)
	}
	return list, rows.Err()
}

type RFPListParams struct {
	Source string
	Query  string
	Limit  int
	Offset int
}

type RFPList struct {
	RFPs   []models.RFP `json:"rfps"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Store) ListRFPs(ctx context.Context, params RFPListParams) (*RFPList, error) {
	where := "WHERE project_id = $1"
	args := []interface{}{s.projectID}
	argIdx := 2

	if params.Source != "" {
		where += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, params.Source)
		argIdx++
	}
	if params.Query != "" {
		where += fmt.Sprintf(" AND title ILIKE '%%' || $%d || '%%'", argIdx)
		args = append(args, params.Query)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rfps "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	sql := fmt.Sprintf("SELECT %s FROM rfps %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		rfpCols, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	list := &RFPList{
		RFPs:   []models.RFP{},
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	for rows.Next() {
		r, err := scanRFP(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		list.RFPs = append(list.RFPs, r)
	}
	return list, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var municipalities int
	s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM municipalities").Scan(&municipalities)
	stats["municipalities"] = municipalities

	statusCounts := map[string]int{}
	rows, err := s.pool.Query(ctx, "SELECT scan_status, COUNT(*) FROM municipalities GROUP BY scan_status")
	if err == nil {
		for rows.Next() {
			var status string
			var count int
			if scanErr := rows.Scan(&status, &count); scanErr == nil {
				statusCounts[status] = count
			}
		}
		rows.Close()
	}
	stats["scan_status_counts"] = statusCounts

	var rfps int
	s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rfps WHERE project_id = $1", s.projectID).Scan(&rfps)
	stats["rfps"] = rfps

	var lastScan *time.Time
	s.pool.QueryRow(ctx, "SELECT MAX(last_scanned_at) FROM municipalities").Scan(&lastScan)
	stats["last_scanned_at"] = lastScan

	return stats, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func zeroToNil(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func zeroFloatToNil(n float64) *float64 {
	if n == 0 {
		return nil
	}
	return &n
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func appendMissing(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
