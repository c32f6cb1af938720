package models

import (
	"time"

	"github.com/google/uuid"
)

// Scan lifecycle states for a municipality.
const (
	ScanStatusPending  = "pending"
	ScanStatusScanning = "scanning"
	ScanStatusSuccess  = "success"
	ScanStatusFailed   = "failed"
)

// Municipality is a scan target: a government body with a known
// meeting-minutes/calendar URL. Created by seeding; the scan orchestrator
// only mutates the scan lifecycle fields.
type Municipality struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Province         string     `json:"province"`
	Country          string     `json:"country"`
	OfficialWebsite  string     `json:"official_website"`
	MinutesURL       string     `json:"minutes_url"`
	Population       int        `json:"population"`
	MunicipalityType string     `json:"municipality_type"`
	ScanStatus       string     `json:"scan_status"`
	ScanError        string     `json:"scan_error"`
	LastScannedAt    *time.Time `json:"last_scanned_at"`
	RFPsFoundCount   int        `json:"rfps_found_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ScanStatusUpdate carries the mutable scan lifecycle fields. Nil pointers
// leave the stored value untouched.
type ScanStatusUpdate struct {
	Status        string
	Error         *string
	LastScannedAt *time.Time
	RFPsFound     *int
}

// Organization is the CRM-side record a municipality's RFPs hang off.
// Lookup-or-create is idempotent on (project, name, jurisdiction).
type Organization struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	Jurisdiction string    `json:"jurisdiction"`
	Country      string    `json:"country"`
	CreatedAt    time.Time `json:"created_at"`
}
