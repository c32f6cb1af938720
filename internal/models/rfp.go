package models

import (
	"time"

	"github.com/google/uuid"
)

// Permitted opportunity_type values for an extracted opportunity.
const (
	OpportunityFormalRFP         = "formal_rfp"
	OpportunityProjectDiscussion = "project_discussion"
	OpportunityPlanningStage     = "planning_stage"
)

// ValidOpportunityType reports whether t is one of the three permitted
// classification values.
func ValidOpportunityType(t string) bool {
	switch t {
	case OpportunityFormalRFP, OpportunityProjectDiscussion, OpportunityPlanningStage:
		return true
	}
	return false
}

// ExtractedOpportunity is one model-asserted procurement signal found in a
// single meeting document. Multiple instances with the same Title from the
// same municipality describe the same real-world opportunity.
type ExtractedOpportunity struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	DueDate          string  `json:"due_date"`          // YYYY-MM-DD or empty
	EstimatedValue   float64 `json:"estimated_value"`   // 0 when unknown
	Currency         string  `json:"currency"`          // 3-letter ISO or empty
	SubmissionMethod string  `json:"submission_method"` // email, portal, physical, other
	ContactEmail     string  `json:"contact_email"`
	Confidence       int     `json:"confidence"`       // 0-100
	OpportunityType  string  `json:"opportunity_type"` // formal_rfp, project_discussion, planning_stage

	// Research provenance, filled by the extraction engine.
	SourceMeetingURL string `json:"source_meeting_url"`
	MeetingDate      string `json:"meeting_date"` // YYYY-MM-DD or empty
	CommitteeName    string `json:"committee_name"`
	AgendaItem       string `json:"agenda_item"`
	Excerpt          string `json:"excerpt"`
}

// RFP is the persisted opportunity record, keyed by exact title within an
// organization.
type RFP struct {
	ID               uuid.UUID              `json:"id"`
	ProjectID        string                 `json:"project_id"`
	OrganizationID   uuid.UUID              `json:"organization_id"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	DueDate          *time.Time             `json:"due_date"`
	EstimatedValue   float64                `json:"estimated_value"`
	Currency         string                 `json:"currency"`
	Status           string                 `json:"status"` // always "identified" at creation
	Source           string                 `json:"source"`
	SubmissionMethod string                 `json:"submission_method"`
	SubmissionEmail  string                 `json:"submission_email"`
	CustomFields     map[string]interface{} `json:"custom_fields"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}
