package model

import (
	"time"

	"gorm.io/gorm"
)

// Submission is one assessment of an implementation against a published
// template. It owns its responses (cascade); the certificate issued for a
// passing submission has its own lifecycle and is not embedded here.
type Submission struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ImplementationID string   `gorm:"index" json:"implementation_id"`
	TemplateID       uint     `gorm:"index" json:"template_id"`
	Template         Template `json:"-"`

	// ControlGroup is the compliance tier this submission is assessed
	// against (e.g. "DSCP1").
	ControlGroup string `json:"control_group"`

	Status SubmissionStatus `gorm:"index" json:"status"`

	TotalScore          *float64             `json:"total_score,omitempty"`
	CertificationResult *CertificationResult `json:"certification_result,omitempty"`
	IsCertified         bool                 `json:"is_certified"`
	CertificateNumber   *string              `json:"certificate_number,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	Notes       string     `gorm:"type:text" json:"notes,omitempty"`

	Responses []SubmissionResponse `gorm:"constraint:OnDelete:CASCADE" json:"responses"`
}

// SubmissionResponse records the compliance verdict for one
// (submission, criterion) pair; unique on that pair and upserted on save.
type SubmissionResponse struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SubmissionID uint `gorm:"index:,unique,composite:sub_criterion" json:"submission_id"`
	CriterionID  uint `gorm:"index:,unique,composite:sub_criterion" json:"criterion_id"`

	ComplianceStatus ComplianceStatus `json:"compliance_status"`

	// Score overrides the status-derived default; bounded by the
	// criterion's MaxScore.
	Score *float64 `json:"score,omitempty"`

	Findings            string     `gorm:"type:text" json:"findings,omitempty"`
	RemediationPlan     string     `gorm:"type:text" json:"remediation_plan,omitempty"`
	RemediationDeadline *time.Time `json:"remediation_deadline,omitempty"`
}

// SubmissionStore is the persistence backend for submissions and their
// responses.
type SubmissionStore interface {
	// Create stores a new submission.
	Create(s *Submission) error

	// Get returns a submission with its responses preloaded.
	Get(id uint) (*Submission, error)

	// Save persists changed submission fields.
	Save(s *Submission) error

	// Delete removes a submission and its responses.
	Delete(id uint) error

	// UpsertResponses writes the passed responses keyed by
	// (submission, criterion) atomically; no partial writes.
	UpsertResponses(submissionID uint, responses []SubmissionResponse) error
}
