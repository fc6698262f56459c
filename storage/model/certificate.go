package model

import (
	"time"

	"gorm.io/datatypes"
)

// Certificate is the issued, signed verifiable credential for a passing
// submission. The credential payload is immutable after issuance; only the
// revocation fields may change later.
type Certificate struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SubmissionID uint `gorm:"uniqueIndex" json:"submission_id"`

	// CertificateNumber is the human-shareable identifier printed on the
	// certificate.
	CertificateNumber string `gorm:"uniqueIndex" json:"certificate_number"`

	// VerificationCode is the short opaque token used for public lookup.
	VerificationCode string `gorm:"uniqueIndex" json:"verification_code"`

	// CertificateHash is the hex SHA-256 over the canonical credential
	// document (without proof).
	CertificateHash   string `json:"certificate_hash"`
	Signature         string `json:"signature"`
	SigningKeyVersion int    `json:"signing_key_version"`

	// StatusListIndex is the certificate's slot in its issuance year's
	// status list. Monotonically assigned, never reused.
	StatusListIndex int64 `gorm:"uniqueIndex" json:"status_list_index"`

	// VCJSON is the full signed verifiable credential document.
	VCJSON datatypes.JSON `json:"vc_json"`

	IsRevoked        bool       `gorm:"index" json:"is_revoked"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedByID      *string    `json:"revoked_by_id,omitempty"`
	RevocationReason *string    `json:"revocation_reason,omitempty"`

	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`

	// IssuedYear is the calendar year of ValidFrom; it selects the status
	// list the certificate appears on.
	IssuedYear int `gorm:"index" json:"issued_year"`
}

// CertificateStore is the persistence backend for certificates. Issue and
// Revoke carry the transactional discipline described in the service layer.
type CertificateStore interface {
	// Issue allocates the next status-list index and persists the
	// certificate built by the passed callback, all inside one serializable
	// transaction that also re-checks that no certificate exists for the
	// submission and stamps the submission with the certificate number.
	// A concurrent issuance for the same submission loses with an
	// AlreadyExistsError.
	Issue(submissionID uint, build func(nextIndex int64) (*Certificate, error)) (*Certificate, error)

	// Get returns a certificate by id.
	Get(id uint) (*Certificate, error)

	// BySubmission returns the certificate issued for a submission, or a
	// NotFoundError.
	BySubmission(submissionID uint) (*Certificate, error)

	// ByVerificationCode returns the certificate with the passed public
	// lookup code.
	ByVerificationCode(code string) (*Certificate, error)

	// ByNumber returns the certificate with the passed certificate number.
	ByNumber(number string) (*Certificate, error)

	// Revoke stamps the revocation fields; revoking an already revoked
	// certificate fails with an AlreadyExistsError.
	Revoke(id uint, reason, revokerID string) (*Certificate, error)

	// ListByYear returns all certificates issued in the passed calendar
	// year ordered by status-list index.
	ListByYear(year int) ([]Certificate, error)
}
