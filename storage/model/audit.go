package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEventType identifies the kind of lifecycle event recorded in the
// ledger.
type AuditEventType string

// Constants for AuditEventType
const (
	EventSubmissionCreated   AuditEventType = "submission.created"
	EventSubmissionUpdated   AuditEventType = "submission.updated"
	EventSubmissionCompleted AuditEventType = "submission.completed"
	EventSubmissionFinalized AuditEventType = "submission.finalized"
	EventSubmissionResumed   AuditEventType = "submission.resumed"
	EventSubmissionWithdrawn AuditEventType = "submission.withdrawn"
	EventSubmissionDeleted   AuditEventType = "submission.deleted"
	EventCertificateIssued   AuditEventType = "certificate.issued"
	EventCertificateRevoked  AuditEventType = "certificate.revoked"
	EventCertificateVerified AuditEventType = "certificate.verified"
	EventTemplatePublished   AuditEventType = "template.published"
	EventIntegrityCheck      AuditEventType = "integrity.check"
	EventIntegrityFailed     AuditEventType = "integrity.check_failed"
	EventLogin               AuditEventType = "auth.login"
)

// SecurityRelevant reports whether the event belongs to the security
// retention class.
func (t AuditEventType) SecurityRelevant() bool {
	switch t {
	case EventIntegrityCheck, EventIntegrityFailed, EventLogin:
		return true
	default:
		return false
	}
}

// CertificateRelated reports whether the event belongs to the certificate
// retention class.
func (t AuditEventType) CertificateRelated() bool {
	switch t {
	case EventCertificateIssued, EventCertificateRevoked, EventCertificateVerified:
		return true
	default:
		return false
	}
}

// AuditAction is the coarse action verb of an audit entry.
type AuditAction string

// Constants for AuditAction
const (
	ActionCreate AuditAction = "CREATE"
	ActionUpdate AuditAction = "UPDATE"
	ActionDelete AuditAction = "DELETE"
	ActionIssue  AuditAction = "ISSUE"
	ActionRevoke AuditAction = "REVOKE"
	ActionVerify AuditAction = "VERIFY"
	ActionLogin  AuditAction = "LOGIN"
)

// AuditEntry is one immutable, hash-chained entry of the audit ledger.
//
// CurrHash is computed over the canonical serialization of the entry's
// chained fields including PrevHash; PrevHash is the CurrHash of the
// chronologically preceding entry (nil for the first entry). Signature is a
// detached signature over CurrHash. Entries are append-only and never
// updated.
type AuditEntry struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	EventType      AuditEventType `gorm:"index" json:"event_type"`
	EntityType     string         `gorm:"index:idx_audit_entity" json:"entity_type"`
	EntityID       string         `gorm:"index:idx_audit_entity" json:"entity_id"`
	EntityName     *string        `json:"entity_name,omitempty"`
	Action         AuditAction    `gorm:"index" json:"action"`
	ActorID        *string        `gorm:"index" json:"actor_id,omitempty"`
	ActorIP        *string        `json:"actor_ip,omitempty"`
	ActorUserAgent *string        `json:"actor_user_agent,omitempty"`
	ActorCountry   *string        `json:"actor_country,omitempty"`
	OldValues      datatypes.JSON `json:"old_values,omitempty"`
	NewValues      datatypes.JSON `json:"new_values,omitempty"`
	PrevHash       *string        `json:"prev_hash,omitempty"`
	CurrHash       string         `gorm:"uniqueIndex" json:"curr_hash"`
	Signature      string         `json:"signature"`
	KeyVersion     int            `json:"key_version"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	ArchiveAfter   *time.Time     `gorm:"index" json:"archive_after,omitempty"`
}

// AuditFilter narrows read-only ledger projections.
type AuditFilter struct {
	EventType  AuditEventType
	EntityType string
	EntityID   string
	ActorID    string
	Action     AuditAction
	From       *time.Time
	To         *time.Time
	Offset     int
	Limit      int
}

// AuditStore is the persistence backend of the audit ledger.
type AuditStore interface {
	// AppendChained runs build inside a transaction that serializes the
	// "read head, insert next" sequence: build receives the CurrHash of the
	// current head entry (nil for an empty ledger) and returns the fully
	// populated entry to insert.
	AppendChained(build func(prevHash *string) (*AuditEntry, error)) (*AuditEntry, error)

	// FindAll returns entries matching the filter, newest first, and the
	// total match count.
	FindAll(filter AuditFilter) ([]AuditEntry, int64, error)

	// FindByEntity returns all entries for one entity, newest first.
	FindByEntity(entityType, entityID string) ([]AuditEntry, error)

	// Ordered returns entries in chain order (creation time, then id).
	Ordered(offset, limit int) ([]AuditEntry, error)

	// Count returns the number of ledger entries.
	Count() (int64, error)

	// CountArchiveDue returns the number of entries whose retention horizon
	// lies before the passed time.
	CountArchiveDue(before time.Time) (int64, error)

	// DeleteArchiveDue removes up to limit entries whose retention horizon
	// lies before the passed time. Only a contiguous prefix of the chain is
	// ever removed so the remaining entries still link linearly; an entry
	// that is not yet due blocks everything behind it. Returns how many
	// entries were removed and the chain hash of the last removed entry,
	// to be persisted as the validation anchor of the surviving chain.
	DeleteArchiveDue(before time.Time, limit int) (int64, *string, error)
}
