package model

import (
	"fmt"
)

// SubmissionStatus is the workflow state of a Submission.
type SubmissionStatus int

// Constants for SubmissionStatus
const (
	StatusDraft SubmissionStatus = iota
	StatusInProgress
	StatusCompleted
	StatusPassed
	StatusFailed
	StatusWithdrawn
)

// String returns the canonical string representation for the status.
func (s SubmissionStatus) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Valid reports whether the status is one of the defined constants.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted, StatusPassed, StatusFailed, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from this
// status. Failed is not terminal: a failed assessment can be resumed.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusPassed, StatusWithdrawn:
		return true
	case StatusDraft, StatusInProgress, StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}

// Editable reports whether responses may still be written in this status.
func (s SubmissionStatus) Editable() bool {
	switch s {
	case StatusDraft, StatusInProgress:
		return true
	case StatusCompleted, StatusPassed, StatusFailed, StatusWithdrawn:
		return false
	default:
		return false
	}
}

// MarshalJSON encodes the status as a JSON string.
func (s SubmissionStatus) MarshalJSON() ([]byte, error) {
	return []byte("\"" + s.String() + "\""), nil
}

// UnmarshalJSON decodes the status from a JSON string.
func (s *SubmissionStatus) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("submission status must be a JSON string")
	}
	ps, err := ParseSubmissionStatus(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*s = ps
	return nil
}

// ParseSubmissionStatus converts a string to a SubmissionStatus, returning an
// error for invalid values.
func ParseSubmissionStatus(v string) (SubmissionStatus, error) {
	switch v {
	case "draft":
		return StatusDraft, nil
	case "in_progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	case "passed":
		return StatusPassed, nil
	case "failed":
		return StatusFailed, nil
	case "withdrawn":
		return StatusWithdrawn, nil
	}
	return 0, fmt.Errorf("invalid submission status: %s", v)
}

// ComplianceStatus is the per-criterion verdict recorded in a
// SubmissionResponse.
type ComplianceStatus int

// Constants for ComplianceStatus
const (
	ComplianceCompliant ComplianceStatus = iota
	CompliancePartial
	ComplianceNonCompliant
	ComplianceNotApplicable
	ComplianceNotTested
)

// String returns the canonical string representation for the compliance status.
func (c ComplianceStatus) String() string {
	switch c {
	case ComplianceCompliant:
		return "compliant"
	case CompliancePartial:
		return "partially_compliant"
	case ComplianceNonCompliant:
		return "non_compliant"
	case ComplianceNotApplicable:
		return "not_applicable"
	case ComplianceNotTested:
		return "not_tested"
	default:
		return "unknown"
	}
}

// Valid reports whether the compliance status is one of the defined constants.
func (c ComplianceStatus) Valid() bool {
	switch c {
	case ComplianceCompliant, CompliancePartial, ComplianceNonCompliant,
		ComplianceNotApplicable, ComplianceNotTested:
		return true
	default:
		return false
	}
}

// Label returns a human-readable label for display surfaces.
func (c ComplianceStatus) Label() string {
	switch c {
	case ComplianceCompliant:
		return "Compliant"
	case CompliancePartial:
		return "Partially Compliant"
	case ComplianceNonCompliant:
		return "Non-Compliant"
	case ComplianceNotApplicable:
		return "Not Applicable"
	case ComplianceNotTested:
		return "Not Tested"
	default:
		return "Unknown"
	}
}

// DefaultScore returns the score contribution for a response that carries no
// explicit score, relative to the criterion's maximum score. Not-applicable
// and not-tested responses carry no score; Scored reports whether the status
// contributes to scoring at all.
func (c ComplianceStatus) DefaultScore(maxScore float64) float64 {
	switch c {
	case ComplianceCompliant:
		return maxScore
	case CompliancePartial:
		return maxScore / 2
	case ComplianceNonCompliant:
		return 0
	case ComplianceNotApplicable, ComplianceNotTested:
		return 0
	default:
		return 0
	}
}

// Scored reports whether a response with this status participates in score
// normalization.
func (c ComplianceStatus) Scored() bool {
	switch c {
	case ComplianceCompliant, CompliancePartial, ComplianceNonCompliant:
		return true
	case ComplianceNotApplicable, ComplianceNotTested:
		return false
	default:
		return false
	}
}

// MarshalJSON encodes the compliance status as a JSON string.
func (c ComplianceStatus) MarshalJSON() ([]byte, error) {
	return []byte("\"" + c.String() + "\""), nil
}

// UnmarshalJSON decodes the compliance status from a JSON string.
func (c *ComplianceStatus) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("compliance status must be a JSON string")
	}
	pc, err := ParseComplianceStatus(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*c = pc
	return nil
}

// ParseComplianceStatus converts a string to a ComplianceStatus, returning an
// error for invalid values.
func ParseComplianceStatus(v string) (ComplianceStatus, error) {
	switch v {
	case "compliant":
		return ComplianceCompliant, nil
	case "partially_compliant":
		return CompliancePartial, nil
	case "non_compliant":
		return ComplianceNonCompliant, nil
	case "not_applicable":
		return ComplianceNotApplicable, nil
	case "not_tested":
		return ComplianceNotTested, nil
	}
	return 0, fmt.Errorf("invalid compliance status: %s", v)
}

// CertificationResult is the pass/fail verdict of a finalized submission.
type CertificationResult string

// Constants for CertificationResult
const (
	ResultPass CertificationResult = "pass"
	ResultFail CertificationResult = "fail"
)

// Valid reports whether the result is one of the defined constants.
func (r CertificationResult) Valid() bool {
	switch r {
	case ResultPass, ResultFail:
		return true
	default:
		return false
	}
}
