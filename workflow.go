package vericert

import (
	"fmt"
	"time"

	arrays "github.com/adam-hanna/arrayOperations"
	"github.com/fatih/structs"
	"tideland.dev/go/slices"

	"github.com/vericert/vericert/storage/model"
)

const entityTypeSubmission = "submission"

// Workflow drives the submission lifecycle:
// DRAFT -> IN_PROGRESS -> COMPLETED -> PASSED | FAILED, with FAILED
// resumable back to IN_PROGRESS, WITHDRAWN reachable from any non-terminal
// state, and DRAFT deletable. Every transition is recorded in the audit
// ledger with before and after snapshots.
type Workflow struct {
	submissions model.SubmissionStore
	templates   model.TemplateStore
	ledger      AuditSink
	issuer      *IssuanceEngine
}

// NewWorkflow wires the workflow service. issuer may be nil, in which case a
// passing finalize records the verdict without issuing a certificate.
func NewWorkflow(
	submissions model.SubmissionStore, templates model.TemplateStore,
	ledger AuditSink, issuer *IssuanceEngine,
) *Workflow {
	return &Workflow{
		submissions: submissions,
		templates:   templates,
		ledger:      ledger,
		issuer:      issuer,
	}
}

// submissionSnapshot is the audited field set of a submission. Snapshots go
// into the ledger's old/new values, so the set is deliberately small and
// stable.
type submissionSnapshot struct {
	Status              string   `structs:"status"`
	TotalScore          *float64 `structs:"total_score"`
	CertificationResult *string  `structs:"certification_result"`
	IsCertified         bool     `structs:"is_certified"`
	CertificateNumber   *string  `structs:"certificate_number"`
	Notes               string   `structs:"notes"`
	ResponseCount       int      `structs:"response_count"`
}

func snapshot(s *model.Submission) map[string]any {
	if s == nil {
		return nil
	}
	snap := submissionSnapshot{
		Status:            s.Status.String(),
		TotalScore:        s.TotalScore,
		IsCertified:       s.IsCertified,
		CertificateNumber: s.CertificateNumber,
		Notes:             s.Notes,
		ResponseCount:     len(s.Responses),
	}
	if s.CertificationResult != nil {
		result := string(*s.CertificationResult)
		snap.CertificationResult = &result
	}
	return structs.Map(snap)
}

func (w *Workflow) audit(
	eventType model.AuditEventType, action model.AuditAction,
	sub *model.Submission, actor Actor, old, new map[string]any,
) {
	if w.ledger == nil {
		return
	}
	w.ledger.Record(
		AuditEvent{
			EventType:  eventType,
			Action:     action,
			EntityType: entityTypeSubmission,
			EntityID:   fmt.Sprintf("%d", sub.ID),
			EntityName: sub.ImplementationID,
			Actor:      actor,
			Old:        old,
			New:        new,
		},
	)
}

// Create opens a new draft submission against a published template.
func (w *Workflow) Create(
	implementationID string, templateID uint, controlGroup string, actor Actor,
) (*model.Submission, error) {
	if implementationID == "" {
		return nil, model.ValidationError("implementation id must not be empty")
	}
	if _, err := w.templates.GetPublished(templateID); err != nil {
		return nil, err
	}
	sub := &model.Submission{
		ImplementationID: implementationID,
		TemplateID:       templateID,
		ControlGroup:     controlGroup,
		Status:           model.StatusDraft,
	}
	if err := w.submissions.Create(sub); err != nil {
		return nil, err
	}
	w.audit(model.EventSubmissionCreated, model.ActionCreate, sub, actor, nil, snapshot(sub))
	return sub, nil
}

// Get returns a submission with its responses.
func (w *Workflow) Get(id uint) (*model.Submission, error) {
	return w.submissions.Get(id)
}

// templateCriterionIDs collects every criterion id of a template, optionally
// narrowed to one category by its order index.
func templateCriterionIDs(t *model.Template, categoryIndex *int) []uint {
	var ids []uint
	for _, category := range t.Categories {
		if categoryIndex != nil && category.OrderIndex != *categoryIndex {
			continue
		}
		for _, criterion := range category.Criteria {
			ids = append(ids, criterion.ID)
		}
	}
	return ids
}

// SaveResponses upserts the passed responses. Every criterion id must belong
// to the submission's template (narrowed to categoryIndex when given);
// unknown ids reject the whole batch before anything is written. The first
// save moves a draft to in-progress.
func (w *Workflow) SaveResponses(
	submissionID uint, responses []model.SubmissionResponse, categoryIndex *int, actor Actor,
) (*model.Submission, error) {
	sub, err := w.submissions.Get(submissionID)
	if err != nil {
		return nil, err
	}
	if !sub.Status.Editable() {
		return nil, model.InvalidStateErrorFmt(
			"cannot save responses in status '%s'", sub.Status,
		)
	}

	template, err := w.templates.Get(sub.TemplateID)
	if err != nil {
		return nil, err
	}
	known := templateCriterionIDs(template, categoryIndex)
	submitted := make([]uint, 0, len(responses))
	for _, resp := range responses {
		if !resp.ComplianceStatus.Valid() {
			return nil, model.ValidationErrorFmt(
				"invalid compliance status for criterion %d", resp.CriterionID,
			)
		}
		submitted = append(submitted, resp.CriterionID)
	}
	if unknown := slices.Subtract(arrays.Distinct(submitted), known); len(unknown) > 0 {
		return nil, model.ValidationErrorFmt(
			"responses reference unknown criteria: %v", unknown,
		)
	}

	old := snapshot(sub)
	if err = w.submissions.UpsertResponses(submissionID, responses); err != nil {
		return nil, err
	}
	if sub.Status == model.StatusDraft {
		sub.Status = model.StatusInProgress
		if err = w.submissions.Save(sub); err != nil {
			return nil, err
		}
	}
	sub, err = w.submissions.Get(submissionID)
	if err != nil {
		return nil, err
	}
	w.audit(model.EventSubmissionUpdated, model.ActionUpdate, sub, actor, old, snapshot(sub))
	return sub, nil
}

// Complete marks an in-progress submission as completed. The verdict is
// computed later, at finalize.
func (w *Workflow) Complete(submissionID uint, actor Actor) (*model.Submission, error) {
	sub, err := w.submissions.Get(submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.StatusInProgress {
		return nil, model.InvalidStateErrorFmt(
			"cannot complete submission in status '%s'", sub.Status,
		)
	}
	old := snapshot(sub)
	now := time.Now()
	sub.Status = model.StatusCompleted
	sub.CompletedAt = &now
	if err = w.submissions.Save(sub); err != nil {
		return nil, err
	}
	w.audit(model.EventSubmissionCompleted, model.ActionUpdate, sub, actor, old, snapshot(sub))
	return sub, nil
}

// Finalize scores a completed submission and settles the verdict. A passing
// submission additionally gets its certificate issued; a failing one can be
// resumed later.
func (w *Workflow) Finalize(submissionID uint, actor Actor, notes string) (*model.Submission, error) {
	sub, err := w.submissions.Get(submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.StatusCompleted {
		return nil, model.InvalidStateErrorFmt(
			"cannot finalize submission in status '%s'", sub.Status,
		)
	}
	template, err := w.templates.GetPublished(sub.TemplateID)
	if err != nil {
		return nil, err
	}

	old := snapshot(sub)
	report := ComputeScores(template, sub.Responses, sub.ControlGroup)
	result := report.Result(template.PassingThreshold)
	now := time.Now()

	sub.TotalScore = &report.Overall
	sub.CertificationResult = &result
	sub.FinalizedAt = &now
	if notes != "" {
		sub.Notes = notes
	}
	if result == model.ResultPass {
		sub.Status = model.StatusPassed
	} else {
		sub.Status = model.StatusFailed
	}
	if err = w.submissions.Save(sub); err != nil {
		return nil, err
	}
	w.audit(model.EventSubmissionFinalized, model.ActionUpdate, sub, actor, old, snapshot(sub))

	if result == model.ResultPass && w.issuer != nil {
		if _, err = w.issuer.IssueCertificate(sub.ID, actor); err != nil {
			return nil, err
		}
		// Re-read to pick up the certificate stamp.
		return w.submissions.Get(sub.ID)
	}
	return sub, nil
}

// Resume moves a failed submission back to in-progress, clearing the verdict
// and score. Responses are kept.
func (w *Workflow) Resume(submissionID uint, actor Actor) (*model.Submission, error) {
	sub, err := w.submissions.Get(submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.StatusFailed {
		return nil, model.InvalidStateErrorFmt(
			"cannot resume submission in status '%s'", sub.Status,
		)
	}
	old := snapshot(sub)
	sub.Status = model.StatusInProgress
	sub.TotalScore = nil
	sub.CertificationResult = nil
	sub.FinalizedAt = nil
	if err = w.submissions.Save(sub); err != nil {
		return nil, err
	}
	w.audit(model.EventSubmissionResumed, model.ActionUpdate, sub, actor, old, snapshot(sub))
	return sub, nil
}

// Withdraw terminates a submission. Allowed from any state except the
// terminal ones and failed.
func (w *Workflow) Withdraw(submissionID uint, actor Actor) (*model.Submission, error) {
	sub, err := w.submissions.Get(submissionID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case model.StatusDraft, model.StatusInProgress, model.StatusCompleted:
	default:
		return nil, model.InvalidStateErrorFmt(
			"cannot withdraw submission in status '%s'", sub.Status,
		)
	}
	old := snapshot(sub)
	sub.Status = model.StatusWithdrawn
	if err = w.submissions.Save(sub); err != nil {
		return nil, err
	}
	w.audit(model.EventSubmissionWithdrawn, model.ActionUpdate, sub, actor, old, snapshot(sub))
	return sub, nil
}

// Delete removes a draft submission. Anything past draft must be withdrawn
// instead so the record survives.
func (w *Workflow) Delete(submissionID uint, actor Actor) error {
	sub, err := w.submissions.Get(submissionID)
	if err != nil {
		return err
	}
	if sub.Status != model.StatusDraft {
		return model.InvalidStateErrorFmt(
			"cannot delete submission in status '%s'", sub.Status,
		)
	}
	old := snapshot(sub)
	if err = w.submissions.Delete(submissionID); err != nil {
		return err
	}
	w.audit(model.EventSubmissionDeleted, model.ActionDelete, sub, actor, old, nil)
	return nil
}
