package vericert

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vericert/vericert/storage/model"
)

// scoringTemplate builds an in-memory template with stable criterion ids:
//
//	1 Security (0.6): 11 SEC-1 (w 0.5, max 10, mandatory), 12 SEC-2 (w 0.5, max 10)
//	2 Operations (0.4): 21 OPS-1 (w 1.0, max 5, critical fail, DSCP2 only)
func scoringTemplate() *model.Template {
	return &model.Template{
		PassingThreshold: 70,
		Categories: []model.Category{
			{
				ID: 1, Name: "Security", Weight: 0.6,
				Criteria: []model.Criterion{
					{ID: 11, Code: "SEC-1", Weight: 0.5, MaxScore: 10, IsMandatory: true},
					{ID: 12, Code: "SEC-2", Weight: 0.5, MaxScore: 10},
				},
			},
			{
				ID: 2, Name: "Operations", Weight: 0.4,
				Criteria: []model.Criterion{
					{ID: 21, Code: "OPS-1", Weight: 1.0, MaxScore: 5, IsCriticalFail: true, ControlGroup: "DSCP2"},
				},
			},
		},
	}
}

func response(criterionID uint, status model.ComplianceStatus) model.SubmissionResponse {
	return model.SubmissionResponse{CriterionID: criterionID, ComplianceStatus: status}
}

func TestComputeScoresAllCompliant(t *testing.T) {
	report := ComputeScores(
		scoringTemplate(),
		[]model.SubmissionResponse{
			response(11, model.ComplianceCompliant),
			response(12, model.ComplianceCompliant),
			response(21, model.ComplianceCompliant),
		},
		"DSCP2",
	)
	assert.InDelta(t, 100, report.Overall, 1e-9)
	assert.Empty(t, report.CriticalFailures)
	assert.Equal(t, model.ResultPass, report.Result(70))
}

func TestComputeScoresPartialCompliance(t *testing.T) {
	report := ComputeScores(
		scoringTemplate(),
		[]model.SubmissionResponse{
			response(11, model.ComplianceCompliant),
			response(12, model.CompliancePartial),
		},
		"DSCP1",
	)
	// Security: (1.0*0.5 + 0.5*0.5) / 1.0 = 75; Operations unanswered, so the
	// overall score is the Security score alone.
	assert.InDelta(t, 75, report.Overall, 1e-9)
	assert.Equal(t, model.ResultPass, report.Result(70))
	assert.Equal(t, model.ResultFail, report.Result(80))
}

func TestComputeScoresCriticalFailureForcesFail(t *testing.T) {
	report := ComputeScores(
		scoringTemplate(),
		[]model.SubmissionResponse{
			response(11, model.ComplianceNonCompliant),
			response(12, model.ComplianceCompliant),
		},
		"DSCP1",
	)
	assert.Equal(t, []string{"SEC-1"}, report.CriticalFailures)
	// Even a threshold of zero cannot rescue a critical failure.
	assert.Equal(t, model.ResultFail, report.Result(0))
}

func TestComputeScoresControlGroupExcludesCriteria(t *testing.T) {
	// OPS-1 only applies to DSCP2: a non-compliant answer to it must neither
	// score nor trigger its critical-fail flag for a DSCP1 assessment.
	report := ComputeScores(
		scoringTemplate(),
		[]model.SubmissionResponse{
			response(11, model.ComplianceCompliant),
			response(12, model.ComplianceCompliant),
			response(21, model.ComplianceNonCompliant),
		},
		"DSCP1",
	)
	assert.InDelta(t, 100, report.Overall, 1e-9)
	assert.Empty(t, report.CriticalFailures)

	assert.Len(t, report.Categories, 2)
	assert.Equal(t, 0, report.Categories[1].Answered)
}

func TestComputeScoresCriticalFailInGroup(t *testing.T) {
	report := ComputeScores(
		scoringTemplate(),
		[]model.SubmissionResponse{
			response(11, model.ComplianceCompliant),
			response(12, model.ComplianceCompliant),
			response(21, model.ComplianceNonCompliant),
		},
		"DSCP2",
	)
	assert.Equal(t, []string{"OPS-1"}, report.CriticalFailures)
	assert.Equal(t, model.ResultFail, report.Result(0))
}

func TestComputeScoresNotApplicableDoesNotDrag(t *testing.T) {
	report := ComputeScores(
		scoringTemplate(),
		[]model.SubmissionResponse{
			response(11, model.ComplianceCompliant),
			response(12, model.ComplianceNotApplicable),
		},
		"DSCP1",
	)
	// SEC-2 is excluded from normalization, so Security remains at 100.
	assert.InDelta(t, 100, report.Overall, 1e-9)
	assert.Equal(t, 1, report.Categories[0].Answered)
}

func TestComputeScoresExplicitScoreClamped(t *testing.T) {
	over := 999.0
	under := -5.0
	report := ComputeScores(
		scoringTemplate(),
		[]model.SubmissionResponse{
			{CriterionID: 11, ComplianceStatus: model.CompliancePartial, Score: &over},
			{CriterionID: 12, ComplianceStatus: model.CompliancePartial, Score: &under},
		},
		"DSCP1",
	)
	// Clamped to [0, MaxScore]: (10/10*0.5 + 0/10*0.5) / 1.0 = 50.
	assert.InDelta(t, 50, report.Overall, 1e-9)
}

func TestComputeScoresNoResponses(t *testing.T) {
	report := ComputeScores(scoringTemplate(), nil, "DSCP1")
	assert.Zero(t, report.Overall)
	assert.Equal(t, model.ResultFail, report.Result(70))
	assert.Equal(t, model.ResultPass, report.Result(0))
}

func TestDefaultScorePerStatus(t *testing.T) {
	assert.InDelta(t, 10, model.ComplianceCompliant.DefaultScore(10), 1e-9)
	assert.InDelta(t, 5, model.CompliancePartial.DefaultScore(10), 1e-9)
	assert.Zero(t, model.ComplianceNonCompliant.DefaultScore(10))
	assert.Zero(t, model.ComplianceNotApplicable.DefaultScore(10))
	assert.Zero(t, model.ComplianceNotTested.DefaultScore(10))
}
