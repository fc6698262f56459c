package vericert

import (
	"math"

	"github.com/vericert/vericert/storage/model"
)

// CategoryScore is the weight-normalized score of one template category,
// expressed on a 0-100 scale.
type CategoryScore struct {
	CategoryID uint    `json:"category_id"`
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	Score      float64 `json:"score"`

	// Answered is the number of scored responses that entered the
	// normalization; not-applicable and not-tested responses do not count.
	Answered int `json:"answered"`
}

// ScoreReport is the outcome of scoring a submission against its template.
type ScoreReport struct {
	Overall    float64         `json:"overall"`
	Categories []CategoryScore `json:"categories"`

	// CriticalFailures lists the codes of mandatory or critical-fail
	// criteria in the target control group that were answered non-compliant.
	// Any entry here forces a FAIL regardless of the numeric score.
	CriticalFailures []string `json:"critical_failures,omitempty"`
}

// Result applies the template's passing threshold to the report.
func (r *ScoreReport) Result(passingThreshold float64) model.CertificationResult {
	if len(r.CriticalFailures) > 0 {
		return model.ResultFail
	}
	if r.Overall < passingThreshold {
		return model.ResultFail
	}
	return model.ResultPass
}

// responseScore returns the score contribution of a response against its
// criterion. An explicit score wins over the status-derived default and is
// clamped to the criterion's maximum.
func responseScore(resp model.SubmissionResponse, criterion model.Criterion) float64 {
	if resp.Score != nil {
		return math.Min(math.Max(*resp.Score, 0), criterion.MaxScore)
	}
	return resp.ComplianceStatus.DefaultScore(criterion.MaxScore)
}

// ComputeScores scores the responses against the template for the passed
// control group.
//
// Per category the score is the weight-normalized average of the normalized
// per-criterion scores: sum(score/maxScore*weight) over answered criteria,
// divided by the total answered weight. The overall score combines category
// scores the same way using category weights. Criteria outside the control
// group and responses marked not-applicable or not-tested stay out of the
// normalization entirely, so skipping a criterion never drags the score down.
func ComputeScores(
	template *model.Template, responses []model.SubmissionResponse, controlGroup string,
) *ScoreReport {
	byCriterion := make(map[uint]model.SubmissionResponse, len(responses))
	for _, resp := range responses {
		byCriterion[resp.CriterionID] = resp
	}

	report := &ScoreReport{
		Categories: make([]CategoryScore, 0, len(template.Categories)),
	}
	var overallSum, overallWeight float64
	for _, category := range template.Categories {
		cs := CategoryScore{
			CategoryID: category.ID,
			Name:       category.Name,
			Weight:     category.Weight,
		}
		var sum, answeredWeight float64
		for _, criterion := range category.Criteria {
			if !criterion.AppliesTo(controlGroup) {
				continue
			}
			resp, answered := byCriterion[criterion.ID]
			if !answered || !resp.ComplianceStatus.Scored() {
				continue
			}
			if resp.ComplianceStatus == model.ComplianceNonCompliant &&
				(criterion.IsMandatory || criterion.IsCriticalFail) {
				report.CriticalFailures = append(report.CriticalFailures, criterion.Code)
			}
			if criterion.MaxScore <= 0 {
				continue
			}
			sum += responseScore(resp, criterion) / criterion.MaxScore * criterion.Weight
			answeredWeight += criterion.Weight
			cs.Answered++
		}
		if answeredWeight > 0 {
			cs.Score = sum / answeredWeight * 100
			overallSum += cs.Score * category.Weight
			overallWeight += category.Weight
		}
		report.Categories = append(report.Categories, cs)
	}
	if overallWeight > 0 {
		report.Overall = overallSum / overallWeight
	}
	return report
}
