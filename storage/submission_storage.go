package storage

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vericert/vericert/storage/model"
)

// SubmissionStorage implements model.SubmissionStore using GORM.
type SubmissionStorage struct {
	db *gorm.DB
}

// Create stores a new submission.
func (s *SubmissionStorage) Create(sub *model.Submission) error {
	if err := s.db.Create(sub).Error; err != nil {
		return errors.Wrap(err, "submissions: create failed")
	}
	return nil
}

// Get returns a submission with its responses preloaded.
func (s *SubmissionStorage) Get(id uint) (*model.Submission, error) {
	var sub model.Submission
	err := s.db.Preload("Responses").First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NotFoundErrorFmt("submission not found: %d", id)
		}
		return nil, errors.Wrap(err, "submissions: get failed")
	}
	return &sub, nil
}

// Save persists changed submission fields. Associated responses are managed
// through UpsertResponses and are deliberately not touched here.
func (s *SubmissionStorage) Save(sub *model.Submission) error {
	err := s.db.Omit(clause.Associations).Save(sub).Error
	return errors.Wrap(err, "submissions: save failed")
}

// Delete removes a submission; its responses go with it (cascade).
func (s *SubmissionStorage) Delete(id uint) error {
	return s.db.Transaction(
		func(tx *gorm.DB) error {
			if err := tx.Where("submission_id = ?", id).Delete(&model.SubmissionResponse{}).Error; err != nil {
				return errors.Wrap(err, "submissions: delete responses failed")
			}
			res := tx.Delete(&model.Submission{}, id)
			if res.Error != nil {
				return errors.Wrap(res.Error, "submissions: delete failed")
			}
			if res.RowsAffected == 0 {
				return model.NotFoundErrorFmt("submission not found: %d", id)
			}
			return nil
		},
	)
}

// UpsertResponses writes the passed responses keyed by (submission,
// criterion) in one transaction; either every response lands or none does.
func (s *SubmissionStorage) UpsertResponses(submissionID uint, responses []model.SubmissionResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return s.db.Transaction(
		func(tx *gorm.DB) error {
			for i := range responses {
				responses[i].ID = 0
				responses[i].SubmissionID = submissionID
				err := tx.Clauses(
					clause.OnConflict{
						Columns: []clause.Column{
							{Name: "submission_id"},
							{Name: "criterion_id"},
						},
						DoUpdates: clause.AssignmentColumns(
							[]string{
								"compliance_status",
								"score",
								"findings",
								"remediation_plan",
								"remediation_deadline",
								"updated_at",
							},
						),
					},
				).Create(&responses[i]).Error
				if err != nil {
					return errors.Wrap(err, "submissions: response upsert failed")
				}
			}
			return nil
		},
	)
}
