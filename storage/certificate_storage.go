package storage

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/vericert/vericert/storage/model"
)

// CertificateStorage implements model.CertificateStore using GORM.
type CertificateStorage struct {
	db *gorm.DB
}

// Issue allocates the next status-list index and persists the certificate
// built by the passed callback.
//
// The existence re-check, the max-index read, the insert and the submission
// stamp all run in one serializable transaction; the database is relied upon
// to fail one of two racing issuances. Both unique violations and
// serialization failures surface as an AlreadyExistsError so the caller sees
// a single conflict semantic instead of raw driver errors.
func (s *CertificateStorage) Issue(
	submissionID uint, build func(nextIndex int64) (*model.Certificate, error),
) (*model.Certificate, error) {
	var cert *model.Certificate
	err := s.db.Transaction(
		func(tx *gorm.DB) error {
			var existing int64
			if err := tx.Model(&model.Certificate{}).
				Where("submission_id = ?", submissionID).
				Count(&existing).Error; err != nil {
				return errors.Wrap(err, "certificates: existence check failed")
			}
			if existing > 0 {
				return model.AlreadyExistsErrorFmt(
					"certificate already issued for submission %d", submissionID,
				)
			}

			var maxIndex sql.NullInt64
			err := tx.Model(&model.Certificate{}).
				Select("MAX(status_list_index)").
				Scan(&maxIndex).Error
			if err != nil {
				return errors.Wrap(err, "certificates: max index read failed")
			}
			nextIndex := int64(0)
			if maxIndex.Valid {
				nextIndex = maxIndex.Int64 + 1
			}

			var buildErr error
			cert, buildErr = build(nextIndex)
			if buildErr != nil {
				return buildErr
			}
			cert.SubmissionID = submissionID
			cert.StatusListIndex = nextIndex

			if err = tx.Create(cert).Error; err != nil {
				return err
			}
			return tx.Model(&model.Submission{}).
				Where("id = ?", submissionID).
				Updates(
					map[string]any{
						"is_certified":       true,
						"certificate_number": cert.CertificateNumber,
					},
				).Error
		}, &sql.TxOptions{Isolation: sql.LevelSerializable},
	)
	if err != nil {
		var conflict model.AlreadyExistsError
		if errors.As(err, &conflict) {
			return nil, conflict
		}
		if isUniqueConstraintError(err) || isSerializationError(err) {
			return nil, model.AlreadyExistsErrorFmt(
				"certificate already issued for submission %d", submissionID,
			)
		}
		return nil, errors.Wrap(err, "certificates: issue failed")
	}
	return cert, nil
}

// Get returns a certificate by id.
func (s *CertificateStorage) Get(id uint) (*model.Certificate, error) {
	var cert model.Certificate
	if err := s.db.First(&cert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NotFoundErrorFmt("certificate not found: %d", id)
		}
		return nil, errors.Wrap(err, "certificates: get failed")
	}
	return &cert, nil
}

// BySubmission returns the certificate issued for a submission.
func (s *CertificateStorage) BySubmission(submissionID uint) (*model.Certificate, error) {
	return s.first("submission_id = ?", submissionID)
}

// ByVerificationCode returns the certificate with the passed public lookup code.
func (s *CertificateStorage) ByVerificationCode(code string) (*model.Certificate, error) {
	return s.first("verification_code = ?", code)
}

// ByNumber returns the certificate with the passed certificate number.
func (s *CertificateStorage) ByNumber(number string) (*model.Certificate, error) {
	return s.first("certificate_number = ?", number)
}

func (s *CertificateStorage) first(query string, arg any) (*model.Certificate, error) {
	var cert model.Certificate
	if err := s.db.Where(query, arg).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NotFoundError("certificate not found")
		}
		return nil, errors.Wrap(err, "certificates: lookup failed")
	}
	return &cert, nil
}

// Revoke stamps the revocation fields. The credential payload itself is
// never touched.
func (s *CertificateStorage) Revoke(id uint, reason, revokerID string) (*model.Certificate, error) {
	var cert model.Certificate
	err := s.db.Transaction(
		func(tx *gorm.DB) error {
			if err := tx.First(&cert, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return model.NotFoundErrorFmt("certificate not found: %d", id)
				}
				return errors.Wrap(err, "certificates: get failed")
			}
			if cert.IsRevoked {
				return model.AlreadyExistsErrorFmt("certificate %s is already revoked", cert.CertificateNumber)
			}
			now := time.Now()
			cert.IsRevoked = true
			cert.RevokedAt = &now
			cert.RevokedByID = &revokerID
			cert.RevocationReason = &reason
			return errors.Wrap(tx.Save(&cert).Error, "certificates: revoke failed")
		},
	)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// ListByYear returns all certificates issued in the passed calendar year
// ordered by status-list index.
func (s *CertificateStorage) ListByYear(year int) ([]model.Certificate, error) {
	var certs []model.Certificate
	err := s.db.Where("issued_year = ?", year).
		Order("status_list_index ASC").
		Find(&certs).Error
	if err != nil {
		return nil, errors.Wrap(err, "certificates: list by year failed")
	}
	return certs, nil
}
