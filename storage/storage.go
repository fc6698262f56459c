package storage

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/vericert/vericert/storage/model"
)

// Storage is a GORM-based storage implementation
type Storage struct {
	db         *gorm.DB
	userParams Argon2idParams
}

var models = []any{
	&model.AuditEntry{},
	&model.Template{},
	&model.Category{},
	&model.Criterion{},
	&model.Submission{},
	&model.SubmissionResponse{},
	&model.Certificate{},
	&model.KeyValue{},
	&model.User{},
}

// NewStorage creates a new GORM-based storage
func NewStorage(config Config) (*Storage, error) {
	db, err := Connect(config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto migrate the schemas
	if err = db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	params := config.UsersHash
	if params.Time == 0 {
		params = defaultArgon2idParams()
	}
	return &Storage{db: db, userParams: params}, nil
}

// NewStorageFromDB wraps an existing database handle; used by tests and the
// cli tooling.
func NewStorageFromDB(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db, userParams: defaultArgon2idParams()}, nil
}

// AuditStorage returns an AuditStorage
func (s *Storage) AuditStorage() *AuditStorage {
	return &AuditStorage{db: s.db}
}

// TemplateStorage returns a TemplateStorage
func (s *Storage) TemplateStorage() *TemplateStorage {
	return &TemplateStorage{db: s.db}
}

// SubmissionStorage returns a SubmissionStorage
func (s *Storage) SubmissionStorage() *SubmissionStorage {
	return &SubmissionStorage{db: s.db}
}

// CertificateStorage returns a CertificateStorage
func (s *Storage) CertificateStorage() *CertificateStorage {
	return &CertificateStorage{db: s.db}
}

// UsersStorage returns a UsersStorage
func (s *Storage) UsersStorage() *UsersStorage {
	return &UsersStorage{db: s.db, params: s.userParams}
}

// Backends returns all storage backends grouped together.
func (s *Storage) Backends() model.Backends {
	return model.Backends{
		Audit:        s.AuditStorage(),
		Templates:    s.TemplateStorage(),
		Submissions:  s.SubmissionStorage(),
		Certificates: s.CertificateStorage(),
		KV:           s.KeyValue(),
		Users:        s.UsersStorage(),
	}
}

// isUniqueConstraintError reports whether the passed error signals a violated
// uniqueness constraint, across the supported drivers.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // postgres, sqlite
		strings.Contains(msg, "duplicate entry") || // mysql
		strings.Contains(msg, "constraint failed") // sqlite
}

// isSerializationError reports whether the passed error signals a
// serialization/write-conflict failure of a serializable transaction.
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not serialize") || // postgres 40001
		strings.Contains(msg, "deadlock") || // mysql 1213
		strings.Contains(msg, "database is locked") // sqlite busy
}
