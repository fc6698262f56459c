package vericert

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vericert/vericert/storage"
	"github.com/vericert/vericert/storage/model"
)

func newTestBackends(t *testing.T) (*gorm.DB, model.Backends) {
	t.Helper()
	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "test.db")),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)},
	)
	require.NoError(t, err)
	s, err := storage.NewStorageFromDB(db)
	require.NoError(t, err)
	return db, s.Backends()
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return NewSigner(priv, 1)
}

// newTestTemplate stores and publishes a two-category template:
//
//	Security (weight 0.6): SEC-1 (mandatory), SEC-2
//	Operations (weight 0.4): OPS-1 (critical fail, control group DSCP2 only)
//
// Passing threshold 70.
func newTestTemplate(t *testing.T, templates model.TemplateStore) *model.Template {
	t.Helper()
	tpl := &model.Template{
		Name:             "Data Security Certification",
		Version:          1,
		Description:      "Baseline data security assessment",
		PassingThreshold: 70,
		Categories: []model.Category{
			{
				Name:       "Security",
				Weight:     0.6,
				OrderIndex: 0,
				Criteria: []model.Criterion{
					{Code: "SEC-1", Name: "Encryption at rest", Weight: 0.5, MaxScore: 10, IsMandatory: true},
					{Code: "SEC-2", Name: "Access control", Weight: 0.5, MaxScore: 10},
				},
			},
			{
				Name:       "Operations",
				Weight:     0.4,
				OrderIndex: 1,
				Criteria: []model.Criterion{
					{Code: "OPS-1", Name: "Incident response", Weight: 1.0, MaxScore: 5, IsCriticalFail: true, ControlGroup: "DSCP2"},
				},
			},
		},
	}
	require.NoError(t, templates.Create(tpl))
	published, err := templates.Publish(tpl.ID)
	require.NoError(t, err)
	full, err := templates.Get(published.ID)
	require.NoError(t, err)
	return full
}

// criterionByCode resolves a stored criterion id by its code.
func criterionByCode(t *testing.T, tpl *model.Template, code string) model.Criterion {
	t.Helper()
	for _, cat := range tpl.Categories {
		for _, crit := range cat.Criteria {
			if crit.Code == code {
				return crit
			}
		}
	}
	t.Fatalf("criterion %s not found in template", code)
	return model.Criterion{}
}

func compliantResponses(t *testing.T, tpl *model.Template, codes ...string) []model.SubmissionResponse {
	t.Helper()
	responses := make([]model.SubmissionResponse, 0, len(codes))
	for _, code := range codes {
		responses = append(
			responses, model.SubmissionResponse{
				CriterionID:      criterionByCode(t, tpl, code).ID,
				ComplianceStatus: model.ComplianceCompliant,
			},
		)
	}
	return responses
}
