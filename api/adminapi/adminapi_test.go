package adminapi

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/storage"
	"github.com/vericert/vericert/storage/model"
)

func newTestAPI(t *testing.T) (*fiber.App, model.Backends) {
	t.Helper()
	db, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "test.db")),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)},
	)
	require.NoError(t, err)
	s, err := storage.NewStorageFromDB(db)
	require.NoError(t, err)
	backends := s.Backends()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	v, err := vericert.NewVeriCert(
		vericert.Config{Issuer: vericert.IssuerConfig{ID: "https://certs.example.org"}},
		vericert.NewSigner(priv, 1), backends,
	)
	require.NoError(t, err)

	Register(v.Server().Group("/api/v1/admin"), v, backends, nil)
	return v.Server(), backends
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func TestAuthAllowsAllWithoutAccounts(t *testing.T) {
	app, _ := newTestAPI(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/admin/templates/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthRequiredOnceAccountsExist(t *testing.T) {
	app, backends := newTestAPI(t)
	_, err := backends.Users.Create("admin", "s3cret", "Admin")
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/admin/templates/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	bad := httptest.NewRequest("GET", "/api/v1/admin/templates/", nil)
	bad.SetBasicAuth("admin", "wrong")
	resp, err = app.Test(bad)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	good := httptest.NewRequest("GET", "/api/v1/admin/templates/", nil)
	good.SetBasicAuth("admin", "s3cret")
	resp, err = app.Test(good)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestFailedLoginIsAudited(t *testing.T) {
	app, backends := newTestAPI(t)
	_, err := backends.Users.Create("admin", "s3cret", "Admin")
	require.NoError(t, err)

	bad := httptest.NewRequest("GET", "/api/v1/admin/templates/", nil)
	bad.SetBasicAuth("admin", "wrong")
	resp, err := app.Test(bad)
	require.NoError(t, err)
	resp.Body.Close()

	entries, err := backends.Audit.FindByEntity("user", "admin")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EventLogin, entries[0].EventType)
}

func TestTemplateEndpointsDriveWorkflow(t *testing.T) {
	app, _ := newTestAPI(t)

	tpl := model.Template{
		Name:             "Baseline",
		Version:          1,
		PassingThreshold: 70,
		Categories: []model.Category{
			{
				Name: "Security", Weight: 1.0,
				Criteria: []model.Criterion{{Code: "SEC-1", Weight: 1.0, MaxScore: 10}},
			},
		},
	}
	resp, err := app.Test(jsonRequest(t, "POST", "/api/v1/admin/templates/", tpl))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created model.Template
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotZero(t, created.ID)

	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/admin/submissions/", map[string]any{
		"implementation_id": "impl-1",
		"template_id":       created.ID,
		"control_group":     "DSCP1",
	}))
	require.NoError(t, err)
	defer resp.Body.Close()
	// Template not yet published: creating a submission against it fails.
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/admin/templates/1/publish", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/admin/submissions/", map[string]any{
		"implementation_id": "impl-1",
		"template_id":       created.ID,
		"control_group":     "DSCP1",
	}))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var sub model.Submission
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sub))
	assert.Equal(t, model.StatusDraft, sub.Status)

	// Completing a draft is an invalid transition and maps to a conflict.
	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/admin/submissions/1/complete", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestSubmissionNotFoundMapsTo404(t *testing.T) {
	app, _ := newTestAPI(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/admin/submissions/4711", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
