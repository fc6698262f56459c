package adminapi

import (
	"github.com/gofiber/fiber/v2"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/storage/model"
)

// Options controls optional features of the admin API registration.
type Options struct {
	// UsersEnabled controls whether the account management API is mounted.
	UsersEnabled bool
}

// Register mounts all admin API routes under the provided group.
func Register(r fiber.Router, v *vericert.VeriCert, storages model.Backends, opts *Options) {
	r.Use(authMiddleware(storages.Users, v.Ledger))

	registerTemplates(r, storages.Templates, v.Ledger)
	registerSubmissions(r, v.Workflow)
	registerCertificates(r, storages.Certificates, v.Issuer)
	registerAudit(r, v.Ledger, v.Retention)
	if opts == nil || opts.UsersEnabled {
		registerUsers(r, storages.Users)
	}
}

// fail writes the error mapped through the shared error taxonomy.
func fail(c *fiber.Ctx, err error) error {
	status, body := vericert.ErrorResponse(err)
	return c.Status(status).JSON(body)
}

func invalidBody(c *fiber.Ctx) error {
	return fail(c, model.ValidationError("invalid body"))
}
