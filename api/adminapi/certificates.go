package adminapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/storage/model"
)

// registerCertificates wires certificate administration: listing, lookup and
// revocation. Issuance itself only happens through submission finalization.
func registerCertificates(
	r fiber.Router, certificates model.CertificateStore, issuer *vericert.IssuanceEngine,
) {
	g := r.Group("/certificates")

	g.Get(
		"/", func(c *fiber.Ctx) error {
			year := c.QueryInt("year", time.Now().Year())
			list, err := certificates.ListByYear(year)
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(list)
		},
	)

	g.Get(
		"/:id", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid certificate id"))
			}
			cert, err := certificates.Get(uint(id))
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(cert)
		},
	)

	type revokeReq struct {
		Reason string `json:"reason"`
	}
	g.Post(
		"/:id/revoke", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid certificate id"))
			}
			var req revokeReq
			if err = c.BodyParser(&req); err != nil {
				return invalidBody(c)
			}
			if req.Reason == "" {
				return fail(c, model.ValidationError("revocation reason is required"))
			}
			actor := actorFromCtx(c, "")
			cert, err := issuer.Revoke(uint(id), req.Reason, actor.ID, actor)
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(cert)
		},
	)
}
