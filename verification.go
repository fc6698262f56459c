package vericert

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/v3/jwk"
	log "github.com/sirupsen/logrus"
)

// actorFromCtx extracts request metadata for audit enrichment. Public
// endpoints have no authenticated user, so the id stays empty.
func actorFromCtx(ctx *fiber.Ctx) Actor {
	return Actor{
		IP:        ctx.IP(),
		UserAgent: string(ctx.Request().Header.UserAgent()),
	}
}

// addVerificationEndpoint mounts the public certificate verification
// endpoints. Lookup works by verification code or by certificate number.
func (v *VeriCert) addVerificationEndpoint() {
	v.server.Get(
		"/verify/:code", func(ctx *fiber.Ctx) error {
			result, err := v.Issuer.Verify(ctx.Params("code"), actorFromCtx(ctx))
			if err != nil {
				status, body := ErrorResponse(err)
				return ctx.Status(status).JSON(body)
			}
			return ctx.JSON(result)
		},
	)
	v.server.Get(
		"/certificates/:number/verify", func(ctx *fiber.Ctx) error {
			result, err := v.Issuer.VerifyByNumber(ctx.Params("number"), actorFromCtx(ctx))
			if err != nil {
				status, body := ErrorResponse(err)
				return ctx.Status(status).JSON(body)
			}
			return ctx.JSON(result)
		},
	)
}

// addJWKSEndpoint publishes the verification key so credential consumers can
// check proofs without resolving the did:key method.
func (v *VeriCert) addJWKSEndpoint() {
	v.server.Get(
		"/.well-known/jwks.json", func(ctx *fiber.Ctx) error {
			if v.signer == nil {
				ctx.Status(fiber.StatusServiceUnavailable)
				return ctx.JSON(apiError{Error: "unavailable", Description: "no signing key configured"})
			}
			key, err := v.signer.PublicKeyJWK()
			if err != nil {
				log.WithError(err).Error("could not export public key")
				ctx.Status(fiber.StatusInternalServerError)
				return ctx.JSON(apiError{Error: "server_error"})
			}
			set := jwk.NewSet()
			if err = set.AddKey(key); err != nil {
				ctx.Status(fiber.StatusInternalServerError)
				return ctx.JSON(apiError{Error: "server_error"})
			}
			return ctx.JSON(set)
		},
	)
}
