package adminapi

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/storage/model"
)

const localsActorKey = "admin_actor"

// authMiddleware enforces optional authentication for admin API routes.
// If there are no accounts in storage, all requests are allowed.
// If there is at least one account, it requires HTTP Basic authentication
// and validates credentials using UsersStore. Failed attempts land in the
// audit ledger as security events.
func authMiddleware(users model.UsersStore, sink vericert.AuditSink) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count, err := users.Count()
		if err != nil {
			return fail(c, err)
		}
		if count == 0 {
			return c.Next()
		}

		username, password, ok := parseBasicAuth(c)
		if !ok {
			c.Set("WWW-Authenticate", "Basic realm=admin")
			return c.Status(fiber.StatusUnauthorized).
				JSON(fiber.Map{"error": "invalid_client", "error_description": "missing credentials"})
		}
		if _, err = users.Authenticate(username, password); err != nil {
			if sink != nil {
				sink.Record(
					vericert.AuditEvent{
						EventType:  model.EventLogin,
						Action:     model.ActionLogin,
						EntityType: "user",
						EntityID:   username,
						Actor:      actorFromCtx(c, username),
						New:        map[string]any{"success": false},
					},
				)
			}
			c.Set("WWW-Authenticate", "Basic realm=admin")
			return c.Status(fiber.StatusUnauthorized).
				JSON(fiber.Map{"error": "invalid_client", "error_description": "invalid credentials"})
		}
		c.Locals(localsActorKey, username)
		return c.Next()
	}
}

// parseBasicAuth extracts Basic auth credentials from request headers
func parseBasicAuth(c *fiber.Ctx) (username, password string, ok bool) {
	auth := string(c.Request().Header.Peek("Authorization"))
	if auth == "" {
		return "", "", false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}
	b, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	creds := string(b)
	i := strings.IndexByte(creds, ':')
	if i < 0 {
		return "", "", false
	}
	return creds[:i], creds[i+1:], true
}

// actorFromCtx builds the audit actor for the current admin request. The
// username comes from the auth middleware when not passed explicitly.
func actorFromCtx(c *fiber.Ctx, username string) vericert.Actor {
	if username == "" {
		if stored, ok := c.Locals(localsActorKey).(string); ok {
			username = stored
		}
	}
	return vericert.Actor{
		ID:        username,
		IP:        c.IP(),
		UserAgent: string(c.Request().Header.UserAgent()),
	}
}
