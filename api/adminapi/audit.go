package adminapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/storage/model"
)

// registerAudit wires the ledger projections, the integrity report and the
// retention endpoints.
func registerAudit(r fiber.Router, ledger *vericert.AuditLedger, retention *vericert.RetentionService) {
	g := r.Group("/audit")

	g.Get(
		"/", func(c *fiber.Ctx) error {
			filter := model.AuditFilter{
				EventType:  model.AuditEventType(c.Query("event_type")),
				EntityType: c.Query("entity_type"),
				EntityID:   c.Query("entity_id"),
				ActorID:    c.Query("actor_id"),
				Action:     model.AuditAction(c.Query("action")),
				Offset:     c.QueryInt("offset", 0),
				Limit:      c.QueryInt("limit", 100),
			}
			if from := c.Query("from"); from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fail(c, model.ValidationError("invalid 'from' timestamp"))
				}
				filter.From = &t
			}
			if to := c.Query("to"); to != "" {
				t, err := time.Parse(time.RFC3339, to)
				if err != nil {
					return fail(c, model.ValidationError("invalid 'to' timestamp"))
				}
				filter.To = &t
			}
			entries, total, err := ledger.Entries(filter)
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(fiber.Map{"total": total, "entries": entries})
		},
	)

	g.Get(
		"/entity/:type/:id", func(c *fiber.Ctx) error {
			entries, err := ledger.EntityHistory(c.Params("type"), c.Params("id"))
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(entries)
		},
	)

	g.Get(
		"/integrity", func(c *fiber.Ctx) error {
			report, err := ledger.ValidateIntegrity(actorFromCtx(c, ""))
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(report)
		},
	)

	g.Get(
		"/retention", func(c *fiber.Ctx) error {
			report, err := retention.Report()
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(report)
		},
	)

	g.Post(
		"/retention/sweep", func(c *fiber.Ctx) error {
			removed, err := retention.Sweep(c.QueryInt("limit", 1000))
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(fiber.Map{"removed": removed})
		},
	)
}
