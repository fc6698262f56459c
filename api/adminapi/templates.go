package adminapi

import (
	"github.com/gofiber/fiber/v2"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/storage/model"
)

// registerTemplates wires the template registry endpoints.
func registerTemplates(r fiber.Router, templates model.TemplateStore, sink vericert.AuditSink) {
	g := r.Group("/templates")

	g.Get(
		"/", func(c *fiber.Ctx) error {
			list, err := templates.List()
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(list)
		},
	)

	g.Post(
		"/", func(c *fiber.Ctx) error {
			var tpl model.Template
			if err := c.BodyParser(&tpl); err != nil {
				return invalidBody(c)
			}
			if tpl.Name == "" {
				return fail(c, model.ValidationError("template name is required"))
			}
			if err := templates.Create(&tpl); err != nil {
				return fail(c, err)
			}
			return c.Status(fiber.StatusCreated).JSON(tpl)
		},
	)

	g.Get(
		"/:id", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid template id"))
			}
			tpl, err := templates.Get(uint(id))
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(tpl)
		},
	)

	g.Post(
		"/:id/publish", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid template id"))
			}
			tpl, err := templates.Publish(uint(id))
			if err != nil {
				return fail(c, err)
			}
			if sink != nil {
				sink.Record(
					vericert.AuditEvent{
						EventType:  model.EventTemplatePublished,
						Action:     model.ActionUpdate,
						EntityType: "template",
						EntityID:   c.Params("id"),
						EntityName: tpl.Name,
						Actor:      actorFromCtx(c, ""),
						New: map[string]any{
							"name":    tpl.Name,
							"version": tpl.Version,
						},
					},
				)
			}
			return c.JSON(tpl)
		},
	)
}
