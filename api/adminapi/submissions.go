package adminapi

import (
	"github.com/gofiber/fiber/v2"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/storage/model"
)

// registerSubmissions wires the assessment workflow endpoints.
func registerSubmissions(r fiber.Router, workflow *vericert.Workflow) {
	g := r.Group("/submissions")

	type createReq struct {
		ImplementationID string `json:"implementation_id"`
		TemplateID       uint   `json:"template_id"`
		ControlGroup     string `json:"control_group"`
	}
	g.Post(
		"/", func(c *fiber.Ctx) error {
			var req createReq
			if err := c.BodyParser(&req); err != nil {
				return invalidBody(c)
			}
			sub, err := workflow.Create(
				req.ImplementationID, req.TemplateID, req.ControlGroup, actorFromCtx(c, ""),
			)
			if err != nil {
				return fail(c, err)
			}
			return c.Status(fiber.StatusCreated).JSON(sub)
		},
	)

	g.Get(
		"/:id", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid submission id"))
			}
			sub, err := workflow.Get(uint(id))
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(sub)
		},
	)

	type saveResponsesReq struct {
		Responses     []model.SubmissionResponse `json:"responses"`
		CategoryIndex *int                       `json:"category_index"`
	}
	g.Put(
		"/:id/responses", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid submission id"))
			}
			var req saveResponsesReq
			if err = c.BodyParser(&req); err != nil {
				return invalidBody(c)
			}
			sub, err := workflow.SaveResponses(
				uint(id), req.Responses, req.CategoryIndex, actorFromCtx(c, ""),
			)
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(sub)
		},
	)

	g.Post(
		"/:id/complete", func(c *fiber.Ctx) error {
			return transition(c, workflow.Complete)
		},
	)

	type finalizeReq struct {
		Notes string `json:"notes"`
	}
	g.Post(
		"/:id/finalize", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid submission id"))
			}
			var req finalizeReq
			if len(c.Body()) > 0 {
				if err = c.BodyParser(&req); err != nil {
					return invalidBody(c)
				}
			}
			sub, err := workflow.Finalize(uint(id), actorFromCtx(c, ""), req.Notes)
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(sub)
		},
	)

	g.Post(
		"/:id/resume", func(c *fiber.Ctx) error {
			return transition(c, workflow.Resume)
		},
	)

	g.Post(
		"/:id/withdraw", func(c *fiber.Ctx) error {
			return transition(c, workflow.Withdraw)
		},
	)

	g.Delete(
		"/:id", func(c *fiber.Ctx) error {
			id, err := c.ParamsInt("id")
			if err != nil {
				return fail(c, model.ValidationError("invalid submission id"))
			}
			if err = workflow.Delete(uint(id), actorFromCtx(c, "")); err != nil {
				return fail(c, err)
			}
			return c.SendStatus(fiber.StatusNoContent)
		},
	)
}

// transition handles the body-less state transition endpoints.
func transition(
	c *fiber.Ctx, op func(uint, vericert.Actor) (*model.Submission, error),
) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fail(c, model.ValidationError("invalid submission id"))
	}
	sub, err := op(uint(id), actorFromCtx(c, ""))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(sub)
}
