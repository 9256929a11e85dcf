package routes

import (
	"github.com/gofiber/fiber/v2"

	"bankverify-backend/controllers"
)

// Register wires all HTTP routes.
func Register(app *fiber.App, verification *controllers.VerificationController) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Internal caller path: issue a vendor verification URL.
	api.Post("/verification/url", verification.IssueURL)
	api.Get("/verification/:applicant_id/retry", verification.RetryEligibility)

	// Vendor webhook paths. Routing/auth in front of these is handled at the
	// gateway; this layer only forwards to the orchestrator.
	api.Post("/callback/powercred", verification.PowerCredCallback)
	api.Post("/callback/perfios", verification.PerfiosCallback)
}
