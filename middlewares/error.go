package middlewares

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"bankverify-backend/verification"
)

// ErrorHandler centralizes error responses and keeps messages sanitized.
// Business rejections never reach here (they are values, not errors); what
// arrives is the §-taxonomy of operational failures.
func NewErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		// Fiber errors keep their status code + message.
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		// Validation errors: 422 + per-field info.
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			out := make(map[string]string, len(ve))
			for _, f := range ve {
				out[f.Field()] = f.Tag()
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "validation failed",
				"errors":  out,
			})
		}

		// Duplicate-charge guard: the applicant already verified with this
		// vendor; a new session would double-bill.
		if errors.Is(err, verification.ErrAlreadyVerified) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"message": "verification already completed for this applicant",
			})
		}

		// Vendor rejected or broke the contract on an outbound call. Not
		// retried here; the caller may try again.
		var vendorErr *verification.VendorError
		if errors.As(err, &vendorErr) {
			log.Warn("vendor request failed", zap.Error(vendorErr))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"message": "verification vendor unavailable",
			})
		}

		// Archive failures abort the callback before any state was written;
		// a non-2xx here makes the vendor redeliver, which is safe.
		var archiveErr *verification.ArchiveError
		if errors.As(err, &archiveErr) {
			log.Error("report archive processing failed", zap.Error(archiveErr))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"message": "report processing failed",
			})
		}

		var signErr *verification.SigningError
		if errors.As(err, &signErr) {
			log.Error("request signing failed", zap.Error(signErr))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"message": "internal server error",
			})
		}

		log.Error("internal error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "internal server error",
		})
	}
}
