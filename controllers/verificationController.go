package controllers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"bankverify-backend/middlewares"
	"bankverify-backend/models"
	"bankverify-backend/verification"
)

// VerificationController is the thin HTTP edge in front of the orchestrator:
// bind, validate, forward. No business logic lives here.
type VerificationController struct {
	orc *verification.Orchestrator
	log *zap.Logger
}

func NewVerificationController(orc *verification.Orchestrator, log *zap.Logger) *VerificationController {
	return &VerificationController{orc: orc, log: log}
}

type issueURLRequest struct {
	ApplicantID   string `json:"applicant_id" validate:"required"`
	CustomerID    string `json:"customer_id" validate:"required"`
	BankName      string `json:"bank_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	Status        string `json:"status" validate:"required"`
}

// IssueURL returns the vendor verification URL for an applicant.
func (ct *VerificationController) IssueURL(c *fiber.Ctx) error {
	var req issueURLRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}

	url, err := ct.orc.BuildVerificationURL(c.Context(), &models.Applicant{
		ID:            req.ApplicantID,
		CustomerID:    req.CustomerID,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		Status:        req.Status,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"url": url})
}

// PowerCredCallback handles the inbound PowerCred webhook.
func (ct *VerificationController) PowerCredCallback(c *fiber.Ctx) error {
	return ct.callback(c, verification.PowerCred)
}

// PerfiosCallback handles the inbound Perfios webhook.
func (ct *VerificationController) PerfiosCallback(c *fiber.Ctx) error {
	return ct.callback(c, verification.Perfios)
}

func (ct *VerificationController) callback(c *fiber.Ctx, vendor verification.Vendor) error {
	if err := ct.orc.HandleCallback(c.Context(), vendor, c.Body()); err != nil {
		return err
	}
	// Vendors stop retrying on a 2xx; duplicates were already dropped inside.
	return c.JSON(fiber.Map{"status": "ok"})
}

// RetryEligibility reports whether the applicant may attempt verification
// again.
func (ct *VerificationController) RetryEligibility(c *fiber.Ctx) error {
	applicantID := c.Params("applicant_id")
	if applicantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "applicant_id required")
	}
	eligible, err := ct.orc.IsEligibleToRetry(c.Context(), applicantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"eligible": eligible})
}
