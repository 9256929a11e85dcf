package verification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bankverify-backend/appstore"
	"bankverify-backend/models"
)

// StatusConfig names the application statuses and reasons the state machine
// writes through the application store.
type StatusConfig struct {
	EvidenceAccepted string // target status on SUCCESS
	EvidenceRejected string // target status on FAILED
	AcceptReason     string
}

const (
	tagSuccess = "success"
	tagFailed  = "failed"
)

// CallbackProcessor applies the terminal transition of a verification
// attempt. NONE→PENDING happens implicitly when a token session is written;
// this type owns PENDING→SUCCESS and PENDING→FAILED, each as one atomic unit.
type CallbackProcessor struct {
	repo     Repository
	apps     appstore.ApplicationStore
	rescorer appstore.Rescorer
	notifier appstore.Notifier
	statuses StatusConfig
	log      *zap.Logger
}

func NewCallbackProcessor(repo Repository, apps appstore.ApplicationStore, rescorer appstore.Rescorer, notifier appstore.Notifier, statuses StatusConfig, log *zap.Logger) *CallbackProcessor {
	return &CallbackProcessor{
		repo:     repo,
		apps:     apps,
		rescorer: rescorer,
		notifier: notifier,
		statuses: statuses,
		log:      log,
	}
}

// Apply moves the (applicant, vendor) attempt to its terminal state. A pair
// that already reached a terminal state drops the callback: logged, no
// mutation, nil error so the vendor gets a success acknowledgment and stops
// retrying.
func (p *CallbackProcessor) Apply(ctx context.Context, app *models.Applicant, vendor Vendor, d Decision, report *AnalysisReport, signals RiskSignals) error {
	existing, err := p.repo.Submission(ctx, app.ID, vendor)
	if err != nil {
		return fmt.Errorf("terminal state check: %w", err)
	}
	if existing != nil {
		p.log.Info("duplicate callback for terminal verification dropped",
			zap.String("applicant_id", app.ID),
			zap.String("vendor", string(vendor)),
			zap.String("prior_status", existing.Status))
		return nil
	}

	if d.Accepted {
		return p.accept(ctx, app, vendor, report, signals)
	}
	return p.reject(ctx, app, vendor, d, report, signals)
}

func (p *CallbackProcessor) accept(ctx context.Context, app *models.Applicant, vendor Vendor, report *AnalysisReport, signals RiskSignals) error {
	sub := &models.Submission{
		ApplicantID:       app.ID,
		Vendor:            string(vendor),
		Status:            models.SubmissionSuccess,
		AccountHolderName: report.AccountHolderName,
		Balances:          balanceRows(report.Months),
	}

	err := p.repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.SaveSubmission(ctx, sub); err != nil {
			return err
		}
		if err := tx.UpsertRiskFlags(ctx, app.ID, signals); err != nil {
			return err
		}
		// Collaborator calls run inside the closure so a failure rolls the
		// local writes back and the vendor's redelivery starts clean.
		if err := p.apps.AdvanceStatus(ctx, app.ID, p.statuses.EvidenceAccepted, p.statuses.AcceptReason); err != nil {
			return err
		}
		if err := p.apps.SetTag(ctx, app.ID, tagSuccess); err != nil {
			return err
		}
		return p.rescorer.TriggerRescore(ctx, app.ID)
	})
	if err != nil {
		return fmt.Errorf("accept transition: %w", err)
	}

	p.log.Info("verification accepted",
		zap.String("applicant_id", app.ID),
		zap.String("vendor", string(vendor)),
		zap.Int("balance_months", len(sub.Balances)))
	return nil
}

func (p *CallbackProcessor) reject(ctx context.Context, app *models.Applicant, vendor Vendor, d Decision, report *AnalysisReport, signals RiskSignals) error {
	sub := &models.Submission{
		ApplicantID:       app.ID,
		Vendor:            string(vendor),
		Status:            models.SubmissionFail,
		Fraud:             d.Fraud,
		RejectReason:      string(d.Reason),
		AccountHolderName: report.AccountHolderName,
		// A FAILED attempt never persists balance rows.
	}

	err := p.repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.SaveSubmission(ctx, sub); err != nil {
			return err
		}
		if err := tx.UpsertRiskFlags(ctx, app.ID, signals); err != nil {
			return err
		}
		if err := p.apps.RejectStatus(ctx, app.ID, p.statuses.EvidenceRejected, string(d.Reason)); err != nil {
			return err
		}
		if err := p.notifier.DisableMessaging(ctx, app.ID); err != nil {
			return err
		}
		return p.apps.SetTag(ctx, app.ID, tagFailed)
	})
	if err != nil {
		return fmt.Errorf("reject transition: %w", err)
	}

	p.log.Info("verification rejected",
		zap.String("applicant_id", app.ID),
		zap.String("vendor", string(vendor)),
		zap.String("reason", string(d.Reason)),
		zap.Bool("fraud", d.Fraud))
	return nil
}

func balanceRows(months []ReportedMonth) []models.MonthlyBalance {
	rows := make([]models.MonthlyBalance, 0, len(months))
	for _, m := range months {
		if m.Month.IsZero() {
			continue
		}
		rows = append(rows, models.MonthlyBalance{
			Month:      m.Month,
			MinEOD:     m.MinEOD,
			AvgEOD:     m.AvgEOD,
			EndOfMonth: m.EndOfMonth,
		})
	}
	return rows
}
