package verification

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bankverify-backend/models"
)

// Repository is the persistence surface the orchestrator needs. It is an
// interface so the state machine and splitter are testable against an
// in-memory fake; production wiring uses the gorm implementation below.
type Repository interface {
	UpsertApplicant(ctx context.Context, app *models.Applicant) error
	Applicant(ctx context.Context, id string) (*models.Applicant, error)

	SaveSession(ctx context.Context, s *models.VerificationSession) error
	LatestTokenSession(ctx context.Context, applicantID string, vendor Vendor) (*models.VerificationSession, error)
	MarkSessionClicked(ctx context.Context, sessionID uint, at time.Time) error

	VendorUsage(ctx context.Context, applicantID string) (map[Vendor]int, error)

	Submission(ctx context.Context, applicantID string, vendor Vendor) (*models.Submission, error)
	HasSubmissionWithBalances(ctx context.Context, applicantID string, vendor Vendor) (bool, error)
	SaveSubmission(ctx context.Context, sub *models.Submission) error
	UpsertRiskFlags(ctx context.Context, applicantID string, signals RiskSignals) error

	// Transaction runs fn against a repository bound to one database
	// transaction; fn returning an error rolls everything back.
	Transaction(ctx context.Context, fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository wraps a gorm DB handle in the Repository interface.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertApplicant(ctx context.Context, app *models.Applicant) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"customer_id", "bank_name", "account_number", "status", "updated_at"}),
	}).Create(app).Error
}

func (r *gormRepository) Applicant(ctx context.Context, id string) (*models.Applicant, error) {
	var app models.Applicant
	if err := r.db.WithContext(ctx).First(&app, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

func (r *gormRepository) SaveSession(ctx context.Context, s *models.VerificationSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) LatestTokenSession(ctx context.Context, applicantID string, vendor Vendor) (*models.VerificationSession, error) {
	var s models.VerificationSession
	err := r.db.WithContext(ctx).
		Where("applicant_id = ? AND vendor = ? AND kind = ?", applicantID, string(vendor), models.SessionKindToken).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) MarkSessionClicked(ctx context.Context, sessionID uint, at time.Time) error {
	// Only the first click is recorded.
	return r.db.WithContext(ctx).
		Model(&models.VerificationSession{}).
		Where("id = ? AND first_click_at IS NULL", sessionID).
		Update("first_click_at", at).Error
}

func (r *gormRepository) VendorUsage(ctx context.Context, applicantID string) (map[Vendor]int, error) {
	usage := make(map[Vendor]int)

	type row struct {
		Vendor string
		N      int
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.VerificationSession{}).
		Select("vendor, count(*) as n").
		Where("applicant_id = ?", applicantID).
		Group("vendor").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, rw := range rows {
		if v, err := ParseVendor(rw.Vendor); err == nil {
			usage[v] += rw.N
		}
	}

	rows = rows[:0]
	if err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Select("vendor, count(*) as n").
		Where("applicant_id = ?", applicantID).
		Group("vendor").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, rw := range rows {
		if v, err := ParseVendor(rw.Vendor); err == nil {
			usage[v] += rw.N
		}
	}
	return usage, nil
}

func (r *gormRepository) Submission(ctx context.Context, applicantID string, vendor Vendor) (*models.Submission, error) {
	var sub models.Submission
	err := r.db.WithContext(ctx).
		Preload("Balances").
		Where("applicant_id = ? AND vendor = ?", applicantID, string(vendor)).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) HasSubmissionWithBalances(ctx context.Context, applicantID string, vendor Vendor) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.MonthlyBalance{}).
		Joins("JOIN submissions ON submissions.id = monthly_balances.submission_id").
		Where("submissions.applicant_id = ? AND submissions.vendor = ?", applicantID, string(vendor)).
		Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) SaveSubmission(ctx context.Context, sub *models.Submission) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *gormRepository) UpsertRiskFlags(ctx context.Context, applicantID string, signals RiskSignals) error {
	if !signals.Any() {
		return nil
	}
	flags := models.RiskFlags{
		ApplicantID:            applicantID,
		EarlyWarningDetected:   signals.EarlyWarning,
		WindowDressingDetected: signals.WindowDressing,
	}
	// Flags only ever flip to true.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "applicant_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"early_warning_detected":   gorm.Expr("risk_flags.early_warning_detected OR excluded.early_warning_detected"),
			"window_dressing_detected": gorm.Expr("risk_flags.window_dressing_detected OR excluded.window_dressing_detected"),
		}),
	}).Create(&flags).Error
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
