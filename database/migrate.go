package database

import (
	"fmt"

	"bankverify-backend/models"

	"gorm.io/gorm"
)

// Migrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns/index tags)
// - Money column types (NUMERIC(14,2))
// - Composite indexes the tag syntax cannot express well
func Migrate() error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&models.Applicant{},
			&models.VerificationSession{},
			&models.Submission{},
			&models.MonthlyBalance{},
			&models.RiskFlags{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		alters := []string{
			`ALTER TABLE monthly_balances ALTER COLUMN min_eod      TYPE numeric(14,2)`,
			`ALTER TABLE monthly_balances ALTER COLUMN avg_eod      TYPE numeric(14,2)`,
			`ALTER TABLE monthly_balances ALTER COLUMN end_of_month TYPE numeric(14,2)`,
		}
		for _, stmt := range alters {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("money type migration failed on: %s - %w", stmt, err)
			}
		}

		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_applicant_vendor_created ON verification_sessions (applicant_id, vendor, created_at DESC)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_applicant_vendor ON submissions (applicant_id, vendor)`,
			`CREATE INDEX IF NOT EXISTS idx_monthly_balances_submission ON monthly_balances (submission_id)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		return nil
	})
}
