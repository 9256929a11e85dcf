package models

import "time"

// RiskFlags carries non-rejecting fraud signals per applicant. Created lazily
// the first time a watched indicator fires; flags only ever flip to true.
type RiskFlags struct {
	ApplicantID            string    `json:"applicant_id" gorm:"primaryKey;size:64"`
	EarlyWarningDetected   bool      `json:"early_warning_detected"`
	WindowDressingDetected bool      `json:"window_dressing_detected"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}
