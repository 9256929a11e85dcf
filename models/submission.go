package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubmissionSuccess = "success"
	SubmissionFail    = "fail"
)

// Submission is the terminal outcome record for one (applicant, vendor)
// verification attempt. At most one row exists per pair; its presence is what
// makes late or duplicate callbacks no-ops.
type Submission struct {
	ID                uint             `json:"id" gorm:"primaryKey"`
	ApplicantID       string           `json:"applicant_id" gorm:"size:64;not null;index:idx_submissions_applicant_vendor,unique,priority:1"`
	Vendor            string           `json:"vendor" gorm:"size:32;not null;index:idx_submissions_applicant_vendor,unique,priority:2"`
	Status            string           `json:"status" gorm:"size:16;not null"` // "success" | "fail"
	Fraud             bool             `json:"fraud"`
	RejectReason      string           `json:"reject_reason" gorm:"size:32"`
	AccountHolderName string           `json:"account_holder_name" gorm:"size:128"`
	Balances          []MonthlyBalance `json:"balances" gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// MonthlyBalance is one reported statement month. EndOfMonth is optional
// because only one vendor reports it.
type MonthlyBalance struct {
	ID           uint                `json:"id" gorm:"primaryKey"`
	SubmissionID uint                `json:"-" gorm:"index"`
	Month        time.Time           `json:"month" gorm:"type:date;not null"`
	MinEOD       decimal.Decimal     `json:"min_eod" gorm:"type:numeric(14,2)"`
	AvgEOD       decimal.Decimal     `json:"avg_eod" gorm:"type:numeric(14,2)"`
	EndOfMonth   decimal.NullDecimal `json:"end_of_month" gorm:"type:numeric(14,2)"`
}
