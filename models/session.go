package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SessionKindToken    = "token"
	SessionKindCallback = "callback"
)

// VerificationSession is one entry in the append-only log of vendor exchanges:
// a row per outbound token issuance and a row per inbound callback. Rows are
// immutable once written, except FirstClickAt which is set once when the
// vendor reports the link was opened.
type VerificationSession struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	ApplicantID  string         `json:"applicant_id" gorm:"size:64;index:idx_sessions_applicant_vendor,priority:1;not null"`
	Vendor       string         `json:"vendor" gorm:"size:32;index:idx_sessions_applicant_vendor,priority:2;not null"`
	Kind         string         `json:"kind" gorm:"size:16;not null"`
	Token        string         `json:"token" gorm:"size:128;index"` // vendor session/transaction correlator
	RedirectURL  string         `json:"redirect_url"`
	RawResponse  datatypes.JSON `json:"-" gorm:"type:jsonb"`
	FirstClickAt *time.Time     `json:"first_click_at"`
	CreatedAt    time.Time      `json:"created_at"`
}
