package models

import "time"

// Applicant mirrors the loan-application record owned by the external
// application store. The orchestrator keeps this local copy so callback
// processing can cross-check the declared bank account without a round trip;
// status mutations still go through the application-store client only.
type Applicant struct {
	ID            string    `json:"id" gorm:"primaryKey;size:64"`
	CustomerID    string    `json:"customer_id" gorm:"size:64;index;not null"`
	BankName      string    `json:"bank_name" gorm:"size:128"`
	AccountNumber string    `json:"account_number" gorm:"size:64"`
	Status        string    `json:"status" gorm:"size:64"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
