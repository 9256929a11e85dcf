package verification

import (
	"errors"
	"fmt"
)

// RejectReason is the reason code attached to a FAILED verification outcome.
type RejectReason string

const (
	ReasonNoMatchedAccount RejectReason = "no_matched_account"
	ReasonFraud            RejectReason = "fraud"
	ReasonInsufficient     RejectReason = "insufficient"
)

// ErrAlreadyVerified is returned when a new session is requested for a vendor
// that already holds a submission with balance records for the applicant.
// Issuing another session would incur a duplicate vendor charge.
var ErrAlreadyVerified = errors.New("applicant already has a verified submission for this vendor")

// VendorError covers non-2xx vendor responses and missing required fields in a
// vendor response. It is never retried automatically.
type VendorError struct {
	Vendor     Vendor
	Op         string
	StatusCode int
	Msg        string
}

func (e *VendorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vendor %s: %s: status %d: %s", e.Vendor, e.Op, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("vendor %s: %s: %s", e.Vendor, e.Op, e.Msg)
}

// SigningError is a key/material problem during signature computation. It is
// fatal for the attempt; the request must not be sent unsigned.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return "request signing failed: " + e.Err.Error() }
func (e *SigningError) Unwrap() error { return e.Err }

// ArchiveError is a download/extract/parse failure for a compressed report.
// It aborts callback processing before any submission is written, so the
// vendor's redelivery of the same callback is safe.
type ArchiveError struct {
	Stage string
	Err   error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("report archive %s failed: %v", e.Stage, e.Err)
}
func (e *ArchiveError) Unwrap() error { return e.Err }
