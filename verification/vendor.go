package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bankverify-backend/appstore"
	"bankverify-backend/models"
)

// Vendor is the closed set of verification vendors. Adding a vendor means
// adding a constant and a Client implementation, never string-matching at
// call sites.
type Vendor string

const (
	PowerCred Vendor = "powercred"
	Perfios   Vendor = "perfios"
)

// Vendors lists all known vendors in deterministic order.
func Vendors() []Vendor { return []Vendor{PowerCred, Perfios} }

func ParseVendor(s string) (Vendor, error) {
	switch Vendor(strings.ToLower(strings.TrimSpace(s))) {
	case PowerCred:
		return PowerCred, nil
	case Perfios:
		return Perfios, nil
	}
	return "", fmt.Errorf("unknown vendor %q", s)
}

// Client is the capability interface every vendor implements.
type Client interface {
	Vendor() Vendor

	// GetToken returns a redirect URL for the applicant, reusing a cached
	// session while it is still within its reuse windows.
	GetToken(ctx context.Context, app *models.Applicant) (string, error)

	// ProcessCallback drives the full inbound pipeline for one vendor
	// callback: persist the raw payload, obtain the structured analysis,
	// decide, and apply the state transition.
	ProcessCallback(ctx context.Context, payload []byte) error

	IsFraud(indicators []Indicator) bool
	HasSufficientStatements(months []ReportedMonth, now time.Time) bool

	// IsEligibleToRetry reports whether the applicant may be offered another
	// verification attempt with this vendor.
	IsEligibleToRetry(ctx context.Context, applicantID string) (bool, error)
}

// AnalysisReport is the vendor-neutral result of parsing a callback's
// structured analysis.
type AnalysisReport struct {
	AccountNumber     string
	AccountHolderName string
	Indicators        []Indicator
	Months            []ReportedMonth
}

// Decision is the explicit outcome of the shared rule pipeline. Business
// rejections are values, not errors, so they can never escape as faults.
type Decision struct {
	Accepted bool
	Reason   RejectReason
	Fraud    bool
}

// RetryPolicy is the allow-list check behind IsEligibleToRetry.
type RetryPolicy struct {
	AllowedStatuses      []string
	DisqualifyingReasons []string
}

// ClientDeps bundles the collaborators every vendor client needs.
type ClientDeps struct {
	Repo      Repository
	Processor *CallbackProcessor
	Apps      appstore.ApplicationStore
	Clock     Clock
	WatchList []string
	Retry     RetryPolicy
	Log       *zap.Logger
}

func newBase(v Vendor, d ClientDeps) base {
	return base{
		vendor:    v,
		repo:      d.Repo,
		processor: d.Processor,
		apps:      d.Apps,
		clock:     d.Clock,
		watchList: d.WatchList,
		retry:     d.Retry,
		log:       d.Log.With(zap.String("vendor", string(v))),
	}
}

// base carries everything the two vendor clients share.
type base struct {
	vendor    Vendor
	repo      Repository
	processor *CallbackProcessor
	apps      appstore.ApplicationStore
	clock     Clock
	watchList []string
	retry     RetryPolicy
	log       *zap.Logger
}

func (b *base) Vendor() Vendor { return b.vendor }

func (b *base) IsFraud(indicators []Indicator) bool {
	fraud, _ := EvaluateIndicators(indicators, b.watchList)
	return fraud
}

// decide runs the shared pipeline: account match, then fraud, then
// sufficiency. Malformed payload shapes degrade to the rejection of the stage
// they broke in (empty account never matches; missing months are
// insufficient), so the applicant always gets a verdict.
func (b *base) decide(c Client, app *models.Applicant, report *AnalysisReport) (Decision, RiskSignals) {
	if !matchAccount(app.AccountNumber, report.AccountNumber) {
		return Decision{Reason: ReasonNoMatchedAccount}, RiskSignals{}
	}

	fraud, signals := EvaluateIndicators(report.Indicators, b.watchList)
	if fraud {
		return Decision{Reason: ReasonFraud, Fraud: true}, signals
	}

	if !c.HasSufficientStatements(report.Months, b.clock.Now()) {
		return Decision{Reason: ReasonInsufficient}, signals
	}

	return Decision{Accepted: true}, signals
}

// matchAccount compares the applicant-declared and vendor-reported account
// numbers. Exact string equality, no normalization: leading zeros and spacing
// differences fail the match until product confirms otherwise.
func matchAccount(declared, reported string) bool {
	return declared != "" && declared == reported
}

func (b *base) IsEligibleToRetry(ctx context.Context, applicantID string) (bool, error) {
	app, err := b.repo.Applicant(ctx, applicantID)
	if err != nil {
		return false, err
	}
	if app == nil {
		return false, nil
	}

	allowed := false
	for _, s := range b.retry.AllowedStatuses {
		if app.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	history, err := b.apps.ReadHistory(ctx, applicantID)
	if err != nil {
		return false, err
	}
	for _, change := range history {
		for _, reason := range b.retry.DisqualifyingReasons {
			if change.Reason == reason {
				return false, nil
			}
		}
	}
	return true, nil
}

// cachedRedirect returns an unexpired previously issued redirect URL, if any.
// A URL is reusable while now-created < validity and, when the vendor expires
// links on first click, now-firstClick < clickWindow.
func (b *base) cachedRedirect(ctx context.Context, applicantID string, validity, clickWindow time.Duration) (string, bool, error) {
	s, err := b.repo.LatestTokenSession(ctx, applicantID, b.vendor)
	if err != nil {
		return "", false, err
	}
	if s == nil || s.RedirectURL == "" {
		return "", false, nil
	}
	now := b.clock.Now()
	if now.Sub(s.CreatedAt) >= validity {
		return "", false, nil
	}
	if clickWindow > 0 && s.FirstClickAt != nil && now.Sub(*s.FirstClickAt) >= clickWindow {
		return "", false, nil
	}
	return s.RedirectURL, true, nil
}

// guardDuplicateSession enforces the duplicate-charge invariant: no new
// vendor session once a submission with balance records exists for the pair.
// One consistent read, taken immediately before any outbound request.
func (b *base) guardDuplicateSession(ctx context.Context, applicantID string) error {
	has, err := b.repo.HasSubmissionWithBalances(ctx, applicantID, b.vendor)
	if err != nil {
		return err
	}
	if has {
		return ErrAlreadyVerified
	}
	return nil
}
