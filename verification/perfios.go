package verification

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"bankverify-backend/models"
)

// PerfiosConfig is the static vendor configuration for Perfios.
type PerfiosConfig struct {
	Host            string        `validate:"required,url"`
	APIKey          string        `validate:"required"`
	SessionValidity time.Duration `validate:"gt=0"`
	// ClickWindow expires a link this long after the applicant first opens
	// it, independent of the overall validity window.
	ClickWindow time.Duration `validate:"gt=0"`
}

// degradedReportParam is the extended query parameter for the vendor's
// degraded-mode report retry.
const degradedReportParam = "reportType=extended"

const (
	perfiosEventLinkOpened = "LINK_OPENED"
	perfiosEventCompleted  = "COMPLETED"
	perfiosEventFailure    = "FAILURE"
)

// PerfiosClient talks to the vendor that authenticates with a static API key
// and delivers its analysis as a compressed archive fetched after the
// callback. Sufficiency uses the non-zero-activity-month-count policy.
type PerfiosClient struct {
	base
	cfg     PerfiosConfig
	http    *resty.Client
	archive *ArchivePipeline
}

func NewPerfiosClient(cfg PerfiosConfig, http *resty.Client, archive *ArchivePipeline, deps ClientDeps) *PerfiosClient {
	return &PerfiosClient{
		base:    newBase(Perfios, deps),
		cfg:     cfg,
		http:    http,
		archive: archive,
	}
}

func (c *PerfiosClient) authHeader() map[string]string {
	return map[string]string{"Authorization": "ApiKey " + c.cfg.APIKey}
}

type perfiosLinkRequest struct {
	TxnID       string `json:"txnId"`
	ClientTxnID string `json:"clientTxnId"`
	BankName    string `json:"bankName"`
}

type perfiosLinkResponse struct {
	Status      string `json:"status"`
	RedirectURL string `json:"redirectUrl"`
}

func (c *PerfiosClient) GetToken(ctx context.Context, app *models.Applicant) (string, error) {
	if err := c.guardDuplicateSession(ctx, app.ID); err != nil {
		return "", err
	}
	if url, ok, err := c.cachedRedirect(ctx, app.ID, c.cfg.SessionValidity, c.cfg.ClickWindow); err != nil {
		return "", err
	} else if ok {
		return url, nil
	}

	txnID := uuid.NewString()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(c.authHeader()).
		SetBody(perfiosLinkRequest{TxnID: txnID, ClientTxnID: app.ID, BankName: app.BankName}).
		Post(c.cfg.Host + "/api/v1/links")
	if err != nil {
		return "", &VendorError{Vendor: Perfios, Op: "get_token", Msg: err.Error()}
	}
	if !resp.IsSuccess() {
		return "", &VendorError{Vendor: Perfios, Op: "get_token", StatusCode: resp.StatusCode(), Msg: "link request rejected"}
	}

	var out perfiosLinkResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &VendorError{Vendor: Perfios, Op: "get_token", Msg: "unparseable link response"}
	}
	if out.RedirectURL == "" {
		return "", &VendorError{Vendor: Perfios, Op: "get_token", Msg: "missing redirectUrl in link response"}
	}

	if err := c.repo.SaveSession(ctx, &models.VerificationSession{
		ApplicantID: app.ID,
		Vendor:      string(Perfios),
		Kind:        models.SessionKindToken,
		Token:       txnID,
		RedirectURL: out.RedirectURL,
		RawResponse: datatypes.JSON(resp.Body()),
		CreatedAt:   c.clock.Now(),
	}); err != nil {
		return "", err
	}
	return out.RedirectURL, nil
}

type perfiosCallback struct {
	TxnID       string `json:"txnId"`
	ClientTxnID string `json:"clientTxnId"`
	Event       string `json:"event"`
	ReportURL   string `json:"reportUrl"`
}

func (c *PerfiosClient) ProcessCallback(ctx context.Context, payload []byte) error {
	var cb perfiosCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return &VendorError{Vendor: Perfios, Op: "callback", Msg: "unparseable callback payload"}
	}
	if cb.ClientTxnID == "" {
		return &VendorError{Vendor: Perfios, Op: "callback", Msg: "callback missing clientTxnId"}
	}

	app, err := c.repo.Applicant(ctx, cb.ClientTxnID)
	if err != nil {
		return err
	}
	if app == nil {
		return &VendorError{Vendor: Perfios, Op: "callback", Msg: "callback for unknown applicant " + cb.ClientTxnID}
	}

	if err := c.repo.SaveSession(ctx, &models.VerificationSession{
		ApplicantID: app.ID,
		Vendor:      string(Perfios),
		Kind:        models.SessionKindCallback,
		Token:       cb.TxnID,
		RawResponse: datatypes.JSON(payload),
		CreatedAt:   c.clock.Now(),
	}); err != nil {
		return err
	}

	switch strings.ToUpper(cb.Event) {
	case perfiosEventLinkOpened:
		return c.recordFirstClick(ctx, app.ID)
	case perfiosEventFailure:
		// The vendor gave up without producing a report; that is an
		// insufficiency rejection, not a fault.
		return c.processor.Apply(ctx, app, Perfios, Decision{Reason: ReasonInsufficient}, &AnalysisReport{}, RiskSignals{})
	default:
		return c.processCompleted(ctx, app, &cb)
	}
}

func (c *PerfiosClient) recordFirstClick(ctx context.Context, applicantID string) error {
	s, err := c.repo.LatestTokenSession(ctx, applicantID, Perfios)
	if err != nil {
		return err
	}
	if s == nil {
		c.log.Warn("link-opened event without a token session", zap.String("applicant_id", applicantID))
		return nil
	}
	return c.repo.MarkSessionClicked(ctx, s.ID, c.clock.Now())
}

type perfiosReport struct {
	CustomerInfo struct {
		AccountNumber string `json:"accountNo"`
		Name          string `json:"name"`
	} `json:"customerInfo"`
	MonthlyDetails []struct {
		MonthName       string              `json:"monthName"`
		MinEOD          decimal.Decimal     `json:"minEodBalance"`
		AvgBalance      decimal.Decimal     `json:"avgEodBalance"`
		EOMBalance      decimal.NullDecimal `json:"eomBalance"`
		NonSalaryCredit decimal.Decimal     `json:"creditsNonSalary"`
		NonSalaryDebit  decimal.Decimal     `json:"debitsNonSalary"`
	} `json:"monthlyDetails"`
	FraudIndicators []struct {
		Category string `json:"category"`
		Name     string `json:"name"`
		Flag     string `json:"flag"` // "yes" | "no"
	} `json:"fraudIndicators"`
}

func (c *PerfiosClient) processCompleted(ctx context.Context, app *models.Applicant, cb *perfiosCallback) error {
	reportURL := cb.ReportURL
	if reportURL == "" {
		reportURL = c.cfg.Host + "/api/v1/reports?txnId=" + cb.TxnID
	}

	raw, err := c.archive.FetchReport(ctx, app.ID, reportURL, degradedReportParam, c.authHeader())
	if err != nil {
		// Abort before any submission: the vendor redelivers the callback.
		return err
	}

	var rep perfiosReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return &ArchiveError{Stage: "parse", Err: err}
	}

	report := c.analysisFrom(&rep)
	decision, signals := c.decide(c, app, report)
	return c.processor.Apply(ctx, app, Perfios, decision, report, signals)
}

func (c *PerfiosClient) analysisFrom(rep *perfiosReport) *AnalysisReport {
	report := &AnalysisReport{
		AccountNumber:     rep.CustomerInfo.AccountNumber,
		AccountHolderName: rep.CustomerInfo.Name,
	}
	for _, m := range rep.MonthlyDetails {
		month, ok := ParseReportMonth(m.MonthName)
		if !ok {
			c.log.Warn("skipping unparseable report month", zap.String("label", m.MonthName))
			continue
		}
		report.Months = append(report.Months, ReportedMonth{
			Month:           month,
			MinEOD:          m.MinEOD,
			AvgEOD:          m.AvgBalance,
			EndOfMonth:      m.EOMBalance,
			NonSalaryCredit: m.NonSalaryCredit,
			NonSalaryDebit:  m.NonSalaryDebit,
		})
	}
	for _, ind := range rep.FraudIndicators {
		report.Indicators = append(report.Indicators, Indicator{
			Tag:        ind.Category,
			Name:       ind.Name,
			Identified: strings.EqualFold(ind.Flag, "yes"),
		})
	}
	return report
}

// HasSufficientStatements applies the non-zero-activity-month-count policy.
func (c *PerfiosClient) HasSufficientStatements(months []ReportedMonth, _ time.Time) bool {
	return HasNonZeroActivityMonths(months)
}
