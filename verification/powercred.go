package verification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"bankverify-backend/models"
)

// PowerCredConfig is the static vendor configuration for PowerCred.
type PowerCredConfig struct {
	Host            string        `validate:"required,url"`
	ClientID        string        `validate:"required"`
	SessionValidity time.Duration `validate:"gt=0"`
}

// PowerCredClient talks to the vendor that signs every request and returns
// its structured analysis inline in the callback body. Sufficiency uses the
// consecutive-month + recency policy.
type PowerCredClient struct {
	base
	cfg    PowerCredConfig
	signer *SigningEngine
	http   *resty.Client
}

func NewPowerCredClient(cfg PowerCredConfig, signer *SigningEngine, http *resty.Client, deps ClientDeps) *PowerCredClient {
	return &PowerCredClient{
		base:   newBase(PowerCred, deps),
		cfg:    cfg,
		signer: signer,
		http:   http,
	}
}

type powercredSessionRequest struct {
	ClientID   string `json:"client_id"`
	ClientRef  string `json:"client_ref"`
	CustomerID string `json:"customer_id"`
	BankName   string `json:"bank_name"`
}

type powercredSessionResponse struct {
	Status string `json:"status"`
	Data   struct {
		SessionID   string `json:"session_id"`
		RedirectURL string `json:"redirect_url"`
	} `json:"data"`
}

func (c *PowerCredClient) GetToken(ctx context.Context, app *models.Applicant) (string, error) {
	if err := c.guardDuplicateSession(ctx, app.ID); err != nil {
		return "", err
	}
	if url, ok, err := c.cachedRedirect(ctx, app.ID, c.cfg.SessionValidity, 0); err != nil {
		return "", err
	} else if ok {
		return url, nil
	}

	body, err := json.Marshal(powercredSessionRequest{
		ClientID:   c.cfg.ClientID,
		ClientRef:  app.ID,
		CustomerID: app.CustomerID,
		BankName:   app.BankName,
	})
	if err != nil {
		return "", err
	}

	endpoint := c.cfg.Host + "/v1/statements/sessions"
	sig, err := c.signer.Sign("POST", endpoint, body)
	if err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(sig.Apply()).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return "", &VendorError{Vendor: PowerCred, Op: "get_token", Msg: err.Error()}
	}
	if !resp.IsSuccess() {
		return "", &VendorError{Vendor: PowerCred, Op: "get_token", StatusCode: resp.StatusCode(), Msg: "session request rejected"}
	}

	var out powercredSessionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", &VendorError{Vendor: PowerCred, Op: "get_token", Msg: "unparseable session response"}
	}
	if out.Data.RedirectURL == "" {
		return "", &VendorError{Vendor: PowerCred, Op: "get_token", Msg: "missing redirect_url in session response"}
	}

	session := &models.VerificationSession{
		ApplicantID: app.ID,
		Vendor:      string(PowerCred),
		Kind:        models.SessionKindToken,
		Token:       out.Data.SessionID,
		RedirectURL: out.Data.RedirectURL,
		RawResponse: datatypes.JSON(resp.Body()),
		CreatedAt:   c.clock.Now(),
	}
	if err := c.repo.SaveSession(ctx, session); err != nil {
		return "", err
	}
	return out.Data.RedirectURL, nil
}

type powercredCallback struct {
	SessionID string `json:"session_id"`
	ClientRef string `json:"client_ref"`
	Status    string `json:"status"`
	Report    struct {
		Account struct {
			Number     string `json:"number"`
			HolderName string `json:"holder_name"`
		} `json:"account"`
		Months []struct {
			Month      string              `json:"month"`
			MinEOD     decimal.Decimal     `json:"min_eod_balance"`
			AvgEOD     decimal.Decimal     `json:"avg_eod_balance"`
			EndOfMonth decimal.NullDecimal `json:"eom_balance"`
		} `json:"months"`
		Indicators []struct {
			Tag        string `json:"tag"`
			Name       string `json:"name"`
			Identified bool   `json:"identified"`
		} `json:"indicators"`
	} `json:"report"`
}

func (c *PowerCredClient) ProcessCallback(ctx context.Context, payload []byte) error {
	var cb powercredCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return &VendorError{Vendor: PowerCred, Op: "callback", Msg: "unparseable callback payload"}
	}
	if cb.ClientRef == "" {
		return &VendorError{Vendor: PowerCred, Op: "callback", Msg: "callback missing client_ref"}
	}

	app, err := c.repo.Applicant(ctx, cb.ClientRef)
	if err != nil {
		return err
	}
	if app == nil {
		return &VendorError{Vendor: PowerCred, Op: "callback", Msg: "callback for unknown applicant " + cb.ClientRef}
	}

	if err := c.repo.SaveSession(ctx, &models.VerificationSession{
		ApplicantID: app.ID,
		Vendor:      string(PowerCred),
		Kind:        models.SessionKindCallback,
		Token:       cb.SessionID,
		RawResponse: datatypes.JSON(payload),
		CreatedAt:   c.clock.Now(),
	}); err != nil {
		return err
	}

	report := c.analysisFrom(&cb)
	decision, signals := c.decide(c, app, report)
	return c.processor.Apply(ctx, app, PowerCred, decision, report, signals)
}

func (c *PowerCredClient) analysisFrom(cb *powercredCallback) *AnalysisReport {
	report := &AnalysisReport{
		AccountNumber:     cb.Report.Account.Number,
		AccountHolderName: cb.Report.Account.HolderName,
	}
	for _, m := range cb.Report.Months {
		month, ok := ParseReportMonth(m.Month)
		if !ok {
			// Unparseable month labels fall out of the report and count
			// against sufficiency, never as a fault.
			c.log.Warn("skipping unparseable report month", zap.String("label", m.Month))
			continue
		}
		report.Months = append(report.Months, ReportedMonth{
			Month:      month,
			MinEOD:     m.MinEOD,
			AvgEOD:     m.AvgEOD,
			EndOfMonth: m.EndOfMonth,
		})
	}
	for _, ind := range cb.Report.Indicators {
		report.Indicators = append(report.Indicators, Indicator{
			Tag:        ind.Tag,
			Name:       ind.Name,
			Identified: ind.Identified,
		})
	}
	return report
}

// HasSufficientStatements applies the consecutive-month + recency policy.
func (c *PowerCredClient) HasSufficientStatements(months []ReportedMonth, now time.Time) bool {
	times := make([]time.Time, 0, len(months))
	for _, m := range months {
		times = append(times, m.Month)
	}
	return HasConsecutiveRecentMonths(times, now)
}
