package verification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bankverify-backend/models"
)

// Orchestrator is the facade the HTTP layer talks to: issue a verification
// URL for an applicant, and route an inbound vendor callback.
type Orchestrator struct {
	repo     Repository
	splitter *TrafficSplitter
	clients  map[Vendor]Client
	log      *zap.Logger
}

func NewOrchestrator(repo Repository, splitter *TrafficSplitter, clients []Client, log *zap.Logger) *Orchestrator {
	byVendor := make(map[Vendor]Client, len(clients))
	for _, c := range clients {
		byVendor[c.Vendor()] = c
	}
	return &Orchestrator{
		repo:     repo,
		splitter: splitter,
		clients:  byVendor,
		log:      log,
	}
}

// BuildVerificationURL assigns the applicant to a vendor and returns the
// vendor-hosted redirect URL, scheme-stripped for the caller. The full URL
// (with scheme) is what gets signed and stored.
func (o *Orchestrator) BuildVerificationURL(ctx context.Context, app *models.Applicant) (string, error) {
	if err := o.repo.UpsertApplicant(ctx, app); err != nil {
		return "", fmt.Errorf("applicant upsert: %w", err)
	}

	vendor, err := o.splitter.Pick(ctx, app.ID)
	if err != nil {
		return "", fmt.Errorf("vendor selection: %w", err)
	}
	client, ok := o.clients[vendor]
	if !ok {
		return "", fmt.Errorf("no client wired for vendor %s", vendor)
	}

	url, err := client.GetToken(ctx, app)
	if err != nil {
		return "", err
	}

	o.log.Info("verification url issued",
		zap.String("applicant_id", app.ID),
		zap.String("vendor", string(vendor)))
	return stripScheme(url), nil
}

// HandleCallback routes a raw vendor callback payload to its client.
func (o *Orchestrator) HandleCallback(ctx context.Context, vendor Vendor, payload []byte) error {
	client, ok := o.clients[vendor]
	if !ok {
		return fmt.Errorf("no client wired for vendor %s", vendor)
	}
	return client.ProcessCallback(ctx, payload)
}

// IsEligibleToRetry answers for the applicant's sticky vendor; an applicant
// with no prior vendor usage is eligible by definition (nothing to retry).
func (o *Orchestrator) IsEligibleToRetry(ctx context.Context, applicantID string) (bool, error) {
	usage, err := o.repo.VendorUsage(ctx, applicantID)
	if err != nil {
		return false, err
	}
	vendor, ok := stickyVendor(usage)
	if !ok {
		return true, nil
	}
	client, found := o.clients[vendor]
	if !found {
		return false, fmt.Errorf("no client wired for vendor %s", vendor)
	}
	return client.IsEligibleToRetry(ctx, applicantID)
}

// stripScheme drops a leading http:// or https:// from the redirect URL
// before it is handed back to the caller path.
func stripScheme(url string) string {
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(url, "http://"); ok {
		return rest
	}
	return url
}
