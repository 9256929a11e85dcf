package appstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// StatusChange is one entry of an application's status history.
type StatusChange struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// ApplicationStore is the narrow slice of the loan-application service the
// orchestrator is allowed to touch. Everything else about the application
// record is owned elsewhere.
type ApplicationStore interface {
	AdvanceStatus(ctx context.Context, applicantID, targetStatus, reason string) error
	RejectStatus(ctx context.Context, applicantID, targetStatus, reason string) error
	SetTag(ctx context.Context, applicantID, tag string) error
	ReadHistory(ctx context.Context, applicantID string) ([]StatusChange, error)
}

// Rescorer triggers a credit re-score for an applicant. The scoring model
// itself is out of scope; only the trigger lives here.
type Rescorer interface {
	TriggerRescore(ctx context.Context, applicantID string) error
}

// Notifier controls downstream applicant messaging.
type Notifier interface {
	DisableMessaging(ctx context.Context, applicantID string) error
}

// Client is the HTTP implementation of all three collaborator interfaces,
// backed by the internal loan-application service.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}
}

func (c *Client) AdvanceStatus(ctx context.Context, applicantID, targetStatus, reason string) error {
	return c.post(ctx, fmt.Sprintf("/internal/applications/%s/advance", applicantID), map[string]string{
		"target_status": targetStatus,
		"reason":        reason,
	})
}

func (c *Client) RejectStatus(ctx context.Context, applicantID, targetStatus, reason string) error {
	return c.post(ctx, fmt.Sprintf("/internal/applications/%s/reject", applicantID), map[string]string{
		"target_status": targetStatus,
		"reason":        reason,
	})
}

func (c *Client) SetTag(ctx context.Context, applicantID, tag string) error {
	return c.post(ctx, fmt.Sprintf("/internal/applications/%s/tag", applicantID), map[string]string{
		"tag": tag,
	})
}

func (c *Client) ReadHistory(ctx context.Context, applicantID string) ([]StatusChange, error) {
	var out struct {
		History []StatusChange `json:"history"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/internal/applications/%s/history", applicantID))
	if err != nil {
		return nil, fmt.Errorf("application store history: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("application store history: status %d", resp.StatusCode())
	}
	return out.History, nil
}

func (c *Client) TriggerRescore(ctx context.Context, applicantID string) error {
	return c.post(ctx, fmt.Sprintf("/internal/applications/%s/rescore", applicantID), nil)
}

func (c *Client) DisableMessaging(ctx context.Context, applicantID string) error {
	return c.post(ctx, fmt.Sprintf("/internal/applications/%s/messaging/disable", applicantID), nil)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("application store %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("application store %s: status %d", path, resp.StatusCode())
	}
	return nil
}
