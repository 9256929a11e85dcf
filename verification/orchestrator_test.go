package verification

import (
	"context"
	"testing"
	"time"

	"bankverify-backend/models"
)

// stubClient is a canned-answer Client for routing tests.
type stubClient struct {
	vendor    Vendor
	url       string
	err       error
	eligible  bool
	callbacks [][]byte
	tokens    int
}

func (s *stubClient) Vendor() Vendor { return s.vendor }

func (s *stubClient) GetToken(context.Context, *models.Applicant) (string, error) {
	s.tokens++
	return s.url, s.err
}

func (s *stubClient) ProcessCallback(_ context.Context, payload []byte) error {
	s.callbacks = append(s.callbacks, payload)
	return nil
}

func (s *stubClient) IsFraud([]Indicator) bool {
	return false
}

func (s *stubClient) HasSufficientStatements([]ReportedMonth, time.Time) bool {
	return true
}

func (s *stubClient) IsEligibleToRetry(context.Context, string) (bool, error) {
	return s.eligible, nil
}

func newStubOrchestrator(repo Repository, powercred, perfios *stubClient) *Orchestrator {
	splitter := newTestSplitter(repo, &fakeCounter{}, StaticSplitConfig(DefaultSplitConfig()))
	return NewOrchestrator(repo, splitter, []Client{powercred, perfios}, testLogger())
}

func TestOrchestrator_BuildVerificationURL(t *testing.T) {
	t.Run("upserts applicant and strips scheme", func(t *testing.T) {
		repo := newFakeRepo()
		pc := &stubClient{vendor: PowerCred, url: "https://statements.powercred.example/s/1"}
		pf := &stubClient{vendor: Perfios}
		o := newStubOrchestrator(repo, pc, pf)

		url, err := o.BuildVerificationURL(context.Background(), testApplicant())
		if err != nil {
			t.Fatalf("BuildVerificationURL: %v", err)
		}
		if url != "statements.powercred.example/s/1" {
			t.Errorf("url = %q, want scheme stripped", url)
		}
		if app, _ := repo.Applicant(context.Background(), "app-1"); app == nil {
			t.Error("applicant not upserted")
		}
	})

	t.Run("routes to sticky vendor", func(t *testing.T) {
		repo := newFakeRepo()
		repo.sessions = append(repo.sessions, &models.VerificationSession{
			ID:          1,
			ApplicantID: "app-1",
			Vendor:      string(Perfios),
			Kind:        models.SessionKindToken,
		})
		pc := &stubClient{vendor: PowerCred, url: "https://a.example"}
		pf := &stubClient{vendor: Perfios, url: "https://b.example"}
		o := newStubOrchestrator(repo, pc, pf)

		url, err := o.BuildVerificationURL(context.Background(), testApplicant())
		if err != nil {
			t.Fatalf("BuildVerificationURL: %v", err)
		}
		if url != "b.example" {
			t.Errorf("url = %q, want sticky vendor's", url)
		}
		if pc.tokens != 0 || pf.tokens != 1 {
			t.Errorf("token calls: powercred=%d perfios=%d", pc.tokens, pf.tokens)
		}
	})

	t.Run("already verified propagates", func(t *testing.T) {
		repo := newFakeRepo()
		pc := &stubClient{vendor: PowerCred, err: ErrAlreadyVerified}
		pf := &stubClient{vendor: Perfios}
		o := newStubOrchestrator(repo, pc, pf)

		if _, err := o.BuildVerificationURL(context.Background(), testApplicant()); err != ErrAlreadyVerified {
			t.Errorf("err = %v, want ErrAlreadyVerified", err)
		}
	})
}

func TestOrchestrator_HandleCallback(t *testing.T) {
	repo := newFakeRepo()
	pc := &stubClient{vendor: PowerCred}
	pf := &stubClient{vendor: Perfios}
	o := newStubOrchestrator(repo, pc, pf)

	payload := []byte(`{"event":"COMPLETED"}`)
	if err := o.HandleCallback(context.Background(), Perfios, payload); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if len(pf.callbacks) != 1 || len(pc.callbacks) != 0 {
		t.Errorf("callback routed wrong: powercred=%d perfios=%d", len(pc.callbacks), len(pf.callbacks))
	}

	if err := o.HandleCallback(context.Background(), Vendor("acme"), payload); err == nil {
		t.Error("expected error for unknown vendor")
	}
}

func TestOrchestrator_IsEligibleToRetry(t *testing.T) {
	t.Run("no prior usage is eligible", func(t *testing.T) {
		o := newStubOrchestrator(newFakeRepo(), &stubClient{vendor: PowerCred}, &stubClient{vendor: Perfios})
		ok, err := o.IsEligibleToRetry(context.Background(), "fresh")
		if err != nil || !ok {
			t.Errorf("got (%v, %v), want eligible", ok, err)
		}
	})

	t.Run("delegates to sticky vendor client", func(t *testing.T) {
		repo := newFakeRepo()
		repo.sessions = append(repo.sessions, &models.VerificationSession{
			ID:          1,
			ApplicantID: "app-1",
			Vendor:      string(PowerCred),
			Kind:        models.SessionKindToken,
		})
		pc := &stubClient{vendor: PowerCred, eligible: false}
		pf := &stubClient{vendor: Perfios, eligible: true}
		o := newStubOrchestrator(repo, pc, pf)

		ok, err := o.IsEligibleToRetry(context.Background(), "app-1")
		if err != nil || ok {
			t.Errorf("got (%v, %v), want sticky client's answer", ok, err)
		}
	})
}

func TestStripScheme(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://bank.example/verify", "bank.example/verify"},
		{"http://bank.example/verify", "bank.example/verify"},
		{"bank.example/verify", "bank.example/verify"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := stripScheme(tc.in); got != tc.want {
			t.Errorf("stripScheme(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
