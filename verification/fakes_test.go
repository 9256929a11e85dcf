package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bankverify-backend/appstore"
	"bankverify-backend/models"

	"go.uber.org/zap"
)

// fixedClock is a settable clock for window/expiry tests.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// fakeCounter returns a fixed sequence of counter values.
type fakeCounter struct {
	n    int64
	fail bool
}

func (c *fakeCounter) Next(context.Context, string) (int64, error) {
	if c.fail {
		return 0, fmt.Errorf("counter store down")
	}
	c.n++
	return c.n, nil
}

// fakeRepo is an in-memory Repository. Transaction snapshots submissions and
// risk flags so a failing closure rolls its writes back, mirroring the
// production transactional boundary.
type fakeRepo struct {
	applicants  map[string]*models.Applicant
	sessions    []*models.VerificationSession
	submissions map[string]*models.Submission
	flags       map[string]*models.RiskFlags
	nextID      uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		applicants:  make(map[string]*models.Applicant),
		submissions: make(map[string]*models.Submission),
		flags:       make(map[string]*models.RiskFlags),
	}
}

func subKey(applicantID string, vendor string) string { return applicantID + "|" + vendor }

func (r *fakeRepo) UpsertApplicant(_ context.Context, app *models.Applicant) error {
	cp := *app
	r.applicants[app.ID] = &cp
	return nil
}

func (r *fakeRepo) Applicant(_ context.Context, id string) (*models.Applicant, error) {
	app, ok := r.applicants[id]
	if !ok {
		return nil, nil
	}
	cp := *app
	return &cp, nil
}

func (r *fakeRepo) SaveSession(_ context.Context, s *models.VerificationSession) error {
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.sessions = append(r.sessions, &cp)
	return nil
}

func (r *fakeRepo) LatestTokenSession(_ context.Context, applicantID string, vendor Vendor) (*models.VerificationSession, error) {
	var latest *models.VerificationSession
	for _, s := range r.sessions {
		if s.ApplicantID != applicantID || s.Vendor != string(vendor) || s.Kind != models.SessionKindToken {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeRepo) MarkSessionClicked(_ context.Context, sessionID uint, at time.Time) error {
	for _, s := range r.sessions {
		if s.ID == sessionID && s.FirstClickAt == nil {
			t := at
			s.FirstClickAt = &t
		}
	}
	return nil
}

func (r *fakeRepo) VendorUsage(_ context.Context, applicantID string) (map[Vendor]int, error) {
	usage := make(map[Vendor]int)
	for _, s := range r.sessions {
		if s.ApplicantID == applicantID {
			if v, err := ParseVendor(s.Vendor); err == nil {
				usage[v]++
			}
		}
	}
	for _, sub := range r.submissions {
		if sub.ApplicantID == applicantID {
			if v, err := ParseVendor(sub.Vendor); err == nil {
				usage[v]++
			}
		}
	}
	return usage, nil
}

func (r *fakeRepo) Submission(_ context.Context, applicantID string, vendor Vendor) (*models.Submission, error) {
	sub, ok := r.submissions[subKey(applicantID, string(vendor))]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeRepo) HasSubmissionWithBalances(_ context.Context, applicantID string, vendor Vendor) (bool, error) {
	sub, ok := r.submissions[subKey(applicantID, string(vendor))]
	return ok && len(sub.Balances) > 0, nil
}

func (r *fakeRepo) SaveSubmission(_ context.Context, sub *models.Submission) error {
	r.nextID++
	sub.ID = r.nextID
	cp := *sub
	r.submissions[subKey(sub.ApplicantID, sub.Vendor)] = &cp
	return nil
}

func (r *fakeRepo) UpsertRiskFlags(_ context.Context, applicantID string, signals RiskSignals) error {
	if !signals.Any() {
		return nil
	}
	f, ok := r.flags[applicantID]
	if !ok {
		f = &models.RiskFlags{ApplicantID: applicantID}
		r.flags[applicantID] = f
	}
	f.EarlyWarningDetected = f.EarlyWarningDetected || signals.EarlyWarning
	f.WindowDressingDetected = f.WindowDressingDetected || signals.WindowDressing
	return nil
}

func (r *fakeRepo) Transaction(_ context.Context, fn func(Repository) error) error {
	subsBackup := make(map[string]*models.Submission, len(r.submissions))
	for k, v := range r.submissions {
		cp := *v
		subsBackup[k] = &cp
	}
	flagsBackup := make(map[string]*models.RiskFlags, len(r.flags))
	for k, v := range r.flags {
		cp := *v
		flagsBackup[k] = &cp
	}
	if err := fn(r); err != nil {
		r.submissions = subsBackup
		r.flags = flagsBackup
		return err
	}
	return nil
}

// fakeAppStore records collaborator calls and can be told to fail.
type fakeAppStore struct {
	advanced    []string // "id:status:reason"
	rejected    []string
	tags        map[string]string
	history     []appstore.StatusChange
	rescored    []string
	muted       []string
	failAdvance bool
}

func newFakeAppStore() *fakeAppStore {
	return &fakeAppStore{tags: make(map[string]string)}
}

func (f *fakeAppStore) AdvanceStatus(_ context.Context, id, status, reason string) error {
	if f.failAdvance {
		return fmt.Errorf("application store unavailable")
	}
	f.advanced = append(f.advanced, id+":"+status+":"+reason)
	return nil
}

func (f *fakeAppStore) RejectStatus(_ context.Context, id, status, reason string) error {
	f.rejected = append(f.rejected, id+":"+status+":"+reason)
	return nil
}

func (f *fakeAppStore) SetTag(_ context.Context, id, tag string) error {
	f.tags[id] = tag
	return nil
}

func (f *fakeAppStore) ReadHistory(context.Context, string) ([]appstore.StatusChange, error) {
	return f.history, nil
}

func (f *fakeAppStore) TriggerRescore(_ context.Context, id string) error {
	f.rescored = append(f.rescored, id)
	return nil
}

func (f *fakeAppStore) DisableMessaging(_ context.Context, id string) error {
	f.muted = append(f.muted, id)
	return nil
}

// fakeBlobStore records puts in memory.
type fakeBlobStore struct {
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{objects: make(map[string][]byte)} }

func (s *fakeBlobStore) Put(_ context.Context, bucket, remotePath string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[bucket+"/"+remotePath] = cp
	return nil
}

func testLogger() *zap.Logger { return zap.NewNop() }

func testDeps(repo Repository, apps *fakeAppStore, clock Clock, watch []string) (ClientDeps, *CallbackProcessor) {
	processor := NewCallbackProcessor(repo, apps, apps, apps, StatusConfig{
		EvidenceAccepted: "bank_statement_accepted",
		EvidenceRejected: "bank_statement_rejected",
		AcceptReason:     "bank_statement_verified",
	}, testLogger())
	return ClientDeps{
		Repo:      repo,
		Processor: processor,
		Apps:      apps,
		Clock:     clock,
		WatchList: watch,
		Retry: RetryPolicy{
			AllowedStatuses:      []string{"bank_statement_pending", "bank_statement_resubmission"},
			DisqualifyingReasons: []string{"fraud", "manual_review_rejected"},
		},
		Log: testLogger(),
	}, processor
}
