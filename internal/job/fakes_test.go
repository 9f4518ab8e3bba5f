package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/storage"
	"github.com/lead-engine/internal/types"
)

// fakeStore mirrors the conditional-write semantics of SessionRepository in memory
type fakeStore struct {
	mu     sync.Mutex
	hunts  map[string]*models.HuntSession
	audits map[string]*models.AuditSession

	targetsErr  error
	recordErr   error
	statusReads int
	cursorTrail []int

	// afterRecord runs with the lock released after every landed unit write
	afterRecord func(id string, index int)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hunts:  make(map[string]*models.HuntSession),
		audits: make(map[string]*models.AuditSession),
	}
}

func (f *fakeStore) row(kind types.SessionKind, id string) *models.Session {
	switch kind {
	case types.KindHunt:
		if h, ok := f.hunts[id]; ok {
			return &h.Session
		}
	case types.KindAudit:
		if a, ok := f.audits[id]; ok {
			return &a.Session
		}
	}
	return nil
}

func (f *fakeStore) addHunt(status types.SessionStatus, targets ...string) *models.HuntSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &models.HuntSession{Targets: targets}
	h.ID = uuid.New().String()
	h.Kind = types.KindHunt
	h.Status = status
	h.TotalLeads = len(targets)
	h.CreatedAt = time.Now()
	f.hunts[h.ID] = h
	return h
}

func (f *fakeStore) addAudit(status types.SessionStatus, snapshot time.Time, total int) *models.AuditSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &models.AuditSession{SnapshotAt: snapshot}
	a.ID = uuid.New().String()
	a.Kind = types.KindAudit
	a.Status = status
	a.TotalLeads = total
	a.CreatedAt = time.Now()
	f.audits[a.ID] = a
	return a
}

func (f *fakeStore) snapshot(kind types.SessionKind, id string) models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.row(kind, id)
}

func (f *fakeStore) setStatus(kind types.SessionKind, id string, status types.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.row(kind, id).Status = status
}

func (f *fakeStore) CreateHunt(_ context.Context, s *models.HuntSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.New().String()
	s.Kind = types.KindHunt
	s.Status = types.StatusPending
	s.TotalLeads = len(s.Targets)
	s.CreatedAt = time.Now()
	stored := *s
	f.hunts[s.ID] = &stored
	return nil
}

func (f *fakeStore) CreateAudit(_ context.Context, s *models.AuditSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.New().String()
	s.Kind = types.KindAudit
	s.Status = types.StatusPending
	s.CreatedAt = time.Now()
	stored := *s
	f.audits[s.ID] = &stored
	return nil
}

func (f *fakeStore) SetJobID(_ context.Context, kind types.SessionKind, id, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.row(kind, id)
	if s == nil {
		return storage.ErrSessionNotFound
	}
	s.JobID = &jobID
	return nil
}

func (f *fakeStore) Get(_ context.Context, kind types.SessionKind, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.row(kind, id)
	if s == nil {
		return nil, storage.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetStatus(_ context.Context, kind types.SessionKind, id string) (types.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusReads++
	s := f.row(kind, id)
	if s == nil {
		return "", storage.ErrSessionNotFound
	}
	return s.Status, nil
}

func (f *fakeStore) GetHunt(_ context.Context, id string) (*models.HuntSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hunts[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	cp := *h
	return &cp, nil
}

func (f *fakeStore) GetAudit(_ context.Context, id string) (*models.AuditSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.audits[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) HuntTargets(_ context.Context, id string, offset, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.targetsErr != nil {
		return nil, f.targetsErr
	}
	h, ok := f.hunts[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	if offset >= len(h.Targets) {
		return nil, nil
	}
	end := offset + limit
	if end > len(h.Targets) {
		end = len(h.Targets)
	}
	return append([]string(nil), h.Targets[offset:end]...), nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, kind types.SessionKind, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.row(kind, id)
	if s == nil || s.Status != types.StatusPending {
		return false, nil
	}
	now := time.Now()
	s.Status = types.StatusProcessing
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	return true, nil
}

func (f *fakeStore) RecordUnit(_ context.Context, kind types.SessionKind, id string, expected int, outcome models.UnitOutcome, domain string) (bool, error) {
	f.mu.Lock()
	if f.recordErr != nil {
		f.mu.Unlock()
		return false, f.recordErr
	}
	s := f.row(kind, id)
	if s == nil || s.Status != types.StatusProcessing || s.LastProcessedIndex != expected {
		f.mu.Unlock()
		return false, nil
	}
	processed, succeeded, failed := outcome.Deltas()
	s.ProcessedLeads += processed
	s.SucceededLeads += succeeded
	s.FailedLeads += failed
	s.LastProcessedIndex++
	s.Progress = models.ComputeProgress(s.ProcessedLeads, s.TotalLeads)
	if domain != "" {
		d := domain
		s.CurrentDomain = &d
	}
	f.cursorTrail = append(f.cursorTrail, s.LastProcessedIndex)
	hook := f.afterRecord
	index := s.LastProcessedIndex
	f.mu.Unlock()

	if hook != nil {
		hook(id, index)
	}
	return true, nil
}

func (f *fakeStore) Finalize(_ context.Context, kind types.SessionKind, id string, status types.SessionStatus, msg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.row(kind, id)
	if s == nil || s.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	s.Status = status
	s.CompletedAt = &now
	if status == types.StatusFailed && msg != "" {
		m := msg
		s.Error = &m
	}
	return true, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, kind types.SessionKind, statuses []types.SessionStatus, limit int) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := make(map[types.SessionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []*models.Session
	collect := func(s *models.Session) {
		if want[s.Status] && len(out) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	if kind == types.KindHunt {
		for _, h := range f.hunts {
			collect(&h.Session)
		}
	} else {
		for _, a := range f.audits {
			collect(&a.Session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// fakeLeads is an in-memory lead table keyed by domain
type fakeLeads struct {
	mu sync.Mutex
	// clock stands in for the database clock; nil means time.Now
	clock   func() time.Time
	nowErr  error
	byID    map[string]*models.Lead
	ordered []*models.Lead
	upserts int
	updates int
	touches int
}

func newFakeLeads() *fakeLeads {
	return &fakeLeads{byID: make(map[string]*models.Lead)}
}

func (f *fakeLeads) seed(domain string, createdAt time.Time, e models.Enrichment, score int, tier types.LeadTier) *models.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &models.Lead{
		ID:         uuid.New().String(),
		Domain:     domain,
		Enrichment: e,
		Score:      score,
		Status:     tier,
		CreatedAt:  createdAt,
	}
	f.byID[l.ID] = l
	f.ordered = append(f.ordered, l)
	sort.SliceStable(f.ordered, func(i, j int) bool { return f.ordered[i].CreatedAt.Before(f.ordered[j].CreatedAt) })
	return l
}

func (f *fakeLeads) byDomain(domain string) *models.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.ordered {
		if l.Domain == domain {
			cp := *l
			return &cp
		}
	}
	return nil
}

func (f *fakeLeads) Upsert(_ context.Context, lead *models.Lead) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for _, l := range f.ordered {
		if l.Domain == lead.Domain {
			l.Enrichment = lead.Enrichment
			l.Score = lead.Score
			l.Status = lead.Status
			lead.ID = l.ID
			return false, nil
		}
	}
	cp := *lead
	cp.ID = uuid.New().String()
	cp.CreatedAt = time.Now()
	lead.ID = cp.ID
	f.byID[cp.ID] = &cp
	f.ordered = append(f.ordered, &cp)
	return true, nil
}

func (f *fakeLeads) ListForAudit(_ context.Context, snapshot time.Time, offset, limit int) ([]*models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var eligible []*models.Lead
	for _, l := range f.ordered {
		if !l.CreatedAt.After(snapshot) {
			eligible = append(eligible, l)
		}
	}
	if offset >= len(eligible) {
		return nil, nil
	}
	end := offset + limit
	if end > len(eligible) {
		end = len(eligible)
	}
	out := make([]*models.Lead, 0, end-offset)
	for _, l := range eligible[offset:end] {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeLeads) Now(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nowErr != nil {
		return time.Time{}, f.nowErr
	}
	if f.clock != nil {
		return f.clock(), nil
	}
	return time.Now(), nil
}

func (f *fakeLeads) CountForAudit(_ context.Context, snapshot time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.ordered {
		if !l.CreatedAt.After(snapshot) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLeads) UpdateVerification(_ context.Context, lead *models.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.byID[lead.ID]
	if !ok {
		return storage.ErrLeadNotFound
	}
	f.updates++
	l.Enrichment = lead.Enrichment
	l.Score = lead.Score
	l.Status = lead.Status
	return nil
}

func (f *fakeLeads) TouchVerified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return storage.ErrLeadNotFound
	}
	f.touches++
	return nil
}

// fakeEnricher returns canned enrichment per domain
type fakeEnricher struct {
	mu      sync.Mutex
	results map[string]*models.Enrichment
	fail    map[string]bool
	calls   []string
	before  func(domain string)
}

func newFakeEnricher() *fakeEnricher {
	return &fakeEnricher{
		results: make(map[string]*models.Enrichment),
		fail:    make(map[string]bool),
	}
}

func (f *fakeEnricher) Enrich(_ context.Context, domain string) (*models.Enrichment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, domain)
	hook := f.before
	failing := f.fail[domain]
	result, ok := f.results[domain]
	f.mu.Unlock()

	if hook != nil {
		hook(domain)
	}
	if failing {
		return nil, fmt.Errorf("fetch %s: %w", domain, errSiteDown)
	}
	if !ok {
		return &models.Enrichment{Email: "info@" + domain}, nil
	}
	cp := *result
	return &cp, nil
}

func (f *fakeEnricher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var errSiteDown = errors.New("site unreachable")

// fakeJob is a settable JobHandle
type fakeJob struct {
	failed    atomic.Bool
	completed atomic.Bool
	err       error
}

func (j *fakeJob) IsFailed(context.Context) (bool, error) {
	if j.err != nil {
		return false, j.err
	}
	return j.failed.Load(), nil
}

func (j *fakeJob) IsCompleted(context.Context) (bool, error) {
	if j.err != nil {
		return false, j.err
	}
	return j.completed.Load(), nil
}
