package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/types"
)

func newHuntProcessor(store *fakeStore, leads *fakeLeads, enricher *fakeEnricher, batch int) *Processor {
	return NewProcessor(store, NewHuntDomain(store, leads, enricher), NewHuntCancellation(), WithBatchSize(batch))
}

func newAuditProcessor(store *fakeStore, leads *fakeLeads, enricher *fakeEnricher, batch int) *Processor {
	return NewProcessor(store, NewAuditDomain(store, leads, enricher), NewAuditCancellation(store), WithBatchSize(batch))
}

func TestProcessor_HuntCompletes(t *testing.T) {
	store := newFakeStore()
	leads := newFakeLeads()
	enricher := newFakeEnricher()
	enricher.fail["fail.com"] = true

	s := store.addHunt(types.StatusPending, "https://www.a.com/about", "localhost", "b.com", "fail.com", "not a url")
	p := newHuntProcessor(store, leads, enricher, 2)

	require.NoError(t, p.Run(context.Background(), s.ID, &fakeJob{}))

	got := store.snapshot(types.KindHunt, s.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 5, got.LastProcessedIndex)
	assert.Equal(t, 4, got.ProcessedLeads, "skipped targets count as processed")
	assert.Equal(t, 2, got.SucceededLeads)
	assert.Equal(t, 1, got.FailedLeads)
	assert.Equal(t, 80, got.Progress)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Error)

	assert.Equal(t, []string{"a.com", "b.com", "fail.com"}, enricher.calls)
	lead := leads.byDomain("a.com")
	require.NotNil(t, lead)
	assert.Equal(t, 70, lead.Score)
	assert.Equal(t, types.TierWarm, lead.Status)
	require.NotNil(t, lead.SourceSessionID)
	assert.Equal(t, s.ID, *lead.SourceSessionID)
}

func TestProcessor_TerminalSessionIsAcknowledged(t *testing.T) {
	for _, status := range []types.SessionStatus{types.StatusCompleted, types.StatusFailed, types.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			store := newFakeStore()
			enricher := newFakeEnricher()
			s := store.addHunt(status, "a.com")

			err := newHuntProcessor(store, newFakeLeads(), enricher, 10).Run(context.Background(), s.ID, &fakeJob{})
			require.NoError(t, err)

			assert.Equal(t, 0, enricher.callCount())
			assert.Equal(t, status, store.snapshot(types.KindHunt, s.ID).Status)
		})
	}
}

func TestProcessor_ResumesFromCursor(t *testing.T) {
	store := newFakeStore()
	enricher := newFakeEnricher()
	s := store.addHunt(types.StatusProcessing, "a.com", "b.com", "c.com", "d.com")
	store.mu.Lock()
	s.LastProcessedIndex = 2
	s.ProcessedLeads = 2
	s.SucceededLeads = 2
	store.mu.Unlock()

	require.NoError(t, newHuntProcessor(store, newFakeLeads(), enricher, 10).Run(context.Background(), s.ID, &fakeJob{}))

	assert.Equal(t, []string{"c.com", "d.com"}, enricher.calls)
	got := store.snapshot(types.KindHunt, s.ID)
	assert.Equal(t, 4, got.LastProcessedIndex)
	assert.Equal(t, 4, got.SucceededLeads)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Nil(t, got.StartedAt, "resume does not re-run the PENDING transition")
}

func TestProcessor_IdempotentResumption(t *testing.T) {
	run := func() models.Session {
		store := newFakeStore()
		s := store.addHunt(types.StatusProcessing, "a.com", "localhost", "c.com")
		store.mu.Lock()
		s.LastProcessedIndex = 1
		s.ProcessedLeads = 1
		s.SucceededLeads = 1
		store.mu.Unlock()

		enricher := newFakeEnricher()
		enricher.fail["c.com"] = true
		require.NoError(t, newHuntProcessor(store, newFakeLeads(), enricher, 10).Run(context.Background(), s.ID, &fakeJob{}))
		return store.snapshot(types.KindHunt, s.ID)
	}

	first, second := run(), run()
	assert.Equal(t, first.ProcessedLeads, second.ProcessedLeads)
	assert.Equal(t, first.SucceededLeads, second.SucceededLeads)
	assert.Equal(t, first.FailedLeads, second.FailedLeads)
	assert.Equal(t, first.LastProcessedIndex, second.LastProcessedIndex)
	assert.Equal(t, 3, first.LastProcessedIndex)
}

func TestProcessor_RedeliveryAfterCompletionDoesNotDoubleCount(t *testing.T) {
	store := newFakeStore()
	leads := newFakeLeads()
	enricher := newFakeEnricher()
	s := store.addHunt(types.StatusPending, "a.com", "b.com")
	p := newHuntProcessor(store, leads, enricher, 10)

	require.NoError(t, p.Run(context.Background(), s.ID, &fakeJob{}))
	require.NoError(t, p.Run(context.Background(), s.ID, &fakeJob{}))

	got := store.snapshot(types.KindHunt, s.ID)
	assert.Equal(t, 2, got.ProcessedLeads)
	assert.Equal(t, 2, enricher.callCount())
	assert.Equal(t, 2, leads.upserts)
}

func TestProcessor_HuntCancelledByFailedJob(t *testing.T) {
	store := newFakeStore()
	enricher := newFakeEnricher()
	job := &fakeJob{}
	s := store.addHunt(types.StatusPending, "a.com", "b.com", "c.com")
	store.afterRecord = func(_ string, index int) {
		if index == 1 {
			job.failed.Store(true)
		}
	}

	require.NoError(t, newHuntProcessor(store, newFakeLeads(), enricher, 10).Run(context.Background(), s.ID, job))

	got := store.snapshot(types.KindHunt, s.ID)
	assert.Equal(t, types.StatusCancelled, got.Status)
	assert.Equal(t, 1, got.LastProcessedIndex)
	assert.Equal(t, 1, enricher.callCount())
	assert.Equal(t, 0, store.statusReads, "hunts never consult the store for cancellation")
}

func TestProcessor_HuntStopsWhenRowTurnsTerminal(t *testing.T) {
	store := newFakeStore()
	enricher := newFakeEnricher()
	s := store.addHunt(types.StatusPending, "a.com", "b.com", "c.com")
	enricher.before = func(domain string) {
		if domain == "b.com" {
			store.setStatus(types.KindHunt, s.ID, types.StatusCancelled)
		}
	}

	require.NoError(t, newHuntProcessor(store, newFakeLeads(), enricher, 10).Run(context.Background(), s.ID, &fakeJob{}))

	got := store.snapshot(types.KindHunt, s.ID)
	assert.Equal(t, types.StatusCancelled, got.Status)
	assert.Equal(t, 1, got.LastProcessedIndex, "the in-flight unit is not recorded on a terminal row")
	assert.Equal(t, []string{"a.com", "b.com"}, enricher.calls)
}

func TestProcessor_AuditCancellationPrecedence(t *testing.T) {
	store := newFakeStore()
	leads := newFakeLeads()
	enricher := newFakeEnricher()
	base := time.Now().Add(-time.Hour)
	for i, d := range []string{"a.com", "b.com", "c.com"} {
		leads.seed(d, base.Add(time.Duration(i)*time.Minute), models.Enrichment{}, 50, types.TierWarm)
	}
	s := store.addAudit(types.StatusPending, time.Now(), 3)

	store.afterRecord = func(id string, index int) {
		if index == 1 {
			store.setStatus(types.KindAudit, id, types.StatusCancelled)
		}
	}

	require.NoError(t, newAuditProcessor(store, leads, enricher, 10).Run(context.Background(), s.ID, &fakeJob{}))

	got := store.snapshot(types.KindAudit, s.ID)
	assert.Equal(t, types.StatusCancelled, got.Status)
	assert.Equal(t, 1, got.LastProcessedIndex)
	assert.Nil(t, got.CompletedAt, "an external cancel is not overwritten by the worker")
	assert.Equal(t, []string{"a.com"}, enricher.calls)
}

func TestProcessor_AuditCancelledByFinishedJob(t *testing.T) {
	tests := []struct {
		name string
		set  func(j *fakeJob)
	}{
		{name: "failed", set: func(j *fakeJob) { j.failed.Store(true) }},
		{name: "completed", set: func(j *fakeJob) { j.completed.Store(true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			leads := newFakeLeads()
			leads.seed("a.com", time.Now().Add(-time.Minute), models.Enrichment{}, 50, types.TierWarm)
			s := store.addAudit(types.StatusPending, time.Now(), 1)

			job := &fakeJob{}
			tt.set(job)
			enricher := newFakeEnricher()

			require.NoError(t, newAuditProcessor(store, leads, enricher, 10).Run(context.Background(), s.ID, job))

			got := store.snapshot(types.KindAudit, s.ID)
			assert.Equal(t, types.StatusCancelled, got.Status)
			assert.Equal(t, 0, enricher.callCount())
		})
	}
}

func TestProcessor_AuditClassifiesUpdates(t *testing.T) {
	store := newFakeStore()
	leads := newFakeLeads()
	enricher := newFakeEnricher()
	created := time.Now().Add(-time.Hour)

	same := models.Enrichment{Email: "info@same.com"}
	leads.seed("same.com", created, same, 70, types.TierWarm)
	leads.seed("changed.com", created.Add(time.Second), models.Enrichment{}, 50, types.TierWarm)
	leads.seed("down.com", created.Add(2*time.Second), models.Enrichment{}, 50, types.TierWarm)
	leads.seed("future.com", time.Now().Add(time.Hour), models.Enrichment{}, 50, types.TierWarm)

	enricher.results["same.com"] = &same
	enricher.results["changed.com"] = &models.Enrichment{
		Email:        "sales@changed.com",
		PhoneNumbers: []string{"+1 555 0100"},
	}
	enricher.fail["down.com"] = true

	s := store.addAudit(types.StatusPending, time.Now(), 3)
	require.NoError(t, newAuditProcessor(store, leads, enricher, 2).Run(context.Background(), s.ID, &fakeJob{}))

	got := store.snapshot(types.KindAudit, s.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedLeads)
	assert.Equal(t, 1, got.SucceededLeads)
	assert.Equal(t, 1, got.FailedLeads)
	assert.Equal(t, 3, got.LastProcessedIndex)
	assert.NotContains(t, enricher.calls, "future.com", "leads after the snapshot are not audited")

	changed := leads.byDomain("changed.com")
	assert.Equal(t, 80, changed.Score)
	assert.Equal(t, types.TierHot, changed.Status)
	assert.Equal(t, 1, leads.updates)
	assert.Equal(t, 1, leads.touches)
	assert.Greater(t, store.statusReads, 0)
}

func TestProcessor_LoopFatalErrorsFailSession(t *testing.T) {
	t.Run("unit source unreachable", func(t *testing.T) {
		store := newFakeStore()
		store.targetsErr = errors.New("connection refused")
		s := store.addHunt(types.StatusPending, "a.com")

		err := newHuntProcessor(store, newFakeLeads(), newFakeEnricher(), 10).Run(context.Background(), s.ID, &fakeJob{})
		require.Error(t, err)

		got := store.snapshot(types.KindHunt, s.ID)
		assert.Equal(t, types.StatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Contains(t, *got.Error, "connection refused")
	})

	t.Run("queue unreachable during cancellation check", func(t *testing.T) {
		store := newFakeStore()
		s := store.addHunt(types.StatusPending, "a.com")

		err := newHuntProcessor(store, newFakeLeads(), newFakeEnricher(), 10).
			Run(context.Background(), s.ID, &fakeJob{err: errors.New("redis down")})
		require.Error(t, err)
		assert.Equal(t, types.StatusFailed, store.snapshot(types.KindHunt, s.ID).Status)
	})

	t.Run("counters are retained", func(t *testing.T) {
		store := newFakeStore()
		s := store.addHunt(types.StatusPending, "a.com", "b.com")
		store.afterRecord = func(_ string, _ int) {
			store.mu.Lock()
			store.recordErr = errors.New("store unreachable")
			store.mu.Unlock()
		}

		err := newHuntProcessor(store, newFakeLeads(), newFakeEnricher(), 10).Run(context.Background(), s.ID, &fakeJob{})
		require.Error(t, err)

		got := store.snapshot(types.KindHunt, s.ID)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Equal(t, 1, got.ProcessedLeads)
	})

	t.Run("missing session", func(t *testing.T) {
		store := newFakeStore()
		err := newHuntProcessor(store, newFakeLeads(), newFakeEnricher(), 10).Run(context.Background(), "nope", &fakeJob{})
		assert.Error(t, err)
	})
}

func TestProcessor_CursorConflict(t *testing.T) {
	store := newFakeStore()
	enricher := newFakeEnricher()
	s := store.addHunt(types.StatusPending, "a.com", "b.com")
	enricher.before = func(domain string) {
		if domain == "b.com" {
			store.mu.Lock()
			store.hunts[s.ID].LastProcessedIndex = 5
			store.mu.Unlock()
		}
	}

	err := newHuntProcessor(store, newFakeLeads(), enricher, 10).Run(context.Background(), s.ID, &fakeJob{})
	require.ErrorIs(t, err, ErrCursorConflict)
	assert.Equal(t, types.StatusFailed, store.snapshot(types.KindHunt, s.ID).Status)
}

func TestProcessor_ContextCancelLeavesSessionOpen(t *testing.T) {
	store := newFakeStore()
	enricher := newFakeEnricher()
	s := store.addHunt(types.StatusPending, "a.com", "b.com")

	ctx, cancel := context.WithCancel(context.Background())
	enricher.before = func(string) { cancel() }
	enricher.fail["a.com"] = true

	err := newHuntProcessor(store, newFakeLeads(), enricher, 10).Run(ctx, s.ID, &fakeJob{})
	require.ErrorIs(t, err, context.Canceled)

	got := store.snapshot(types.KindHunt, s.ID)
	assert.Equal(t, types.StatusProcessing, got.Status)
	assert.Equal(t, 0, got.FailedLeads)
}

func TestProcessor_EmptyAuditCompletes(t *testing.T) {
	store := newFakeStore()
	s := store.addAudit(types.StatusPending, time.Now(), 0)

	require.NoError(t, newAuditProcessor(store, newFakeLeads(), newFakeEnricher(), 10).Run(context.Background(), s.ID, &fakeJob{}))

	got := store.snapshot(types.KindAudit, s.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.Progress)
}

func TestProcessor_CursorInvariantProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// 0 = invalid target, 1 = discovered lead, 2 = failing site
	targetFor := func(i, kind int) string {
		switch kind {
		case 0:
			return "localhost"
		case 2:
			return "down" + string(rune('a'+i%26)) + ".com"
		default:
			return "ok" + string(rune('a'+i%26)) + ".com"
		}
	}

	properties.Property("cursor equals processed plus failed and never decreases", prop.ForAll(
		func(kinds []int, batch int) bool {
			store := newFakeStore()
			enricher := newFakeEnricher()
			targets := make([]string, len(kinds))
			for i, k := range kinds {
				targets[i] = targetFor(i, k)
				if k == 2 {
					enricher.fail[targets[i]] = true
				}
			}
			s := store.addHunt(types.StatusPending, targets...)

			if err := newHuntProcessor(store, newFakeLeads(), enricher, batch).Run(context.Background(), s.ID, &fakeJob{}); err != nil {
				return false
			}

			got := store.snapshot(types.KindHunt, s.ID)
			if got.LastProcessedIndex != got.ProcessedLeads+got.FailedLeads {
				return false
			}
			if got.LastProcessedIndex != len(targets) || got.Status != types.StatusCompleted {
				return false
			}
			for i := 1; i < len(store.cursorTrail); i++ {
				if store.cursorTrail[i] != store.cursorTrail[i-1]+1 {
					return false
				}
			}
			return got.SucceededLeads <= got.ProcessedLeads && got.Progress <= 100
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.IntRange(1, 7),
	))

	properties.TestingRun(t)
}
