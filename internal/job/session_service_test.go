package job

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lead-engine/internal/errors"
	"github.com/lead-engine/internal/models"
	"github.com/lead-engine/internal/queue"
	"github.com/lead-engine/internal/types"
)

type serviceFixture struct {
	service *SessionService
	store   *fakeStore
	leads   *fakeLeads
	manager *queue.Manager
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	manager := queue.NewManagerWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { _ = manager.Close() })

	store := newFakeStore()
	leads := newFakeLeads()
	return &serviceFixture{
		service: NewSessionService(store, leads, manager, "lead-hunt", "lead-audit", nil),
		store:   store,
		leads:   leads,
		manager: manager,
	}
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return apperrors.Categorize(err).Code
}

func TestSessionService_CreateHunt(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	session, err := f.service.CreateHunt(ctx, []string{" a.com ", "", "https://b.com/x"})
	require.NoError(t, err)

	assert.Equal(t, types.StatusPending, session.Status)
	assert.Equal(t, []string{"a.com", "https://b.com/x"}, session.Targets)
	assert.Equal(t, 2, session.TotalLeads)
	require.NotNil(t, session.JobID)

	stored := f.store.snapshot(types.KindHunt, session.ID)
	require.NotNil(t, stored.JobID)
	assert.Equal(t, *session.JobID, *stored.JobID)

	job, err := f.manager.Queue("lead-hunt").GetJob(ctx, *session.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, job.State)

	var payload models.JobPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, session.ID, payload.SessionID)
	assert.Equal(t, types.KindHunt, payload.Kind)
}

func TestSessionService_CreateHuntValidation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	tooMany := make([]string, MaxHuntTargets+1)
	for i := range tooMany {
		tooMany[i] = "a.com"
	}

	tests := []struct {
		name    string
		targets []string
	}{
		{name: "nil", targets: nil},
		{name: "empty", targets: []string{}},
		{name: "all blank", targets: []string{" ", "\t"}},
		{name: "too many", targets: tooMany},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateHunt(ctx, tt.targets)
			assert.Equal(t, "INVALID_PARAMETER", errorCode(t, err))
		})
	}

	counts, err := f.manager.Queue("lead-hunt").Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestSessionService_SubmissionFailureFailsSession(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	require.NoError(t, f.manager.Queue("lead-hunt").Pause(ctx))

	_, err := f.service.CreateHunt(ctx, []string{"a.com"})
	assert.Equal(t, "QUEUE_ERROR", errorCode(t, err))
	assert.ErrorIs(t, err, queue.ErrQueuePaused)

	sessions, err := f.store.ListByStatus(ctx, types.KindHunt, []types.SessionStatus{types.StatusFailed}, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].Error)
	assert.True(t, strings.HasPrefix(*sessions[0].Error, "queue submission failed"))
}

func TestSessionService_CreateAudit(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	f.leads.seed("a.com", past, models.Enrichment{}, 50, types.TierWarm)
	f.leads.seed("b.com", past, models.Enrichment{}, 50, types.TierWarm)
	f.leads.seed("later.com", time.Now().Add(time.Hour), models.Enrichment{}, 50, types.TierWarm)

	session, err := f.service.CreateAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, session.Status)
	assert.Equal(t, 2, session.TotalLeads)
	assert.False(t, session.SnapshotAt.IsZero())
	require.NotNil(t, session.JobID)

	counts, err := f.manager.Queue("lead-audit").Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestSessionService_CreateAuditUsesStoreClock(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	// The database clock runs behind the application clock
	dbNow := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Microsecond)
	f.leads.clock = func() time.Time { return dbNow }

	f.leads.seed("old.com", dbNow.Add(-time.Minute), models.Enrichment{}, 50, types.TierWarm)
	f.leads.seed("after-snapshot.com", dbNow.Add(time.Minute), models.Enrichment{}, 50, types.TierWarm)

	session, err := f.service.CreateAudit(ctx)
	require.NoError(t, err)
	assert.True(t, session.SnapshotAt.Equal(dbNow))
	assert.Equal(t, 1, session.TotalLeads, "rows stamped after the database snapshot are excluded")

	t.Run("clock failure stores nothing", func(t *testing.T) {
		f.leads.nowErr = errors.New("connection reset")
		defer func() { f.leads.nowErr = nil }()

		_, err := f.service.CreateAudit(ctx)
		require.Error(t, err)
		assert.Equal(t, 500, apperrors.GetHTTPStatusCode(err))

		counts, err := f.manager.Queue("lead-audit").Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.Waiting)
	})
}

func TestSessionService_CancelAudit(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	session, err := f.service.CreateAudit(ctx)
	require.NoError(t, err)

	cancelled, err := f.service.CancelAudit(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	_, err = f.service.CancelAudit(ctx, session.ID)
	assert.Equal(t, "SESSION_TERMINAL", errorCode(t, err))
	assert.Equal(t, 409, apperrors.GetHTTPStatusCode(err))
}

func TestSessionService_Lookups(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	hunt, err := f.service.CreateHunt(ctx, []string{"a.com"})
	require.NoError(t, err)

	got, err := f.service.GetHunt(ctx, hunt.ID)
	require.NoError(t, err)
	assert.Equal(t, hunt.ID, got.ID)

	t.Run("hunt id is not an audit", func(t *testing.T) {
		_, err := f.service.GetAudit(ctx, hunt.ID)
		assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, err))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.service.GetHunt(ctx, uuid.New().String())
		assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, err))

		_, err = f.service.CancelAudit(ctx, uuid.New().String())
		assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, err))
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := f.service.GetHunt(ctx, "not-a-uuid")
		assert.Equal(t, "INVALID_PARAMETER", errorCode(t, err))

		_, err = f.service.GetAudit(ctx, "")
		assert.Equal(t, "INVALID_PARAMETER", errorCode(t, err))
	})
}
