package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
	"github.com/cuongbtq/lecture-queue/shared/database"
	"github.com/cuongbtq/lecture-queue/shared/logger"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "queue.db"),
	}, logger.NewNop().Logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	s := NewStorage(client.GetDB(), logger.NewNop().Logger)
	require.NoError(t, s.Migrate(context.Background(), "Unorganized"))
	return s
}

var base = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, s *Storage, filename string, offset time.Duration) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:               uuid.NewString(),
		AudioPath:        "/uploads/" + filename,
		OriginalFilename: filename,
		CreatedAt:        base.Add(offset),
	}
	require.NoError(t, s.Enqueue(context.Background(), job))
	return job
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Migrate(context.Background(), "Unorganized"))

	var count int
	require.NoError(t, s.db.Get(&count, `SELECT COUNT(1) FROM folders WHERE name = 'Unorganized'`))
	assert.Equal(t, 1, count)
}

func TestEnqueue_GetJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := enqueue(t, s, "lec1.mp3", 0)
	assert.Equal(t, domain.StatusQueued, job.Status)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "lec1.mp3", got.OriginalFilename)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Nil(t, got.StartedAt)

	_, err = s.GetJob(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestClaimNext_FIFO(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	second := enqueue(t, s, "b.mp3", time.Second)
	first := enqueue(t, s, "a.mp3", 0)

	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, domain.StatusProcessing, job.Status)
	assert.NotNil(t, job.StartedAt)

	// one job in flight blocks the next claim
	blocked, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, blocked)

	require.NoError(t, s.FinalizeSuccess(ctx, first.ID, "t1", 0))

	job, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, second.ID, job.ID)
}

func TestClaimNext_Empty(t *testing.T) {
	s := newTestStorage(t)

	job, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNext_Concurrent(t *testing.T) {
	s := newTestStorage(t)
	for i := 0; i < 5; i++ {
		enqueue(t, s, "lec.mp3", time.Duration(i)*time.Second)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.ClaimNext(context.Background())
			assert.NoError(t, err)
			if job != nil {
				mu.Lock()
				claimed = append(claimed, job.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 1)
	processing, err := s.HasProcessing(context.Background())
	require.NoError(t, err)
	assert.True(t, processing)
}

func TestClaimJob_RequiresQueuedRow(t *testing.T) {
	tests := []struct {
		name       string
		setStatus  domain.Status
		wantClaim  bool
		wantStatus domain.Status
	}{
		{name: "queued row is claimed", setStatus: domain.StatusQueued, wantClaim: true, wantStatus: domain.StatusProcessing},
		{name: "row already processing", setStatus: domain.StatusProcessing, wantStatus: domain.StatusProcessing},
		{name: "failed row", setStatus: domain.StatusFailed, wantStatus: domain.StatusFailed},
		{name: "completed row", setStatus: domain.StatusCompleted, wantStatus: domain.StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			ctx := context.Background()
			job := enqueue(t, s, "lec.mp3", 0)

			// a competing claimer read this id while it was still queued
			_, err := s.db.Exec(s.db.Rebind(`UPDATE transcription_jobs SET status = ? WHERE id = ?`), tt.setStatus, job.ID)
			require.NoError(t, err)

			claimed, err := s.claimJob(ctx, job.ID)
			require.NoError(t, err)
			if tt.wantClaim {
				require.NotNil(t, claimed)
				assert.Equal(t, job.ID, claimed.ID)
			} else {
				assert.Nil(t, claimed)
			}

			got, err := s.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestClaimNext_LostRaceWhileBusy(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	running := enqueue(t, s, "a.mp3", 0)
	enqueue(t, s, "b.mp3", time.Second)

	_, err := s.claimJob(ctx, running.ID)
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	summary, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.mp3", summary.ProcessingFilename)
	assert.Equal(t, 1, summary.QueuedCount)
}

func TestFinalizeSuccess(t *testing.T) {
	tests := []struct {
		name       string
		retention  time.Duration
		wantExists bool
	}{
		{name: "deletes row without retention", retention: 0, wantExists: false},
		{name: "keeps completed row with retention", retention: time.Hour, wantExists: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage(t)
			ctx := context.Background()

			job := enqueue(t, s, "lec1.mp3", 0)
			_, err := s.ClaimNext(ctx)
			require.NoError(t, err)

			require.NoError(t, s.FinalizeSuccess(ctx, job.ID, "transcript-1", tt.retention))

			got, err := s.GetJob(ctx, job.ID)
			if !tt.wantExists {
				assert.ErrorIs(t, err, domain.ErrJobNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, got.Status)
			assert.Equal(t, "transcript-1", got.TranscriptID)
			assert.NotNil(t, got.FinishedAt)
		})
	}
}

func TestFinalize_RequiresProcessing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := enqueue(t, s, "lec1.mp3", 0)

	err := s.FinalizeSuccess(ctx, job.ID, "t1", 0)
	assert.ErrorIs(t, err, domain.ErrJobNotProcessing)

	err = s.FinalizeFailure(ctx, job.ID, domain.KindUnexpected, "boom")
	assert.ErrorIs(t, err, domain.ErrJobNotProcessing)
}

func TestFinalizeFailure(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := enqueue(t, s, "lec2.mp3", 0)
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, s.FinalizeFailure(ctx, job.ID, domain.KindTranscription, "corrupt header"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "corrupt header", got.ErrorMessage)
	assert.Equal(t, domain.KindTranscription, got.ErrorKind)

	// a failed row never blocks the queue
	next := enqueue(t, s, "lec3.mp3", time.Second)
	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, next.ID, claimed.ID)
}

func TestSummary(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	summary, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.False(t, summary.Processing())
	assert.Equal(t, 0, summary.QueuedCount)

	enqueue(t, s, "a.mp3", 0)
	enqueue(t, s, "b.mp3", time.Second)
	enqueue(t, s, "c.mp3", 2*time.Second)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)

	summary, err = s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.mp3", summary.ProcessingFilename)
	assert.Equal(t, 2, summary.QueuedCount)
}

func TestRecoverProcessing(t *testing.T) {
	t.Run("requeue keeps position", func(t *testing.T) {
		s := newTestStorage(t)
		ctx := context.Background()

		stale := enqueue(t, s, "a.mp3", 0)
		enqueue(t, s, "b.mp3", time.Second)
		_, err := s.ClaimNext(ctx)
		require.NoError(t, err)

		n, err := s.RequeueProcessing(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		job, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, stale.ID, job.ID)
	})

	t.Run("fail marks stale rows", func(t *testing.T) {
		s := newTestStorage(t)
		ctx := context.Background()

		stale := enqueue(t, s, "a.mp3", 0)
		_, err := s.ClaimNext(ctx)
		require.NoError(t, err)

		n, err := s.FailProcessing(ctx, "worker restarted")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := s.GetJob(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, "worker restarted", got.ErrorMessage)
		assert.Equal(t, domain.KindUnexpected, got.ErrorKind)
	})
}

func TestPurgeCompleted(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	job := enqueue(t, s, "a.mp3", 0)
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeSuccess(ctx, job.ID, "t1", time.Hour))

	n, err := s.PurgeCompleted(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.PurgeCompleted(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestDeleteJob(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	failed := enqueue(t, s, "a.mp3", 0)
	_, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FinalizeFailure(ctx, failed.ID, domain.KindUnexpected, "boom"))

	queued := enqueue(t, s, "b.mp3", time.Second)

	assert.NoError(t, s.DeleteJob(ctx, failed.ID))
	assert.ErrorIs(t, s.DeleteJob(ctx, failed.ID), domain.ErrJobNotFound)
	assert.ErrorIs(t, s.DeleteJob(ctx, queued.ID), domain.ErrJobNotTerminal)
}

func TestListJobs_Pagination(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueue(t, s, "lec.mp3", time.Duration(i)*time.Second).ID)
	}

	page, err := s.ListJobs(ctx, JobFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	last := page[1]
	page, err = s.ListJobs(ctx, JobFilter{
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].ID)

	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)

	page, err = s.ListJobs(ctx, JobFilter{Status: domain.StatusProcessing, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}
