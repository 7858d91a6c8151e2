package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lecture-queue/internal/queue/domain"
	"github.com/cuongbtq/lecture-queue/internal/queue/storage"
	"github.com/cuongbtq/lecture-queue/shared/database"
	"github.com/cuongbtq/lecture-queue/shared/logger"
)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (n *recordingNotifier) Notify(_ context.Context, jobID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, jobID)
	return n.err
}

type fixture struct {
	service  *Service
	store    *storage.Storage
	coord    *Coordinator
	notifier *recordingNotifier
	uploads  string
}

func newFixture(t *testing.T, expose bool) *fixture {
	t.Helper()

	dir := t.TempDir()
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(dir, "queue.db"),
	}, logger.NewNop().Logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := storage.NewStorage(client.GetDB(), logger.NewNop().Logger)
	require.NoError(t, store.Migrate(context.Background(), "Unorganized"))

	f := &fixture{
		store:    store,
		coord:    NewCoordinator(),
		notifier: &recordingNotifier{},
		uploads:  filepath.Join(dir, "uploads"),
	}
	f.service = NewService(store, f.coord, Options{
		UploadDir:    f.uploads,
		ExposeErrors: expose,
		Notifier:     f.notifier,
	}, logger.NewNop().Logger)
	return f
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	jobID, err := f.service.Enqueue(ctx, strings.NewReader("audio-bytes"), "lec1.mp3")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, "lec1.mp3", job.OriginalFilename)
	assert.Equal(t, ".mp3", filepath.Ext(job.AudioPath))

	data, err := os.ReadFile(job.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))

	assert.True(t, f.coord.Raised())
	assert.Equal(t, []string{jobID}, f.notifier.ids)
}

func TestEnqueue_Defaults(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	jobID, err := f.service.Enqueue(ctx, strings.NewReader("x"), "")
	require.NoError(t, err)

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultFilename, job.OriginalFilename)
	assert.Equal(t, ".tmp", filepath.Ext(job.AudioPath))
}

func TestEnqueue_NotifierFailureIgnored(t *testing.T) {
	f := newFixture(t, true)
	f.notifier.err = errors.New("broker down")

	jobID, err := f.service.Enqueue(context.Background(), strings.NewReader("x"), "a.wav")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
}

func TestEnqueue_NeverBlocksOnWorker(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// hold the check-and-claim section as a busy worker would
	f.coord.Lock()
	defer f.coord.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, err := f.service.Enqueue(ctx, strings.NewReader("x"), "a.mp3")
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue blocked on the worker")
	}

	summary, err := f.service.GetQueueSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.QueuedCount)
}

func TestEnqueue_Concurrent(t *testing.T) {
	tests := []struct {
		name    string
		callers int
	}{
		{name: "two callers", callers: 2},
		{name: "twenty callers", callers: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				ids   = make(map[string]struct{}, tt.callers)
				paths = make(map[string]struct{}, tt.callers)
			)
			for i := 0; i < tt.callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					jobID, err := f.service.Enqueue(ctx, strings.NewReader("x"), "same.mp3")
					if !assert.NoError(t, err) {
						return
					}
					job, err := f.store.GetJob(ctx, jobID)
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					ids[jobID] = struct{}{}
					paths[job.AudioPath] = struct{}{}
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Len(t, ids, tt.callers)
			assert.Len(t, paths, tt.callers)

			summary, err := f.service.GetQueueSummary(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.callers, summary.QueuedCount)
		})
	}
}

func TestStamp_StrictlyIncreasing(t *testing.T) {
	f := newFixture(t, true)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return fixed }

	first := f.service.stamp()
	second := f.service.stamp()
	assert.True(t, second.After(first))
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	jobID, err := f.service.Enqueue(ctx, strings.NewReader("x"), "lec1.mp3")
	require.NoError(t, err)

	report, err := f.service.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, report.Status)
	assert.True(t, report.Known)

	_, err = f.store.ClaimNext(ctx)
	require.NoError(t, err)
	report, err = f.service.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, report.Status)

	require.NoError(t, f.store.FinalizeSuccess(ctx, jobID, "t1", 0))
	report, err = f.service.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, report.Status)
	assert.False(t, report.Known)
}

func TestGetStatus_UnknownIDReadsCompleted(t *testing.T) {
	f := newFixture(t, true)

	report, err := f.service.GetStatus(context.Background(), "never-existed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, report.Status)
	assert.False(t, report.Known)
	assert.Empty(t, report.ErrorMessage)
}

func TestGetStatus_FailedErrorDisclosure(t *testing.T) {
	tests := []struct {
		name   string
		expose bool
		want   string
	}{
		{name: "raw text", expose: true, want: "corrupt header"},
		{name: "kind message", expose: false, want: "audio could not be transcribed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.expose)
			ctx := context.Background()

			jobID, err := f.service.Enqueue(ctx, strings.NewReader("x"), "lec2.mp3")
			require.NoError(t, err)
			_, err = f.store.ClaimNext(ctx)
			require.NoError(t, err)
			require.NoError(t, f.store.FinalizeFailure(ctx, jobID, domain.KindTranscription, "corrupt header"))

			report, err := f.service.GetStatus(ctx, jobID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, report.Status)
			assert.Equal(t, tt.want, report.ErrorMessage)

			jobs, err := f.service.ListJobs(ctx, storage.JobFilter{Status: domain.StatusFailed, PageSize: 10})
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			assert.Equal(t, tt.want, jobs[0].ErrorMessage)
		})
	}
}

func TestDeleteJob(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	jobID, err := f.service.Enqueue(ctx, strings.NewReader("x"), "lec.mp3")
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.DeleteJob(ctx, jobID), domain.ErrJobNotTerminal)

	_, err = f.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.FinalizeFailure(ctx, jobID, domain.KindTranscription, "bad"))

	assert.NoError(t, f.service.DeleteJob(ctx, jobID))
	assert.ErrorIs(t, f.service.DeleteJob(ctx, jobID), domain.ErrJobNotFound)
}
