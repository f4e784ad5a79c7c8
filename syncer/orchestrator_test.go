package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skusync.evalgo.org/config"
	"skusync.evalgo.org/sku"
	"skusync.evalgo.org/storage"
)

func outcomeMap(outcomes []FetchOutcome) map[string]FetchOutcome {
	m := make(map[string]FetchOutcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Identifier] = o
	}
	return m
}

// TestRun_EndToEnd tests mixed success, missing and denied identifiers
func TestRun_EndToEnd(t *testing.T) {
	store := newFakeStore()
	store.objects["skus/S1.pdf"] = "%PDF-1"
	store.alwaysErr["skus/S3.pdf"] = fmt.Errorf("get object: %w", storage.ErrAccessDenied)
	logger, _ := testLogger()
	cfg := testConfig(t)

	outcomes, err := NewOrchestrator(store, logger).Run(context.Background(), cfg, []string{"S1", "S2", "S3"}, []string{".pdf"})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byID := outcomeMap(outcomes)
	assert.True(t, byID["S1"].Success)
	assert.Equal(t, filepath.Join(cfg.LocalDownloadPath, "S1.pdf"), byID["S1"].LocalPath)
	assert.False(t, byID["S2"].Success)
	assert.False(t, byID["S3"].Success)

	summary := Summarize(outcomes)
	assert.Equal(t, 1, summary.Succeeded)
	assert.ElementsMatch(t, []string{"S2", "S3"}, summary.Failed)
	assert.False(t, summary.AllSucceeded)
}

// TestRun_Dedup tests that repeated identifiers are fetched once
func TestRun_Dedup(t *testing.T) {
	store := newFakeStore()
	store.objects["skus/A.pdf"] = "a"
	store.objects["skus/B.pdf"] = "b"
	logger, _ := testLogger()

	outcomes, err := NewOrchestrator(store, logger).Run(context.Background(), testConfig(t), []string{"A", "B", " A"}, []string{".pdf"})
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
	assert.ElementsMatch(t, []string{"skus/A.pdf", "skus/B.pdf"}, store.calls())
}

// TestRun_UsesExtensionArgument tests that only the extensions passed to Run matter
func TestRun_UsesExtensionArgument(t *testing.T) {
	store := newFakeStore()
	store.objects["skus/A.pdf"] = "a"
	store.objects["skus/B.txt"] = "b"
	logger, _ := testLogger()
	cfg := testConfig(t)
	cfg.Extensions = nil

	outcomes, err := NewOrchestrator(store, logger).Run(context.Background(), cfg, []string{"A"}, []string{".pdf"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	cfg.Extensions = []string{".pdf"}
	_, err = NewOrchestrator(store, logger).Run(context.Background(), cfg, []string{"B"}, []string{"txt"})
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, []string{"skus/A.pdf"}, store.calls())
}

// TestRun_WorkerCap tests that in-flight downloads never exceed the worker limit
func TestRun_WorkerCap(t *testing.T) {
	tests := []struct {
		name       string
		maxWorkers int
		ids        int
		limit      int
	}{
		{name: "Configured", maxWorkers: 3, ids: 15, limit: 3},
		{name: "HardCap", maxWorkers: 50, ids: 60, limit: MaxConcurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.delay = 5 * time.Millisecond
			var ids []string
			for i := 0; i < tt.ids; i++ {
				id := fmt.Sprintf("W%03d", i)
				ids = append(ids, id)
				store.objects["skus/"+id+".pdf"] = id
			}
			cfg := testConfig(t)
			cfg.MaxWorkers = tt.maxWorkers
			logger, _ := testLogger()

			outcomes, err := NewOrchestrator(store, logger).Run(context.Background(), cfg, ids, []string{".pdf"})
			require.NoError(t, err)
			assert.Len(t, outcomes, tt.ids)
			assert.LessOrEqual(t, int(store.peak.Load()), tt.limit)
			assert.Equal(t, tt.ids, Summarize(outcomes).Succeeded)
		})
	}
}

// TestRun_PreflightFailures tests that bucket problems abort before any download
func TestRun_PreflightFailures(t *testing.T) {
	tests := []struct {
		name     string
		headErr  error
		expected error
	}{
		{name: "NotFound", headErr: fmt.Errorf("head bucket: %w", storage.ErrNotFound), expected: ErrBucketNotFound},
		{name: "AccessDenied", headErr: fmt.Errorf("head bucket: %w", storage.ErrAccessDenied), expected: ErrAccessDenied},
		{name: "NoCredentials", headErr: fmt.Errorf("%w: no provider", storage.ErrNoCredentials), expected: ErrCredentials},
		{name: "Other", headErr: errors.New("dial tcp: connection refused"), expected: ErrPreflight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.headErr = tt.headErr
			store.objects["skus/A.pdf"] = "a"
			logger, hook := testLogger()

			outcomes, err := NewOrchestrator(store, logger).Run(context.Background(), testConfig(t), []string{"A"}, []string{".pdf"})
			assert.ErrorIs(t, err, tt.expected)
			assert.Nil(t, outcomes)
			assert.Empty(t, store.calls())
			assert.Len(t, entriesWith(hook, logrus.ErrorLevel, "bucket pre-flight failed"), 1)
		})
	}
}

// TestRun_InvalidInput tests precondition failures surface as config.ErrInvalid
func TestRun_InvalidInput(t *testing.T) {
	tooMany := make([]string, sku.MaxIdentifiers+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("ID%05d", i)
	}

	tests := []struct {
		name   string
		mutate func(*config.SyncConfig)
		ids    []string
		exts   []string
	}{
		{name: "BadBucket", mutate: func(c *config.SyncConfig) { c.BucketName = "Bad_Bucket" }, ids: []string{"A"}, exts: []string{".pdf"}},
		{name: "RelativePath", mutate: func(c *config.SyncConfig) { c.LocalDownloadPath = "downloads" }, ids: []string{"A"}, exts: []string{".pdf"}},
		{name: "TooManyWorkers", mutate: func(c *config.SyncConfig) { c.MaxWorkers = 51 }, ids: []string{"A"}, exts: []string{".pdf"}},
		{name: "BadExtension", ids: []string{"A"}, exts: []string{"pdf"}},
		{name: "NoExtensions", ids: []string{"A"}, exts: nil},
		{name: "TooManyIdentifiers", ids: tooMany, exts: []string{".pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			cfg := testConfig(t)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			logger, _ := testLogger()

			_, err := NewOrchestrator(store, logger).Run(context.Background(), cfg, tt.ids, tt.exts)
			assert.ErrorIs(t, err, config.ErrInvalid)
			assert.Zero(t, store.headCalls())
			assert.Empty(t, store.calls())
		})
	}
}

// TestRun_EmptyIdentifiers tests that nothing to do is a warning, not an error
func TestRun_EmptyIdentifiers(t *testing.T) {
	store := newFakeStore()
	logger, hook := testLogger()

	outcomes, err := NewOrchestrator(store, logger).Run(context.Background(), testConfig(t), nil, []string{".pdf"})
	assert.NoError(t, err)
	assert.Nil(t, outcomes)
	assert.Zero(t, store.headCalls())
	assert.Len(t, entriesWith(hook, logrus.WarnLevel, "no identifiers to sync"), 1)
}

// TestRun_CreatesDownloadDir tests that missing parents are created
func TestRun_CreatesDownloadDir(t *testing.T) {
	store := newFakeStore()
	store.objects["skus/A.pdf"] = "a"
	cfg := testConfig(t)
	cfg.LocalDownloadPath = filepath.Join(t.TempDir(), "deep", "nested", "dir")
	logger, _ := testLogger()

	outcomes, err := NewOrchestrator(store, logger).Run(context.Background(), cfg, []string{"A"}, []string{".pdf"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.DirExists(t, cfg.LocalDownloadPath)

	entries, err := os.ReadDir(cfg.LocalDownloadPath)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "write check file must be cleaned up")
}

// TestPrepareDir_RemoveFailureLogged tests that a leftover write check file is reported
func TestPrepareDir_RemoveFailureLogged(t *testing.T) {
	orig := removeFile
	t.Cleanup(func() { removeFile = orig })
	removeFile = func(string) error { return os.ErrPermission }

	dir := t.TempDir()
	logger, hook := testLogger()

	require.NoError(t, prepareDir(logger, dir))
	entries := entriesWith(hook, logrus.WarnLevel, "failed to remove write check file")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Data["path"], filepath.Join(dir, ".skusync-write-"))
}

// TestRun_TaskTimeout tests that a stuck download fails only its own identifier
func TestRun_TaskTimeout(t *testing.T) {
	store := newFakeStore()
	store.objects["skus/FAST.pdf"] = "f"
	store.objects["skus/SLOW.pdf"] = "s"
	cfg := testConfig(t)
	cfg.TaskTimeout = 50 * time.Millisecond
	logger, hook := testLogger()

	// fakeStore honours ctx, so the slow task observes the cancellation
	slow := &slowStore{fakeStore: store, slowKey: "skus/SLOW.pdf", delay: time.Second}

	outcomes, err := NewOrchestrator(slow, logger).Run(context.Background(), cfg, []string{"FAST", "SLOW"}, []string{".pdf"})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byID := outcomeMap(outcomes)
	assert.True(t, byID["FAST"].Success)
	assert.False(t, byID["SLOW"].Success)
	assert.Empty(t, byID["SLOW"].LocalPath)
	assert.NotEmpty(t, entriesWith(hook, logrus.ErrorLevel, "task failed"))
}

// TestRun_Progress tests progress lines at every tenth completion and at the end
func TestRun_Progress(t *testing.T) {
	store := newFakeStore()
	var ids []string
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("P%02d", i)
		ids = append(ids, id)
		store.objects["skus/"+id+".pdf"] = id
	}
	logger, hook := testLogger()

	_, err := NewOrchestrator(store, logger).Run(context.Background(), testConfig(t), ids, []string{".pdf"})
	require.NoError(t, err)

	var completed []int
	for _, e := range hook.AllEntries() {
		if c, ok := e.Data["completed"]; ok {
			completed = append(completed, c.(int))
			assert.Equal(t, 25, e.Data["total"])
			assert.Equal(t, "skusync.syncer", e.Data["name"])
		}
	}
	assert.Equal(t, []int{10, 20, 25}, completed)
}

// TestRun_CancelledContext tests that cancellation yields failures, not errors
func TestRun_CancelledContext(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"A", "B", "C"} {
		store.objects["skus/"+id+".pdf"] = id
	}
	cfg := testConfig(t)
	cfg.MaxWorkers = 1
	logger, _ := testLogger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := NewOrchestrator(store, logger).Run(ctx, cfg, []string{"A", "B", "C"}, []string{".pdf"})
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
	assert.False(t, Summarize(outcomes).AllSucceeded)
}

// TestEffectiveWorkers tests the worker count formula
func TestEffectiveWorkers(t *testing.T) {
	assert.Equal(t, 3, EffectiveWorkers(3, 100))
	assert.Equal(t, 20, EffectiveWorkers(50, 100))
	assert.Equal(t, 2, EffectiveWorkers(8, 2))
	assert.Equal(t, 1, EffectiveWorkers(8, 0))
}

// slowStore delays one key until its context ends.
type slowStore struct {
	*fakeStore
	slowKey string
	delay   time.Duration
}

func (s *slowStore) Download(ctx context.Context, bucket, key, destPath string) (int64, error) {
	if key == s.slowKey {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.fakeStore.Download(ctx, bucket, key, destPath)
}
