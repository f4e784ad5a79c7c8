package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"skusync.evalgo.org/config"
	"skusync.evalgo.org/storage"
)

// fakeStore is an in-memory ObjectStore recording every call.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string]string
	keyErrs   map[string][]error // returned in order before the key is served
	alwaysErr map[string]error
	headErr   error
	heads     int
	downloads []string
	delay     time.Duration

	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:   make(map[string]string),
		keyErrs:   make(map[string][]error),
		alwaysErr: make(map[string]error),
	}
}

func (s *fakeStore) HeadBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads++
	return s.headErr
}

func (s *fakeStore) Download(ctx context.Context, bucket, key, destPath string) (int64, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.downloads = append(s.downloads, key)
	delay := s.delay
	var queued error
	if errs := s.keyErrs[key]; len(errs) > 0 {
		queued = errs[0]
		s.keyErrs[key] = errs[1:]
	}
	fixed := s.alwaysErr[key]
	body, ok := s.objects[key]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	switch {
	case queued != nil:
		return 0, queued
	case fixed != nil:
		return 0, fixed
	case !ok:
		return 0, fmt.Errorf("get object %s: %w", key, storage.ErrNotFound)
	}
	if err := os.WriteFile(destPath, []byte(body), 0644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

func (s *fakeStore) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.downloads...)
}

func (s *fakeStore) headCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads
}

// recordSleep captures backoff waits instead of sleeping.
type recordSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func testConfig(t *testing.T) config.SyncConfig {
	t.Helper()
	return config.SyncConfig{
		BucketName:        "sku-assets",
		LocalDownloadPath: filepath.Join(t.TempDir(), "downloads"),
		RemotePrefix:      "skus/",
		MaxWorkers:        8,
		LogLevel:          "DEBUG",
		Extensions:        []string{".pdf"},
		MaxRetries:        3,
		TaskTimeout:       5 * time.Second,
		BackoffUnit:       time.Millisecond,
	}
}

func testLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func entriesWith(hook *test.Hook, level logrus.Level, msg string) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}
