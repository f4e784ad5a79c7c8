package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"skusync.evalgo.org/config"
	"skusync.evalgo.org/sku"
	"skusync.evalgo.org/storage"
)

// FetchOutcome is the result of fetching one identifier. LocalPath is set
// exactly when Success is true.
type FetchOutcome struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Success    bool   `json:"success" yaml:"success"`
	LocalPath  string `json:"local_path,omitempty" yaml:"local_path,omitempty"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher downloads the first available object for an identifier, trying the
// configured extensions in order.
type Fetcher struct {
	store       storage.ObjectStore
	bucket      string
	prefix      string
	downloadDir string
	extensions  []string
	maxRetries  int
	backoffUnit time.Duration
	sleep       SleepFunc
	log         logrus.FieldLogger
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithSleep replaces the wait used between retry attempts.
func WithSleep(sleep SleepFunc) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// NewFetcher builds a Fetcher for one run. cfg is expected to be validated.
func NewFetcher(store storage.ObjectStore, cfg config.SyncConfig, extensions []string, logger logrus.FieldLogger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:       store,
		bucket:      cfg.BucketName,
		prefix:      cfg.RemotePrefix,
		downloadDir: cfg.LocalDownloadPath,
		extensions:  extensions,
		maxRetries:  cfg.MaxRetries,
		backoffUnit: cfg.BackoffUnit,
		sleep:       sleepContext,
		log:         logger,
	}
	if f.maxRetries < 1 {
		f.maxRetries = 1
	}
	if f.backoffUnit <= 0 {
		f.backoffUnit = time.Second
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch resolves identifier to a local file. It never returns an error;
// every problem ends up as a failed outcome and a log line.
func (f *Fetcher) Fetch(ctx context.Context, identifier string) FetchOutcome {
	failed := FetchOutcome{Identifier: identifier}

	id, err := sku.Sanitize(identifier)
	if err != nil {
		f.log.WithField("sku", identifier).WithError(err).Error("rejected identifier")
		return failed
	}
	log := f.log.WithField("sku", id)

	for _, ext := range f.extensions {
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("fetch interrupted")
			return failed
		}
		if err := sku.ValidateExtension(ext); err != nil {
			log.WithError(err).Warn("skipping invalid extension")
			continue
		}

		key := f.prefix + id + ext
		local, err := ValidatePath(f.downloadDir, filepath.Join(f.downloadDir, id+ext))
		if err != nil {
			log.WithError(err).WithField("key", key).Error("refusing unsafe local path")
			continue
		}

		if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
			log.WithField("path", local).Debug("already present, skipping download")
			return FetchOutcome{Identifier: identifier, Success: true, LocalPath: local}
		}

		if f.download(ctx, log.WithFields(logrus.Fields{"key": key, "path": local}), key, local) {
			return FetchOutcome{Identifier: identifier, Success: true, LocalPath: local}
		}
		if ctx.Err() != nil {
			return failed
		}
	}

	log.Debug("no object found for any extension")
	return failed
}

// download tries one key up to maxRetries times and reports whether the file
// is now in place.
func (f *Fetcher) download(ctx context.Context, log logrus.FieldLogger, key, local string) bool {
	policy := f.backoffPolicy()

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		n, err := f.store.Download(ctx, f.bucket, key, local)
		switch {
		case err == nil:
			log.WithField("size", humanize.Bytes(uint64(n))).Info("downloaded")
			return true
		case errors.Is(err, storage.ErrNotFound):
			log.Debug("object not found")
			return false
		case errors.Is(err, storage.ErrAccessDenied):
			log.WithError(err).Error("access denied")
			return false
		case ctx.Err() != nil:
			log.WithError(ctx.Err()).Warn("download interrupted")
			return false
		}

		if attempt == f.maxRetries {
			log.WithError(err).WithField("attempts", attempt).Error("giving up after repeated failures")
			return false
		}

		wait := policy.NextBackOff()
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": wait.String(),
		}).Warn("download failed, retrying")
		if err := f.sleep(ctx, wait); err != nil {
			return false
		}
	}
	return false
}

// backoffPolicy yields unit, 2*unit, 4*unit, ... without jitter or cut-off.
func (f *Fetcher) backoffPolicy() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     f.backoffUnit,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         f.backoffUnit << 10,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
