// Package syncer implements the sync engine: it maps identifiers to object
// keys, downloads whatever is missing locally on a bounded worker pool and
// reports one outcome per identifier.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"skusync.evalgo.org/common"
	"skusync.evalgo.org/config"
	"skusync.evalgo.org/sku"
	"skusync.evalgo.org/storage"
	"skusync.evalgo.org/worker"
)

const (
	// MaxConcurrency caps the worker count regardless of configuration.
	MaxConcurrency = 20

	progressEvery = 10
)

// removeFile deletes the write check file; tests replace it.
var removeFile = os.Remove

// Orchestrator runs a sync against one object store.
type Orchestrator struct {
	store     storage.ObjectStore
	log       logrus.FieldLogger
	fetchOpts []FetcherOption
}

// NewOrchestrator creates an orchestrator. Options are handed to every
// Fetcher the orchestrator builds.
func NewOrchestrator(store storage.ObjectStore, logger logrus.FieldLogger, opts ...FetcherOption) *Orchestrator {
	return &Orchestrator{
		store:     store,
		log:       common.Named(logger, "skusync.syncer"),
		fetchOpts: opts,
	}
}

// Run syncs identifiers into cfg.LocalDownloadPath.
//
// Configuration problems are returned wrapping config.ErrInvalid and a failed
// bucket pre-flight returns one of the Err* pre-flight sentinels; in both
// cases nothing is downloaded. Otherwise the error is nil and the result holds
// exactly one outcome per distinct identifier, in completion order. An empty
// identifier list yields (nil, nil).
func (o *Orchestrator) Run(ctx context.Context, cfg config.SyncConfig, identifiers, extensions []string) ([]FetchOutcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := sku.ValidateExtensions(extensions); err != nil {
		return nil, fmt.Errorf("%w: extensions %v", config.ErrInvalid, err)
	}
	if err := prepareDir(o.log, cfg.LocalDownloadPath); err != nil {
		return nil, err
	}

	ids := sku.Dedupe(identifiers)
	if len(ids) == 0 {
		o.log.Warn("no identifiers to sync")
		return nil, nil
	}
	if err := checkLimit(len(ids)); err != nil {
		return nil, err
	}

	if err := o.preflight(ctx, cfg.BucketName); err != nil {
		o.log.WithError(err).WithField("bucket", cfg.BucketName).Error("bucket pre-flight failed")
		return nil, err
	}

	workers := EffectiveWorkers(cfg.MaxWorkers, len(ids))
	o.log.WithFields(logrus.Fields{
		"bucket":     cfg.BucketName,
		"prefix":     cfg.RemotePrefix,
		"local":      cfg.LocalDownloadPath,
		"extensions": extensions,
		"workers":    workers,
		"total":      len(ids),
	}).Info("starting sync")
	defer common.LogDuration(o.log, "sync")()

	fetcher := NewFetcher(o.store, cfg, extensions, common.Named(o.log, "skusync.fetch"), o.fetchOpts...)
	tasks := make([]worker.Task[FetchOutcome], 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, worker.Task[FetchOutcome]{
			ID: id,
			Run: func(ctx context.Context) FetchOutcome {
				return fetcher.Fetch(ctx, id)
			},
		})
	}

	pool := worker.NewPool[FetchOutcome](worker.Config{Workers: workers, TaskTimeout: cfg.TaskTimeout})
	outcomes := make([]FetchOutcome, 0, len(ids))
	for res := range pool.Run(ctx, tasks) {
		outcome := res.Value
		if res.Err != nil {
			o.log.WithError(res.Err).WithField("sku", res.ID).Error("task failed")
			outcome = FetchOutcome{Identifier: res.ID}
		}
		outcomes = append(outcomes, outcome)

		if done := len(outcomes); done%progressEvery == 0 || done == len(ids) {
			o.log.WithFields(logrus.Fields{
				"completed": done,
				"total":     len(ids),
			}).Infof("progress %d/%d", done, len(ids))
		}
	}

	return outcomes, nil
}

func checkLimit(n int) error {
	if n > sku.MaxIdentifiers {
		return fmt.Errorf("%w: %d distinct identifiers exceeds the limit of %d",
			config.ErrInvalid, n, sku.MaxIdentifiers)
	}
	return nil
}

// EffectiveWorkers returns how many workers a run of n identifiers uses.
func EffectiveWorkers(maxWorkers, n int) int {
	return max(1, min(maxWorkers, MaxConcurrency, n))
}

func (o *Orchestrator) preflight(ctx context.Context, bucket string) error {
	err := o.store.HeadBucket(ctx, bucket)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNoCredentials):
		return fmt.Errorf("%w: %w", ErrCredentials, err)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrBucketNotFound, bucket, err)
	case errors.Is(err, storage.ErrAccessDenied):
		return fmt.Errorf("%w: %s: %w", ErrAccessDenied, bucket, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrPreflight, bucket, err)
	}
}

// prepareDir creates dir if needed and checks that files can be created in it.
func prepareDir(log logrus.FieldLogger, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: local_download_path %s: %v", config.ErrInvalid, dir, err)
	}
	check, err := os.CreateTemp(dir, ".skusync-write-*")
	if err != nil {
		return fmt.Errorf("%w: local_download_path %s is not writable: %v", config.ErrInvalid, dir, err)
	}
	if err := check.Close(); err != nil {
		log.WithError(err).WithField("path", check.Name()).Warn("failed to close write check file")
	}
	if err := removeFile(check.Name()); err != nil {
		log.WithError(err).WithField("path", check.Name()).Warn("failed to remove write check file")
	}
	return nil
}
