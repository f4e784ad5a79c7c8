// Package cli provides the skusync command line.
//
// The root command runs one sync: it loads configuration from file,
// environment (SKUSYNC_*) and flags, reads identifiers from the spreadsheet,
// downloads missing artifacts and exits non-zero when any identifier failed.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables
//  3. Configuration file values
//  4. Default values
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"skusync.evalgo.org/common"
	"skusync.evalgo.org/config"
	"skusync.evalgo.org/history"
	"skusync.evalgo.org/sku"
	"skusync.evalgo.org/storage"
	"skusync.evalgo.org/syncer"
)

// EnvPrefix prefixes every environment variable skusync reads.
const EnvPrefix = "SKUSYNC"

// ErrIncompleteSync is returned when at least one identifier failed.
var ErrIncompleteSync = errors.New("sync incomplete")

// newStore builds the object store for a run; tests replace it.
var newStore = func(ctx context.Context, opts storage.Options) (storage.ObjectStore, error) {
	return storage.NewS3Store(ctx, opts)
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"bucket":       "bucket_name",
	"excel":        "sku_source_path",
	"sku-column":   "sku_column",
	"sheet":        "sku_sheet",
	"local":        "local_download_path",
	"prefix":       "remote_prefix",
	"max-workers":  "max_workers",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"extensions":   "extensions",
	"max-retries":  "max_retries",
	"task-timeout": "task_timeout",
	"backoff-unit": "backoff_unit",
	"region":       "storage.region",
	"endpoint":     "storage.endpoint",
	"path-style":   "storage.use_path_style",
	"history-db":   "history_path",
	"report":       "report_path",
	"dry-run":      "dry_run",
}

// RootCmd is the skusync entry point.
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree with fresh flag state.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "skusync",
		Short: "download SKU artifacts from S3-compatible storage",
		Long: `skusync reads SKU identifiers from a spreadsheet column and downloads the
matching objects (<prefix><SKU><extension>) from an S3 bucket into a local
directory. Files already present locally are skipped.

Credentials come from the AWS default chain (environment, shared config,
instance role). Use --endpoint and --path-style for MinIO and other
S3-compatible stores.`,
		Example: `  skusync --bucket sku-assets --excel skus.xlsx --local ./downloads --prefix skus/
  skusync --config skusync.yaml --extensions .pdf,.txt --dry-run
  SKUSYNC_MAX_WORKERS=16 skusync --config /etc/skusync/skusync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, cfgFile)
		},
	}

	flags := cmd.Flags()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./skusync.yaml, $HOME/.skusync/skusync.yaml or /etc/skusync/skusync.yaml)")

	flags.String("bucket", "", "S3 bucket name")
	flags.String("excel", "", "spreadsheet (.xlsx or .csv) holding the SKU column")
	flags.String("sku-column", sku.DefaultColumn, "header of the identifier column")
	flags.String("sheet", "", "worksheet name (default is the first sheet)")
	flags.String("local", "", "local download directory")
	flags.String("prefix", "", "remote key prefix")
	flags.Int("max-workers", 8, fmt.Sprintf("concurrent downloads (%d-%d, capped at %d)", config.MinWorkers, config.MaxWorkers, syncer.MaxConcurrency))
	flags.String("log-level", common.LevelInfo, "DEBUG, INFO, WARNING, ERROR or CRITICAL")
	flags.String("log-format", "json", "json or text")
	flags.StringSlice("extensions", []string{".pdf"}, "file extensions to try, in order")
	flags.Int("max-retries", 3, "download attempts per object for transient errors")
	flags.Duration("task-timeout", 30*time.Second, "ceiling per identifier (0 disables)")
	flags.Duration("backoff-unit", time.Second, "base wait between retries, doubled each attempt")
	flags.String("region", "", "AWS region (default from the AWS configuration)")
	flags.String("endpoint", "", "custom S3-compatible endpoint URL")
	flags.Bool("path-style", false, "use path-style addressing (MinIO)")
	flags.String("history-db", "", "bbolt file recording run history")
	flags.String("report", "", "write a JSON or YAML run report to this path")
	flags.Bool("dry-run", false, "validate and show what would be downloaded without doing it")

	cmd.AddCommand(newHistoryCmd(&cfgFile))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func runSync(cmd *cobra.Command, cfgFile string) error {
	loader := config.NewLoader(EnvPrefix)
	loader.SetConfigDefaults()
	if err := loader.BindFlags(cmd.Flags(), flagKeys); err != nil {
		return err
	}

	var raw config.Config
	if err := loader.Load(cfgFile, &raw); err != nil {
		return err
	}

	logger := newLogger(cmd.OutOrStdout(), raw.LogLevel, raw.LogFormat)
	log := common.Named(logger, "skusync.cli")
	if used := loader.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("loaded configuration file")
	}

	cfg, err := raw.Validate()
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		return err
	}

	ids, err := sku.ReadIdentifiers(cfg.SKUSourcePath, sku.SourceOptions{Column: cfg.SKUColumn, Sheet: cfg.SKUSheet})
	if err != nil {
		log.WithError(err).WithField("source", cfg.SKUSourcePath).Error("failed to read identifiers")
		return err
	}
	log.WithFields(logrus.Fields{
		"source": cfg.SKUSourcePath,
		"count":  len(ids),
	}).Info("read identifiers")

	if cfg.DryRun {
		plan := syncer.BuildPlan(cfg, ids, cfg.Extensions)
		if err := plan.Validate(); err != nil {
			log.WithError(err).Error("invalid configuration")
			return err
		}
		plan.Log(common.Named(logger, "skusync.plan"))
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, storage.Options{
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.Endpoint,
		UsePathStyle: cfg.Storage.UsePathStyle,
	})
	if err != nil {
		log.WithError(err).Error("failed to create storage client")
		return err
	}
	if cfg.Storage.Endpoint != "" {
		log.WithField("endpoint", common.RedactURL(cfg.Storage.Endpoint)).Debug("using custom storage endpoint")
	}

	runID, err := history.NewRunID()
	if err != nil {
		return err
	}
	started := time.Now().UTC()

	outcomes, err := syncer.NewOrchestrator(store, logger).Run(ctx, cfg, ids, cfg.Extensions)
	if err != nil {
		log.WithError(err).Error("sync aborted")
		return err
	}
	finished := time.Now().UTC()
	summary := syncer.Summarize(outcomes)

	record(log, cfg, runID, started, finished, summary, outcomes)

	if ctx.Err() != nil {
		log.Warn("sync interrupted")
	}
	if !summary.AllSucceeded {
		log.WithFields(logrus.Fields{
			"run_id": runID,
			"failed": summary.Failed,
			"total":  summary.Total,
		}).Warnf("%d of %d identifiers could not be synced", len(summary.Failed), summary.Total)
		return fmt.Errorf("%w: %d of %d identifiers failed", ErrIncompleteSync, len(summary.Failed), summary.Total)
	}

	log.WithFields(logrus.Fields{
		"run_id": runID,
		"total":  summary.Total,
	}).Info("all identifiers synced successfully")
	return nil
}

// record writes the optional history entry and report file. Failures are
// logged and do not change the run result.
func record(log logrus.FieldLogger, cfg config.SyncConfig, runID string, started, finished time.Time, summary syncer.Summary, outcomes []syncer.FetchOutcome) {
	if cfg.HistoryPath != "" {
		if err := recordHistory(cfg, runID, started, finished, summary, outcomes); err != nil {
			log.WithError(err).WithField("path", cfg.HistoryPath).Error("failed to record run history")
		}
	}

	if cfg.ReportPath != "" {
		report := syncer.Report{
			RunID:      runID,
			StartedAt:  started,
			FinishedAt: finished,
			Bucket:     cfg.BucketName,
			Prefix:     cfg.RemotePrefix,
			Summary:    summary,
			Outcomes:   outcomes,
		}
		if err := syncer.WriteReport(cfg.ReportPath, report); err != nil {
			log.WithError(err).Error("failed to write report")
		} else {
			log.WithField("path", cfg.ReportPath).Info("wrote run report")
		}
	}
}

func recordHistory(cfg config.SyncConfig, runID string, started, finished time.Time, summary syncer.Summary, outcomes []syncer.FetchOutcome) error {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	skus := make([]history.SKURecord, 0, len(outcomes))
	for _, o := range outcomes {
		skus = append(skus, history.SKURecord{
			Identifier: o.Identifier,
			Success:    o.Success,
			LocalPath:  o.LocalPath,
			RunID:      runID,
			At:         finished,
		})
	}

	return store.RecordRun(history.RunRecord{
		ID:         runID,
		StartedAt:  started,
		FinishedAt: finished,
		Bucket:     cfg.BucketName,
		Prefix:     cfg.RemotePrefix,
		Total:      summary.Total,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
	}, skus)
}

// newLogger builds the run logger, falling back to defaults when the
// configured level or format is unusable; validation reports those later.
func newLogger(out io.Writer, level, format string) *logrus.Logger {
	cfg := common.DefaultLoggerConfig()
	cfg.Output = out
	cfg.Level = level
	cfg.Format = format

	logger, err := common.NewLogger(cfg)
	if err != nil {
		fallback := common.DefaultLoggerConfig()
		fallback.Output = out
		logger, _ = common.NewLogger(fallback)
	}
	return logger
}
