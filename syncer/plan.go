package syncer

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"skusync.evalgo.org/config"
	"skusync.evalgo.org/sku"
)

// PlannedItem describes what a run would do for one identifier.
type PlannedItem struct {
	Identifier string
	Keys       []string // candidate object keys in trial order
	LocalPaths []string // matching local paths
	Existing   string   // local file that already satisfies the identifier
	Rejected   string   // reason the identifier would fail without any I/O
}

// Plan is the dry-run view of a sync.
type Plan struct {
	Bucket      string
	Prefix      string
	DownloadDir string
	Workers     int
	Items       []PlannedItem
	OverLimit   bool // more distinct identifiers than sku.MaxIdentifiers
}

// BuildPlan computes what Run would attempt without touching the store or
// writing to the filesystem. It only stats local paths.
func BuildPlan(cfg config.SyncConfig, identifiers, extensions []string) Plan {
	ids := sku.Dedupe(identifiers)
	plan := Plan{
		Bucket:      cfg.BucketName,
		Prefix:      cfg.RemotePrefix,
		DownloadDir: cfg.LocalDownloadPath,
		Workers:     EffectiveWorkers(cfg.MaxWorkers, len(ids)),
		OverLimit:   len(ids) > sku.MaxIdentifiers,
		Items:       make([]PlannedItem, 0, len(ids)),
	}

	for _, raw := range ids {
		item := PlannedItem{Identifier: raw}
		id, err := sku.Sanitize(raw)
		if err != nil {
			item.Rejected = err.Error()
			plan.Items = append(plan.Items, item)
			continue
		}
		for _, ext := range extensions {
			if sku.ValidateExtension(ext) != nil {
				continue
			}
			local, err := ValidatePath(cfg.LocalDownloadPath, filepath.Join(cfg.LocalDownloadPath, id+ext))
			if err != nil {
				continue
			}
			item.Keys = append(item.Keys, cfg.RemotePrefix+id+ext)
			item.LocalPaths = append(item.LocalPaths, local)
			if item.Existing == "" {
				if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
					item.Existing = local
				}
			}
		}
		plan.Items = append(plan.Items, item)
	}
	return plan
}

// Pending returns how many identifiers would need a download.
func (p Plan) Pending() int {
	n := 0
	for _, item := range p.Items {
		if item.Rejected == "" && item.Existing == "" {
			n++
		}
	}
	return n
}

// Validate reports the problems a real run would reject before contacting
// storage, wrapping config.ErrInvalid.
func (p Plan) Validate() error {
	if p.OverLimit {
		return checkLimit(len(p.Items))
	}
	return nil
}

// Log writes the plan as one line per identifier plus a summary line.
func (p Plan) Log(logger logrus.FieldLogger) {
	for _, item := range p.Items {
		entry := logger.WithField("sku", item.Identifier)
		switch {
		case item.Rejected != "":
			entry.WithField("reason", item.Rejected).Warn("would reject identifier")
		case item.Existing != "":
			entry.WithField("path", item.Existing).Info("already present")
		default:
			entry.WithFields(logrus.Fields{
				"keys":  item.Keys,
				"paths": item.LocalPaths,
			}).Info("would download")
		}
	}

	entry := logger.WithFields(logrus.Fields{
		"bucket":  p.Bucket,
		"prefix":  p.Prefix,
		"local":   p.DownloadDir,
		"workers": p.Workers,
		"total":   len(p.Items),
		"pending": p.Pending(),
	})
	if p.OverLimit {
		entry.Warnf("dry run: %d identifiers exceed the limit of %d", len(p.Items), sku.MaxIdentifiers)
		return
	}
	entry.Info("dry run complete")
}
