package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Summary partitions a run's outcomes.
type Summary struct {
	Total        int      `json:"total" yaml:"total"`
	Succeeded    int      `json:"succeeded" yaml:"succeeded"`
	Failed       []string `json:"failed" yaml:"failed"`
	AllSucceeded bool     `json:"all_succeeded" yaml:"all_succeeded"`
}

// Summarize counts successes and lists failed identifiers in result order.
func Summarize(outcomes []FetchOutcome) Summary {
	s := Summary{Total: len(outcomes), Failed: []string{}}
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
		} else {
			s.Failed = append(s.Failed, o.Identifier)
		}
	}
	s.AllSucceeded = len(s.Failed) == 0
	return s
}

// Report is the audit record written after a run.
type Report struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Bucket     string         `json:"bucket" yaml:"bucket"`
	Prefix     string         `json:"prefix" yaml:"prefix"`
	Summary    Summary        `json:"summary" yaml:"summary"`
	Outcomes   []FetchOutcome `json:"outcomes" yaml:"outcomes"`
}

// WriteReport writes r to path as YAML for .yaml/.yml files and as indented
// JSON otherwise. Parent directories are created.
func WriteReport(path string, r Report) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(r)
	default:
		data, err = json.MarshalIndent(r, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
