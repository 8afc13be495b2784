// Package evaluate replays labelled alerts through the workflow engine and
// scores the decisions against ground truth.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// GroundTruth is the expected outcome for one alert.
type GroundTruth struct {
	AlertID          string            `json:"alert_id" yaml:"alert_id"`
	Verdict          workflow.Verdict  `json:"verdict" yaml:"verdict"`
	ExpectedPriority workflow.Priority `json:"expected_priority" yaml:"expected_priority"`
}

func (g GroundTruth) asMap() map[string]any {
	return map[string]any{
		"alert_id":          g.AlertID,
		"verdict":           string(g.Verdict),
		"expected_priority": string(g.ExpectedPriority),
	}
}

type alertFile struct {
	Alerts []alert.Alert `json:"alerts" yaml:"alerts"`
}

type truthFile struct {
	GroundTruth []GroundTruth `json:"ground_truth" yaml:"ground_truth"`
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("evaluate: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	default:
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("evaluate: decode %s: %w", path, err)
	}
	return nil
}

// LoadAlerts reads {"alerts": [...]} from a JSON or YAML file. A file
// holding a single alert object yields a one-element slice.
func LoadAlerts(path string) ([]alert.Alert, error) {
	var f alertFile
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	if len(f.Alerts) == 0 {
		var single alert.Alert
		if err := decodeFile(path, &single); err != nil {
			return nil, err
		}
		if single.ID == "" {
			return nil, fmt.Errorf("evaluate: %s: no alerts", path)
		}
		f.Alerts = []alert.Alert{single}
	}
	for i := range f.Alerts {
		f.Alerts[i].Normalize()
		if err := f.Alerts[i].Validate(); err != nil {
			return nil, fmt.Errorf("evaluate: %s alert %d: %w", path, i, err)
		}
	}
	return f.Alerts, nil
}

// LoadGroundTruth reads {"ground_truth": [...]} keyed by alert id.
func LoadGroundTruth(path string) (map[string]GroundTruth, error) {
	var f truthFile
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	out := make(map[string]GroundTruth, len(f.GroundTruth))
	for _, g := range f.GroundTruth {
		out[g.AlertID] = g
	}
	return out, nil
}

// Runner is the subset of *workflow.Engine the evaluation needs.
type Runner interface {
	Run(ctx context.Context, rec *workflow.Record, onEvent workflow.ProgressFunc)
}

// Result is the outcome of one alert.
type Result struct {
	AlertID        string
	WorkflowID     string
	Status         workflow.Status
	Verdict        workflow.Verdict
	Priority       workflow.Priority
	Scored         bool
	VerdictMatch   bool
	PriorityMatch  bool
	HasErrors      bool
	ProcessingTime time.Duration
}

// Pass reports whether both verdict and priority matched.
func (r Result) Pass() bool {
	return r.Scored && r.VerdictMatch && r.PriorityMatch
}

// Report aggregates the results of a run. Rates are percentages over
// scored results: those with ground truth and a decision.
type Report struct {
	Results          []Result
	Alerts           int
	GroundTruth      int
	Scored           int
	VerdictAccuracy  float64
	PriorityAccuracy float64
	ErrorRate        float64
	AverageTime      time.Duration
	TotalTime        time.Duration
}

// Options controls Run.
type Options struct {
	EnableAI bool
	// OnResult is called after each alert, in order.
	OnResult func(i, n int, r Result)
}

// Run processes alerts one at a time and scores them against truth.
func Run(ctx context.Context, engine Runner, alerts []alert.Alert, truth map[string]GroundTruth, opts Options) (*Report, error) {
	rep := &Report{Alerts: len(alerts), GroundTruth: len(truth)}

	for i, al := range alerts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		rec := workflow.NewRecord(fmt.Sprintf("eval-%d", i+1), al, opts.EnableAI)
		gt, hasTruth := truth[al.ID]
		if hasTruth {
			rec.GroundTruth = gt.asMap()
		}

		start := time.Now()
		engine.Run(ctx, rec, nil)
		elapsed := time.Since(start)
		rep.TotalTime += elapsed

		res := Result{
			AlertID:        al.ID,
			WorkflowID:     rec.WorkflowID,
			Status:         rec.Status,
			HasErrors:      len(rec.Errors) > 0,
			ProcessingTime: elapsed,
		}
		if d := rec.Decision; d != nil {
			res.Verdict, res.Priority = d.FinalVerdict, d.Priority
			if hasTruth {
				res.Scored = true
				res.VerdictMatch = d.FinalVerdict == gt.Verdict
				res.PriorityMatch = d.Priority == gt.ExpectedPriority
			}
		}

		rep.Results = append(rep.Results, res)
		if opts.OnResult != nil {
			opts.OnResult(i, len(alerts), res)
		}
	}

	rep.summarize()
	return rep, nil
}

func (r *Report) summarize() {
	var verdicts, priorities, errs int
	for _, res := range r.Results {
		if !res.Scored {
			continue
		}
		r.Scored++
		if res.VerdictMatch {
			verdicts++
		}
		if res.PriorityMatch {
			priorities++
		}
		if res.HasErrors {
			errs++
		}
	}
	if r.Scored == 0 {
		return
	}
	n := float64(r.Scored)
	r.VerdictAccuracy = float64(verdicts) / n * 100
	r.PriorityAccuracy = float64(priorities) / n * 100
	r.ErrorRate = float64(errs) / n * 100
	r.AverageTime = r.TotalTime / time.Duration(r.Scored)
}
