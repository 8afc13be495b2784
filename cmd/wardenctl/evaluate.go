package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/warden/internal/evaluate"
)

func newEvaluateCmd(ef *engineFlags) *cobra.Command {
	var (
		alertsPath string
		truthPath  string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score workflow decisions against labelled ground truth",
		Example: `  wardenctl evaluate --alerts data/alerts.json --truth data/ground_truth.json
  wardenctl evaluate --no-ai --fallback-delay 0 --alerts a.yaml --truth t.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			alerts, err := evaluate.LoadAlerts(alertsPath)
			if err != nil {
				return err
			}
			truth, err := evaluate.LoadGroundTruth(truthPath)
			if err != nil {
				return err
			}
			engine, err := ef.build(ctx)
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			rep, err := evaluate.Run(ctx, engine, alerts, truth, evaluate.Options{
				EnableAI: !ef.noAI,
				OnResult: func(i, n int, r evaluate.Result) {
					fmt.Fprintf(errOut, "[%d/%d] %s %s\n", i+1, n, r.AlertID, r.Status)
				},
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reportJSON(rep))
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	cmd.Flags().StringVar(&alertsPath, "alerts", "data/alerts.json", "alerts file, JSON or YAML")
	cmd.Flags().StringVar(&truthPath, "truth", "data/ground_truth.json", "ground truth file, JSON or YAML")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, rep *evaluate.Report) {
	headerColor.Fprintln(w, "EVALUATION RESULTS")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Alerts processed:   %d\n", rep.Alerts)
	fmt.Fprintf(w, "Ground truth:       %d\n", rep.GroundTruth)
	fmt.Fprintf(w, "Scored:             %d\n", rep.Scored)
	fmt.Fprintf(w, "Verdict accuracy:   %.1f%%\n", rep.VerdictAccuracy)
	fmt.Fprintf(w, "Priority accuracy:  %.1f%%\n", rep.PriorityAccuracy)
	fmt.Fprintf(w, "Average time:       %.2fs\n", rep.AverageTime.Seconds())
	fmt.Fprintf(w, "Error rate:         %.1f%%\n", rep.ErrorRate)
	fmt.Fprintf(w, "Total time:         %.2fs\n", rep.TotalTime.Seconds())
	fmt.Fprintln(w)

	headerColor.Fprintln(w, "DETAILED RESULTS")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rep.Results {
		var mark string
		switch {
		case !r.Scored:
			mark = warnColor.Sprint("SKIP")
		case r.Pass():
			mark = passColor.Sprint("PASS")
		default:
			mark = failColor.Sprint("FAIL")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2fs\n", mark, r.AlertID, r.Verdict, r.Priority, r.ProcessingTime.Seconds())
	}
	_ = tw.Flush()
}

type resultJSON struct {
	AlertID        string  `json:"alert_id"`
	WorkflowID     string  `json:"workflow_id"`
	Status         string  `json:"status"`
	Verdict        string  `json:"verdict,omitempty"`
	Priority       string  `json:"priority,omitempty"`
	Scored         bool    `json:"scored"`
	VerdictMatch   bool    `json:"verdict_match"`
	PriorityMatch  bool    `json:"priority_match"`
	HasErrors      bool    `json:"has_errors"`
	ProcessingTime float64 `json:"processing_time"`
}

type metricsJSON struct {
	Alerts              int     `json:"alerts"`
	GroundTruth         int     `json:"ground_truth"`
	Scored              int     `json:"scored"`
	VerdictAccuracy     float64 `json:"verdict_accuracy"`
	PriorityAccuracy    float64 `json:"priority_accuracy"`
	AvgProcessingTime   float64 `json:"avg_processing_time"`
	ErrorRate           float64 `json:"error_rate"`
	TotalProcessingTime float64 `json:"total_processing_time"`
}

func reportJSON(rep *evaluate.Report) map[string]any {
	results := make([]resultJSON, 0, len(rep.Results))
	for _, r := range rep.Results {
		results = append(results, resultJSON{
			AlertID:        r.AlertID,
			WorkflowID:     r.WorkflowID,
			Status:         string(r.Status),
			Verdict:        string(r.Verdict),
			Priority:       string(r.Priority),
			Scored:         r.Scored,
			VerdictMatch:   r.VerdictMatch,
			PriorityMatch:  r.PriorityMatch,
			HasErrors:      r.HasErrors,
			ProcessingTime: r.ProcessingTime.Seconds(),
		})
	}
	return map[string]any{
		"metrics": metricsJSON{
			Alerts:              rep.Alerts,
			GroundTruth:         rep.GroundTruth,
			Scored:              rep.Scored,
			VerdictAccuracy:     rep.VerdictAccuracy,
			PriorityAccuracy:    rep.PriorityAccuracy,
			AvgProcessingTime:   rep.AverageTime.Seconds(),
			ErrorRate:           rep.ErrorRate,
			TotalProcessingTime: rep.TotalTime.Seconds(),
		},
		"results": results,
	}
}
