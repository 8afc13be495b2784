package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/warden/internal/evaluate"
	"github.com/linnemanlabs/warden/internal/workflow"
)

func newRunCmd(ef *engineFlags) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <alerts-file>",
		Short: "Run alerts through the workflow and print the final records",
		Long: `run processes every alert in a JSON or YAML file, one at a time, and
prints each final workflow record as JSON. The file holds either a single
alert object or {"alerts": [...]}.`,
		Example: `  wardenctl run alert.json
  wardenctl run --no-ai --fallback-delay 0 data/alerts.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			alerts, err := evaluate.LoadAlerts(args[0])
			if err != nil {
				return err
			}
			engine, err := ef.build(ctx)
			if err != nil {
				return err
			}

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			var progress workflow.ProgressFunc
			if !quiet {
				progress = func(wid string, ev workflow.Event) { printEvent(errOut, wid, ev) }
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			failed := 0
			for i, al := range alerts {
				rec := workflow.NewRecord(fmt.Sprintf("run-%d", i+1), al, !ef.noAI)
				engine.Run(ctx, rec, progress)
				if rec.Status == workflow.StatusFailed {
					failed++
				}
				plain, err := workflow.ToPlain(rec)
				if err != nil {
					return err
				}
				if err := enc.Encode(plain); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workflows failed", failed, len(alerts))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print stage progress")
	return cmd
}

func printEvent(w io.Writer, wid string, ev workflow.Event) {
	switch ev.Status {
	case workflow.EventFailed:
		failColor.Fprintf(w, "✗ %s %s: %s\n", wid, ev.Stage, ev.Error)
	case workflow.EventStarted:
		fmt.Fprintf(w, "→ %s %s\n", wid, ev.Stage)
	case workflow.EventProcessing:
		fmt.Fprintf(w, "… %s %s\n", wid, ev.Stage)
	default:
		line := fmt.Sprintf("✓ %s %s", wid, ev.Stage)
		if ev.Verdict != "" {
			line += " verdict=" + string(ev.Verdict)
		}
		if ev.Priority != "" {
			line += " priority=" + string(ev.Priority)
		}
		passColor.Fprintln(w, line)
	}
}
