package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"keepalive/internal/models"

	"github.com/spf13/cobra"
)

type checkOptions struct {
	trigger string
	json    bool
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the monitor once and exit with its result",
		Long: `Run one probe and, when it fails, the remediation steps, then exit.

Exit codes:
  0  the service answered 200
  1  the service was down and remediation was accepted
  2  a remediation step failed
  3  configuration or storage error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger := models.Trigger(opts.trigger)
			if !trigger.Valid() {
				return &codeError{code: exitError, err: fmt.Errorf("invalid trigger %q: must be schedule or manual", opts.trigger)}
			}

			a, err := newApp(root.configPath, false)
			if err != nil {
				return &codeError{code: exitError, err: err}
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Monitor.RunTimeout)
			defer cancel()

			run, err := a.service.RunOnce(ctx, trigger)
			if run != nil && opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(run); encErr != nil {
					return &codeError{code: exitError, err: fmt.Errorf("write run: %w", encErr)}
				}
			}
			if err != nil {
				return &codeError{code: exitError, err: err}
			}

			if code := exitCodeFor(run); code != exitOK {
				return &codeError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.trigger, "trigger", defaultTrigger(),
		"what started this run: schedule or manual")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the finished run as JSON")
	return cmd
}

// defaultTrigger maps the GitHub Actions event that started the process to a
// run trigger.
func defaultTrigger() string {
	if os.Getenv("GITHUB_EVENT_NAME") == "workflow_dispatch" {
		return string(models.TriggerManual)
	}
	return string(models.TriggerSchedule)
}

// exitCodeFor maps a finished run to the check exit code.
func exitCodeFor(run *models.Run) int {
	switch {
	case run.RemediationFailed():
		return exitRemediationFailed
	case run.Outcome() == models.OutcomeFailure:
		return exitProbeFailed
	default:
		return exitOK
	}
}
