package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/justindthomas/imp/pkg/engine"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult renders a cycle result for an operator.
func printResult(r *engine.CycleResult) error {
	if jsonOutput {
		return printJSON(r)
	}
	if r == nil {
		return nil
	}

	mode := "apply"
	if r.DryRun {
		mode = "plan"
	}
	fmt.Printf("Cycle %s (%s): %s\n", r.ID, mode, r.State)

	if len(r.Steps) == 0 && r.Err == nil {
		fmt.Println("No changes.")
		return nil
	}

	executed := make(map[string]engine.Outcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		executed[o.OperationID] = o
	}

	for _, s := range r.Steps {
		status := ""
		if o, ok := executed[s.Operation.ID()]; ok {
			status = "ok"
			if !o.Success {
				status = "FAILED"
			}
		}
		fmt.Printf("  %3d  %-16s %-40s %s\n", s.Step, s.Classification.Mode, s.Operation, status)
		if !s.Classification.Live() && s.Classification.Reason != "" {
			fmt.Printf("       %s\n", s.Classification.Reason)
		}
	}

	for _, o := range r.Outcomes {
		if o.Success {
			continue
		}
		fmt.Printf("\nStep %d failed: %s\n", o.Step, o.Error)
		for _, c := range o.Commands {
			fmt.Printf("  [%s] %s\n", c.Target, firstLine(c.Command))
			if out := strings.TrimSpace(c.Output); out != "" {
				fmt.Printf("    %s\n", strings.ReplaceAll(out, "\n", "\n    "))
			}
		}
	}

	for _, w := range r.Warnings {
		fmt.Printf("warning [%s]: %s\n", w.Policy, w.Message)
	}
	printDenials(r.Err)

	sum := r.Summary()
	if !r.DryRun {
		fmt.Printf("\n%d live steps: %d succeeded, %d failed, %d not run\n",
			sum.Total-sum.Pending, sum.Succeeded, sum.Failed, sum.NotRun)
	}
	if sum.Pending > 0 {
		fmt.Printf("%d change(s) take effect after a restart.\n", sum.Pending)
	}
	if r.Error != "" {
		fmt.Printf("Error: %s\n", r.Error)
	}
	return nil
}

func printDenials(err error) {
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodePolicyDenied {
		return
	}
	denials, _ := ee.Details["denials"].([]engine.PolicyFinding)
	for _, d := range denials {
		if d.Operation != "" {
			fmt.Printf("denied [%s] %s: %s\n", d.Policy, d.Operation, d.Message)
			continue
		}
		fmt.Printf("denied [%s]: %s\n", d.Policy, d.Message)
	}
}

func firstLine(s string) string {
	line, _, found := strings.Cut(s, "\n")
	if found {
		return line + " ..."
	}
	return line
}
