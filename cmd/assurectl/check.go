package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/RichardRajuChirayath/Assure/pkg/client"
)

// errBlocked makes the process exit 1 without printing an error.
var errBlocked = errors.New("action blocked")

const unreachableReasoning = "Gateway unreachable. Defaulting to WARN."

type actionPattern struct {
	pattern    string
	actionType string
}

// actionPatterns are matched in order against the lower-cased command.
var actionPatterns = []actionPattern{
	{"prisma migrate", "DATABASE_MIGRATION"},
	{"prisma db push", "PRISMA_PUSH"},
	{"git push --force", "FORCE_DELETE"},
	{"drop table", "DROP_TABLE"},
	{"rm -rf", "FORCE_DELETE"},
	{"kubectl delete", "FORCE_DELETE"},
}

func MapAction(command string) string {
	lc := strings.ToLower(command)
	for _, p := range actionPatterns {
		if strings.Contains(lc, p.pattern) {
			return p.actionType
		}
	}
	return "UNKNOWN_ACTION"
}

func (c *cli) checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <command...>",
		Short: "Evaluate a command before running it",
		Example: `  assurectl check "prisma migrate deploy"
  assurectl check git push --force origin main`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			cwd, _ := os.Getwd()
			req := client.EvaluateRequest{
				ActionType:  MapAction(command),
				Environment: c.environment(),
				Payload:     map[string]any{"raw_command": command, "cwd": cwd},
				OperatorID:  c.operator(),
			}
			ctx, cancel := c.context()
			defer cancel()
			res, err := c.client().Evaluate(ctx, req)
			if err != nil {
				res = &client.Evaluation{
					RiskScore: 50,
					Verdict:   "WARN",
					Reasoning: []string{unreachableReasoning},
					FailSafe:  true,
				}
			}
			out := cmd.OutOrStdout()
			if ok, err := c.emit(out, res); err != nil {
				return err
			} else if !ok {
				renderEvaluation(out, command, req.ActionType, res)
			}
			if res.Verdict == "BLOCK" {
				return errBlocked
			}
			return nil
		},
	}
	// Flags after the first argument belong to the guarded command.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func verdictColor(verdict string) *color.Color {
	switch verdict {
	case "BLOCK":
		return color.New(color.FgRed, color.Bold)
	case "ALLOW":
		return color.New(color.FgGreen, color.Bold)
	default:
		return color.New(color.FgYellow, color.Bold)
	}
}

func renderEvaluation(w io.Writer, command, actionType string, res *client.Evaluation) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	vc := verdictColor(res.Verdict)

	fmt.Fprintln(w)
	bold.Fprintln(w, "  ASSURE SAFETY LAYER")
	dim.Fprintf(w, "  %s (%s)\n\n", command, actionType)
	fmt.Fprintf(w, "  %s %s\n", bold.Sprint("Verdict:   "), vc.Sprint(res.Verdict))
	fmt.Fprintf(w, "  %s %s\n", bold.Sprint("Risk Score:"), vc.Sprintf("%.0f/100", res.RiskScore))
	fmt.Fprintf(w, "  %s %.0f%%\n", bold.Sprint("Confidence:"), res.MLConfidence*100)
	if res.IsAnomaly != nil && *res.IsAnomaly {
		fmt.Fprintf(w, "  %s %s\n", bold.Sprint("Anomaly:   "), vc.Sprint("yes"))
	}

	if len(res.Reasoning) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "  Reasoning:")
		for _, r := range res.Reasoning {
			fmt.Fprintf(w, "  %s %s\n", dim.Sprint("->"), r)
		}
	}
	if b := res.Breakdown; b != nil {
		fmt.Fprintln(w)
		bold.Fprintln(w, "  Score Breakdown:")
		rows := map[string]float64{"rules": b.Rules, "ml_boost": b.MLBoost, "anomaly_penalty": b.AnomalyPenalty, "final_score": b.FinalScore}
		keys := make([]string, 0, len(rows))
		for k := range rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s %s %.1f\n", dim.Sprintf("%-18s", k), vc.Sprint(bar(rows[k])), rows[k])
		}
	}

	fmt.Fprintln(w)
	switch res.Verdict {
	case "BLOCK":
		vc.Fprintln(w, "  Action BLOCKED. Override with: assurectl override")
	case "ALLOW":
		vc.Fprintln(w, "  Action is safe to proceed.")
	default:
		vc.Fprintln(w, "  Proceed with caution.")
	}
	fmt.Fprintln(w)
}

func bar(score float64) string {
	n := int(score/5 + 0.5)
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	return strings.Repeat("#", n)
}
