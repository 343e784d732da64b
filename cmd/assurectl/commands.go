package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/RichardRajuChirayath/Assure/pkg/client"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway, database, engine and ledger status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			out := cmd.OutOrStdout()
			h, err := c.client().Health(ctx)
			if err != nil {
				color.New(color.FgRed, color.Bold).Fprintf(out, "\n  Gateway is offline or unreachable: %v\n\n", err)
				return nil
			}
			if ok, err := c.emit(out, h); ok || err != nil {
				return err
			}
			sc := color.New(color.FgGreen, color.Bold)
			if h.Status != "healthy" {
				sc = color.New(color.FgYellow, color.Bold)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Status:  %s\n", sc.Sprint(h.Status))
			fmt.Fprintf(out, "  Ledger:  %s\n", h.Ledger)
			keys := make([]string, 0, len(h.Checks))
			for k := range h.Checks {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %-8s %s\n", k+":", h.Checks[k])
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func (c *cli) anchorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anchor",
		Short: "Seal unsealed risk events and anchor the batch now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			res, err := c.client().Anchor(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := c.emit(out, res); ok || err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s\n", res.Message)
			if res.Count > 0 {
				fmt.Fprintf(out, "  root hash: %s\n", res.RootHash)
				if res.Simulated {
					color.New(color.FgYellow).Fprintln(out, "  ledger unavailable: transaction id is simulated")
				}
			}
			return nil
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <audit-log-id>",
		Short: "Fetch the ledger proof for an audit log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			res, err := c.client().Verify(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := c.emit(out, res); ok || err != nil {
				return err
			}
			sc := color.New(color.FgGreen, color.Bold)
			if res.Status != "VERIFIED" {
				sc = color.New(color.FgYellow, color.Bold)
			}
			fmt.Fprintf(out, "  Status:    %s\n", sc.Sprint(res.Status))
			fmt.Fprintf(out, "  Root hash: %s\n", res.RootHash)
			fmt.Fprintf(out, "  Metadata:  %s\n", res.Metadata)
			if res.TxHash != nil {
				fmt.Fprintf(out, "  TX:        %s\n", *res.TxHash)
			}
			if res.RootHashMatch != nil && !*res.RootHashMatch {
				color.New(color.FgRed).Fprintf(out, "  stored batch hashes to %s, which differs from the ledger\n", res.ComputedRootHash)
			}
			return nil
		},
	}
}

func (c *cli) overrideCmd() *cobra.Command {
	var req client.OverrideRequest
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Record an explicit bypass of a blocked action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Environment = c.environment()
			req.OperatorID = c.operator()
			ctx, cancel := c.context()
			defer cancel()
			if err := c.client().Override(ctx, req); err != nil {
				return err
			}
			color.New(color.FgYellow).Fprint(cmd.OutOrStdout(), "\n  Override acknowledged. Action permitted. Logged to audit trail.\n\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ActionType, "action", "", "action type being overridden (required)")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "why the action is being allowed (required)")
	cmd.Flags().Float64Var(&req.RiskScore, "score", 0, "risk score reported for the blocked action")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

var supportedHooks = map[string]bool{"pre-push": true, "pre-commit": true}

func hookScript(hook string) string {
	return fmt.Sprintf("#!/bin/sh\nassurectl check \"git %s\"\n", hook)
}

// installHook writes the guard into <repo>/.git/hooks.
func installHook(repo, hook string) (string, error) {
	if !supportedHooks[hook] {
		return "", fmt.Errorf("unsupported hook %q (want pre-push or pre-commit)", hook)
	}
	dir := filepath.Join(repo, ".git", "hooks")
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return "", errors.New("no .git/hooks directory: is this a git repository?")
	}
	path := filepath.Join(dir, hook)
	if err := os.WriteFile(path, []byte(hookScript(hook)), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func (c *cli) guardCmd() *cobra.Command {
	var hook string
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Install a git hook that runs assurectl check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			path, err := installHook(cwd, strings.TrimSpace(hook))
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "\n  Installed Assure guard on %s hook (%s).\n\n", hook, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&hook, "hook", "pre-push", "hook to install: pre-push or pre-commit")
	return cmd
}
