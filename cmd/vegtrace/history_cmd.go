// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ManuGH/vegtrace/internal/config"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/ManuGH/vegtrace/internal/persistence/sqlite"
	"github.com/spf13/cobra"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
		verify string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show summaries of ended sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return exitError{code: 2, err: fmt.Errorf("--limit must be positive")}
			}
			admin, cfg, err := openAdmin(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer admin.Close()

			out := cmd.OutOrStdout()
			if verify != "" {
				return verifyHistory(cmd, cfg, verify)
			}
			summaries, err := admin.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, summaries)
			}
			printHistory(out, summaries)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&limit, "limit", "n", 20, "number of summaries to show")
	f.BoolVar(&asJSON, "json", false, "print JSON instead of text")
	f.StringVar(&verify, "verify", "", `check the history database ("quick" or "full") instead of listing it`)
	return cmd
}

func verifyHistory(cmd *cobra.Command, cfg config.AppConfig, mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != sqlite.VerifyQuick && mode != sqlite.VerifyFull {
		return exitError{code: 2, err: fmt.Errorf("unknown verify mode %q (want quick or full)", mode)}
	}
	if cfg.History.Backend != config.HistorySQLite {
		return exitError{code: 2, err: fmt.Errorf("history backend %q has no database to verify", cfg.History.Backend)}
	}
	issues, err := sqlite.VerifyIntegrity(cmd.Context(), cfg.History.Path, mode)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintln(cmd.ErrOrStderr(), issue)
		}
		return exitError{code: 1, err: fmt.Errorf("history database %s is corrupt", cfg.History.Path)}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s passed %s check\n", cfg.History.Path, mode)
	return nil
}

func printHistory(w io.Writer, summaries []model.Summary) {
	st := newStyles(w)
	fmt.Fprintln(w, st.header.Render("Session History"))
	if len(summaries) == 0 {
		fmt.Fprintln(w, st.info.Render("No ended sessions recorded"))
		return
	}
	for _, s := range summaries {
		a := s.Activities
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", st.ended.Render(s.SessionID), st.faint.Render(string(s.Reason)))
		fmt.Fprintf(w, "  login:      %s\n", s.LogicalID)
		fmt.Fprintf(w, "  period:     %s to %s (%s)\n",
			s.StartedAt.Local().Format(timeLayout), s.EndedAt.Local().Format(timeLayout), s.Duration.Truncate(time.Second))
		fmt.Fprintf(w, "  extensions: %d  pulses: %d\n", s.Extensions, s.Pulses)
		fmt.Fprintf(w, "  input:      pointer %d, key %d, scroll %d, touch %d, gesture %d\n",
			a.Pointer, a.Key, a.Scroll, a.Touch, a.Gesture)
	}
}
