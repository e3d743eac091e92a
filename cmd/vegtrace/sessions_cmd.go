// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/vegtrace/internal/app"
	"github.com/ManuGH/vegtrace/internal/config"
	"github.com/ManuGH/vegtrace/internal/domain/session/model"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

// openAdmin loads the configuration and connects to the shared space.
func openAdmin(ctx context.Context, root *rootOptions) (*app.Admin, config.AppConfig, error) {
	_, cfg, err := loadConfig(root)
	if err != nil {
		return nil, cfg, err
	}
	admin, err := app.OpenAdmin(ctx, cfg, app.Deps{})
	return admin, cfg, err
}

func crossTabError(err error) error {
	if errors.Is(err, app.ErrCrossTabDisabled) {
		return exitError{code: 2, err: fmt.Errorf("cross-tab synchronization is disabled in the configuration")}
	}
	return err
}

func newSessionsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List the session tabs registered on this workstation",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, _, err := openAdmin(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer admin.Close()

			entries, err := admin.ActiveSessions(cmd.Context())
			if err != nil {
				return crossTabError(err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, entries)
			}
			printSessions(out, entries, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func printSessions(w io.Writer, entries []model.SessionEntry, now time.Time) {
	st := newStyles(w)
	fmt.Fprintln(w, st.header.Render("Active Sessions"))
	if len(entries) == 0 {
		fmt.Fprintln(w, st.info.Render("No active sessions found"))
		return
	}
	for _, e := range entries {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", st.active.Render(e.SessionID), st.faint.Render(e.Label))
		fmt.Fprintf(w, "  login:    %s\n", e.LogicalID)
		fmt.Fprintf(w, "  started:  %s\n", e.StartedAt.Local().Format(timeLayout))
		fmt.Fprintf(w, "  activity: %s (%s ago)\n", e.LastActivity.Local().Format(timeLayout), now.Sub(e.LastActivity).Truncate(time.Second))
	}
}

func newForceLogoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "force-logout",
		Short: "Tell every session tab to log out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, _, err := openAdmin(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer admin.Close()

			if err := admin.ForceLogout(cmd.Context()); err != nil {
				return crossTabError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ forced logout broadcast")
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
