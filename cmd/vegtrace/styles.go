// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// styles are bound to the command's output so that piped output stays
// free of escape sequences.
type styles struct {
	header lipgloss.Style
	active lipgloss.Style
	ended  lipgloss.Style
	info   lipgloss.Style
	faint  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981")),
		active: r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		ended:  r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		info:   r.NewStyle().Foreground(lipgloss.Color("#3B82F6")),
		faint:  r.NewStyle().Faint(true),
	}
}
