// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ManuGH/vegtrace/internal/log"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

// LogSink writes notices as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink logs through the "notify" component logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("notify")}
}

func (s *LogSink) Notify(_ context.Context, n Notice) error {
	var evt *zerolog.Event
	switch n.Level {
	case LevelError:
		evt = s.logger.Error()
	case LevelWarning:
		evt = s.logger.Warn()
	default:
		evt = s.logger.Info()
	}
	if !n.Deadline.IsZero() {
		evt = evt.Time(log.FieldDeadline, n.Deadline)
	}
	if n.Remaining > 0 {
		evt = evt.Dur(log.FieldRemaining, n.Remaining)
	}
	evt.Str(log.FieldEvent, "notice."+n.Topic).Str("title", n.Title).Msg(n.Message)
	return nil
}

// TerminalSink renders notices as styled lines for an interactive terminal.
// Colors are dropped automatically when w is not a terminal.
type TerminalSink struct {
	mu     sync.Mutex
	w      io.Writer
	title  map[Level]lipgloss.Style
	body   lipgloss.Style
	detail lipgloss.Style
}

// NewTerminalSink writes to w.
func NewTerminalSink(w io.Writer) *TerminalSink {
	r := lipgloss.NewRenderer(w)
	base := r.NewStyle().Bold(true).PaddingRight(1)
	return &TerminalSink{
		w: w,
		title: map[Level]lipgloss.Style{
			LevelInfo:    base.Foreground(lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}),
			LevelWarning: base.Foreground(lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}),
			LevelError:   base.Foreground(lipgloss.AdaptiveColor{Light: "#BE123C", Dark: "#FB7185"}),
		},
		body:   r.NewStyle(),
		detail: r.NewStyle().Faint(true).PaddingLeft(1),
	}
}

var levelIcons = map[Level]string{
	LevelInfo:    "i",
	LevelWarning: "!",
	LevelError:   "x",
}

// Render formats n without writing it.
func (s *TerminalSink) Render(n Notice) string {
	style, ok := s.title[n.Level]
	if !ok {
		style = s.title[LevelInfo]
	}
	icon := levelIcons[n.Level]
	if icon == "" {
		icon = levelIcons[LevelInfo]
	}
	var b strings.Builder
	b.WriteString(style.Render(fmt.Sprintf("[%s] %s", icon, n.Title)))
	b.WriteString(s.body.Render(n.Message))
	if n.Remaining > 0 {
		b.WriteString(s.detail.Render(fmt.Sprintf("(%s)", n.Remaining)))
	}
	return b.String()
}

func (s *TerminalSink) Notify(_ context.Context, n Notice) error {
	line := s.Render(n)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, line)
	return err
}
