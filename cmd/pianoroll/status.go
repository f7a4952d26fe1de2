package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/pianoroll-go"
	"github.com/cbegin/pianoroll-go/internal/grid"
)

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	keysStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	loopStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// statusLine renders one line of playhead state.
func statusLine(st pianoroll.TransportState, keys []int) string {
	var b strings.Builder
	if st.Playing {
		b.WriteString(labelStyle.Render("▶ "))
	} else {
		b.WriteString(stoppedStyle.Render("■ "))
	}
	b.WriteString(valueStyle.Render(fmt.Sprintf("%7.2fs  %5.1f bpm", st.Position, st.Tempo)))
	if st.Loop.Enabled {
		b.WriteString(" ")
		b.WriteString(loopStyle.Render(fmt.Sprintf("loop %.2f-%.2f", st.Loop.Start, st.Loop.End)))
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = grid.NoteName(k)
	}
	b.WriteString("  ")
	b.WriteString(keysStyle.Render(strings.Join(names, " ")))
	return b.String()
}

// showStatus redraws the status line until ctx ends or finished reports
// that playback is over.
func showStatus(ctx context.Context, w io.Writer, p *pianoroll.Player, finished func() bool) error {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		fmt.Fprintf(w, "\r\033[K%s", statusLine(p.State(), p.SoundingKeys()))
		if finished() {
			fmt.Fprintln(w)
			return nil
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil
		case <-t.C:
		}
	}
}
