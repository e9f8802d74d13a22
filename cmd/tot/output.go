// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianToT/services/tot/handlers"
	"github.com/AleutianAI/AleutianToT/services/tot/runner"
)

// Aleutian palette.
var (
	colorTeal  = lipgloss.Color("#2CD7C7")
	colorDeep  = lipgloss.Color("#16858E")
	colorSlate = lipgloss.Color("#2C4A54")
	colorGold  = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
)

// styles renders either colored terminal output or plain text.
type styles struct {
	title, muted, ok, warn, fail lipgloss.Style
	box                          lipgloss.Style
	plain                        bool
}

func newStyles(w io.Writer) styles {
	if !isTerminal(w) {
		base := lipgloss.NewStyle()
		return styles{title: base, muted: base, ok: base, warn: base, fail: base, box: base, plain: true}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true).Foreground(colorTeal),
		muted: r.NewStyle().Foreground(colorSlate),
		ok:    r.NewStyle().Foreground(colorTeal),
		warn:  r.NewStyle().Foreground(colorGold),
		fail:  r.NewStyle().Foreground(colorRed),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDeep).
			Padding(0, 1),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderSummary prints one line per instance followed by the totals.
func renderSummary(w io.Writer, sum *runner.Summary, asJSON bool) error {
	if asJSON {
		return writeJSON(w, sum)
	}
	st := newStyles(w)

	var b strings.Builder
	for _, o := range sum.Outcomes {
		mark := st.warn.Render("○")
		switch {
		case o.Failed():
			mark = st.fail.Render("✗")
		case o.Reward.Solved:
			mark = st.ok.Render("✓")
		}
		line := fmt.Sprintf("%s %4d  %-40s r=%.2f  %s", mark, o.Index,
			strings.Join(o.Output.Steps(), " "), o.Reward.R, st.muted.Render(string(o.StopReason)))
		if o.Failed() {
			line += "  " + st.fail.Render(o.Error)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	totals := []string{
		st.title.Render(fmt.Sprintf("%s [%d, %d) %s", sum.Task, sum.Start, sum.End, sum.Mode)),
		fmt.Sprintf("solved   %d/%d (%.1f%%)", sum.Solved, sum.Instances, 100*sum.SolveRate),
		fmt.Sprintf("failed   %d", sum.Failed),
		fmt.Sprintf("reward   %.3f mean", sum.MeanReward),
		fmt.Sprintf("usage    %s", sum.Usage),
		fmt.Sprintf("cost     $%.4f", sum.CostUSD),
		st.muted.Render("run " + sum.RunID),
	}
	b.WriteString(st.box.Render(strings.Join(totals, "\n")))
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func renderTasks(w io.Writer, infos []handlers.TaskInfo, asJSON bool) error {
	if asJSON {
		return writeJSON(w, handlers.TasksResponse{Tasks: infos})
	}
	st := newStyles(w)
	var b strings.Builder
	b.WriteString(st.title.Render(fmt.Sprintf("%-12s %10s %6s", "TASK", "INSTANCES", "STEPS")))
	b.WriteByte('\n')
	for _, t := range infos {
		fmt.Fprintf(&b, "%-12s %10d %6d\n", t.Name, t.Instances, t.Steps)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
