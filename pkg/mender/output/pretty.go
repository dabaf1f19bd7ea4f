package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/mender/pkg/mender/resolve"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// PrettyFormatter renders a styled report for terminals.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatFailing(r))

	if len(r.Packages) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatPackages(r))
	}
	if len(r.Orphans) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatList("Not in manifest:", r.Orphans, MutedStyle))
	}
	if len(r.Optional) > 0 && !hasOptional(r) {
		w.WriteString("\n")
		w.WriteString(MutedStyle.Render(fmt.Sprintf("  %d optional files skipped, use --include-optional to repair them", len(r.Optional))))
		w.WriteString("\n")
	}

	w.WriteString(f.formatFooter(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatList("Warnings:", r.Warnings, WarningStyle))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Report) string {
	var lines []string
	lines = append(lines, LabelStyle.Render("Root:")+" "+ValueStyle.Render(r.Root))

	info := []string{
		LabelStyle.Render("Mode:") + " " + ValueStyle.Render(r.Mode),
		LabelStyle.Render("Checked:") + " " + ValueStyle.Render(fmt.Sprintf("%s of %s files in %s",
			humanize.Comma(r.Stats.Scanned), humanize.Comma(r.Stats.Total), formatDuration(r.Elapsed))),
	}
	if r.CacheHits > 0 {
		info = append(info, MutedStyle.Render(fmt.Sprintf("cache: %s hits", humanize.Comma(r.CacheHits))))
	}
	lines = append(lines, strings.Join(info, "  "))

	if r.Error != "" {
		lines = append(lines, ErrorStyle.Bold(true).Render("Error: "+r.Error))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatFailing(r *Report) string {
	if len(r.Failing) == 0 {
		if r.Stats.Scanned == 0 {
			return MutedStyle.Render("  No files checked") + "\n"
		}
		return SuccessStyle.Render("  Every checked file matches the manifest") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s  %s\n",
		TableHeaderStyle.Render(padRight("STATUS", 8)), TableHeaderStyle.Render("PATH")))
	for _, o := range r.Failing {
		status := r.Status(o)
		sb.WriteString(fmt.Sprintf("  %s  %s\n",
			statusStyle(status).Render(padRight(status, 8)), PathStyle.Render(o.Path)))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatPackages(r *Report) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Packages:"))
	sb.WriteString("\n")
	for _, p := range r.Packages {
		line := fmt.Sprintf("  %s  %s", statusStyle(p.Status).Render(padRight(p.Status, 9)), ValueStyle.Render(p.Package.Name()))
		if p.Install != nil {
			line += MutedStyle.Render(fmt.Sprintf("  %s, %d files", types.FormatSize(p.Install.Bytes), p.Install.Extracted))
		}
		if p.Error != "" {
			line += "  " + ErrorStyle.Render(p.Error)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatList(title string, items []string, style lipgloss.Style) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render(title))
	sb.WriteString("\n")
	for _, item := range items {
		sb.WriteString(style.Render("  " + item))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Report) string {
	parts := []string{
		LabelStyle.Render("Correct:") + " " + SuccessStyle.Render(humanize.Comma(r.Stats.Correct)),
		LabelStyle.Render("Corrupt:") + " " + WarningStyle.Render(humanize.Comma(r.Stats.Corrupt-r.Stats.Missing)),
		LabelStyle.Render("Missing:") + " " + ErrorStyle.Render(humanize.Comma(r.Stats.Missing)),
	}
	verdict := r.Verdict()
	if r.OK {
		parts = append(parts, SuccessStyle.Bold(true).Render(verdict))
	} else {
		parts = append(parts, WarningStyle.Bold(true).Render(verdict))
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

// hasOptional reports whether the optional package is part of the plan.
func hasOptional(r *Report) bool {
	for _, p := range r.Packages {
		if p.Package.Key == resolve.OptionalKey {
			return true
		}
	}
	return false
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
