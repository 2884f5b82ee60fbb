// package formatter renders results for the terminal: lipgloss-styled text
// and JSON for machine consumption.
package formatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/spx/internal/exporter"
	"github.com/desertthunder/spx/internal/history"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/tasks"
)

var styles = newPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// palette is a simple stylesheet built with named [lipgloss.Style] fields
type palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func newPalette(t, s, e, w, h string) *palette {
	return &palette{
		title: newBold(t),
		ok:    newBold(s),
		err:   newBold(e),
		warn:  newStyle(w),
		help:  newEm(h),
	}
}

func newStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func newBold(fg string) lipgloss.Style {
	return newStyle(fg).Bold(true)
}

func newEm(fg string) lipgloss.Style {
	return newStyle(fg).Italic(true)
}

// MarshalJSON serializes v, optionally indented for human eyes.
func MarshalJSON(v any, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// RunReport renders a pipeline run: one line per step plus any backups.
func RunReport(report *models.RunReport) string {
	var b strings.Builder

	head := "run " + report.RunID
	if report.Resumed {
		head += " (resumed)"
	}
	if report.DryRun {
		head += " (dry run)"
	}
	b.WriteString(styles.title.Render(head) + "\n")

	for _, step := range report.Steps {
		line := fmt.Sprintf("  %-20s %s", step.Name, stepStyle(step.Status).Render(string(step.Status)))
		if step.Reason != "" {
			line += "  " + styles.help.Render(step.Reason)
		}
		if len(step.Counts) > 0 {
			line += "  " + styles.help.Render(countSummary(step.Counts))
		}
		b.WriteString(line + "\n")
	}

	if backups := report.Backups(); len(backups) > 0 {
		b.WriteString(styles.warn.Render(fmt.Sprintf("%d backup(s) written", len(backups))) + "\n")
		for _, path := range backups {
			b.WriteString("  " + path + "\n")
		}
	}

	b.WriteString(styles.help.Render("took "+report.Duration.Round(time.Millisecond).String()) + "\n")
	return b.String()
}

func stepStyle(status models.StepStatus) lipgloss.Style {
	switch status {
	case models.StepCompleted:
		return styles.ok
	case models.StepFailed:
		return styles.err
	default:
		return styles.help
	}
}

func countSummary(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, counts[name])
	}
	return strings.Join(parts, " ")
}

// Diffs renders reconciliation results, one block per archive playlist.
func Diffs(results []*tasks.DiffResult) string {
	var b strings.Builder
	for _, result := range results {
		head := fmt.Sprintf("%s %d (%s)", result.Kind, result.Year, result.PlaylistID)
		b.WriteString(styles.title.Render(head) + "\n")

		if result.InSync() {
			b.WriteString("  " + styles.ok.Render("in sync") + "\n")
			continue
		}

		verb := "applied"
		if result.DryRun {
			verb = "planned"
		}
		b.WriteString(fmt.Sprintf("  %s: %s %s\n", verb,
			styles.ok.Render(fmt.Sprintf("+%d", len(result.Added))),
			styles.err.Render(fmt.Sprintf("-%d", len(result.Removed)))))
		for _, id := range result.Added {
			b.WriteString("  " + styles.ok.Render("+ "+id) + "\n")
		}
		for _, id := range result.Removed {
			b.WriteString("  " + styles.err.Render("- "+id) + "\n")
		}
		if result.BackupPath != "" {
			b.WriteString("  " + styles.help.Render("backup: "+result.BackupPath) + "\n")
		}
	}
	return b.String()
}

// Status renders the local-state overview.
func Status(status *tasks.Status) string {
	var b strings.Builder
	b.WriteString(styles.title.Render("library status") + "\n")

	for _, table := range status.Tables {
		line := fmt.Sprintf("  %-18s %6d rows", table.Name, table.Rows)
		if table.Stale > 0 {
			line += "  " + styles.warn.Render(fmt.Sprintf("%d stale", table.Stale))
		}
		b.WriteString(line + "\n")
	}

	if status.Locked {
		holder := "sync running"
		if status.LockPID > 0 {
			holder = fmt.Sprintf("sync running (pid %d)", status.LockPID)
		}
		b.WriteString(styles.warn.Render(holder) + "\n")
	}

	if cp := status.Checkpoint; cp != nil {
		line := fmt.Sprintf("interrupted run %s", cp.RunID)
		if cp.LastCompletedStep != "" {
			line += " after " + cp.LastCompletedStep
		}
		b.WriteString(styles.warn.Render(line) + "\n")
		if cp.Failure != "" {
			b.WriteString("  " + styles.err.Render(cp.Failure) + "\n")
		}
		b.WriteString(styles.help.Render("resume with: spx sync --resume") + "\n")
	}
	return b.String()
}

// ImportReport renders a history import summary.
func ImportReport(report *history.ImportReport) string {
	var b strings.Builder
	b.WriteString(styles.title.Render(fmt.Sprintf("imported %d file(s)", report.Files)) + "\n")
	b.WriteString("  " + styles.ok.Render(fmt.Sprintf("%d plays imported", report.Imported)) + "\n")
	if report.Skipped > 0 {
		b.WriteString("  " + styles.help.Render(fmt.Sprintf("%d short plays skipped", report.Skipped)) + "\n")
	}
	if report.Unmatched > 0 {
		b.WriteString("  " + styles.warn.Render(fmt.Sprintf("%d rows had no matching track", report.Unmatched)) + "\n")
	}
	return b.String()
}

// ExportReport renders a snapshot export summary.
func ExportReport(report *exporter.ExportReport) string {
	var b strings.Builder
	b.WriteString(styles.title.Render("exported "+report.Path) + "\n")

	names := make([]string, 0, len(report.Rows))
	for name := range report.Rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(fmt.Sprintf("  %-18s %6d rows\n", name, report.Rows[name]))
	}
	return b.String()
}

// Backups renders a backup listing, oldest first.
func Backups(paths []string) string {
	if len(paths) == 0 {
		return styles.help.Render("no backups") + "\n"
	}
	var b strings.Builder
	b.WriteString(styles.title.Render(fmt.Sprintf("%d backup(s)", len(paths))) + "\n")
	for _, path := range paths {
		b.WriteString("  " + path + "\n")
	}
	return b.String()
}
