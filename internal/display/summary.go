package display

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"mysql-backup-sync/internal/backup"
)

// RunSummary is what the CLI prints after a run
type RunSummary struct {
	Report    *backup.Report
	Backend   string
	UploadErr error
	Duration  time.Duration
	// Width limits the table; 0 means unlimited
	Width int
}

// RenderRun prints one row per task, the failure catalog and a status line
func RenderRun(w io.Writer, p *Palette, s RunSummary) error {
	outcomes := append([]backup.Outcome(nil), s.Report.Outcomes...)
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Unit() < outcomes[j].Unit()
	})

	fmt.Fprintf(w, "\n%s %s\n", p.Header("Backup run"), s.Report.RunID)

	if len(outcomes) > 0 {
		table := NewTable("HOST", "DATABASE", "STATUS", "SIZE", "DURATION")
		table.SetMaxWidth(s.Width)
		table.SetAlignment(3, AlignRight)
		table.SetAlignment(4, AlignRight)
		for _, o := range outcomes {
			size := "-"
			if o.Artifact != nil {
				size = FormatBytes(o.Artifact.SizeBytes)
			}
			table.AddRow(o.Host, o.Database, string(o.Status), size, o.Duration.Round(time.Millisecond).String())
		}
		table.SetPainter(func(row, col int, padded string) string {
			if row < 0 {
				return p.Header(padded)
			}
			if col == 2 {
				return paintStatus(p, outcomes[row].Status, padded)
			}
			return padded
		})
		if err := table.Render(w); err != nil {
			return err
		}
	}

	failures := s.Report.Failures()
	if len(failures) > 0 {
		fmt.Fprintf(w, "\n%s\n", p.Failure("Failed units:"))
		for _, f := range failures {
			fmt.Fprintf(w, "  %s %s: %v\n", p.Failure("x"), f.Unit, f.Err)
		}
	}

	counts := s.Report.Counts()
	upload := p.Muted("not attempted")
	switch {
	case s.UploadErr != nil:
		upload = p.Failure("failed")
	case s.Backend != "":
		upload = p.Success("ok") + " (" + s.Backend + ")"
	}

	status := p.Success("SUCCESS")
	if s.Report.Failed() {
		status = p.Failure("FAILED")
	}

	fmt.Fprintf(w, "\nStatus: %s  succeeded=%d skipped=%d failed=%d  %s in %s  upload: %s\n",
		status,
		counts[backup.StatusSuccess],
		counts[backup.StatusSkipped],
		counts[backup.StatusFailed],
		FormatBytes(s.Report.ArtifactBytes()),
		s.Duration.Round(time.Millisecond),
		upload,
	)
	return nil
}

// RenderPlan prints the databases a run would back up and the hosts it would skip
func RenderPlan(w io.Writer, p *Palette, plans []backup.HostPlan, report *backup.Report) error {
	fmt.Fprintf(w, "\n%s\n", p.Header("Backup plan"))

	table := NewTable("HOST", "PORT", "DATABASES")
	table.SetAlignment(1, AlignRight)
	for _, plan := range plans {
		dbs := strings.Join(plan.Databases, ", ")
		if dbs == "" {
			dbs = "(none selected)"
		}
		table.AddRow(plan.Target.Host, fmt.Sprint(plan.Target.Port), dbs)
	}
	table.SetPainter(func(row, _ int, padded string) string {
		if row < 0 {
			return p.Header(padded)
		}
		return padded
	})
	if err := table.Render(w); err != nil {
		return err
	}

	for _, f := range report.Failures() {
		fmt.Fprintf(w, "  %s %s: %v\n", p.Warning("skipped"), f.Unit, f.Err)
	}
	return nil
}

func paintStatus(p *Palette, status backup.Status, s string) string {
	switch status {
	case backup.StatusSuccess:
		return p.Success(s)
	case backup.StatusSkipped:
		return p.Muted(s)
	default:
		return p.Failure(s)
	}
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
