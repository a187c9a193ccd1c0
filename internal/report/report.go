// Package report renders segment reports for the console.
package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/rewired-gh/chodetect/internal/models"
)

// Total folds the statistics of every report into one report for the whole run.
func Total(reports []models.Report) models.Report {
	var stats models.StatisticsData
	var last float64
	for _, r := range reports {
		stats.Add(r.Stats)
		if r.StoppedAt > last {
			last = r.StoppedAt
		}
	}
	return models.NewReport(0, last, stats)
}

func ratio(r models.Report, v float64) string {
	if !r.HasData {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}

func minutes(ok bool, v float64) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", v)
}

func row(label string, r models.Report) []any {
	return []any{
		label,
		fmt.Sprintf("%d", r.Stats.Count),
		ratio(r, r.DetectionAccuracy),
		minutes(r.HasData, r.MeanDelay),
		fmt.Sprintf("%d", r.Stats.TruePositiveDetected),
		ratio(r, r.ConfirmationAccuracy),
		minutes(r.HasConfirmations, r.MeanConfirmDelay),
		fmt.Sprintf("%d", r.Stats.TruePositiveConfirmed),
		fmt.Sprintf("%d", r.Stats.FalseNegative),
		fmt.Sprintf("%d", r.Stats.FalsePositiveConfirmed),
	}
}

// Write prints one row per report followed by the run total.
func Write(w io.Writer, reports []models.Report) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "no segment reports")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Segment", "Count", "Det acc", "Delay", "TPd", "Conf acc", "Conf delay", "TPc", "FN", "FP")

	for _, r := range reports {
		if err := table.Append(row(fmt.Sprintf("%d", r.Segment), r)...); err != nil {
			return fmt.Errorf("failed to append report row: %w", err)
		}
	}
	if err := table.Append(row("total", Total(reports))...); err != nil {
		return fmt.Errorf("failed to append total row: %w", err)
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render report table: %w", err)
	}

	fmt.Fprintln(w, "  Delay = mean minutes from reference to first detection")
	fmt.Fprintln(w, "  Conf delay = mean minutes from detection to confirmation")
	return nil
}
