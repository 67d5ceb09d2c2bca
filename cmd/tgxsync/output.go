package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kalambet/tgxsync/internal/api"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printSummary(v api.SummaryView) {
	printStatus("Run", "%s", v.RunID)
	printStatus("Status", "%s", statusLabel(v.Status))
	printStatus("Duration", "%s", (time.Duration(v.DurationMS) * time.Millisecond).String())
	if v.NotModified {
		printStatus("Source", "not modified since %s", v.Marker)
		return
	}
	printStatus("Records", "%d parsed, %d skipped of %d lines", v.Records, v.Skipped, v.Lines)
	printStatus("Inserted", "%d in %d batches", v.Inserted, v.Batches)
	if v.FailedBatches > 0 {
		printStatus("Failed batches", "%d", v.FailedBatches)
	}
	printStatus("Duplicates removed", "%d", v.Deleted)
	if v.Marker != "" {
		printStatus("Marker", "%s", v.Marker)
	}
}

func printRuns(runs []api.RunView) {
	if len(runs) == 0 {
		fmt.Println("No sync runs recorded.")
		return
	}
	fmt.Printf("%-36s  %-20s  %-12s  %9s  %9s  %s\n", "ID", "STARTED", "STATUS", "RECORDS", "INSERTED", "DURATION")
	for _, r := range runs {
		fmt.Printf("%-36s  %-20s  %-12s  %9d  %9d  %s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.Records,
			r.Inserted,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
		)
	}
}

func statusLabel(status string) string {
	switch status {
	case "ok", "not_modified":
		return colorize(colorGreen, status)
	case "partial":
		return colorize(colorYellow, status)
	default:
		return colorize(colorRed, status)
	}
}
