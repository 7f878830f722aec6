package finish

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flaneur2020/vesper-bin/vesperbin"
	vesperrors "github.com/flaneur2020/vesper-bin/vesperbin/errors"
)

// FormatSummary renders the end-of-run summary.
func FormatSummary(stats *vesperbin.ConvertStats, now time.Time) string {
	rule := strings.Repeat("=", 40)
	lines := []string{
		rule,
		"VESPER-BIN - PROCESSING SUMMARY",
		"Date: " + now.Format("2006-01-02 15:04:05"),
		rule,
		fmt.Sprintf("Total Files Found: %d", stats.TotalFiles),
		fmt.Sprintf("Successfully Parsed: %d", stats.ConvertedFiles),
		fmt.Sprintf("Skipped (already converted): %d", stats.SkippedFiles),
		fmt.Sprintf("Failed: %d", stats.FailedFiles),
		fmt.Sprintf("Warnings: %d", stats.Warnings),
	}
	if len(stats.Failures) > 0 {
		lines = append(lines, strings.Repeat("-", 40), "FAILED FILES:")
		for _, f := range stats.Failures {
			lines = append(lines, fmt.Sprintf("  [X] %s  -> %s", filepath.Base(f.Path), f.Reason))
		}
	}
	lines = append(lines, rule)
	return strings.Join(lines, "\n")
}

// WriteSummary saves the summary under <root>/report_cards and returns its
// path.
func WriteSummary(root string, stats *vesperbin.ConvertStats, now time.Time) (string, error) {
	dir := filepath.Join(root, "report_cards")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", vesperrors.NewWriteError(dir, err)
	}
	p := filepath.Join(dir, "processing_report_"+now.Format(StampLayout)+".txt")
	if err := os.WriteFile(p, []byte(FormatSummary(stats, now)+"\n"), 0644); err != nil {
		return "", vesperrors.NewWriteError(p, err)
	}
	return p, nil
}
