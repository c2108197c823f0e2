package output

import (
	"fmt"
)

// PrettySampleStatus renders the progress of a sampling session.
func PrettySampleStatus(round, total int, elapsedMs int64) string {
	percent := 0
	if total > 0 {
		percent = round * 100 / total
	}
	return fmt.Sprintf("%-60s %-20s",
		fmt.Sprintf("Sampling rounds: [%s] %4d/%-4d", ProgressBar(percent, 30), round, total),
		fmt.Sprintf("Elapsed: %6dms", elapsedMs),
	)
}
