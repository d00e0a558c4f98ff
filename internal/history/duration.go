package history

import (
	"fmt"
	"time"
)

// FormatDuration classifies a call duration into human units.
// Below a minute: seconds; below an hour: minutes and seconds; otherwise
// hours and minutes.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	switch {
	case total < 60:
		return fmt.Sprintf("%ds", total)
	case total < 3600:
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	}
}
