package util

import (
	"fmt"
	"strings"
	"time"
)

var dateTpl = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"hh", "15",
	"mm", "04",
	"ss", "05",
)

// FormatDate formats t using a template with placeholders.
//
// Supported placeholders:
// - YYYY: 4-digit year
// - YY: 2-digit year
// - MM: 2-digit month (01-12)
// - DD: 2-digit day (01-31)
// - hh: 2-digit hour (00-23)
// - mm: 2-digit minute (00-59)
// - ss: 2-digit second (00-59)
//
// The zero time formats as "".
//
// Example:
//
//	FormatDate(t, "YYYY.MM.DD")       // "2023.11.10"
//	FormatDate(t, "YYYY-MM-DD hh:mm") // "2023-11-10 00:00"
func FormatDate(t time.Time, tpl string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTpl.Replace(tpl))
}

// FormatDuration renders d rounded to minutes as e.g. "3d4h", "5h12m" or "7m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	mins := int64(d.Round(time.Minute) / time.Minute)
	days, hours := mins/(24*60), mins/60%24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, mins%60)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
