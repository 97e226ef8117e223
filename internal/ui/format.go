package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bamsammich/shuttle/internal/stats"
)

// thousands groups the digits of n in threes: 14302 is "14,302".
func thousands(n int64) string {
	if n < 0 {
		return "-" + thousands(-n)
	}
	s := strconv.FormatInt(n, 10)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// throughput is the average copy rate in binary units.
func throughput(bytes int64, elapsed time.Duration) string {
	if bytes <= 0 || elapsed <= 0 {
		return "0 B/s"
	}
	return stats.FormatBytes(int64(float64(bytes)/elapsed.Seconds())) + "/s"
}

// clock renders d to the second as "1h 02m 03s", leaving out leading zero
// units.
func clock(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, secs/60%60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
