package models

import (
	"fmt"
	"strings"
	"time"
)

// Render formats the result as LRC text, one "[mm:ss.xx]text" line per entry,
// preceded by a language tag when known.
func (r *LrcResult) Render() string {
	var b strings.Builder
	if r.Language != "" {
		fmt.Fprintf(&b, "[la:%s]\n", r.Language)
	}
	for _, l := range r.Lines {
		b.WriteString(FormatTimestamp(l.Start))
		b.WriteString(strings.TrimSpace(l.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatTimestamp renders d as an LRC time tag. Negative durations render as zero.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := d.Round(10*time.Millisecond) / (10 * time.Millisecond)
	minutes := cs / 6000
	seconds := (cs / 100) % 60
	hundredths := cs % 100
	return fmt.Sprintf("[%02d:%02d.%02d]", minutes, seconds, hundredths)
}
