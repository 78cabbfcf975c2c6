package rsync

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// Stats holds the numbers reported by rsync's --stats output.
type Stats struct {
	Parsed           bool
	Files            int64
	FilesTransferred int64
	TotalSize        int64
	TransferredSize  int64
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"transferred %d of %d files (%s of %s)",
		s.FilesTransferred, s.Files,
		units.HumanSize(float64(s.TransferredSize)), units.HumanSize(float64(s.TotalSize)),
	)
}

// ParseStats extracts the statistics from rsync's --stats output. Lines which aren't recognized
// are ignored.
func ParseStats(output string) (stats Stats) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		label, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		var field *int64
		switch strings.TrimSpace(label) {
		case "Number of files":
			field = &stats.Files
		case "Number of regular files transferred":
			field = &stats.FilesTransferred
		case "Total file size":
			field = &stats.TotalSize
		case "Total transferred file size":
			field = &stats.TransferredSize
		default:
			continue
		}
		if n, ok := parseLeadingNumber(value); ok {
			*field = n
			stats.Parsed = true
		}
	}
	return stats
}

// parseLeadingNumber parses the first whitespace-separated word of the value, ignoring rsync's
// thousands separators (e.g. "1,234 (reg: 1,000, dir: 234)" or "12,345 bytes").
func parseLeadingNumber(value string) (int64, bool) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(fields[0], ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
