// Package progress parses the text output of the mirroring tool (rsync) into
// structured values: live per-line transfer samples and the end-of-run
// summary block. All functions are pure; lines that do not match are simply
// not samples, never errors.
package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// Sample is one parsed progress line. The per-source context (index, name)
// is attached by the transfer runner, not known at this layer.
type Sample struct {
	TransferredBytes int64  `json:"transferredBytes"`
	Percent          int    `json:"percent"`
	Speed            string `json:"speed"`
}

// Stats is the result of parsing the end-of-run summary block.
type Stats struct {
	FilesTransferred int   `json:"filesTransferred"`
	TransferredBytes int64 `json:"transferredBytes"`
}

// progressLineRe matches rsync's --info=progress2 output:
//
//	"     32,768 100%    2.08MB/s    0:00:00"
//	"  1.049.919.488   0% 1001,25MB/s    0:09:03"
//
// The byte counter's thousands separator follows the host locale, so both
// comma and period grouping must be accepted.
var progressLineRe = regexp.MustCompile(`(?:^|\r)\s*([0-9][0-9.,]*)\s+(\d{1,3})%\s+(\S+/s)`)

var (
	commaGroupedRe  = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
	periodGroupedRe = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
)

// ParseLine extracts a progress sample from a single line of tool output.
// It returns ok=false for any line that is not a progress line.
func ParseLine(line string) (Sample, bool) {
	m := progressLineRe.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}

	bytes, ok := parseByteCount(m[1])
	if !ok {
		return Sample{}, false
	}

	percent, err := strconv.Atoi(m[2])
	if err != nil || percent < 0 || percent > 100 {
		return Sample{}, false
	}

	return Sample{
		TransferredBytes: bytes,
		Percent:          percent,
		Speed:            m[3],
	}, true
}

// parseByteCount converts the tool's byte counter to a plain integer. The
// separator is classified by shape, not locale: repeating groups of exactly
// three digits mean thousands grouping; a single period with a non-3-digit
// tail is a decimal point.
func parseByteCount(s string) (int64, bool) {
	switch {
	case commaGroupedRe.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case periodGroupedRe.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	case strings.ContainsAny(s, ".,"):
		// A lone decimal value such as "3.14"; truncate to whole bytes.
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return 0, false
		}
		return int64(f), true
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Summary field patterns from rsync's --stats block. The numbers carry the
// same locale-dependent grouping as progress lines.
var (
	summaryFilesRe = regexp.MustCompile(`Number of regular files transferred:\s*([0-9][0-9.,]*)`)
	summaryBytesRe = regexp.MustCompile(`Total transferred file size:\s*([0-9][0-9.,]*)\s*bytes`)
)

// ParseSummary extracts aggregate statistics from the tool's end-of-run
// summary block. Missing fields simply stay zero; a truncated summary is not
// worth failing an otherwise successful transfer over.
func ParseSummary(output string) Stats {
	var stats Stats

	if m := summaryFilesRe.FindStringSubmatch(output); m != nil {
		if n, ok := parseByteCount(m[1]); ok {
			stats.FilesTransferred = int(n)
		}
	}
	if m := summaryBytesRe.FindStringSubmatch(output); m != nil {
		if n, ok := parseByteCount(m[1]); ok {
			stats.TransferredBytes = n
		}
	}
	return stats
}
