package progress

import (
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantOK    bool
		wantBytes int64
		wantPct   int
		wantSpeed string
	}{
		{
			name:      "comma thousands separators",
			line:      "  32,768 100%    2.08MB/s    0:00:00",
			wantOK:    true,
			wantBytes: 32768,
			wantPct:   100,
			wantSpeed: "2.08MB/s",
		},
		{
			name:      "period thousands separators",
			line:      "  1.049.919.488   0% 1001,25MB/s    0:09:03",
			wantOK:    true,
			wantBytes: 1049919488,
			wantPct:   0,
			wantSpeed: "1001,25MB/s",
		},
		{
			name:      "plain integer byte count",
			line:      "        512  37%  610.04kB/s    0:00:01",
			wantOK:    true,
			wantBytes: 512,
			wantPct:   37,
			wantSpeed: "610.04kB/s",
		},
		{
			name:      "progress line with xfr suffix",
			line:      "  4,718,592  12%    4.21MB/s    0:00:07 (xfr#3, to-chk=42/108)",
			wantOK:    true,
			wantBytes: 4718592,
			wantPct:   12,
			wantSpeed: "4.21MB/s",
		},
		{
			name:   "no percent token",
			line:   "sending incremental file list",
			wantOK: false,
		},
		{
			name:   "empty line",
			line:   "",
			wantOK: false,
		},
		{
			name:   "summary line is not progress",
			line:   "Total transferred file size: 1,234 bytes",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, ok := ParseLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if sample.TransferredBytes != tt.wantBytes {
				t.Errorf("TransferredBytes = %d, want %d", sample.TransferredBytes, tt.wantBytes)
			}
			if sample.Percent != tt.wantPct {
				t.Errorf("Percent = %d, want %d", sample.Percent, tt.wantPct)
			}
			if sample.Speed != tt.wantSpeed {
				t.Errorf("Speed = %q, want %q", sample.Speed, tt.wantSpeed)
			}
		})
	}
}

func TestParseByteCount(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"32,768", 32768, true},
		{"1.049.919.488", 1049919488, true},
		{"512", 512, true},
		{"1,234,567", 1234567, true},
		// A single period with a non-3-digit tail is a decimal point, not grouping.
		{"3.14", 3, true},
		{"abc", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseByteCount(tt.in)
		if ok != tt.wantOK {
			t.Errorf("parseByteCount(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("parseByteCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseSummary(t *testing.T) {
	output := `
Number of files: 108 (reg: 98, dir: 10)
Number of created files: 3 (reg: 3)
Number of deleted files: 1
Number of regular files transferred: 42
Total file size: 9,876,543 bytes
Total transferred file size: 1,234,567 bytes
Literal data: 1,234,567 bytes
`

	stats := ParseSummary(output)
	if stats.FilesTransferred != 42 {
		t.Errorf("FilesTransferred = %d, want 42", stats.FilesTransferred)
	}
	if stats.TransferredBytes != 1234567 {
		t.Errorf("TransferredBytes = %d, want 1234567", stats.TransferredBytes)
	}
}

func TestParseSummaryPeriodLocale(t *testing.T) {
	output := "Number of regular files transferred: 1.204\nTotal transferred file size: 1.049.919.488 bytes\n"

	stats := ParseSummary(output)
	if stats.FilesTransferred != 1204 {
		t.Errorf("FilesTransferred = %d, want 1204", stats.FilesTransferred)
	}
	if stats.TransferredBytes != 1049919488 {
		t.Errorf("TransferredBytes = %d, want 1049919488", stats.TransferredBytes)
	}
}

func TestParseSummaryMissingFields(t *testing.T) {
	stats := ParseSummary("rsync exited before printing a summary")
	if stats.FilesTransferred != 0 || stats.TransferredBytes != 0 {
		t.Errorf("expected zero stats for truncated summary, got %+v", stats)
	}
}
