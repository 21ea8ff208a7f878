package encoder

import (
	"strings"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"24000/1001", 23.976023976023978},
		{"30", 30},
		{"0/0", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Fatalf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConsumeProgress(t *testing.T) {
	stream := strings.NewReader(
		"frame=100\nfps=25.0\nbitrate=1000k\nprogress=continue\n" +
			"frame=250\nfps=24.5\nprogress=end\n")

	type tick struct {
		frames int64
		fps    float64
	}
	var ticks []tick
	consumeProgress(stream, func(frames int64, fps float64) {
		ticks = append(ticks, tick{frames, fps})
	})

	if len(ticks) != 2 {
		t.Fatalf("ticks = %d, want 2", len(ticks))
	}
	if ticks[0].frames != 100 || ticks[0].fps != 25.0 {
		t.Fatalf("first tick = %+v", ticks[0])
	}
	if ticks[1].frames != 250 || ticks[1].fps != 24.5 {
		t.Fatalf("second tick = %+v", ticks[1])
	}
}

func TestTail(t *testing.T) {
	if got := tail("abcdef", 3); got != "def" {
		t.Fatalf("tail = %q, want def", got)
	}
	if got := tail("ab", 3); got != "ab" {
		t.Fatalf("tail = %q, want ab", got)
	}
}

func TestNewDefaultsBinaries(t *testing.T) {
	f := New("", "  ")
	if f.ffmpegBin != "ffmpeg" || f.ffprobeBin != "ffprobe" {
		t.Fatalf("defaults = %q/%q", f.ffmpegBin, f.ffprobeBin)
	}
}
