package subtitle

import (
	"math"
	"strings"
	"testing"

	"github.com/vodscribe/corekit/internal/domain"
)

func TestMergeSegmentsGapAndLengthThresholds(t *testing.T) {
	segments := []domain.TranscriptionSegment{
		seg(0, 2000, "a"),
		seg(2100, 4000, "b"),  // gap 100 <= 200: merges
		seg(4500, 6000, "c"),  // gap 500 > 200: stays separate
		seg(6100, 20000, "d"), // would exceed maxLen with c: stays separate
	}
	merged := MergeSegments(segments, 200, 10000)

	if len(merged) != 3 {
		t.Fatalf("merged count = %d, want 3", len(merged))
	}
	if merged[0].Text != "a b" || merged[0].StartTimeMs != 0 || merged[0].EndTimeMs != 4000 {
		t.Fatalf("first merged segment = %+v", merged[0])
	}

	// Post-merge invariant: every consecutive pair either has a gap above
	// the threshold or would have exceeded the length budget.
	for i := 1; i < len(merged); i++ {
		a, b := merged[i-1], merged[i]
		gap := b.StartTimeMs - a.EndTimeMs
		combined := b.EndTimeMs - a.StartTimeMs
		if gap <= 200 && combined <= 10000 {
			t.Fatalf("segments %d and %d should have merged (gap=%d, combined=%d)", i-1, i, gap, combined)
		}
	}
}

func TestMergeSegmentsConfidenceIsMean(t *testing.T) {
	a := seg(0, 1000, "a")
	a.Confidence = 0.8
	b := seg(1100, 2000, "b")
	b.Confidence = 0.4
	merged := MergeSegments([]domain.TranscriptionSegment{a, b}, 200, 10000)
	if len(merged) != 1 {
		t.Fatalf("merged count = %d, want 1", len(merged))
	}
	if math.Abs(merged[0].Confidence-0.6) > 1e-9 {
		t.Fatalf("confidence = %v, want mean 0.6", merged[0].Confidence)
	}
}

func TestSplitLongSegmentsEvenly(t *testing.T) {
	long := seg(0, 9000, "one two three")
	parts := SplitLongSegments([]domain.TranscriptionSegment{long}, 3000, false)
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if parts[0].StartTimeMs != 0 || parts[0].EndTimeMs != 3000 ||
		parts[2].StartTimeMs != 6000 || parts[2].EndTimeMs != 9000 {
		t.Fatalf("time partition wrong: %+v", parts)
	}
}

func TestSplitLongSegmentsOnWords(t *testing.T) {
	long := seg(0, 6000, "w1 w2 w3 w4 w5 w6")
	parts := SplitLongSegments([]domain.TranscriptionSegment{long}, 3000, true)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0].Text != "w1 w2 w3" || parts[1].Text != "w4 w5 w6" {
		t.Fatalf("word partition wrong: %q / %q", parts[0].Text, parts[1].Text)
	}
	if parts[0].EndTimeMs != 3000 || parts[1].StartTimeMs != 3000 {
		t.Fatalf("time partition wrong: %+v", parts)
	}
}

func TestSplitShortSegmentUntouched(t *testing.T) {
	short := seg(0, 1000, "short")
	parts := SplitLongSegments([]domain.TranscriptionSegment{short}, 3000, true)
	if len(parts) != 1 || parts[0].Text != "short" {
		t.Fatalf("short segment should pass through: %+v", parts)
	}
}

func TestPostProcessText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		opts PostProcessOptions
		want string
	}{
		{
			name: "collapse whitespace",
			in:   "  hello   world  ",
			want: "hello world",
		},
		{
			name: "capitalize sentence starts",
			in:   "first. second part? third",
			opts: PostProcessOptions{Capitalize: true},
			want: "First. Second part? Third",
		},
		{
			name: "remove fillers",
			in:   "so um I think uh this works you know fine",
			opts: PostProcessOptions{RemoveFillers: true},
			want: "so I think this works fine",
		},
		{
			name: "terminal punctuation",
			in:   "no ending",
			opts: PostProcessOptions{EnsurePunctuation: true},
			want: "no ending.",
		},
		{
			name: "existing punctuation kept",
			in:   "already done!",
			opts: PostProcessOptions{EnsurePunctuation: true},
			want: "already done!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PostProcessText(tt.in, tt.opts); got != tt.want {
				t.Fatalf("PostProcessText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTimecodeRendering(t *testing.T) {
	tests := []struct {
		ms  int64
		srt string
		vtt string
		ass string
		lrc string
	}{
		{0, "00:00:00,000", "00:00:00.000", "0:00:00.00", "00:00.00"},
		{1250, "00:00:01,250", "00:00:01.250", "0:00:01.25", "00:01.25"},
		{3_725_040, "01:02:05,040", "01:02:05.040", "1:02:05.04", "62:05.04"},
	}
	for _, tt := range tests {
		if got := srtTimestamp(tt.ms); got != tt.srt {
			t.Fatalf("srtTimestamp(%d) = %q, want %q", tt.ms, got, tt.srt)
		}
		if got := vttTimestamp(tt.ms); got != tt.vtt {
			t.Fatalf("vttTimestamp(%d) = %q, want %q", tt.ms, got, tt.vtt)
		}
		if got := assTimestamp(tt.ms); got != tt.ass {
			t.Fatalf("assTimestamp(%d) = %q, want %q", tt.ms, got, tt.ass)
		}
		if got := lrcTimestamp(tt.ms); got != tt.lrc {
			t.Fatalf("lrcTimestamp(%d) = %q, want %q", tt.ms, got, tt.lrc)
		}
	}
}

func TestMergeThenFormatKeepsTextIntact(t *testing.T) {
	segments := []domain.TranscriptionSegment{
		seg(0, 1000, "the quick"),
		seg(1050, 2000, "brown fox"),
	}
	merged := MergeSegments(segments, 100, 5000)
	out, err := ToSRT(result(merged...), Options{})
	if err != nil {
		t.Fatalf("ToSRT failed: %v", err)
	}
	if !strings.Contains(out, "the quick brown fox") {
		t.Fatalf("merged text lost: %q", out)
	}
}
