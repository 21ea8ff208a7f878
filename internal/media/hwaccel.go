package media

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
)

// FFmpegAccelerator discovers hardware encoders by asking the encoder
// binary what it was built with. Results are cached after the first probe.
type FFmpegAccelerator struct {
	binary string

	once   sync.Once
	codecs []string
}

// NewFFmpegAccelerator builds an accelerator probing the given ffmpeg
// binary (empty = ffmpeg on PATH).
func NewFFmpegAccelerator(binary string) *FFmpegAccelerator {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegAccelerator{binary: binary}
}

var hwEncoderNames = []string{
	"h264_nvenc", "hevc_nvenc",
	"h264_vaapi", "hevc_vaapi",
	"h264_qsv", "hevc_qsv",
	"h264_videotoolbox", "hevc_videotoolbox",
}

func (a *FFmpegAccelerator) probe(ctx context.Context) {
	a.once.Do(func() {
		cmd := exec.CommandContext(ctx, a.binary, "-hide_banner", "-encoders")
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return
		}
		listing := out.String()
		for _, name := range hwEncoderNames {
			if strings.Contains(listing, name) {
				a.codecs = append(a.codecs, name)
			}
		}
	})
}

// Available reports whether any hardware encoder was discovered.
func (a *FFmpegAccelerator) Available(ctx context.Context) bool {
	a.probe(ctx)
	return len(a.codecs) > 0
}

// SupportedCodecs lists the discovered hardware encoder names.
func (a *FFmpegAccelerator) SupportedCodecs(ctx context.Context) []string {
	a.probe(ctx)
	return append([]string(nil), a.codecs...)
}
