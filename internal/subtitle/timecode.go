package subtitle

import "fmt"

// srtTimestamp renders HH:MM:SS,mmm.
func srtTimestamp(ms int64) string {
	h, m, s, milli := splitMs(ms)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, milli)
}

// vttTimestamp renders HH:MM:SS.mmm.
func vttTimestamp(ms int64) string {
	h, m, s, milli := splitMs(ms)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, milli)
}

// assTimestamp renders H:MM:SS.cc (centiseconds).
func assTimestamp(ms int64) string {
	h, m, s, milli := splitMs(ms)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, milli/10)
}

// lrcTimestamp renders MM:SS.cc; minutes absorb the hours.
func lrcTimestamp(ms int64) string {
	h, m, s, milli := splitMs(ms)
	return fmt.Sprintf("%02d:%02d.%02d", h*60+m, s, milli/10)
}

func splitMs(ms int64) (h, m, s, milli int64) {
	if ms < 0 {
		ms = 0
	}
	milli = ms % 1000
	total := ms / 1000
	s = total % 60
	m = (total / 60) % 60
	h = total / 3600
	return h, m, s, milli
}
