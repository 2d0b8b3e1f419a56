package render

import (
	"regexp"
	"strconv"
)

// ProgressEvent is one parsed frame-progress sample from the renderer's
// output stream.
type ProgressEvent struct {
	CurrentFrame int
	TotalFrames  int
	ETASeconds   float64
	HasETA       bool
}

// Fraction returns the completed share of the render in [0,1].
func (e ProgressEvent) Fraction() float64 {
	if e.TotalFrames <= 0 {
		return 0
	}
	return float64(e.CurrentFrame) / float64(e.TotalFrames)
}

// ProgressParser extracts progress events from renderer output lines. The
// renderer is a black box with an informal output contract, so the parser
// lives behind this interface and can be swapped when the format changes.
type ProgressParser interface {
	// Parse returns the event parsed from line and whether the line carried
	// one. Non-matching lines are ignored by callers.
	Parse(line string) (ProgressEvent, bool)
}

// frameRe requires a frame-progress keyword before the current/total token,
// so a bare slash elsewhere in the line (paths, dates) never counts.
var (
	frameRe = regexp.MustCompile(`(?i)\b(?:frames?|rendered|rendering)\b\D*?(\d+)\s*/\s*(\d+)`)
	etaRe   = regexp.MustCompile(`(?i)\beta[:=\s]+(\d+(?:\.\d+)?)\s*s`)
)

// FrameParser parses "current/total frame" style progress lines.
type FrameParser struct{}

func NewFrameParser() *FrameParser {
	return &FrameParser{}
}

func (p *FrameParser) Parse(line string) (ProgressEvent, bool) {
	m := frameRe.FindStringSubmatch(line)
	if m == nil {
		return ProgressEvent{}, false
	}

	cur, err := strconv.Atoi(m[1])
	if err != nil {
		return ProgressEvent{}, false
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return ProgressEvent{}, false
	}
	if total <= 0 || cur < 0 || cur > total {
		return ProgressEvent{}, false
	}

	ev := ProgressEvent{CurrentFrame: cur, TotalFrames: total}

	if em := etaRe.FindStringSubmatch(line); em != nil {
		if eta, err := strconv.ParseFloat(em[1], 64); err == nil {
			ev.ETASeconds = eta
			ev.HasETA = true
		}
	}

	return ev, true
}
