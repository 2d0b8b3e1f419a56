package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameParser(t *testing.T) {
	p := NewFrameParser()

	tests := []struct {
		name    string
		line    string
		want    ProgressEvent
		matched bool
	}{
		{
			name:    "plain frame token",
			line:    "Rendered frames 12/300",
			want:    ProgressEvent{CurrentFrame: 12, TotalFrames: 300},
			matched: true,
		},
		{
			name:    "rendered prefix",
			line:    "rendered 150/300",
			want:    ProgressEvent{CurrentFrame: 150, TotalFrames: 300},
			matched: true,
		},
		{
			name:    "rendering with punctuation",
			line:    "Rendering frame 299 / 300 ...",
			want:    ProgressEvent{CurrentFrame: 299, TotalFrames: 300},
			matched: true,
		},
		{
			name:    "with eta",
			line:    "frame 60/120 (eta 12s)",
			want:    ProgressEvent{CurrentFrame: 60, TotalFrames: 120, ETASeconds: 12, HasETA: true},
			matched: true,
		},
		{
			name:    "fractional eta",
			line:    "frame 60/120 eta: 3.5s",
			want:    ProgressEvent{CurrentFrame: 60, TotalFrames: 120, ETASeconds: 3.5, HasETA: true},
			matched: true,
		},
		{
			name:    "last frame",
			line:    "frame 300/300 done",
			want:    ProgressEvent{CurrentFrame: 300, TotalFrames: 300},
			matched: true,
		},
		{
			name: "unrelated slash must not match",
			line: "Loading asset /tmp/assets/3/4.png",
		},
		{
			name: "date-like slash must not match",
			line: "started at 09/01 10:00",
		},
		{
			name: "current beyond total rejected",
			line: "frame 301/300",
		},
		{
			name: "zero total rejected",
			line: "frame 0/0",
		},
		{
			name: "empty line",
			line: "",
		},
		{
			name: "free-form text",
			line: "Bundling composition Intro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Parse(tt.line)
			require.Equal(t, tt.matched, ok)
			if tt.matched {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 0.5, ProgressEvent{CurrentFrame: 50, TotalFrames: 100}.Fraction())
	assert.Equal(t, 1.0, ProgressEvent{CurrentFrame: 300, TotalFrames: 300}.Fraction())
	assert.Equal(t, 0.0, ProgressEvent{CurrentFrame: 5, TotalFrames: 0}.Fraction())
}
