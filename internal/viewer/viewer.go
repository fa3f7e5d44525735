// Package viewer holds the display logic for a frame stream: it paints the
// newest frame, hides the loading indicator once, keeps a rolling FPS
// readout and renders the camera info panel.
package viewer

import (
	"strconv"
	"time"

	"moro/internal/types"
)

const (
	InfoHeading = "Camera Information"
	fpsWindow   = time.Second
	dataURIHead = "data:image/jpeg;base64,"
)

// Surface shows an image given as a data URI.
type Surface interface {
	SetSource(uri string)
}

// Indicator is the loading indicator hidden after the first frame.
type Indicator interface {
	FadeOut()
}

type Readout interface {
	SetText(text string)
}

type Panel interface {
	Render(heading string, items []string)
}

// Targets are the display elements. Any of them may be nil, in which case
// the corresponding update is skipped.
type Targets struct {
	Surface Surface
	Loading Indicator
	FPS     Readout
	Info    Panel
}

// Viewer is not safe for concurrent use; feed it from the goroutine that
// reads the transport.
type Viewer struct {
	targets Targets
	now     func() time.Time

	loaded      bool
	frameCount  int
	windowStart time.Time
	fps         string
}

func New(targets Targets, now func() time.Time) *Viewer {
	if now == nil {
		now = time.Now
	}
	return &Viewer{
		targets:     targets,
		now:         now,
		windowStart: now(),
	}
}

func (v *Viewer) Handle(ev types.Event) {
	switch ev.Type {
	case types.EventFrame:
		v.HandleFrame(ev.Frame)
	case types.EventCameraInfo:
		v.HandleInfo(ev.Data)
	}
}

// HandleFrame paints a base64 JPEG payload. An empty payload is ignored.
func (v *Viewer) HandleFrame(payload string) {
	if payload == "" {
		return
	}
	if v.targets.Surface != nil {
		v.targets.Surface.SetSource(dataURIHead + payload)
	}
	if !v.loaded {
		v.loaded = true
		if v.targets.Loading != nil {
			v.targets.Loading.FadeOut()
		}
	}

	v.frameCount++
	now := v.now()
	elapsed := now.Sub(v.windowStart)
	if elapsed >= fpsWindow {
		v.fps = FormatFPS(v.frameCount, elapsed)
		if v.targets.FPS != nil {
			v.targets.FPS.SetText(v.fps)
		}
		v.frameCount = 0
		v.windowStart = now
	}
}

// HandleInfo replaces the info panel with the record in its received order.
// A nil record (event without data) leaves the panel untouched; an empty
// one renders the heading alone.
func (v *Viewer) HandleInfo(info types.Info) {
	if v.targets.Info == nil || info == nil {
		return
	}
	items := make([]string, 0, len(info))
	for _, f := range info {
		items = append(items, f.Key+": "+types.FormatValue(f.Value))
	}
	v.targets.Info.Render(InfoHeading, items)
}

func (v *Viewer) Loaded() bool { return v.loaded }

// FPS is the last displayed readout, empty before the first full window.
func (v *Viewer) FPS() string { return v.fps }

// FormatFPS renders count/elapsed with one decimal.
func FormatFPS(count int, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0.0"
	}
	return strconv.FormatFloat(float64(count)/elapsed.Seconds(), 'f', 1, 64)
}
