package processing

import (
	"image"
	"log/slog"

	"golang.org/x/image/draw"
)

const (
	DefaultMotionThreshold = 0.005
	DefaultMotionMaxSkip   = 30

	// pixelDiffThreshold is the per-pixel grey level change that counts as motion.
	pixelDiffThreshold = 25
)

// Processor turns a captured frame into the frame to emit, or nil when the
// frame should be skipped.
type Processor interface {
	Process(frame *image.RGBA) *image.RGBA
	LastChangeRatio() float64
	SkippedFrames() int
}

type Options struct {
	Width           int
	Height          int
	Grayscale       bool
	MotionDetection bool
	MotionThreshold float64
	MotionMaxSkip   int
}

func (o Options) Resize() bool {
	return o.Width > 0 && o.Height > 0
}

type DefaultProcessor struct {
	opts Options
	log  *slog.Logger

	previous    *image.RGBA
	skipped     int
	changeRatio float64
}

func NewDefault(opts Options, logger *slog.Logger) *DefaultProcessor {
	if opts.MotionThreshold <= 0 {
		opts.MotionThreshold = DefaultMotionThreshold
	}
	if opts.MotionMaxSkip <= 0 {
		opts.MotionMaxSkip = DefaultMotionMaxSkip
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultProcessor{opts: opts, log: logger.With("component", "processor")}
}

func (p *DefaultProcessor) Options() Options { return p.opts }

func (p *DefaultProcessor) LastChangeRatio() float64 { return p.changeRatio }

func (p *DefaultProcessor) SkippedFrames() int { return p.skipped }

// Process resizes, applies motion gating against the last emitted frame and
// finally converts to grayscale. The stored reference is always the colour
// frame so gating does not depend on the grayscale option.
func (p *DefaultProcessor) Process(frame *image.RGBA) *image.RGBA {
	if frame == nil {
		return nil
	}
	current := clone(frame)
	if p.opts.Resize() {
		current = resize(frame, p.opts.Width, p.opts.Height)
	}

	if p.opts.MotionDetection && p.previous != nil {
		switch {
		case p.skipped >= p.opts.MotionMaxSkip:
			p.log.Debug("forced frame send", "skipped", p.skipped)
			p.skipped = 0
		case current.Bounds().Size() == p.previous.Bounds().Size():
			ratio := ChangeRatio(current, p.previous)
			p.changeRatio = ratio
			if ratio < p.opts.MotionThreshold {
				p.skipped++
				if p.skipped%10 == 1 {
					p.log.Debug("motion below threshold", "ratio", ratio, "threshold", p.opts.MotionThreshold, "skipped", p.skipped)
				}
				return nil
			}
			if p.skipped > 0 {
				p.log.Debug("motion detected", "ratio", ratio, "threshold", p.opts.MotionThreshold, "skipped", p.skipped)
			}
			p.skipped = 0
		}
	}

	p.previous = clone(current)
	if p.opts.Grayscale {
		current = grayscale(current)
	}
	return current
}

func clone(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
	return dst
}

func resize(src *image.RGBA, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
