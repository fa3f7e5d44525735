package processing

import (
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestProcessResize(t *testing.T) {
	p := NewDefault(Options{Width: 32, Height: 24}, nil)
	out := p.Process(solid(64, 48, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	if out == nil {
		t.Fatalf("frame should not be skipped")
	}
	if out.Bounds() != image.Rect(0, 0, 32, 24) {
		t.Fatalf("unexpected bounds: %v", out.Bounds())
	}
	if got := out.RGBAAt(5, 5); got.R != 10 || got.G != 20 || got.B != 30 {
		t.Fatalf("unexpected colour after resize: %v", got)
	}
}

func TestProcessGrayscale(t *testing.T) {
	p := NewDefault(Options{Grayscale: true}, nil)
	src := solid(8, 8, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	out := p.Process(src)
	c := out.RGBAAt(3, 3)
	if c.R != c.G || c.G != c.B {
		t.Fatalf("channels differ: %v", c)
	}
	if src.RGBAAt(3, 3).R != 200 {
		t.Fatalf("source frame was modified")
	}
	if p.previous.RGBAAt(3, 3).R != 200 {
		t.Fatalf("reference frame should keep colour")
	}
}

func TestProcessMotionSkipsStaticScene(t *testing.T) {
	p := NewDefault(Options{MotionDetection: true, MotionThreshold: 0.005, MotionMaxSkip: 3}, nil)
	frame := solid(16, 16, color.RGBA{R: 50, G: 50, B: 50, A: 255})

	if p.Process(frame) == nil {
		t.Fatalf("first frame must always be sent")
	}
	for i := 1; i <= 3; i++ {
		if p.Process(frame) != nil {
			t.Fatalf("static frame %d should be skipped", i)
		}
		if p.SkippedFrames() != i {
			t.Fatalf("skipped count: got %d want %d", p.SkippedFrames(), i)
		}
	}
	if p.Process(frame) == nil {
		t.Fatalf("frame should be forced after max skip")
	}
	if p.SkippedFrames() != 0 {
		t.Fatalf("skip counter not reset: %d", p.SkippedFrames())
	}
	if p.LastChangeRatio() != 0 {
		t.Fatalf("unexpected ratio for static scene: %v", p.LastChangeRatio())
	}
}

func TestProcessMotionSendsChangedScene(t *testing.T) {
	p := NewDefault(Options{MotionDetection: true}, nil)
	p.Process(solid(16, 16, color.RGBA{A: 255}))
	if p.Process(solid(16, 16, color.RGBA{A: 255})) != nil {
		t.Fatalf("identical frame should be skipped")
	}
	out := p.Process(solid(16, 16, color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	if out == nil {
		t.Fatalf("changed frame should be sent")
	}
	if p.LastChangeRatio() != 1 {
		t.Fatalf("expected full change, got %v", p.LastChangeRatio())
	}
	if p.SkippedFrames() != 0 {
		t.Fatalf("skip counter not reset: %d", p.SkippedFrames())
	}
}

func TestProcessMotionIgnoresShapeChange(t *testing.T) {
	p := NewDefault(Options{MotionDetection: true}, nil)
	p.Process(solid(16, 16, color.RGBA{A: 255}))
	if p.Process(solid(8, 8, color.RGBA{A: 255})) == nil {
		t.Fatalf("frame with different size should not be compared")
	}
}

func TestChangeRatioSmallPatch(t *testing.T) {
	prev := solid(20, 20, color.RGBA{A: 255})
	cur := solid(20, 20, color.RGBA{A: 255})
	cur.SetRGBA(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	ratio := ChangeRatio(cur, prev)
	// a single white pixel spreads to the centre of the blur kernel only
	if ratio <= 0 || ratio > 0.05 {
		t.Fatalf("unexpected ratio: %v", ratio)
	}
}

func TestReflect101(t *testing.T) {
	cases := []struct{ in, n, want int }{
		{-1, 5, 1},
		{-2, 5, 2},
		{5, 5, 3},
		{6, 5, 2},
		{3, 5, 3},
		{-1, 1, 0},
	}
	for _, c := range cases {
		if got := reflect101(c.in, c.n); got != c.want {
			t.Fatalf("reflect101(%d,%d) = %d, want %d", c.in, c.n, got, c.want)
		}
	}
}
