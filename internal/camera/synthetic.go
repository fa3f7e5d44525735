package camera

import (
	"errors"
	"image"
	"math"
	"sync"
)

var errSyntheticClosed = errors.New("synthetic source closed")

// synthetic renders a radial glow with a square sweeping across it, so the
// stream and motion detection can be exercised without hardware.
type synthetic struct {
	width  int
	height int

	mu     sync.Mutex
	base   []uint8
	tick   int
	closed bool
}

func newSynthetic(width, height int) *synthetic {
	return &synthetic{width: width, height: height}
}

func (s *synthetic) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.width * s.height
	s.base = make([]uint8, total)
	centerX := float64(s.width) / 2.0
	centerY := float64(s.height) / 2.0
	spread := float64(total) / 20
	for i := 0; i < total; i++ {
		dx := float64(i%s.width) - centerX
		dy := float64(i/s.width) - centerY
		s.base[i] = uint8(200 * math.Exp(-(dx*dx+dy*dy)/spread))
	}
	s.closed = false
	return nil
}

func (s *synthetic) read() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.base == nil {
		return nil, errSyntheticClosed
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	side := s.height / 6
	if side < 1 {
		side = 1
	}
	span := s.width - side
	if span < 1 {
		span = 1
	}
	left := (s.tick * 8) % span
	top := (s.height - side) / 2
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			v := s.base[y*s.width+x]
			r, g, b := v, v/2, uint8(255-int(v))
			if x >= left && x < left+side && y >= top && y < top+side {
				r, g, b = 255, 255, 255
			}
			o := img.PixOffset(x, y)
			img.Pix[o] = r
			img.Pix[o+1] = g
			img.Pix[o+2] = b
			img.Pix[o+3] = 0xff
		}
	}
	s.tick++
	return img, nil
}

func (s *synthetic) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
