package processing

import "image"

// gaussian5 is the fixed 5-tap kernel used for a 5x5 blur with automatic sigma.
var gaussian5 = [5]float64{0.0625, 0.25, 0.375, 0.25, 0.0625}

// luma returns BT.601 luminance per pixel.
func luma(img *image.RGBA) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			o := x * 4
			out[y*w+x] = 0.299*float64(row[o]) + 0.587*float64(row[o+1]) + 0.114*float64(row[o+2])
		}
	}
	return out
}

// reflect101 maps an out-of-range index back into [0,n) without repeating
// the edge sample.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func blur(src []float64, w, h int) []float64 {
	tmp := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -2; k <= 2; k++ {
				sum += gaussian5[k+2] * src[y*w+reflect101(x+k, w)]
			}
			tmp[y*w+x] = sum
		}
	}
	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -2; k <= 2; k++ {
				sum += gaussian5[k+2] * tmp[reflect101(y+k, h)*w+x]
			}
			out[y*w+x] = sum
		}
	}
	return out
}

// ChangeRatio is the fraction of pixels whose blurred grey level differs by
// more than the pixel threshold. Both frames must have the same size.
func ChangeRatio(current, previous *image.RGBA) float64 {
	b := current.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	a := blur(luma(current), w, h)
	p := blur(luma(previous), w, h)
	changed := 0
	for i := range a {
		d := a[i] - p[i]
		if d < 0 {
			d = -d
		}
		if uint8(d+0.5) > pixelDiffThreshold {
			changed++
		}
	}
	return float64(changed) / float64(w*h)
}

func grayscale(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			o := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			v := uint8(0.299*float64(src.Pix[o]) + 0.587*float64(src.Pix[o+1]) + 0.114*float64(src.Pix[o+2]) + 0.5)
			d := dst.PixOffset(x, y)
			dst.Pix[d], dst.Pix[d+1], dst.Pix[d+2], dst.Pix[d+3] = v, v, v, 0xff
		}
	}
	return dst
}
