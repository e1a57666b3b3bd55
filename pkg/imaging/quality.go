package imaging

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Quality is a heuristic assessment of how much an image can be trusted for
// detection. Score is in [0, 1]; Label buckets it for API responses.
type Quality struct {
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Megapixels float64 `json:"megapixels"`
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	EdgeEnergy float64 `json:"edge_energy"`
}

const qualityPlaneSide = 256

// Assess computes resolution, brightness, contrast and an edge-energy blur
// proxy over a downsampled grayscale plane.
func Assess(img image.Image) Quality {
	b := img.Bounds()
	megapixels := float64(b.Dx()) * float64(b.Dy()) / 1e6

	plane, w, h := grayPlane(img, qualityPlaneSide)

	var sum float64
	for _, v := range plane {
		sum += v
	}
	n := float64(len(plane))
	mean := sum / n

	var variance float64
	for _, v := range plane {
		d := v - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / n)

	// Mean gradient magnitude; blurry images have weak gradients.
	var edgeSum float64
	var edgeN int
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			i := y*w + x
			gx := plane[i+1] - plane[i]
			gy := plane[i+w] - plane[i]
			edgeSum += math.Sqrt(gx*gx + gy*gy)
			edgeN++
		}
	}
	edgeEnergy := 0.0
	if edgeN > 0 {
		edgeEnergy = edgeSum / float64(edgeN)
	}

	resScore := clamp01(megapixels / 1.0)
	brightScore := clamp01(1 - math.Abs(mean-0.5)*2)
	contrastScore := clamp01(stddev / 0.25)
	sharpScore := clamp01(edgeEnergy / 0.08)

	score := 0.20*resScore + 0.25*brightScore + 0.25*contrastScore + 0.30*sharpScore

	return Quality{
		Score:      score,
		Label:      qualityLabel(score),
		Megapixels: megapixels,
		Brightness: mean,
		Contrast:   stddev,
		EdgeEnergy: edgeEnergy,
	}
}

func qualityLabel(score float64) string {
	switch {
	case score >= 0.8:
		return "excellent"
	case score >= 0.6:
		return "good"
	case score >= 0.4:
		return "fair"
	default:
		return "poor"
	}
}

// grayPlane downsamples to at most side x side and returns luminance values
// in [0, 1] in row-major order.
func grayPlane(img image.Image, side int) ([]float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > side || h > side {
		if w > h {
			h = h * side / w
			w = side
		} else {
			w = w * side / h
			h = side
		}
	}
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}

	small := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, b, draw.Over, nil)

	plane := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := small.PixOffset(x, y)
			r := float64(small.Pix[o])
			g := float64(small.Pix[o+1])
			bl := float64(small.Pix[o+2])
			plane[y*w+x] = (0.299*r + 0.587*g + 0.114*bl) / 255
		}
	}
	return plane, w, h
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
