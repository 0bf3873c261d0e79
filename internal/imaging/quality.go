package imaging

import (
	"image"
	"image/color"
	"math"
)

// Quality scores an image from 0 to 100 by combining sharpness (variance of
// the Laplacian), contrast (standard deviation) and how close the mean
// brightness sits to mid-grey. All three are measured on 8-bit luminance.
func Quality(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	gray := make([]uint8, w*h)
	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			gray[y*w+x] = v
			f := float64(v)
			sum += f
			sumSq += f * f
		}
	}
	n := float64(w * h)
	mean := sum / n
	contrast := math.Sqrt(math.Max(0, sumSq/n-mean*mean))

	sharpness := laplacianVariance(gray, w, h)

	score := (sharpness/10 + contrast/2.55 + (100 - math.Abs(mean-128))) / 3
	return math.Max(0, math.Min(100, score))
}

// laplacianVariance applies the 4-neighbour Laplacian over interior pixels
// and returns the variance of the response in a single pass.
func laplacianVariance(gray []uint8, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	count := float64((w - 2) * (h - 2))
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			lap := float64(gray[i-w]) + float64(gray[i+w]) + float64(gray[i-1]) + float64(gray[i+1]) - 4*float64(gray[i])
			sum += lap
			sumSq += lap * lap
		}
	}
	mean := sum / count
	return math.Max(0, sumSq/count-mean*mean)
}
