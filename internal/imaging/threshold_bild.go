//go:build !gocv

package imaging

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/effect"
)

func adaptiveThresholdInv(gray *image.Gray, blockSize int, bias float64) *image.Gray {
	b := gray.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if b.Empty() {
		return out
	}

	// Wrap=false clamps the kernel at the borders (edge replication).
	mean := convolution.Convolve(gray, gaussianKernel(blockSize).Normalized(), &convolution.Options{
		Bias:      0,
		Wrap:      false,
		KeepAlpha: false,
	})

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			src := float64(gray.Pix[y*gray.Stride+x])
			local := float64(mean.Pix[y*mean.Stride+x*4])
			if src <= local-bias {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func openBinary(bin *image.Gray, size int) *image.Gray {
	radius := float64(size / 2)
	opened := effect.Dilate(effect.Erode(bin, radius), radius)

	b := opened.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if opened.Pix[y*opened.Stride+x*4] > 127 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func gaussianKernel(size int) *convolution.Kernel {
	k := convolution.NewKernel(size, size)
	sigma := gaussianSigma(size)
	half := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x-half), float64(y-half)
			k.Matrix[y*size+x] = math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
		}
	}
	return k
}
