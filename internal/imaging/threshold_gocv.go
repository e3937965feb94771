//go:build gocv

package imaging

import (
	"image"

	"gocv.io/x/gocv"
)

func adaptiveThresholdInv(gray *image.Gray, blockSize int, bias float64) *image.Gray {
	src, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return blankLike(gray)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.AdaptiveThreshold(src, &dst, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, blockSize, float32(bias))

	return matToGray(dst, gray)
}

func openBinary(bin *image.Gray, size int) *image.Gray {
	src, err := gocv.ImageGrayToMatGray(bin)
	if err != nil {
		return blankLike(bin)
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: size, Y: size})
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MorphologyEx(src, &dst, gocv.MorphOpen, kernel)

	return matToGray(dst, bin)
}

func matToGray(m gocv.Mat, like *image.Gray) *image.Gray {
	img, err := m.ToImage()
	if err != nil {
		return blankLike(like)
	}
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	return ToGray(img)
}

func blankLike(g *image.Gray) *image.Gray {
	b := g.Bounds()
	return image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
}
