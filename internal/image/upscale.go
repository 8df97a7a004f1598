package image

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Upscale resizes img to factor times its size with Catmull-Rom (bicubic)
// interpolation. A factor of 1 returns img unchanged.
func Upscale(img image.Image, factor int) (image.Image, error) {
	if factor < 1 {
		return nil, fmt.Errorf("invalid upscale factor: %d", factor)
	}
	if factor == 1 {
		return img, nil
	}
	b := img.Bounds()
	if b.Dx() > math.MaxInt/factor || b.Dy() > math.MaxInt/factor {
		return nil, fmt.Errorf("upscale factor %d too large for %dx%d image", factor, b.Dx(), b.Dy())
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}
