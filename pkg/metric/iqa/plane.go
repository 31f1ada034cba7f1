// Package iqa implements the no-reference image quality engines: BRISQUE,
// NIQE and PIQE. For all of them lower scores mean better quality.
package iqa

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Plane is a single-channel image with luminance values in [0, 255].
type Plane struct {
	Width  int
	Height int
	Pix    []float64
}

func NewPlane(width, height int) *Plane {
	return &Plane{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

func (p *Plane) At(x, y int) float64 {
	return p.Pix[y*p.Width+x]
}

func (p *Plane) Set(x, y int, v float64) {
	p.Pix[y*p.Width+x] = v
}

// Sub copies the given rectangle into a new plane.
func (p *Plane) Sub(x0, y0, width, height int) *Plane {
	out := NewPlane(width, height)
	for y := 0; y < height; y++ {
		copy(out.Pix[y*width:(y+1)*width], p.Pix[(y0+y)*p.Width+x0:(y0+y)*p.Width+x0+width])
	}
	return out
}

// Luminance converts img using the BT.601 luma weights.
func Luminance(img image.Image) *Plane {
	b := img.Bounds()
	out := NewPlane(b.Dx(), b.Dy())
	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Set(x, y, float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return out
	}
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Set(x, y, (0.299*float64(r)+0.587*float64(g)+0.114*float64(bl))/257)
		}
	}
	return out
}

// Halve downscales img by two with bicubic interpolation.
func Halve(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()/2, b.Dy()/2))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// gaussianKernel is the normalized 7-tap kernel with sigma 7/6.
var gaussianKernel = func() []float64 {
	const (
		radius = 3
		sigma  = 7.0 / 6.0
	)
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := range k {
		d := float64(i - radius)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}()

func reflect(idx, size int) int {
	if size == 1 {
		return 0
	}
	for idx < 0 || idx >= size {
		if idx < 0 {
			idx = -idx
		}
		if idx >= size {
			idx = 2*(size-1) - idx
		}
	}
	return idx
}

func blur(p *Plane, kernel []float64) *Plane {
	radius := len(kernel) / 2
	tmp := NewPlane(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			var acc float64
			for k, w := range kernel {
				acc += w * p.At(reflect(x+k-radius, p.Width), y)
			}
			tmp.Set(x, y, acc)
		}
	}
	out := NewPlane(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			var acc float64
			for k, w := range kernel {
				acc += w * tmp.At(x, reflect(y+k-radius, p.Height))
			}
			out.Set(x, y, acc)
		}
	}
	return out
}

// MSCN returns the mean subtracted contrast normalized coefficients of p
// and the local deviation they were normalized by.
func MSCN(p *Plane) (coefs *Plane, sigma *Plane) {
	const stabilizer = 1

	mu := blur(p, gaussianKernel)
	sq := NewPlane(p.Width, p.Height)
	for i, v := range p.Pix {
		sq.Pix[i] = v * v
	}
	muSq := blur(sq, gaussianKernel)

	coefs = NewPlane(p.Width, p.Height)
	sigma = NewPlane(p.Width, p.Height)
	for i, v := range p.Pix {
		s := math.Sqrt(math.Abs(muSq.Pix[i] - mu.Pix[i]*mu.Pix[i]))
		sigma.Pix[i] = s
		coefs.Pix[i] = (v - mu.Pix[i]) / (s + stabilizer)
	}
	return coefs, sigma
}
