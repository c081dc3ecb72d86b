package gaze

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// LookTarget is a normalized gaze offset. Both axes span [-1, 1];
// positive X looks toward the viewer's left, positive Y looks down.
type LookTarget struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is the result of scanning one raster for skin-like pixels.
type Detection struct {
	Count  int
	CX, CY float64 // centroid in raster pixels, valid when Count > 0
}

// IsSkin is the coarse skin-tone heuristic: a moderately high red channel,
// some green and blue, and red clearly above green.
func IsSkin(r, g, b uint8) bool {
	return r > 80 && g > 40 && b > 30 && r > g && int(r)-int(g) > 10
}

// Downscale resamples img to a width x height RGBA raster. An RGBA image
// already at that size is returned unchanged.
func Downscale(img image.Image, width, height int) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		b := rgba.Bounds()
		if b.Dx() == width && b.Dy() == height && b.Min == (image.Point{}) {
			return rgba
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Locate counts skin-like pixels in raster and returns their centroid.
func Locate(raster *image.RGBA) Detection {
	b := raster.Bounds()
	var sumX, sumY float64
	count := 0

	for y := 0; y < b.Dy(); y++ {
		row := raster.Pix[raster.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < b.Dx(); x++ {
			i := x * 4
			if IsSkin(row[i], row[i+1], row[i+2]) {
				sumX += float64(x)
				sumY += float64(y)
				count++
			}
		}
	}

	if count == 0 {
		return Detection{}
	}
	return Detection{Count: count, CX: sumX / float64(count), CY: sumY / float64(count)}
}

// Normalize maps a raster centroid to [-1, 1] on each axis. The
// horizontal axis is mirrored to match a self-view camera.
func Normalize(cx, cy float64, width, height int) LookTarget {
	return LookTarget{
		X: -((cx/float64(width))*2 - 1),
		Y: (cy/float64(height))*2 - 1,
	}
}

// Blend is the exponential moving average step: keep*prev + (1-keep)*target.
func Blend(prev, target LookTarget, keep float64) LookTarget {
	return LookTarget{
		X: prev.X*keep + target.X*(1-keep),
		Y: prev.Y*keep + target.Y*(1-keep),
	}
}

// IdleOffset is the slow wandering target used while nobody is in view.
func IdleOffset(phase float64, cfg Config) LookTarget {
	return LookTarget{
		X: math.Sin(phase) * cfg.IdleAmpX,
		Y: math.Cos(phase*cfg.IdleFreqY) * cfg.IdleAmpY,
	}
}
