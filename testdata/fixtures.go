// Package testdata builds synthetic camera frames for tests.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Frame size used by the fixtures.
const (
	Width  = 640
	Height = 480
)

var (
	background = gocv.NewScalar(40, 40, 40, 0)
	skin       = color.RGBA{R: 224, G: 172, B: 105, A: 0}
)

// HandBox is where HandFrame paints its hand stand-in.
var HandBox = image.Rect(240, 140, 360, 320)

// BlankFrame returns a uniform dark frame. The caller closes it.
func BlankFrame() *gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(background, Height, Width, gocv.MatTypeCV8UC3)
	return &m
}

// HandFrame returns a dark frame with a filled skin-coloured block at box.
func HandFrame(box image.Rectangle) *gocv.Mat {
	m := BlankFrame()
	gocv.Rectangle(m, box, skin, -1)
	return m
}

// Sequence returns n frames with the hand block moved dx pixels right per
// frame, for motion tests.
func Sequence(n, dx int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, HandFrame(HandBox.Add(image.Pt(i*dx, 0))))
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
