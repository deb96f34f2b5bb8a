// Package normalizer turns a detected hand region into the fixed-size square
// canvas the classifier was trained on.
package normalizer

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Default normalization settings
const (
	DefaultOffset  = 20
	DefaultImgSize = 300
)

var (
	// ErrInvalidRegion is returned for a degenerate (zero width or height) box.
	ErrInvalidRegion = errors.New("invalid hand region")

	// ErrRegionOutOfBounds is returned when the padded box leaves the frame
	// and clamping is disabled, or when nothing of it overlaps the frame.
	ErrRegionOutOfBounds = errors.New("hand region out of frame bounds")
)

// White is the canvas background.
var White = gocv.NewScalar(255, 255, 255, 0)

// Normalizer crops a padded hand box and letterboxes it onto a square canvas.
type Normalizer struct {
	// Offset is the margin added on every side of the box before cropping.
	Offset int
	// ImgSize is the canvas edge length.
	ImgSize int
	// Background fills the canvas outside the pasted crop.
	Background gocv.Scalar
	// Reject makes a padded box that leaves the frame an error instead of
	// clamping it to the frame edges.
	Reject bool
}

// New returns a Normalizer with a white background that clamps at frame edges.
func New(offset, imgSize int) *Normalizer {
	if imgSize <= 0 {
		imgSize = DefaultImgSize
	}
	return &Normalizer{
		Offset:     offset,
		ImgSize:    imgSize,
		Background: White,
	}
}

// CropRect returns the padded crop rectangle for box inside bounds.
func (n *Normalizer) CropRect(box, bounds image.Rectangle) (image.Rectangle, error) {
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: %v", ErrInvalidRegion, box)
	}

	expanded := box.Inset(-n.Offset)
	clamped := expanded.Intersect(bounds)

	if clamped.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: %v outside %v", ErrRegionOutOfBounds, expanded, bounds)
	}
	if clamped != expanded && n.Reject {
		return image.Rectangle{}, fmt.Errorf("%w: %v exceeds %v", ErrRegionOutOfBounds, expanded, bounds)
	}

	return clamped, nil
}

// ResizeTarget returns the size the crop of a w×h box is resized to.
// Tall boxes (h/w > 1) get height imgSize; wide and square boxes get width
// imgSize. The other side keeps the box aspect ratio, rounded up and capped
// at imgSize.
func ResizeTarget(w, h, imgSize int) image.Point {
	aspectRatio := float64(h) / float64(w)

	if aspectRatio > 1 {
		k := float64(imgSize) / float64(h)
		wCal := int(math.Ceil(k * float64(w)))
		return image.Pt(min(wCal, imgSize), imgSize)
	}

	k := float64(imgSize) / float64(w)
	hCal := int(math.Ceil(k * float64(h)))
	return image.Pt(imgSize, min(hCal, imgSize))
}

// Normalize crops box (padded by Offset) out of frame and pastes the
// aspect-preserving resize onto a fresh ImgSize×ImgSize canvas, left-aligned
// for tall boxes and top-aligned otherwise. frame must be 8-bit BGR.
// The caller owns and must close the returned Mat, also on error.
func (n *Normalizer) Normalize(frame gocv.Mat, box image.Rectangle) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty frame", ErrInvalidRegion)
	}

	rect, err := n.CropRect(box, image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if err != nil {
		return gocv.NewMat(), err
	}

	crop := frame.Region(rect)
	defer crop.Close()

	target := ResizeTarget(box.Dx(), box.Dy(), n.ImgSize)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(crop, &resized, target, 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMatWithSizeFromScalar(n.Background, n.ImgSize, n.ImgSize, gocv.MatTypeCV8UC3)

	roi := canvas.Region(image.Rect(0, 0, target.X, target.Y))
	defer roi.Close()
	resized.CopyTo(&roi)

	return canvas, nil
}
