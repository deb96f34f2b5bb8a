// Package overlay draws the message text and hand markers onto frames.
package overlay

import (
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
)

// Text layout defaults.
const (
	DefaultPrefix     = "Text Message: "
	DefaultMaxWidth   = 600
	DefaultTopMargin  = 30
	DefaultLineStride = 30
	DefaultLeftMargin = 10
)

var (
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	boxColor   = color.RGBA{R: 255, G: 0, B: 255, A: 0}
	pointColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	boneColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Wrap greedily packs the whitespace-delimited words of text into lines no
// wider than maxWidth as reported by measure. A word that is wider than
// maxWidth on its own gets a line of its own. Blank text yields no lines.
func Wrap(text string, maxWidth int, measure func(string) int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		candidate := line + " " + word
		if measure(candidate) <= maxWidth {
			line = candidate
			continue
		}
		lines = append(lines, line)
		line = word
	}
	return append(lines, line)
}

// Annotator draws the wrapped message onto frames.
type Annotator struct {
	Prefix     string
	MaxWidth   int
	TopMargin  int
	LineStride int
	LeftMargin int
	Font       gocv.HersheyFont
	Scale      float64
	Thickness  int
	// Offset pads hand boxes the way the normalizer pads its crop.
	Offset int
}

// New returns an Annotator with the default layout.
func New(prefix string, maxWidth int) *Annotator {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &Annotator{
		Prefix:     prefix,
		MaxWidth:   maxWidth,
		TopMargin:  DefaultTopMargin,
		LineStride: DefaultLineStride,
		LeftMargin: DefaultLeftMargin,
		Font:       gocv.FontHersheySimplex,
		Scale:      1,
		Thickness:  2,
	}
}

// Measure returns the rendered pixel width of s.
func (a *Annotator) Measure(s string) int {
	return gocv.GetTextSize(s, a.Font, a.Scale, a.Thickness).X
}

// Lines returns the wrapped lines for text, prefix included.
func (a *Annotator) Lines(text string) []string {
	return Wrap(a.Prefix+text, a.MaxWidth, a.Measure)
}

// Annotate draws the message in place, one line per stride from the top margin.
func (a *Annotator) Annotate(frame *gocv.Mat, text string) {
	for i, line := range a.Lines(text) {
		origin := image.Pt(a.LeftMargin, a.TopMargin+i*a.LineStride)
		gocv.PutText(frame, line, origin, a.Font, a.Scale, textColor, a.Thickness)
	}
}

// DrawHands draws each hand's padded box, its skeleton and its landmarks in place.
func (a *Annotator) DrawHands(frame *gocv.Mat, hands []detector.Hand) {
	w, h := frame.Cols(), frame.Rows()
	for i := range hands {
		hand := &hands[i]
		if hand.Box.Empty() {
			continue
		}

		gocv.Rectangle(frame, hand.Box.Inset(-a.Offset), boxColor, 4)

		for _, bone := range detector.Connections {
			gocv.Line(frame, hand.Pixel(bone[0], w, h), hand.Pixel(bone[1], w, h), boneColor, 2)
		}
		for j := range hand.Landmarks {
			gocv.Circle(frame, hand.Pixel(j, w, h), 4, pointColor, -1)
		}

		if hand.Handedness != "" {
			label := image.Pt(hand.Box.Min.X-a.Offset, hand.Box.Min.Y-a.Offset-10)
			gocv.PutText(frame, hand.Handedness, label, a.Font, 1.5, boxColor, 2)
		}
	}
}
