// Package annotate draws detection boxes and labels onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"detectserver/internal/service/roboflow"
)

// Style controls how labels are rendered.
type Style struct {
	Thickness  int
	FontScale  float64
	LabelAbove int  // pixels between the box top and the text baseline
	Filled     bool // draw the label on a solid background in the class color
}

var (
	// ImageStyle is used for single-image detection.
	ImageStyle = Style{Thickness: 2, FontScale: 0.8, LabelAbove: 10}
	// StreamStyle is used for video frames.
	StreamStyle = Style{Thickness: 2, FontScale: 0.5, LabelAbove: 4, Filled: true}
)

// LabelFunc builds the text shown next to a box.
type LabelFunc func(p roboflow.Prediction) string

// ClassLabel shows the class name only.
func ClassLabel(p roboflow.Prediction) string {
	return p.Class
}

// ClassConfidenceLabel shows "<class> <confidence>".
func ClassConfidenceLabel(p roboflow.Prediction) string {
	return fmt.Sprintf("%s %.2f", p.Class, p.Confidence)
}

// Annotator draws predictions using a shared ColorMap.
type Annotator struct {
	colors *ColorMap
}

func NewAnnotator(colors *ColorMap) *Annotator {
	return &Annotator{colors: colors}
}

// Colors exposes the underlying class color assignment.
func (a *Annotator) Colors() *ColorMap {
	return a.colors
}

// Draw renders every prediction onto mat in place.
func (a *Annotator) Draw(mat *gocv.Mat, predictions []roboflow.Prediction, label LabelFunc, style Style) error {
	for _, p := range predictions {
		x1, y1, x2, y2 := p.Bounds()
		c := a.colors.Get(p.Class)

		if err := gocv.Rectangle(mat, image.Rect(x1, y1, x2, y2), c, style.Thickness); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}

		text := label(p)
		origin := image.Pt(x1, y1-style.LabelAbove)
		textColor := c

		if style.Filled {
			size := gocv.GetTextSize(text, gocv.FontHersheySimplex, style.FontScale, 1)
			bg := image.Rect(x1, origin.Y-size.Y-style.LabelAbove, x1+size.X+2*style.LabelAbove, origin.Y+style.LabelAbove)
			if err := gocv.Rectangle(mat, bg, c, -1); err != nil {
				return fmt.Errorf("failed to draw label background: %w", err)
			}
			origin.X += style.LabelAbove
			textColor = contrast(c)
		}

		thickness := style.Thickness
		if style.Filled {
			thickness = 1
		}
		if err := gocv.PutText(mat, text, origin, gocv.FontHersheySimplex, style.FontScale, textColor, thickness); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}
	return nil
}

// EncodeJPEG copies the encoded bytes out of the native buffer.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// contrast picks black or white text for a background color.
func contrast(c color.RGBA) color.RGBA {
	luma := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	if luma > 140 {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: 255, G: 255, B: 255, A: 255}
}
