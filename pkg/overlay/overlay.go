// Package overlay draws detection boxes on top of an image
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Style controls how boxes are drawn. Sizes are in pixels.
type Style struct {
	LineWidth float64
	FontSize  float64 // Zero disables labels
}

func DefaultStyle() Style {
	return Style{
		LineWidth: 3,
		FontSize:  14,
	}
}

// Draw returns a copy of img with a box around every detection.
// Detection boxes are normalized, so they are scaled up to the size of img.
func Draw(img image.Image, detections []nn.Detection, style Style) image.Image {
	dc := gg.NewContextForImage(img)
	w := float32(dc.Width())
	h := float32(dc.Height())
	if style.FontSize > 0 {
		dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: style.FontSize}))
	}
	for _, d := range detections {
		box := d.Box.Clip().Scale(w, h)
		r, g, b := d.Color.RGB()
		c := color.RGBA{r, g, b, 255}

		dc.SetColor(c)
		dc.SetLineWidth(style.LineWidth)
		dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
		dc.Stroke()

		if style.FontSize > 0 {
			label := fmt.Sprintf("%v %.0f%%", d.ClassName, d.Confidence*100)
			tw, th := dc.MeasureString(label)
			// Place the label above the box, unless that would put it off the top of the image
			ty := float64(box.Y) - 2
			if ty-th < 0 {
				ty = float64(box.Y) + th + 2
			}
			dc.SetColor(color.RGBA{0, 0, 0, 160})
			dc.DrawRectangle(float64(box.X), ty-th-1, tw+4, th+4)
			dc.Fill()
			dc.SetColor(c)
			dc.DrawString(label, float64(box.X)+2, ty)
		}
	}
	return dc.Image()
}

// DrawToFile draws the detections onto img, and saves the result as a PNG
func DrawToFile(img image.Image, detections []nn.Detection, style Style, pngFilename string) error {
	out := Draw(img, detections, style)
	return gg.SavePNG(pngFilename, out)
}
