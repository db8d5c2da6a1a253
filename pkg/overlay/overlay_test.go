package overlay

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestDrawBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	dets := []nn.Detection{
		{Confidence: 0.95, ClassName: "exit", Box: nn.Rect{X: 0.2, Y: 0.2, Width: 0.5, Height: 0.5}, Color: nn.DefaultColor},
	}
	out := Draw(img, dets, Style{LineWidth: 2})

	// Box edge is green, center and outside remain black
	r, g, b, _ := out.At(20, 45).RGBA()
	require.Equal(t, uint32(0), r)
	require.Greater(t, g, uint32(0x8000))
	require.Equal(t, uint32(0), b)

	r, g, b, _ = out.At(45, 45).RGBA()
	require.Equal(t, []uint32{0, 0, 0}, []uint32{r, g, b})
	r, g, b, _ = out.At(90, 90).RGBA()
	require.Equal(t, []uint32{0, 0, 0}, []uint32{r, g, b})

	// The source is untouched
	require.Equal(t, color.RGBA{}, img.RGBAAt(20, 45))
}

func TestDrawToFile(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	dets := []nn.Detection{
		{Confidence: 0.7, ClassName: "door", Box: nn.Rect{X: 0, Y: 0, Width: 1, Height: 1}, Color: nn.ColorRed},
	}
	filename := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, DrawToFile(img, dets, DefaultStyle(), filename))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 64, 48), decoded.Bounds())
}
