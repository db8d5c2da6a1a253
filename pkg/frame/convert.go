package frame

import (
	"github.com/cyclopcam/camdetect/pkg/nn"
)

// Layout of a BGRA pixel
const (
	bgraAlphaComponent   = 3
	bgraLastBgrComponent = 2
)

// ToModelInput converts a tightly packed size x size BGRA buffer into RGB model input.
// Alpha is dropped, and the channel order is swizzled from BGR to RGB.
// If quantized is false, each channel is normalized to [0,1] float32.
func ToModelInput(bgra []byte, size int, quantized bool) (*nn.ModelInput, error) {
	if size <= 0 || len(bgra) != size*size*BytesPerPixel {
		return nil, nn.NewError(nn.ErrMalformedInput, "expected %vx%v BGRA buffer of %v bytes, but got %v bytes", size, size, size*size*BytesPerPixel, len(bgra))
	}

	// The backend copies the input into its tensor, and that copy is fastest from aligned memory
	rgb := PageAlignedAlloc(size * size * nn.InputChannels)
	pixelIndex := 0
	for i, v := range bgra {
		component := i % BytesPerPixel
		if component == bgraAlphaComponent {
			pixelIndex++
			continue
		}
		rgb[pixelIndex*nn.InputChannels+(bgraLastBgrComponent-component)] = v
	}

	if quantized {
		return &nn.ModelInput{Quantized: true, Bytes: rgb}, nil
	}

	floats := make([]float32, len(rgb))
	for i, v := range rgb {
		floats[i] = float32(v) / 255.0
	}
	return &nn.ModelInput{Quantized: false, Floats: floats}, nil
}
