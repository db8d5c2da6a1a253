package frame

import (
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/camdetect/pkg/nn"
)

// Scale resizes a BGRA frame to size x size, for a square model input.
// The whole frame is squashed into the square, so a non-square frame is distorted.
// The source is only read, and the returned frame owns new memory.
func Scale(src Frame, size int) (*Frame, error) {
	if src.Format != cimg.PixelFormatBGRA {
		return nil, nn.NewError(nn.ErrMalformedInput, "can only scale BGRA frames, not %v", src.Format)
	}
	if size <= 0 {
		return nil, nn.NewError(nn.ErrMalformedInput, "invalid target size %v", size)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	dst := NewBGRA(size, size)

	if src.Width == size && src.Height == size {
		// Straight copy. We don't want a resampling filter touching the pixels at 1:1.
		for y := 0; y < size; y++ {
			copy(dst.Row(y), src.Row(y))
		}
		return dst, nil
	}

	resizeParams := cimg.ResizeParams{CheapSRGBFilter: true}
	if size < src.Width || size < src.Height {
		// Box filter for downsampling, in case we have a massive ratio
		resizeParams.Filter = cimg.ResizeFilterBox
	} else {
		// Triangle is bilinear on upsampling
		resizeParams.Filter = cimg.ResizeFilterTriangle
	}
	if err := cimg.Resize(src.CImage(), dst.CImage(), &resizeParams); err != nil {
		return nil, nn.WrapError(nn.ErrMalformedInput, err, "resize %vx%v to %vx%v", src.Width, src.Height, size, size)
	}
	return dst, nil
}
