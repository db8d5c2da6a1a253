// Package frame prepares camera frames for a detection model.
// Frames are packed 32-bit BGRA, as delivered by the camera. Scale produces the
// square model-sized frame, and ToModelInput turns that into the dense RGB
// tensor data that the backend consumes.
package frame

import (
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/camdetect/pkg/nn"
)

// Bytes per pixel of a packed 32-bit frame
const BytesPerPixel = 4

// Largest frame that Validate accepts. These keep the size arithmetic far from overflow.
const (
	MaxDimension = 1 << 16
	MaxStride    = MaxDimension * BytesPerPixel * 4
)

// Frame is a view of a packed 32-bit image.
// When a Frame comes from the camera, the pixel memory is borrowed for the duration
// of one call, so nothing in this package holds onto it after returning.
type Frame struct {
	Width  int
	Height int
	Stride int              // Bytes between rows. Must be at least Width*4.
	Format cimg.PixelFormat // Byte order of each pixel. Only BGRA can be scaled.
	Pixels []byte
}

// Wrap a tightly packed BGRA buffer
func WrapBGRA(width, height int, pixels []byte) Frame {
	return Frame{
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
		Format: cimg.PixelFormatBGRA,
		Pixels: pixels,
	}
}

// Allocate a tightly packed BGRA frame
func NewBGRA(width, height int) *Frame {
	f := WrapBGRA(width, height, PageAlignedAlloc(width*height*BytesPerPixel))
	return &f
}

// Is32Bit returns true if the pixel format is one of the packed 32-bit formats that cameras deliver
func Is32Bit(pf cimg.PixelFormat) bool {
	switch pf {
	case cimg.PixelFormatBGRA, cimg.PixelFormatRGBA, cimg.PixelFormatARGB:
		return true
	}
	return false
}

// Validate checks that the dimensions, stride and buffer size agree with each other
func (f *Frame) Validate() error {
	if !Is32Bit(f.Format) {
		return nn.NewError(nn.ErrMalformedInput, "unsupported pixel format %v", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 || f.Width > MaxDimension || f.Height > MaxDimension {
		return nn.NewError(nn.ErrMalformedInput, "invalid frame size %vx%v", f.Width, f.Height)
	}
	if f.Stride > MaxStride {
		return nn.NewError(nn.ErrMalformedInput, "stride %v is too large", f.Stride)
	}
	if f.Stride < f.Width*BytesPerPixel {
		return nn.NewError(nn.ErrMalformedInput, "stride %v is too small for width %v", f.Stride, f.Width)
	}
	need := (f.Height-1)*f.Stride + f.Width*BytesPerPixel
	if len(f.Pixels) < need {
		return nn.NewError(nn.ErrMalformedInput, "frame %vx%v (stride %v) needs %v bytes, but buffer has %v", f.Width, f.Height, f.Stride, need, len(f.Pixels))
	}
	return nil
}

// Return the bytes of row y (without any stride padding)
func (f *Frame) Row(y int) []byte {
	return f.Pixels[y*f.Stride : y*f.Stride+f.Width*BytesPerPixel]
}

// Wrap the frame as a cimg image, sharing the pixel memory
func (f *Frame) CImage() *cimg.Image {
	return cimg.WrapImageStrided(f.Width, f.Height, f.Format, f.Pixels, f.Stride)
}

// FromCImage converts a decoded image (eg from a JPEG) into a new BGRA frame.
// Supported source formats are RGB, BGR, RGBA, BGRA and GRAY.
func FromCImage(img *cimg.Image) (*Frame, error) {
	var ri, gi, bi, nchan int
	switch img.Format {
	case cimg.PixelFormatRGB:
		ri, gi, bi, nchan = 0, 1, 2, 3
	case cimg.PixelFormatBGR:
		ri, gi, bi, nchan = 2, 1, 0, 3
	case cimg.PixelFormatRGBA:
		ri, gi, bi, nchan = 0, 1, 2, 4
	case cimg.PixelFormatBGRA:
		ri, gi, bi, nchan = 2, 1, 0, 4
	case cimg.PixelFormatGRAY:
		ri, gi, bi, nchan = 0, 0, 0, 1
	default:
		return nil, nn.NewError(nn.ErrMalformedInput, "unsupported image format %v", img.Format)
	}
	dst := NewBGRA(img.Width, img.Height)
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride : y*img.Stride+img.Width*nchan]
		out := dst.Row(y)
		for x := 0; x < img.Width; x++ {
			p := src[x*nchan : x*nchan+nchan]
			out[x*4] = p[bi]
			out[x*4+1] = p[gi]
			out[x*4+2] = p[ri]
			out[x*4+3] = 255
		}
	}
	return dst, nil
}

// ToRGBA copies a BGRA frame into a standard library image, for drawing
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			dst[x*4] = src[x*4+2]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4]
			dst[x*4+3] = src[x*4+3]
		}
	}
	return img
}
