package server

import (
	"net/http"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/camdetect/pkg/frame"
	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/camdetect/pkg/session"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Largest frame body that we'll accept (4096 x 4096 BGRA)
const maxFrameBytes = 4096 * 4096 * frame.BytesPerPixel

// Largest JPEG body that we'll accept
const maxJPEGBytes = 16 * 1024 * 1024

type frameOutcome int

const (
	frameResult  frameOutcome = iota // The model produced a result
	frameEmpty                       // No result (nothing detected, or the frame failed inside the session)
	frameBusy                        // The session was busy with another frame, so this frame was dropped
	frameNoModel                     // No model is loaded
)

// Run a validated frame through the active session.
// Like a camera callback, we drop the frame if the session is already busy.
// Many requests hold the session read lock at once, so the busy check must also claim the session.
func (s *Server) runFrame(f frame.Frame) (*nn.InferenceResult, frameOutcome) {
	var result *nn.InferenceResult
	outcome := frameEmpty
	s.withSession(func(sess *session.Session) {
		if sess == nil {
			outcome = frameNoModel
			return
		}
		var busy bool
		result, busy = sess.TryRunOnFrame(f)
		if busy {
			outcome = frameBusy
			return
		}
		if result != nil {
			outcome = frameResult
			s.recent.add(sess.Config().Name, result)
		}
	})
	return result, outcome
}

func (s *Server) sendFrameOutcome(w http.ResponseWriter, result *nn.InferenceResult, outcome frameOutcome) {
	switch outcome {
	case frameResult:
		www.SendJSON(w, result)
	case frameEmpty:
		w.WriteHeader(http.StatusNoContent)
	case frameBusy:
		www.Panic(http.StatusTooManyRequests, "Session is busy")
	case frameNoModel:
		www.Panic(http.StatusServiceUnavailable, "No model is loaded")
	}
}

// Body is raw BGRA pixels. Stride defaults to width * 4.
func (s *Server) httpDetect(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	width := www.RequiredQueryInt(r, "width")
	height := www.RequiredQueryInt(r, "height")
	stride := www.QueryInt(r, "stride")
	if stride == 0 {
		stride = width * frame.BytesPerPixel
	}
	body := www.ReadLimited(w, r, maxFrameBytes)
	f := frame.Frame{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: cimg.PixelFormatBGRA,
		Pixels: body,
	}
	if err := f.Validate(); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	result, outcome := s.runFrame(f)
	s.sendFrameOutcome(w, result, outcome)
}

// Body is a JPEG image
func (s *Server) httpDetectJPEG(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	body := www.ReadLimited(w, r, maxJPEGBytes)
	img, err := cimg.Decompress(body)
	if err != nil {
		www.PanicBadRequestf("Failed to decode JPEG: %v", err)
	}
	f, err := frame.FromCImage(img)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	result, outcome := s.runFrame(*f)
	s.sendFrameOutcome(w, result, outcome)
}
