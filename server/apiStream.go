package server

import (
	"encoding/binary"
	"net/http"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/camdetect/pkg/frame"
	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Size of the header at the start of every binary stream frame
const streamHeaderSize = 12

// Message types sent back to the stream client
const (
	StreamMsgResult  = "result"
	StreamMsgSkipped = "skipped"
	StreamMsgEmpty   = "empty"
	StreamMsgError   = "error"
)

// StreamMessage is sent as a text message for every frame that the client sends
type StreamMessage struct {
	Type   string              `json:"type"`
	Result *nn.InferenceResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// EncodeStreamFrame builds a binary stream message out of a BGRA frame
func EncodeStreamFrame(f frame.Frame) []byte {
	msg := make([]byte, streamHeaderSize, streamHeaderSize+len(f.Pixels))
	binary.LittleEndian.PutUint32(msg[0:], uint32(f.Width))
	binary.LittleEndian.PutUint32(msg[4:], uint32(f.Height))
	binary.LittleEndian.PutUint32(msg[8:], uint32(f.Stride))
	return append(msg, f.Pixels...)
}

// DecodeStreamFrame parses a binary stream message.
// The returned frame shares memory with msg.
func DecodeStreamFrame(msg []byte) (frame.Frame, error) {
	if len(msg) < streamHeaderSize {
		return frame.Frame{}, nn.NewError(nn.ErrMalformedInput, "stream frame is only %v bytes", len(msg))
	}
	f := frame.Frame{
		Width:  int(binary.LittleEndian.Uint32(msg[0:])),
		Height: int(binary.LittleEndian.Uint32(msg[4:])),
		Stride: int(binary.LittleEndian.Uint32(msg[8:])),
		Format: cimg.PixelFormatBGRA,
		Pixels: msg[streamHeaderSize:],
	}
	if err := f.Validate(); err != nil {
		return frame.Frame{}, err
	}
	return f, nil
}

// The client sends BGRA frames as binary messages, and we reply to each one with
// a StreamMessage. Frames are processed in order, one at a time.
func (s *Server) httpStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpStream websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()
	c.SetReadLimit(streamHeaderSize + maxFrameBytes)

	s.Log.Infof("Frame stream from %v starting", r.RemoteAddr)
	nFrames := 0
	for {
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Log.Warnf("Frame stream read error: %v", err)
			}
			break
		}
		reply := s.streamReply(msgType, msg)
		if err := c.WriteJSON(reply); err != nil {
			s.Log.Warnf("Frame stream write error: %v", err)
			break
		}
		nFrames++
	}
	s.Log.Infof("Frame stream from %v finished after %v frames", r.RemoteAddr, nFrames)
}

func (s *Server) streamReply(msgType int, msg []byte) StreamMessage {
	if msgType != websocket.BinaryMessage {
		return StreamMessage{Type: StreamMsgError, Error: "Frames must be sent as binary messages"}
	}
	f, err := DecodeStreamFrame(msg)
	if err != nil {
		return StreamMessage{Type: StreamMsgError, Error: err.Error()}
	}
	result, outcome := s.runFrame(f)
	switch outcome {
	case frameResult:
		return StreamMessage{Type: StreamMsgResult, Result: result}
	case frameBusy:
		return StreamMessage{Type: StreamMsgSkipped}
	case frameNoModel:
		return StreamMessage{Type: StreamMsgError, Error: "No model is loaded"}
	}
	return StreamMessage{Type: StreamMsgEmpty}
}
