// Package session runs frames through a loaded detection model.
//
// A Session executes synchronously on the caller's goroutine. It owns no threads,
// and performs no queueing. The busy flag is advisory: a camera feed should use
// TryRunOnFrame, or check IsProcessing(), and drop the frame if the session is still
// busy with the previous one. If a caller ignores the flag and runs two frames at once, both run to
// completion, but the backend itself may not be safe for concurrent use.
package session

import (
	"errors"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/cyclopcam/camdetect/pkg/frame"
	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/camdetect/pkg/perfstats"
	"github.com/cyclopcam/logs"
)

// Resources resolves model and labels identifiers.
// A missing resource must produce an error that wraps fs.ErrNotExist, so that
// it can be told apart from a resource that exists but cannot be read.
type Resources interface {
	// Locate returns a filesystem path for the resource
	Locate(name string) (string, error)

	// Open opens the resource for reading
	Open(name string) (io.ReadCloser, error)
}

// Minimum interval between repeated per-frame error messages
const errorLogInterval = 15 * time.Second

type Session struct {
	log     logs.Log
	config  nn.ModelConfig
	labels  nn.LabelTable
	backend nn.Backend
	stats   perfstats.PipelineStats

	lock         sync.Mutex // Guards isProcessing and lastErrAt
	isProcessing bool
	lastErrAt    time.Time
}

// New loads the model and labels named by config.
// On failure no session is returned, and the error is one of nn.ErrMalformedInput,
// nn.ErrModelNotFound, nn.ErrLabelsNotFound or nn.ErrBackendInitFailure.
func New(log logs.Log, config nn.ModelConfig, resources Resources, loader nn.BackendLoader) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Infof("Loading model '%v' (model %v, labels %v)", config.Name, config.ModelPath, config.LabelsPath)

	modelPath, err := resources.Locate(config.ModelPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nn.WrapError(nn.ErrModelNotFound, err, "model file '%v' does not exist", config.ModelPath)
	} else if err != nil {
		return nil, nn.WrapError(nn.ErrBackendInitFailure, err, "unable to locate model file '%v'", config.ModelPath)
	}

	labels, err := readLabels(resources, config.LabelsPath)
	if err != nil {
		return nil, err
	}

	backend, err := loader(modelPath, nn.DefaultThreadCount)
	if err != nil {
		log.Errorf("Failed to create the interpreter for '%v': %v", config.Name, err)
		return nil, nn.WrapError(nn.ErrBackendInitFailure, err, "failed to load model '%v'", config.Name)
	}

	log.Infof("Successfully loaded model '%v' with %v classes", config.Name, len(labels.Classes()))

	return &Session{
		log:     log,
		config:  config,
		labels:  labels,
		backend: backend,
	}, nil
}

func readLabels(resources Resources, name string) (nn.LabelTable, error) {
	r, err := resources.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nn.WrapError(nn.ErrLabelsNotFound, err, "labels file '%v' does not exist", name)
	} else if err != nil {
		return nil, nn.WrapError(nn.ErrMalformedInput, err, "labels file '%v' cannot be opened", name)
	}
	defer r.Close()
	labels, err := nn.ReadLabels(r)
	if err != nil {
		return nil, nn.WrapError(nn.ErrMalformedInput, err, "labels file '%v' cannot be read", name)
	}
	if len(labels) == 0 {
		return nil, nn.NewError(nn.ErrMalformedInput, "labels file '%v' is empty", name)
	}
	return labels, nil
}

// Close releases the backend
func (s *Session) Close() {
	s.backend.Close()
}

// Config returns the model configuration that the session was created with
func (s *Session) Config() nn.ModelConfig {
	return s.config
}

func (s *Session) Labels() nn.LabelTable {
	return s.labels
}

// Stats returns timing averages and outcome counts
func (s *Session) Stats() perfstats.Snapshot {
	return s.stats.Snapshot()
}

// IsProcessing returns true while a frame is being run.
// This is a hint for the caller, not a lock.
func (s *Session) IsProcessing() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.isProcessing
}

func (s *Session) setIsProcessing(v bool) {
	s.lock.Lock()
	s.isProcessing = v
	s.lock.Unlock()
}

// RunOnFrame scales, converts and runs one camera frame through the model.
// Returns nil if the frame could not be processed, or if the model found nothing.
// Failures are logged, and never fatal, so the next frame can be submitted as usual.
// The frame's pixels are not retained after this call returns.
func (s *Session) RunOnFrame(f frame.Frame) *nn.InferenceResult {
	s.setIsProcessing(true)
	defer s.setIsProcessing(false)
	return s.process(f)
}

// TryRunOnFrame is like RunOnFrame, but if another frame is already being run, it
// returns immediately with busy = true. Checking and claiming the session is a single
// step, so concurrent callers never reach the backend at the same time.
func (s *Session) TryRunOnFrame(f frame.Frame) (result *nn.InferenceResult, busy bool) {
	s.lock.Lock()
	if s.isProcessing {
		s.lock.Unlock()
		return nil, true
	}
	s.isProcessing = true
	s.lock.Unlock()
	defer s.setIsProcessing(false)
	return s.process(f), false
}

func (s *Session) process(f frame.Frame) *nn.InferenceResult {
	s.stats.Frames.Add(1)

	result, err := s.run(f)
	if err != nil {
		s.stats.Failed.Add(1)
		s.logFrameError(err)
		return nil
	}
	if result == nil {
		s.stats.Empty.Add(1)
		return nil
	}
	s.stats.Detected.Add(1)
	return result
}

func (s *Session) run(f frame.Frame) (*nn.InferenceResult, error) {
	if !frame.Is32Bit(f.Format) {
		return nil, nn.NewError(nn.ErrMalformedInput, "frame pixel format %v is not 32-bit", f.Format)
	}

	start := time.Now()
	dim := s.config.InputDimension
	scaled, err := frame.Scale(f, dim)
	if err != nil {
		return nil, err
	}
	input, err := frame.ToModelInput(scaled.Pixels, dim, s.backend.InputIsQuantized())
	if err != nil {
		return nil, err
	}
	s.stats.AddPrep(time.Since(start))

	if err := s.backend.SetInput(nn.InputSlotImage, input); err != nil {
		return nil, nn.WrapError(nn.ErrBackendInvocationFailure, err, "copy input")
	}

	start = time.Now()
	if err := s.backend.Invoke(); err != nil {
		return nil, nn.WrapError(nn.ErrBackendInvocationFailure, err, "invoke")
	}
	elapsed := time.Since(start)
	s.stats.AddInference(elapsed)

	tensors, err := nn.ReadDetectionTensors(s.backend)
	if err != nil {
		return nil, nn.WrapError(nn.ErrBackendInvocationFailure, err, "read outputs")
	}

	count := nn.CountFromTensor(tensors.Count)
	if count == 0 {
		return nil, nil
	}

	dets := nn.DecodeDetections(tensors, count, s.labels, s.config.MinConfidence)
	dets = nn.MergeOverlapping(dets, s.config.MergeIoU)

	return &nn.InferenceResult{
		InferenceTimeMillis: float64(elapsed.Nanoseconds()) / 1e6,
		Detections:          dets,
	}, nil
}

func (s *Session) logFrameError(err error) {
	s.lock.Lock()
	now := time.Now()
	shouldLog := now.Sub(s.lastErrAt) > errorLogInterval
	if shouldLog {
		s.lastErrAt = now
	}
	s.lock.Unlock()
	if shouldLog {
		s.log.Errorf("Failed to run model '%v' on frame: %v", s.config.Name, err)
	}
}
