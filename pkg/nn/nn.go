package nn

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Package nn is the neural network interface layer for SSD style object detectors.
// It defines the model configuration, the backend contract, and the decoding of
// raw detection tensors. To load a model into a runnable session, use the nnload package.

// Number of threads that the backend interpreter is allowed to use
const DefaultThreadCount = 4

// Output tensor slots of an SSD detection head
const (
	OutputSlotBoxes   = 0 // N x 4 floats, normalized [top, left, bottom, right]
	OutputSlotClasses = 1 // N floats
	OutputSlotScores  = 2 // N floats
	OutputSlotCount   = 3 // 1 float
)

// Input tensor slot that receives the RGB image
const InputSlotImage = 0

// Number of channels in the model input image (RGB)
const InputChannels = 3

// ModelConfig describes one selectable detection model.
// Callers assume that ModelConfig will remain constant, so don't change it
// once a session has been created from it.
type ModelConfig struct {
	Name           string  `json:"name"`           // eg "Exit Sign Detector"
	ModelPath      string  `json:"modelPath"`      // eg "exit_sign_detector.tflite"
	LabelsPath     string  `json:"labelsPath"`     // eg "exit-labels.txt"
	InputDimension int     `json:"inputDimension"` // Side of the square model input, eg 300
	MinConfidence  float32 `json:"minConfidence"`  // Value between 0 and 1. Detections below this are discarded.
	MergeIoU       float32 `json:"mergeIoU"`       // If greater than zero, same-class boxes that overlap by this much are merged. See MergeOverlapping.
}

// Validate returns a MalformedInput error if the config cannot be used to build a session
func (c *ModelConfig) Validate() error {
	if c.ModelPath == "" {
		return NewError(ErrMalformedInput, "model '%v' has no model path", c.Name)
	}
	if c.LabelsPath == "" {
		return NewError(ErrMalformedInput, "model '%v' has no labels path", c.Name)
	}
	if c.InputDimension <= 0 {
		return NewError(ErrMalformedInput, "model '%v' has invalid input dimension %v", c.Name, c.InputDimension)
	}
	if !(c.MinConfidence >= 0 && c.MinConfidence <= 1) {
		return NewError(ErrMalformedInput, "model '%v' has min confidence %v outside of [0,1]", c.Name, c.MinConfidence)
	}
	if !(c.MergeIoU >= 0 && c.MergeIoU <= 1) {
		return NewError(ErrMalformedInput, "model '%v' has merge IoU %v outside of [0,1]", c.Name, c.MergeIoU)
	}
	return nil
}

// ValidateLocalPaths returns a MalformedInput error unless ModelPath and LabelsPath are
// relative paths that stay inside the models directory. Catalog entries must pass this,
// whereas a config loaded from a file on the command line may use absolute paths.
func (c *ModelConfig) ValidateLocalPaths() error {
	for _, p := range []string{c.ModelPath, c.LabelsPath} {
		if !filepath.IsLocal(p) {
			return NewError(ErrMalformedInput, "model '%v' path '%v' must be relative to the models directory", c.Name, p)
		}
	}
	return nil
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// ModelInput is the dense RGB image that is copied into the backend's input tensor.
// Exactly one of Bytes or Floats is populated, depending on Quantized.
type ModelInput struct {
	Quantized bool      // If true, Bytes holds raw uint8 pixels. Otherwise Floats holds pixels normalized to [0,1].
	Bytes     []byte    // Size x Size x 3
	Floats    []float32 // Size x Size x 3
}

// Len returns the number of channel values in the input
func (m *ModelInput) Len() int {
	if m.Quantized {
		return len(m.Bytes)
	}
	return len(m.Floats)
}

// Backend is a loaded inference runtime, with tensors already allocated.
// A Backend is not safe for concurrent use.
type Backend interface {
	// Close releases the runtime (you MUST call this when finished, because it's a C++ object underneath)
	Close()

	// InputIsQuantized returns true if the input tensor expects uint8 pixels rather than float32
	InputIsQuantized() bool

	// SetInput copies the image into the input tensor at 'slot'
	SetInput(slot int, input *ModelInput) error

	// Invoke runs the model
	Invoke() error

	// Output returns a copy of the output tensor at 'slot' as a flat float array
	Output(slot int) ([]float32, error)
}

// BackendLoader loads a model file and allocates its tensors
type BackendLoader func(modelPath string, threadCount int) (Backend, error)

// Load a text file with class names on each line
func LoadClassFile(filename string) (LabelTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLabels(f)
}

// ReadLabels reads newline separated class names. Empty lines are skipped.
func ReadLabels(r io.Reader) (LabelTable, error) {
	classes := LabelTable{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return classes, nil
}
