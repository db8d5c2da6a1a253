// Package tfbackend runs TensorFlow Lite models, via the tflite C API.
package tfbackend

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/mattn/go-tflite"
)

// Backend is a loaded tflite interpreter
type Backend struct {
	log         logs.Log
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	closeOnce   sync.Once
}

// Loader returns an nn.BackendLoader that sends interpreter messages to log
func Loader(log logs.Log) nn.BackendLoader {
	return func(modelPath string, threadCount int) (nn.Backend, error) {
		b, err := Load(log, modelPath, threadCount)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Load reads a .tflite flatbuffer from disk and allocates its tensors
func Load(log logs.Log, modelPath string, threadCount int) (*Backend, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, err
	}
	b := &Backend{
		log: log,
	}
	b.model = tflite.NewModelFromFile(modelPath)
	if b.model == nil {
		return nil, fmt.Errorf("Failed to read tflite model from '%v'", modelPath)
	}

	b.options = tflite.NewInterpreterOptions()
	if b.options == nil {
		b.Close()
		return nil, errors.New("Failed to create interpreter options")
	}
	b.options.SetNumThread(threadCount)
	b.options.SetErrorReporter(func(msg string, userData interface{}) {
		log.Warnf("tflite: %v", msg)
	}, nil)

	b.interpreter = tflite.NewInterpreter(b.model, b.options)
	if b.interpreter == nil {
		b.Close()
		return nil, errors.New("Failed to create interpreter")
	}

	if err := StatusToErr(b.interpreter.AllocateTensors(), "allocate tensors"); err != nil {
		b.Close()
		return nil, err
	}

	if b.interpreter.GetInputTensorCount() < 1 {
		b.Close()
		return nil, errors.New("Model has no input tensor")
	}
	if n := b.interpreter.GetOutputTensorCount(); n < 4 {
		b.Close()
		return nil, fmt.Errorf("Model has %v output tensors, but a detection model needs 4", n)
	}

	return b, nil
}

// StatusToErr converts a non-OK tflite status into an error
func StatusToErr(status tflite.Status, what string) error {
	if status != tflite.OK {
		return fmt.Errorf("tflite %v failed (status %v)", what, status)
	}
	return nil
}

func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		if b.interpreter != nil {
			b.interpreter.Delete()
		}
		if b.options != nil {
			b.options.Delete()
		}
		if b.model != nil {
			b.model.Delete()
		}
	})
}

// InputIsQuantized returns true if the image input tensor holds uint8 values
func (b *Backend) InputIsQuantized() bool {
	return b.interpreter.GetInputTensor(nn.InputSlotImage).Type() == tflite.UInt8
}

// InputShape returns the [batch, height, width, channels] dimensions of the image input tensor
func (b *Backend) InputShape() []int {
	t := b.interpreter.GetInputTensor(nn.InputSlotImage)
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}

func (b *Backend) SetInput(slot int, input *nn.ModelInput) error {
	t := b.interpreter.GetInputTensor(slot)
	if t == nil {
		return fmt.Errorf("No input tensor at slot %v", slot)
	}
	if input.Quantized {
		if t.Type() != tflite.UInt8 {
			return fmt.Errorf("Input tensor is %v, but input is uint8", t.Type())
		}
		if len(input.Bytes) != int(t.ByteSize()) {
			return fmt.Errorf("Input tensor holds %v bytes, but input has %v", t.ByteSize(), len(input.Bytes))
		}
		return StatusToErr(t.CopyFromBuffer(input.Bytes), "copy input")
	}
	if t.Type() != tflite.Float32 {
		return fmt.Errorf("Input tensor is %v, but input is float32", t.Type())
	}
	if len(input.Floats)*4 != int(t.ByteSize()) {
		return fmt.Errorf("Input tensor holds %v bytes, but input has %v", t.ByteSize(), len(input.Floats)*4)
	}
	return StatusToErr(t.CopyFromBuffer(input.Floats), "copy input")
}

func (b *Backend) Invoke() error {
	return StatusToErr(b.interpreter.Invoke(), "invoke")
}

// Output returns a copy of a float32 output tensor.
// The interpreter reuses its output memory on the next Invoke, so we never return it directly.
func (b *Backend) Output(slot int) ([]float32, error) {
	if slot < 0 || slot >= b.interpreter.GetOutputTensorCount() {
		return nil, fmt.Errorf("No output tensor at slot %v", slot)
	}
	t := b.interpreter.GetOutputTensor(slot)
	if t.Type() != tflite.Float32 {
		return nil, fmt.Errorf("Output tensor %v is %v, but expected float32", slot, t.Type())
	}
	src := t.Float32s()
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}
