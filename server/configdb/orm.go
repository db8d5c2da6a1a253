package configdb

import "github.com/cyclopcam/camdetect/pkg/nn"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Model is one entry in the model catalog
type Model struct {
	BaseModel
	Name           string  `json:"name"`
	ModelPath      string  `json:"modelPath"`      // Relative to the models directory, eg exit_sign_detector.tflite
	LabelsPath     string  `json:"labelsPath"`     // Relative to the models directory, eg exit-labels.txt
	InputDimension int     `json:"inputDimension"` // Model input is InputDimension x InputDimension
	MinConfidence  float32 `json:"minConfidence"`
	MergeIoU       float32 `gorm:"column:merge_iou" json:"mergeIoU"` // Zero disables merging
}

type Variable struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}

func (m *Model) ToConfig() nn.ModelConfig {
	return nn.ModelConfig{
		Name:           m.Name,
		ModelPath:      m.ModelPath,
		LabelsPath:     m.LabelsPath,
		InputDimension: m.InputDimension,
		MinConfidence:  m.MinConfidence,
		MergeIoU:       m.MergeIoU,
	}
}

func modelFromConfig(c nn.ModelConfig) Model {
	return Model{
		Name:           c.Name,
		ModelPath:      c.ModelPath,
		LabelsPath:     c.LabelsPath,
		InputDimension: c.InputDimension,
		MinConfidence:  c.MinConfidence,
		MergeIoU:       c.MergeIoU,
	}
}
