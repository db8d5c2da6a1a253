package configdb

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/camdetect/pkg/nn"
	"gorm.io/gorm"
)

var ErrEmptyCatalog = errors.New("Can not operate on a catalog with no models added")
var ErrModelNotInCatalog = errors.New("Model is not in the catalog")

// DefaultModels are the models that a fresh catalog is populated with
func DefaultModels() []nn.ModelConfig {
	return []nn.ModelConfig{
		{Name: "Blurry Text: Total Text", ModelPath: "text_detector_blur.tflite", LabelsPath: "text-labels.txt", InputDimension: 400, MinConfidence: 0.50},
		{Name: "Exit Sign Detector", ModelPath: "exit_sign_detector.tflite", LabelsPath: "exit-labels.txt", InputDimension: 300, MinConfidence: 0.70},
		{Name: "300 Inception Exit Sign Detector", ModelPath: "exit_inception_48k_detector.tflite", LabelsPath: "exit-labels.txt", InputDimension: 300, MinConfidence: 0.50},
	}
}

// AddModel adds a model to the catalog.
// If a model with the same name already exists, it is replaced.
// Model and labels paths must be relative to the models directory.
func (c *ConfigDB) AddModel(config nn.ModelConfig) error {
	if config.Name == "" {
		return fmt.Errorf("Model name may not be empty")
	}
	if err := config.Validate(); err != nil {
		return err
	}
	if err := config.ValidateLocalPaths(); err != nil {
		return err
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		existing := Model{}
		err := tx.First(&existing, "name = ?", config.Name).Error
		m := modelFromConfig(config)
		if err == nil {
			m.ID = existing.ID
			return tx.Save(&m).Error
		} else if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&m).Error
		}
		return err
	})
}

// Models returns the whole catalog, in insertion order
func (c *ConfigDB) Models() ([]Model, error) {
	models := []Model{}
	if err := c.DB.Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}

// ModelNames returns the names of all models in the catalog.
// Returns ErrEmptyCatalog if there are no models.
func (c *ConfigDB) ModelNames() ([]string, error) {
	models, err := c.Models()
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, ErrEmptyCatalog
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names, nil
}

// GetModel returns the model with the given name, or ErrModelNotInCatalog
func (c *ConfigDB) GetModel(name string) (*Model, error) {
	m := Model{}
	err := c.DB.First(&m, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: '%v'", ErrModelNotInCatalog, name)
	} else if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetActiveModel selects the model that the server will run, and persists the choice.
// The active model is unchanged if name is not in the catalog.
func (c *ConfigDB) SetActiveModel(name string) error {
	if _, err := c.GetModel(name); err != nil {
		return err
	}
	c.Log.Infof("Active model is now '%v'", name)
	return c.SetVariable(VarActiveModel, name)
}

// ActiveModel returns the configuration of the active model.
// If no model has been selected yet, or the selected model was since removed, the first model in the catalog is active.
// Returns ErrEmptyCatalog if there are no models.
func (c *ConfigDB) ActiveModel() (nn.ModelConfig, error) {
	name, err := c.GetVariable(VarActiveModel)
	if err != nil {
		return nn.ModelConfig{}, err
	}
	if name != "" {
		m, err := c.GetModel(name)
		if err == nil {
			return m.ToConfig(), nil
		} else if !errors.Is(err, ErrModelNotInCatalog) {
			return nn.ModelConfig{}, err
		}
		c.Log.Warnf("Active model '%v' is no longer in the catalog", name)
	}
	first := Model{}
	err = c.DB.Order("id").First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nn.ModelConfig{}, ErrEmptyCatalog
	} else if err != nil {
		return nn.ModelConfig{}, err
	}
	return first.ToConfig(), nil
}

// RemoveModel deletes a model from the catalog
func (c *ConfigDB) RemoveModel(name string) error {
	res := c.DB.Where("name = ?", name).Delete(&Model{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: '%v'", ErrModelNotInCatalog, name)
	}
	return nil
}
