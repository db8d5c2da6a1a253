package configdb

import (
	"errors"

	"gorm.io/gorm"
)

// VariableKey is global configuration variables that can be set on the system
type VariableKey string

const (
	VarActiveModel VariableKey = "ActiveModel" // Name of the model that the server runs
)

// GetVariable returns the value of a variable, or an empty string if it has never been set
func (c *ConfigDB) GetVariable(key VariableKey) (string, error) {
	v := Variable{}
	err := c.DB.First(&v, "key = ?", string(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return v.Value, err
}

func (c *ConfigDB) SetVariable(key VariableKey, value string) error {
	return c.DB.Save(&Variable{Key: string(key), Value: value}).Error
}
