package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Name   string `json:"name" validate:"required"`
	Gender string `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	Age    *int   `json:"age" validate:"omitempty,gte=0,lte=150"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	err := New().Validate(&sample{Gender: "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "gender must be one of")
}

func TestValidateOK(t *testing.T) {
	age := 42
	assert.NoError(t, New().Validate(&sample{Name: "Ravi", Gender: "male", Age: &age}))
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, New().ValidateVar("days", 30, "oneof=7 14 30 60 90"))
	assert.Error(t, New().ValidateVar("days", 31, "oneof=7 14 30 60 90"))
}
