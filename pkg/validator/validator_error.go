package validator

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/marcodd23/go-txqueue/pkg/logx"
)

// ValidationError - Errors for tags validation.
type ValidationError struct {
	errors []*ValidationErrorResponse
}

// ValidationErrorResponse - Struct for the validation error.
type ValidationErrorResponse struct {
	FailedField string `json:"failedField"`
	Tag         string `json:"tag"`
	Value       string `json:"value,omitempty"`
}

// NewValidationError - ValidationError constructor.
func NewValidationError(errors []*ValidationErrorResponse) *ValidationError {
	return &ValidationError{errors: errors}
}

func (v *ValidationError) Error() string {
	data, err := json.Marshal(v.errors)
	if err != nil {
		logx.GetLogger().LogError(context.TODO(), "Error marshalling -Validation Error- to JSON:", err)
		return ""
	}

	return string(data)
}

// GetErrorsDetails - return the errors.
func (v *ValidationError) GetErrorsDetails() []*ValidationErrorResponse {
	return v.errors
}
