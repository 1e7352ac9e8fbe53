package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/matrixai/api/internal/model"
	"github.com/matrixai/api/pkg/response"
)

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}

// requestValidationError writes a 400 for a *model.ValidationError
func requestValidationError(c *fiber.Ctx, err *model.ValidationError) error {
	var details interface{}
	if err.Field != "" {
		details = map[string]string{err.Field: err.Message}
	}
	return response.ValidationError(c, err.Error(), details)
}
