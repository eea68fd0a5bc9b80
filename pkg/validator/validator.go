package validator

import (
	"context"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags on request payloads.
func Validate(ctx context.Context, s interface{}) error {
	return validate.StructCtx(ctx, s)
}
