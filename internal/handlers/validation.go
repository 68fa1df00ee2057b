package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/BradenHooton/warden/internal/models"
)

// ValidationErrorResponse represents a validation error with field-level details
type ValidationErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const maxBodyBytes = 1 << 16

var (
	// Global validator instance (reused across all handlers)
	validate = newValidator()

	// TOTP (6 digits), backup code (XXXX-XXXX, dash optional) or email OTP
	mfaCodePattern = regexp.MustCompile(`^([0-9]{6}|[A-Za-z0-9]{4}-?[A-Za-z0-9]{4})$`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mfatype", func(fl validator.FieldLevel) bool {
		return models.MfaType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("mfacode", func(fl validator.FieldLevel) bool {
		return mfaCodePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateRequest validates a request struct using go-playground/validator
// Returns a user-friendly error message if validation fails
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			first := ValidationErrorResponse{
				Field:   ve[0].Field(),
				Message: formatValidationError(ve[0]),
			}
			return fmt.Errorf("validation failed: %s: %s", first.Field, first.Message)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// normalizer is implemented by requests that canonicalize input before
// validation.
type normalizer interface {
	Normalize()
}

// decodeAndValidate reads a JSON body into dst and validates it. An empty
// body is treated as an empty object so handlers with optional fields work.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body", models.ErrInvalidRequest)
	}
	if n, ok := dst.(normalizer); ok {
		n.Normalize()
	}
	if err := ValidateRequest(dst); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidRequest, err.Error())
	}
	return nil
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "mfatype":
		return "must be one of: TOTP BackupCode EmailOTP"
	case "mfacode":
		return "invalid code format"
	case "uuid":
		return "must be a valid id"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
