package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError is a malformed Claude request. Message is safe to return to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	// Content validates as present or absent rather than as a struct.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if content, ok := field.Interface().(MessageContent); ok && !content.IsEmpty() {
			return "present"
		}

		return ""
	}, MessageContent{})

	return v
}

// DecodeMessagesRequest parses and validates a Claude request body. Only the first problem
// found is reported.
func DecodeMessagesRequest(body []byte) (*MessagesRequest, error) {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, typeErrorMessage(typeErr)
		}

		return nil, &ValidationError{Message: "invalid request body: " + err.Error()}
	}

	if err := ValidateMessagesRequest(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ValidateMessagesRequest checks top-level fields before any message, matching the order
// in which problems are reported.
func ValidateMessagesRequest(req *MessagesRequest) error {
	if err := validate.Struct(req); err != nil {
		return validationMessage("", err)
	}

	for i := range req.Messages {
		if err := validate.Struct(&req.Messages[i]); err != nil {
			return validationMessage(fmt.Sprintf("messages[%d].", i), err)
		}
	}

	return nil
}

func validationMessage(prefix string, err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	fe := errs[0]
	field := prefix + fe.Field()

	switch {
	case field == "model":
		return &ValidationError{Message: "model is required"}
	case field == "messages":
		return &ValidationError{Message: "messages must be a non-empty array"}
	case field == "max_tokens" && fe.Tag() == "required":
		return &ValidationError{Message: "max_tokens is required"}
	case field == "max_tokens":
		return &ValidationError{Message: "max_tokens must be a positive number"}
	case strings.HasSuffix(field, ".role"):
		return &ValidationError{Message: field + " must be 'user' or 'assistant'"}
	case strings.HasSuffix(field, ".content"):
		return &ValidationError{Message: field + " is required"}
	default:
		return &ValidationError{Message: field + " is invalid"}
	}
}

func typeErrorMessage(err *json.UnmarshalTypeError) error {
	switch {
	case err.Field == "max_tokens":
		return &ValidationError{Message: "max_tokens must be a positive number"}
	case err.Field == "messages":
		return &ValidationError{Message: "messages must be a non-empty array"}
	case err.Field == "model":
		return &ValidationError{Message: "model must be a string"}
	default:
		return &ValidationError{Message: fmt.Sprintf("%s has an invalid type", err.Field)}
	}
}
