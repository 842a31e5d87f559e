package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/t402-io/t402-go/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ParseVerifyRequest parses and validates a verify/settle request body.
func ParseVerifyRequest(data []byte) (*types.VerifyRequest, error) {
	var req types.VerifyRequest

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.NewInvalidInputError("failed to parse request body", err)
	}
	if err := validate.Struct(&req.PaymentPayload); err != nil {
		return nil, types.NewInvalidInputError(fmt.Sprintf("invalid paymentPayload: %v", err), nil)
	}
	if err := req.Validate(); err != nil {
		return nil, types.NewInvalidInputError(err.Error(), nil)
	}
	return &req, nil
}

// ParsePaymentRequirements parses and validates PaymentRequirements JSON.
func ParsePaymentRequirements(data []byte) (*types.PaymentRequirements, error) {
	var req types.PaymentRequirements

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.NewInvalidInputError("failed to parse payment requirements", err)
	}
	if err := validate.Struct(&req); err != nil {
		return nil, types.NewInvalidInputError(fmt.Sprintf("invalid payment requirements: %v", err), nil)
	}
	if err := req.Validate(); err != nil {
		return nil, types.NewInvalidInputError(err.Error(), nil)
	}
	return &req, nil
}

// DecodeInto decodes a scheme-specific inner payload into its typed shape.
// Decode failures are reported as invalid input, never as a panic.
func DecodeInto(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return types.NewInvalidInputError("empty scheme payload", nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.NewInvalidInputError("scheme payload does not match expected shape", err)
	}
	return nil
}
