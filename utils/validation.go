// Package utils holds shared validation and parsing helpers used across the
// scheme adapters and the facilitator service.
package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/t402-io/t402-go/types"
)

var (
	hexRe    = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	base58Re = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
	// TON user-friendly addresses are 48 chars of base64url.
	tonFriendlyRe = regexp.MustCompile(`^[A-Za-z0-9_-]{48}$`)
	// TON raw addresses: workchain:hex(32 bytes).
	tonRawRe = regexp.MustCompile(`^-?\d+:[0-9a-fA-F]{64}$`)
)

// ValidateAmount checks that an amount string is a non-negative decimal.
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	return &dec, nil
}

// ValidateBigInt checks that a string is a non-negative base-10 integer and
// returns it as a big.Int.
func ValidateBigInt(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer format")
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("value cannot be negative")
	}
	return n, nil
}

// ValidateAddressForNetwork validates an address syntactically for the chain
// family of a CAIP-2 network id.
func ValidateAddressForNetwork(address, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	family, ok := types.NetworkTypeOf(network)
	if !ok {
		return fmt.Errorf("unsupported network for address validation: %s", network)
	}

	switch family {
	case types.NetworkTypeEVM:
		if !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("EVM address must start with 0x")
		}
		if len(address) != 42 {
			return fmt.Errorf("EVM address must be 42 characters long")
		}
		if !hexRe.MatchString(address[2:]) {
			return fmt.Errorf("EVM address must be valid hex")
		}

	case types.NetworkTypeSVM:
		if len(address) < 32 || len(address) > 44 {
			return fmt.Errorf("Solana address has invalid length")
		}
		if !base58Re.MatchString(address) {
			return fmt.Errorf("Solana address must be valid base58")
		}

	case types.NetworkTypeTron:
		if !strings.HasPrefix(address, "T") {
			return fmt.Errorf("TRON address must start with T")
		}
		if len(address) != 34 {
			return fmt.Errorf("TRON address must be 34 characters long")
		}
		if !base58Re.MatchString(address) {
			return fmt.Errorf("TRON address must be valid base58")
		}

	case types.NetworkTypeTon:
		if !tonFriendlyRe.MatchString(address) && !tonRawRe.MatchString(address) {
			return fmt.Errorf("TON address must be user-friendly or raw form")
		}
	}

	return nil
}

// ValidateTransactionHash validates a transaction identifier for the chain
// family of a CAIP-2 network id.
func ValidateTransactionHash(hash, network string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}

	family, ok := types.NetworkTypeOf(network)
	if !ok {
		return fmt.Errorf("unsupported network for transaction hash validation: %s", network)
	}

	switch family {
	case types.NetworkTypeEVM:
		if !strings.HasPrefix(hash, "0x") || len(hash) != 66 || !hexRe.MatchString(hash[2:]) {
			return fmt.Errorf("EVM transaction hash must be 0x plus 64 hex characters")
		}
	case types.NetworkTypeSVM:
		if len(hash) < 80 || len(hash) > 90 || !base58Re.MatchString(hash) {
			return fmt.Errorf("Solana transaction signature must be base58, 87-88 characters")
		}
	case types.NetworkTypeTron:
		if len(hash) != 64 || !hexRe.MatchString(hash) {
			return fmt.Errorf("TRON transaction id must be 64 hex characters")
		}
	case types.NetworkTypeTon:
		// TON transaction ids are base64 message hashes; accept 44-char
		// std base64 or 64 hex characters.
		if len(hash) != 44 && !(len(hash) == 64 && hexRe.MatchString(hash)) {
			return fmt.Errorf("TON transaction hash has invalid form")
		}
	}

	return nil
}

// ParseAmountWithDecimals converts a human decimal amount to atomic units.
func ParseAmountWithDecimals(amount string, decimals int) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	multiplier := decimal.NewFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), 0)
	scaled := dec.Mul(multiplier)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatAmountFromBigInt renders atomic units as a human decimal string.
func FormatAmountFromBigInt(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
