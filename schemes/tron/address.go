package tron

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// AddressToHex decodes a T-prefixed base58check address into its 21-byte
// hex form (0x41 prefix), the representation TRON node APIs use.
func AddressToHex(address string) (string, error) {
	decoded, err := base58Decode(address)
	if err != nil {
		return "", err
	}
	if len(decoded) != 25 {
		return "", fmt.Errorf("tron: address %q decodes to %d bytes, want 25", address, len(decoded))
	}

	payload, checksum := decoded[:21], decoded[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != second[i] {
			return "", fmt.Errorf("tron: address %q has a bad checksum", address)
		}
	}
	if payload[0] != 0x41 {
		return "", fmt.Errorf("tron: address %q has prefix byte %#x, want 0x41", address, payload[0])
	}
	return hex.EncodeToString(payload), nil
}

// HexToAddress encodes a 21-byte hex address (0x41 prefix) into the
// T-prefixed base58check form.
func HexToAddress(hexAddr string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(hexAddr), "0x"))
	if err != nil {
		return "", fmt.Errorf("tron: address is not valid hex: %w", err)
	}
	if len(raw) != 21 || raw[0] != 0x41 {
		return "", fmt.Errorf("tron: hex address must be 21 bytes with a 0x41 prefix")
	}

	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	payload := append(raw, second[:4]...)
	return base58Encode(payload), nil
}

// AddressesEqual compares two addresses in any mix of base58 and hex forms.
func AddressesEqual(a, b string) bool {
	ha, err := normalizeAddress(a)
	if err != nil {
		return false
	}
	hb, err := normalizeAddress(b)
	if err != nil {
		return false
	}
	return ha == hb
}

func normalizeAddress(address string) (string, error) {
	if strings.HasPrefix(address, "T") {
		return AddressToHex(address)
	}
	lower := strings.ToLower(strings.TrimPrefix(address, "0x"))
	if len(lower) == 42 && strings.HasPrefix(lower, "41") {
		return lower, nil
	}
	return "", fmt.Errorf("tron: unrecognized address form %q", address)
}

func base58Encode(b []byte) string {
	n := new(big.Int).SetBytes(b)
	radix := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append([]byte{base58Alphabet[mod.Int64()]}, out...)
	}
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append([]byte{'1'}, out...)
	}
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	result := big.NewInt(0)
	radix := big.NewInt(58)
	for _, c := range s {
		idx := strings.IndexRune(base58Alphabet, c)
		if idx < 0 {
			return nil, fmt.Errorf("tron: invalid base58 character %q", c)
		}
		result.Mul(result, radix)
		result.Add(result, big.NewInt(int64(idx)))
	}

	decoded := result.Bytes()
	// Leading '1' characters encode leading zero bytes.
	for _, c := range s {
		if c != '1' {
			break
		}
		decoded = append([]byte{0}, decoded...)
	}
	return decoded, nil
}
