package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain carries the EIP-712 domain parameters of a token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

var (
	domainTypeHash = crypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	transferWithAuthorizationTypeHash = crypto.Keccak256([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
	permitTypeHash = crypto.Keccak256([]byte(
		"Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)",
	))
)

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() []byte {
	return crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		leftPadBig(d.ChainID, 32),
		leftPadAddress(d.VerifyingContract),
	)
}

// TransferWithAuthorizationDigest computes the EIP-712 digest of an
// EIP-3009 authorization under the given domain.
func TransferWithAuthorizationDigest(auth ExactAuthorization, domain Domain) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(defaultZero(auth.ValidAfter), 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	structHash := crypto.Keccak256(
		transferWithAuthorizationTypeHash,
		leftPadAddress(auth.From),
		leftPadAddress(auth.To),
		leftPadBig(value, 32),
		leftPadBig(validAfter, 32),
		leftPadBig(validBefore, 32),
		nonce[:],
	)

	return crypto.Keccak256([]byte("\x19\x01"), domain.Separator(), structHash), nil
}

// PermitDigest computes the EIP-712 digest of an EIP-2612 permit under the
// given domain.
func PermitDigest(auth UptoAuthorization, domain Domain) ([]byte, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", auth.Value)
	}
	nonce, ok := new(big.Int).SetString(defaultZero(auth.Nonce), 10)
	if !ok {
		return nil, fmt.Errorf("invalid nonce %q", auth.Nonce)
	}
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return nil, fmt.Errorf("invalid deadline %q", auth.Deadline)
	}

	structHash := crypto.Keccak256(
		permitTypeHash,
		leftPadAddress(auth.Owner),
		leftPadAddress(auth.Spender),
		leftPadBig(value, 32),
		leftPadBig(nonce, 32),
		leftPadBig(deadline, 32),
	)

	return crypto.Keccak256([]byte("\x19\x01"), domain.Separator(), structHash), nil
}

// RecoverSigner recovers the checksummed signer address of a digest from a
// 65-byte signature, accepting both the 0/1 and 27/28 v conventions.
func RecoverSigner(digest []byte, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("signature is not valid hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// SplitSignature splits a hex signature into its v, r, s components with v
// normalized to 27/28 as token contracts expect.
func SplitSignature(sigHex string) (v uint8, r [32]byte, s [32]byte, err error) {
	sig, decodeErr := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if decodeErr != nil {
		err = fmt.Errorf("signature is not valid hex: %w", decodeErr)
		return
	}
	if len(sig) != 65 {
		err = fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
		return
	}

	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return
}

// HexToBytes32 parses a 0x-prefixed 32-byte hex string.
func HexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte

	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func leftPadBig(n *big.Int, size int) []byte {
	b := n.Bytes()
	if len(b) >= size {
		return b
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}

func leftPadAddress(addr string) []byte {
	a := common.HexToAddress(addr)
	return append(make([]byte, 12), a.Bytes()...)
}

func defaultZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
