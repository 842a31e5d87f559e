package svm

import (
	"encoding/base64"
	"fmt"
	"math/big"
)

// SPL token program ids; both use the same TransferChecked layout.
const (
	TokenProgramAddress     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramAddress = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// transferCheckedDiscriminator is the SPL token instruction index for
// TransferChecked.
const transferCheckedDiscriminator = 12

// transferChecked is the TransferChecked instruction extracted from a signed
// transaction. Source and Destination are token accounts; Authority is the
// owner moving the funds.
type transferChecked struct {
	Source      string
	Mint        string
	Destination string
	Authority   string
	Amount      uint64
	Decimals    byte
}

// parsedTransaction is the subset of a signed transaction that verification
// binds the declared authorization to.
type parsedTransaction struct {
	FeePayer   string
	Signatures int
	Transfer   *transferChecked
}

// parseTransaction decodes a base64 wire transaction (legacy or v0 message)
// and extracts the fee payer and the first TransferChecked instruction. All
// account references must resolve within the static key list; lookup-table
// references cannot be verified offline and are rejected.
func parseTransaction(txBase64 string) (*parsedTransaction, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, fmt.Errorf("svm: transaction is not valid base64: %w", err)
	}
	r := &byteReader{buf: raw}

	sigCount, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	if sigCount == 0 || sigCount > 16 {
		return nil, fmt.Errorf("svm: implausible signature count %d", sigCount)
	}
	if err := r.skip(sigCount * 64); err != nil {
		return nil, err
	}

	// A set high bit on the first message byte marks a versioned message.
	prefix, err := r.peek()
	if err != nil {
		return nil, err
	}
	if prefix&0x80 != 0 {
		if prefix&0x7f != 0 {
			return nil, fmt.Errorf("svm: unsupported message version %d", prefix&0x7f)
		}
		_, _ = r.byte()
	}

	// Message header: required signatures, readonly signed, readonly unsigned.
	if err := r.skip(3); err != nil {
		return nil, err
	}

	keyCount, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	if keyCount == 0 || keyCount > 64 {
		return nil, fmt.Errorf("svm: implausible account key count %d", keyCount)
	}
	keys := make([]string, keyCount)
	for i := 0; i < keyCount; i++ {
		key, err := r.bytes(32)
		if err != nil {
			return nil, err
		}
		keys[i] = base58Encode(key)
	}

	// Recent blockhash.
	if err := r.skip(32); err != nil {
		return nil, err
	}

	instrCount, err := r.compactU16()
	if err != nil {
		return nil, err
	}
	tx := &parsedTransaction{FeePayer: keys[0], Signatures: sigCount}
	for i := 0; i < instrCount; i++ {
		programIdx, err := r.byte()
		if err != nil {
			return nil, err
		}
		accCount, err := r.compactU16()
		if err != nil {
			return nil, err
		}
		accounts, err := r.bytes(accCount)
		if err != nil {
			return nil, err
		}
		dataLen, err := r.compactU16()
		if err != nil {
			return nil, err
		}
		data, err := r.bytes(dataLen)
		if err != nil {
			return nil, err
		}

		if int(programIdx) >= len(keys) {
			return nil, fmt.Errorf("svm: instruction references lookup-table program")
		}
		program := keys[programIdx]
		if program != TokenProgramAddress && program != Token2022ProgramAddress {
			continue
		}
		if len(data) < 10 || data[0] != transferCheckedDiscriminator {
			continue
		}
		if len(accounts) < 4 {
			continue
		}
		if tx.Transfer != nil {
			return nil, fmt.Errorf("svm: transaction carries more than one token transfer")
		}

		resolved := make([]string, 4)
		for j := 0; j < 4; j++ {
			if int(accounts[j]) >= len(keys) {
				return nil, fmt.Errorf("svm: transfer references lookup-table account")
			}
			resolved[j] = keys[accounts[j]]
		}
		var amount uint64
		for j := 8; j >= 1; j-- {
			amount = amount<<8 | uint64(data[j])
		}
		tx.Transfer = &transferChecked{
			Source:      resolved[0],
			Mint:        resolved[1],
			Destination: resolved[2],
			Authority:   resolved[3],
			Amount:      amount,
			Decimals:    data[9],
		}
	}
	return tx, nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("svm: transaction truncated at offset %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) peek() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("svm: transaction truncated at offset %d", r.pos)
	}
	return r.buf[r.pos], nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("svm: transaction truncated at offset %d", r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

// compactU16 reads the shortvec length prefix used throughout the wire
// format: 7 bits per byte, little-endian, at most 3 bytes.
func (r *byteReader) compactU16() (int, error) {
	var value, shift int
	for i := 0; i < 3; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		value |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("svm: malformed compact-u16 length")
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func base58Encode(b []byte) string {
	zeros := 0
	for zeros < len(b) && b[zeros] == 0 {
		zeros++
	}

	n := new(big.Int).SetBytes(b)
	radix := big.NewInt(58)
	mod := new(big.Int)
	out := make([]byte, 0, len(b)*2)
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
