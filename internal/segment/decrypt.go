// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segment

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// fixedIV is shared by every segment and every key. CBC with a constant IV
// leaks equal leading plaintext blocks; kept for compatibility with the origin.
var fixedIV = []byte("shortmax00000000")

// ErrDecryptFault marks a cipher failure (bad key, alignment or padding).
var ErrDecryptFault = errors.New("segment decrypt fault")

// Outcome describes what happened to a fetched payload.
type Outcome string

const (
	OutcomePassThrough  Outcome = "passthrough"
	OutcomeDecrypted    Outcome = "decrypted"
	OutcomeParseFault   Outcome = "parse_fault"
	OutcomeDecryptFault Outcome = "decrypt_fault"
)

// Decrypt decodes the cipher region of a parsed segment and returns a freshly
// allocated plaintext ++ trailing buffer. Raw is never modified.
func Decrypt(seg Segment) ([]byte, error) {
	if !seg.Parsed {
		return nil, ErrNotParsed
	}
	if len(seg.Key) != KeySize {
		return nil, fmt.Errorf("%w: key length %d", ErrDecryptFault, len(seg.Key))
	}
	n := len(seg.Cipher)
	if n == 0 || n%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: cipher region length %d is not a positive multiple of %d", ErrDecryptFault, n, aes.BlockSize)
	}

	block, err := aes.NewCipher(seg.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFault, err)
	}

	out := make([]byte, n+len(seg.Trailing))
	cipher.NewCBCDecrypter(block, fixedIV).CryptBlocks(out[:n], seg.Cipher)

	plain, err := unpad(out[:n])
	if err != nil {
		return nil, err
	}
	copy(out[plain:], seg.Trailing)
	return out[:plain+len(seg.Trailing)], nil
}

// unpad validates PKCS#7 padding and returns the plaintext length.
func unpad(b []byte) (int, error) {
	p := int(b[len(b)-1])
	if p == 0 || p > aes.BlockSize || p > len(b) {
		return 0, fmt.Errorf("%w: invalid padding length %d", ErrDecryptFault, p)
	}
	for _, v := range b[len(b)-p:] {
		if int(v) != p {
			return 0, fmt.Errorf("%w: invalid padding bytes", ErrDecryptFault)
		}
	}
	return len(b) - p, nil
}

// Open parses and, when possible, decrypts buf. The returned bytes are always
// deliverable: on any fault they are the original input. The error reports
// the absorbed fault for logging only.
func Open(buf []byte) ([]byte, Outcome, error) {
	seg := Parse(buf)
	if !seg.Parsed {
		if seg.Fault != nil {
			return buf, OutcomeParseFault, seg.Fault
		}
		return buf, OutcomePassThrough, nil
	}
	out, err := Decrypt(seg)
	if err != nil {
		return buf, OutcomeDecryptFault, err
	}
	return out, OutcomeDecrypted, nil
}
