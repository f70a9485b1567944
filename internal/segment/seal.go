// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segment

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const maxOffset = 9999

// Seal builds a container segment: plain is PKCS#7-padded and encrypted under
// key with the fixed IV, the key is stored at keyOffset and trailing is
// appended in clear. Used to produce fixtures for players and tests.
func Seal(plain, key, trailing []byte, keyOffset int) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if keyOffset < HeaderSize || keyOffset+KeySize > PayloadOffset {
		return nil, fmt.Errorf("key offset %d must lie in [%d,%d]", keyOffset, HeaderSize, PayloadOffset-KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := make([]byte, len(plain)+pad)
	copy(padded, plain)
	copy(padded[len(plain):], bytes.Repeat([]byte{byte(pad)}, pad))
	if len(padded) > maxOffset {
		return nil, fmt.Errorf("cipher region of %d bytes does not fit the 4-digit header field", len(padded))
	}
	cipher.NewCBCEncrypter(block, fixedIV).CryptBlocks(padded, padded)

	out := make([]byte, PayloadOffset, PayloadOffset+len(padded)+len(trailing))
	copy(out, Magic)
	copy(out[len(Magic):keyOffsetStart], bytes.Repeat([]byte{'0'}, keyOffsetStart-len(Magic)))
	copy(out[keyOffsetStart:], fmt.Sprintf("%04d%04d", keyOffset, len(padded)))
	copy(out[keyOffset:], key)
	out = append(out, padded...)
	out = append(out, trailing...)
	return out, nil
}
