// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package segment

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef")

// buildSegment lays out header(K,D) ++ key ++ padding-to-1024 ++ encrypt(plain) ++ trailing
// without going through Seal, so Seal and Parse are checked against an independent encoder.
func buildSegment(t *testing.T, keyOffset int, plain, trailing []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	enc := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	cipher.NewCBCEncrypter(block, []byte("shortmax00000000")).CryptBlocks(enc, enc)

	buf := make([]byte, PayloadOffset)
	copy(buf, fmt.Sprintf("shortmax00000000%04d%04d", keyOffset, len(enc)))
	copy(buf[keyOffset:], testKey)
	buf = append(buf, enc...)
	return append(buf, trailing...)
}

func TestParse_NoMagicIsPassThrough(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("short"),
		[]byte("SHORTMAX0000000000400032"),
		append([]byte{0x47}, bytes.Repeat([]byte{0xff}, 2000)...),
	}
	for _, in := range inputs {
		seg := Parse(in)
		assert.False(t, seg.Parsed)
		assert.NoError(t, seg.Fault)
		assert.Equal(t, in, seg.Bytes())

		again := Parse(seg.Bytes())
		assert.False(t, again.Parsed)
		assert.Equal(t, in, again.Bytes())
	}
}

func TestParse_RandomBuffersWithoutMagic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		buf := make([]byte, rng.Intn(3000))
		rng.Read(buf)
		if HasMagic(buf) {
			continue
		}
		out, outcome, err := Open(buf)
		require.NoError(t, err)
		assert.Equal(t, OutcomePassThrough, outcome)
		assert.Equal(t, buf, out)
	}
}

func TestParse_MalformedHeaderIsParseFault(t *testing.T) {
	valid := buildSegment(t, 40, bytes.Repeat([]byte{1}, 32), nil)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated header", func(b []byte) []byte { return b[:20] }},
		{"key offset not decimal", func(b []byte) []byte { copy(b[16:20], "00x0"); return b }},
		{"data offset not decimal", func(b []byte) []byte { copy(b[20:24], "abcd"); return b }},
		{"negative key offset", func(b []byte) []byte { copy(b[16:20], "-001"); return b }},
		{"key out of bounds", func(b []byte) []byte { copy(b[16:20], "9990"); return b }},
		{"cipher out of bounds", func(b []byte) []byte { copy(b[20:24], "9000"); return b }},
		{"empty offset", func(b []byte) []byte { copy(b[16:20], "    "); return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.mutate(append([]byte{}, valid...))
			seg := Parse(in)
			assert.False(t, seg.Parsed)
			assert.ErrorIs(t, seg.Fault, ErrParseFault)
			assert.Equal(t, in, seg.Bytes())

			out, outcome, err := Open(in)
			assert.Equal(t, OutcomeParseFault, outcome)
			assert.ErrorIs(t, err, ErrParseFault)
			assert.Equal(t, in, out)
		})
	}
}

func TestParse_ExtractsRegions(t *testing.T) {
	plain := bytes.Repeat([]byte{0xAB}, 48)
	trailing := []byte("tail-bytes")
	buf := buildSegment(t, 100, plain, trailing)

	seg := Parse(buf)
	require.True(t, seg.Parsed)
	assert.Equal(t, 100, seg.KeyOffset)
	assert.Equal(t, 64, seg.DataOffset)
	assert.Equal(t, testKey, seg.Key)
	assert.Len(t, seg.Cipher, 64)
	assert.Equal(t, trailing, seg.Trailing)
}

func TestDecrypt_RoundTripAcrossOffsets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, keyOffset := range []int{24, 40, 512, 1008} {
		for _, blocks := range []int{1, 2, 16, 127} {
			plain := make([]byte, blocks*aes.BlockSize)
			rng.Read(plain)
			trailing := make([]byte, rng.Intn(300))
			rng.Read(trailing)

			buf := buildSegment(t, keyOffset, plain, trailing)
			out, err := Decrypt(Parse(buf))
			require.NoError(t, err, "K=%d blocks=%d", keyOffset, blocks)
			assert.Equal(t, append(append([]byte{}, plain...), trailing...), out)
		}
	}
}

func TestDecrypt_DoesNotMutateInput(t *testing.T) {
	buf := buildSegment(t, 40, bytes.Repeat([]byte{7}, 64), []byte("tail"))
	orig := append([]byte{}, buf...)

	_, err := Decrypt(Parse(buf))
	require.NoError(t, err)
	assert.Equal(t, orig, buf)
}

func TestDecrypt_FlippedCiphertextNeverPanics(t *testing.T) {
	plain := bytes.Repeat([]byte("0123456789ABCDEF"), 8)
	buf := buildSegment(t, 40, plain, []byte("trailer"))
	end := PayloadOffset + 144

	for i := PayloadOffset; i < end; i++ {
		mutated := append([]byte{}, buf...)
		mutated[i] ^= 0x5A

		out, err := Decrypt(Parse(mutated))
		if err != nil {
			assert.ErrorIs(t, err, ErrDecryptFault)
			continue
		}
		assert.NotEqual(t, append(append([]byte{}, plain...), []byte("trailer")...), out, "byte %d", i)
	}
}

func TestDecrypt_Faults(t *testing.T) {
	buf := buildSegment(t, 40, bytes.Repeat([]byte{1}, 32), nil)
	seg := Parse(buf)
	require.True(t, seg.Parsed)

	t.Run("pass-through segment", func(t *testing.T) {
		_, err := Decrypt(Parse([]byte("plain")))
		assert.ErrorIs(t, err, ErrNotParsed)
	})
	t.Run("short key", func(t *testing.T) {
		bad := seg
		bad.Key = bad.Key[:8]
		_, err := Decrypt(bad)
		assert.ErrorIs(t, err, ErrDecryptFault)
	})
	t.Run("unaligned", func(t *testing.T) {
		bad := seg
		bad.Cipher = bad.Cipher[:len(bad.Cipher)-3]
		_, err := Decrypt(bad)
		assert.ErrorIs(t, err, ErrDecryptFault)
	})
	t.Run("empty cipher region", func(t *testing.T) {
		bad := seg
		bad.Cipher = nil
		_, err := Decrypt(bad)
		assert.ErrorIs(t, err, ErrDecryptFault)
	})
	t.Run("wrong key fails or garbles", func(t *testing.T) {
		bad := seg
		bad.Key = []byte("fedcba9876543210")
		out, err := Decrypt(bad)
		if err == nil {
			assert.NotEqual(t, bytes.Repeat([]byte{1}, 32), out)
		} else {
			assert.True(t, errors.Is(err, ErrDecryptFault))
		}
	})
}

func TestOpen_DecryptFaultReturnsOriginal(t *testing.T) {
	buf := buildSegment(t, 40, bytes.Repeat([]byte{1}, 32), nil)
	// corrupt the last cipher block so padding fails deterministically
	mutated := append([]byte{}, buf...)
	for i := len(mutated) - 16; i < len(mutated); i++ {
		mutated[i] = 0
	}
	out, outcome, err := Open(mutated)
	if outcome == OutcomeDecrypted {
		t.Skip("corruption happened to yield valid padding")
	}
	assert.Equal(t, OutcomeDecryptFault, outcome)
	assert.ErrorIs(t, err, ErrDecryptFault)
	assert.Equal(t, mutated, out)
}

func TestOpen_TransportStreamSyncByte(t *testing.T) {
	// one-segment episode: K=40, D=2048
	plain := make([]byte, 2032)
	for i := 0; i < len(plain); i += 188 {
		plain[i] = 0x47
	}
	trailing := bytes.Repeat([]byte{0x47, 0, 0, 0}, 47)

	buf := buildSegment(t, 40, plain, trailing)
	require.Equal(t, "0040", string(buf[16:20]))
	require.Equal(t, "2048", string(buf[20:24]))

	out, outcome, err := Open(buf)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDecrypted, outcome)
	assert.Equal(t, byte(0x47), out[0])
	assert.Len(t, out, len(plain)+len(trailing))
}

func TestSeal_MatchesIndependentEncoder(t *testing.T) {
	plain := bytes.Repeat([]byte{0x47, 1, 2, 3}, 100)
	trailing := []byte("clear")

	sealed, err := Seal(plain, testKey, trailing, 40)
	require.NoError(t, err)
	assert.Equal(t, buildSegment(t, 40, plain, trailing), sealed)

	out, outcome, err := Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDecrypted, outcome)
	assert.Equal(t, append(append([]byte{}, plain...), trailing...), out)
}

func TestSeal_RejectsBadInput(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("short"), nil, 40)
	assert.Error(t, err)
	_, err = Seal([]byte("x"), testKey, nil, 10)
	assert.Error(t, err)
	_, err = Seal(make([]byte, 10000), testKey, nil, 40)
	assert.Error(t, err)
}
