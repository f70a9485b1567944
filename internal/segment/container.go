// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package segment implements the "shortmax" segment container: header
// parsing, AES-128-CBC payload decoding and a bounded decode pool.
//
// Wire layout (all offsets in bytes):
//
//	[0,8)          ASCII magic "shortmax"
//	[16,20)        ASCII decimal key offset K
//	[20,24)        ASCII decimal cipher region length D
//	[K,K+16)       AES-128 key
//	[1024,D+1024)  ciphertext
//	[D+1024,end)   trailing cleartext
//
// Key and offsets travel in-band and the header is unauthenticated. The
// format is reproduced as served by the content origin.
package segment

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Magic identifies an encrypted segment.
	Magic = "shortmax"

	// HeaderSize is the length of the ASCII header.
	HeaderSize = 24
	// PayloadOffset is where the cipher region starts.
	PayloadOffset = 1024
	// KeySize is the AES-128 key length.
	KeySize = 16

	keyOffsetStart  = 16
	dataOffsetStart = 20
	offsetWidth     = 4
)

var (
	// ErrParseFault marks a segment whose magic matched but whose header is unusable.
	ErrParseFault = errors.New("segment parse fault")
	// ErrNotParsed is returned when decrypting a pass-through segment.
	ErrNotParsed = errors.New("segment is not encrypted")
)

// Segment is the result of parsing one fetched segment. When Parsed is false
// the segment is delivered as-is (Raw).
type Segment struct {
	Raw    []byte
	Parsed bool
	// Fault is set when the magic matched but the header could not be used.
	Fault error

	KeyOffset  int
	DataOffset int
	Key        []byte
	Cipher     []byte
	Trailing   []byte
}

// Bytes returns the bytes to deliver when the segment is not decrypted.
func (s Segment) Bytes() []byte { return s.Raw }

// HasMagic reports whether buf starts with the container signature.
func HasMagic(buf []byte) bool {
	return len(buf) >= len(Magic) && bytes.Equal(buf[:len(Magic)], []byte(Magic))
}

// Parse decodes the container header. It never fails: anything that is not a
// well-formed container degrades to a pass-through segment.
func Parse(buf []byte) Segment {
	if !HasMagic(buf) {
		return Segment{Raw: buf}
	}
	if len(buf) < HeaderSize {
		return passThrough(buf, "header truncated at %d bytes", len(buf))
	}

	keyOffset, err := parseOffset(buf[keyOffsetStart : keyOffsetStart+offsetWidth])
	if err != nil {
		return passThrough(buf, "key offset: %v", err)
	}
	dataOffset, err := parseOffset(buf[dataOffsetStart : dataOffsetStart+offsetWidth])
	if err != nil {
		return passThrough(buf, "data offset: %v", err)
	}

	if keyOffset+KeySize > len(buf) {
		return passThrough(buf, "key [%d,%d) out of bounds (len %d)", keyOffset, keyOffset+KeySize, len(buf))
	}
	end := dataOffset + PayloadOffset
	if end > len(buf) {
		return passThrough(buf, "cipher region [%d,%d) out of bounds (len %d)", PayloadOffset, end, len(buf))
	}

	key := make([]byte, KeySize)
	copy(key, buf[keyOffset:keyOffset+KeySize])

	return Segment{
		Raw:        buf,
		Parsed:     true,
		KeyOffset:  keyOffset,
		DataOffset: dataOffset,
		Key:        key,
		Cipher:     buf[PayloadOffset:end],
		Trailing:   buf[end:],
	}
}

func passThrough(buf []byte, format string, args ...any) Segment {
	return Segment{
		Raw:   buf,
		Fault: fmt.Errorf("%w: "+format, append([]any{ErrParseFault}, args...)...),
	}
}

// parseOffset reads a zero- or space-padded decimal field.
func parseOffset(field []byte) (int, error) {
	s := strings.Trim(string(field), " \x00")
	if s == "" {
		return 0, fmt.Errorf("empty field %q", field)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a decimal: %q", field)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative offset %d", n)
	}
	return n, nil
}
