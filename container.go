// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// container.go — the at-rest framing around an archive's bytes: a
// checksummed envelope for binary streams and gzip for portable documents.

package amber

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/xxh3"
)

// Binary container layout: magic, format byte, payload, 64-bit checksum
// of everything before the trailer.
var containerMagic = []byte("AMBS")

const containerOverhead = 4 + 1 + 8

// SealBinary frames a binary archive's bytes for storage: magic, format
// marker, payload, xxh3-64 trailer.
func SealBinary(payload []byte) []byte {
	out := make([]byte, 0, containerOverhead+len(payload))
	out = append(out, containerMagic...)
	out = append(out, byte(FormatBinary))
	out = append(out, payload...)
	sum := xxh3.Hash(out)
	return binary.LittleEndian.AppendUint64(out, sum)
}

// OpenBinary verifies a sealed binary container and returns the payload.
// The returned slice aliases data.
func OpenBinary(data []byte) ([]byte, error) {
	if len(data) < containerOverhead {
		return nil, fmt.Errorf("%w: %d bytes is too short for a container", ErrBadHeader, len(data))
	}
	if !bytes.Equal(data[:4], containerMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadHeader)
	}
	if got := Format(data[4]); got != FormatBinary {
		return nil, fmt.Errorf("%w: container holds a %s stream", ErrBadHeader, got)
	}
	body, trailer := data[:len(data)-8], data[len(data)-8:]
	want := binary.LittleEndian.Uint64(trailer)
	if got := xxh3.Hash(body); got != want {
		return nil, fmt.Errorf("%w: %016x, want %016x", ErrChecksum, got, want)
	}
	return body[5:], nil
}

// SealPortable gzip-compresses a portable document for storage.
func SealPortable(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(doc); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OpenPortable returns the document inside a sealed portable container.
// Plain uncompressed documents pass through, so hand-edited save files
// still load.
func OpenPortable(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	defer zr.Close()
	doc, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return doc, nil
}
