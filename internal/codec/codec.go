// Package codec implements the self-delimiting on-disk frame encoding.
//
// Record layout: a 4-byte big-endian payload length, a 4-byte CRC32 (IEEE)
// of the payload, then the JSON payload itself. The length prefix makes
// records self-delimiting so torn writes are detectable; the checksum makes
// any in-place byte flip detectable at read time.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/tracevault/tracevault/internal/model"
)

// HeaderSize is the fixed size of the record header.
const HeaderSize = 8

// MaxFrameBytes caps a single encoded record. A length prefix above this
// is treated as corruption rather than an allocation request.
const MaxFrameBytes = 4 << 20

// ErrCorruptFrame reports a truncated, checksum-failing, or otherwise
// undecodable record.
var ErrCorruptFrame = errors.New("corrupt frame")

// Encode serializes a frame to a single self-delimited record.
func Encode(f *model.Frame) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameBytes {
		return nil, fmt.Errorf("encode frame: %d bytes exceeds limit %d", len(payload), MaxFrameBytes)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode deserializes a single record. Truncated or malformed input fails
// with ErrCorruptFrame; fields are never silently dropped.
func Decode(b []byte) (*model.Frame, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: record shorter than header (%d bytes)", ErrCorruptFrame, len(b))
	}
	n := binary.BigEndian.Uint32(b[0:4])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("%w: implausible payload length %d", ErrCorruptFrame, n)
	}
	if uint32(len(b)-HeaderSize) != n {
		return nil, fmt.Errorf("%w: payload length %d does not match header %d", ErrCorruptFrame, len(b)-HeaderSize, n)
	}
	payload := b[HeaderSize:]
	if sum := crc32.ChecksumIEEE(payload); sum != binary.BigEndian.Uint32(b[4:8]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptFrame)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var f model.Frame
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	return &f, nil
}

// Write encodes the frame and writes the record to w. It returns the
// number of bytes written.
func Write(w io.Writer, f *model.Frame) (int, error) {
	buf, err := Encode(f)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// Read consumes exactly one record from r. A clean end of stream returns
// io.EOF; a partial record returns ErrCorruptFrame.
func Read(r io.Reader) (*model.Frame, int, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("%w: truncated header: %v", ErrCorruptFrame, err)
	}
	n := binary.BigEndian.Uint32(header[0:4])
	if n > MaxFrameBytes {
		return nil, 0, fmt.Errorf("%w: implausible payload length %d", ErrCorruptFrame, n)
	}
	buf := make([]byte, HeaderSize+int(n))
	copy(buf, header[:])
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated payload: %v", ErrCorruptFrame, err)
	}
	f, err := Decode(buf)
	if err != nil {
		return nil, 0, err
	}
	return f, len(buf), nil
}
