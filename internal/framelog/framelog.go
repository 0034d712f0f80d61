// Package framelog implements the append-only durable frame log, the
// system of record for a trace store.
//
// The log is a flat file of self-delimited records (see codec). A frame
// is durable only once its record has been written and fsynced; a failed
// flush leaves the file truncated at the last fully flushed record, never
// holding a corrupt tail.
package framelog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tracevault/tracevault/internal/codec"
	"github.com/tracevault/tracevault/internal/model"
)

// Log is an append-only sequence of frames. One writer, many readers.
type Log struct {
	path   string
	f      *os.File
	logger zerolog.Logger

	mu      sync.RWMutex
	offsets []int64 // position -> byte offset of record start
	size    int64
}

// Open opens or creates the log at path, scans existing records to build
// the position table, and drops any torn tail left by a crashed writer.
func Open(path string, logger zerolog.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	l := &Log{path: path, f: f, logger: logger}
	if err := l.scan(); err != nil {
		f.Close()
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return l, nil
}

// scan walks record boundaries from the start of the file. Records with
// bad checksums remain addressable (read paths skip and count them); a
// record whose bytes run past end of file is a torn write and is cut off.
func (l *Log) scan() error {
	info, err := l.f.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()

	var off int64
	var header [codec.HeaderSize]byte
	for off < fileSize {
		if fileSize-off < codec.HeaderSize {
			break // torn header
		}
		if _, err := l.f.ReadAt(header[:], off); err != nil {
			return fmt.Errorf("read header at %d: %w", off, err)
		}
		n := int64(binary.BigEndian.Uint32(header[0:4]))
		if n > codec.MaxFrameBytes || off+codec.HeaderSize+n > fileSize {
			break // implausible length or torn payload
		}
		l.offsets = append(l.offsets, off)
		off += codec.HeaderSize + n
	}

	if off < fileSize {
		l.logger.Warn().
			Str("path", l.path).
			Int64("dropped_bytes", fileSize-off).
			Msg("truncating torn tail")
		if err := l.f.Truncate(off); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
	}
	l.size = off
	return nil
}

// Append encodes the frame, writes it, and flushes before assigning the
// position. It returns the position and the encoded record so the caller
// can extend the integrity chain without re-encoding.
func (l *Log) Append(f *model.Frame) (uint64, []byte, error) {
	encoded, err := codec.Encode(f)
	if err != nil {
		return 0, nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.WriteAt(encoded, l.size); err != nil {
		// Best effort: cut the partial record so the file stays clean.
		// If that also fails, the next Open's scan drops the torn tail.
		if terr := l.f.Truncate(l.size); terr != nil {
			l.logger.Error().Err(terr).Int64("size", l.size).Msg("failed to drop partial record")
		}
		return 0, nil, fmt.Errorf("write frame: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return 0, nil, fmt.Errorf("flush frame: %w", err)
	}

	pos := uint64(len(l.offsets))
	l.offsets = append(l.offsets, l.size)
	l.size += int64(len(encoded))
	return pos, encoded, nil
}

// Read returns the frame at the given position. Corrupt records surface
// codec.ErrCorruptFrame.
func (l *Log) Read(position uint64) (*model.Frame, error) {
	raw, err := l.ReadRaw(position)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw)
}

// ReadRaw returns the encoded record bytes at the given position.
func (l *Log) ReadRaw(position uint64) ([]byte, error) {
	l.mu.RLock()
	if position >= uint64(len(l.offsets)) {
		l.mu.RUnlock()
		return nil, fmt.Errorf("position %d out of range (len %d)", position, len(l.offsets))
	}
	start := l.offsets[position]
	end := l.size
	if position+1 < uint64(len(l.offsets)) {
		end = l.offsets[position+1]
	}
	l.mu.RUnlock()

	buf := make([]byte, end-start)
	if _, err := l.f.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read record at %d: %w", start, err)
	}
	return buf, nil
}

// Len returns the number of committed frames.
func (l *Log) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.offsets))
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Size returns the log file size in bytes.
func (l *Log) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	return l.f.Close()
}
