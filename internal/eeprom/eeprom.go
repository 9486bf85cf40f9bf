// Package eeprom keeps the persistent store in a plain file.
package eeprom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrOutOfRange = errors.New("eeprom access out of range")
	// ErrLocked is returned when another process holds the file.
	ErrLocked = errors.New("eeprom file in use")
)

// erased is the value of a never written cell.
const erased = 0xFF

// File is a fixed size byte store backed by a file. It implements
// script.Backend.
type File struct {
	f    *os.File
	size int64
}

// Open opens or creates path holding size bytes. A new or short file is
// padded with erased cells; a longer file keeps its tail untouched.
func Open(path string, size int) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("eeprom size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open eeprom: %w", err)
	}
	if err := lock(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat eeprom: %w", err)
	}
	if have := fi.Size(); have < int64(size) {
		pad := bytes.Repeat([]byte{erased}, size-int(have))
		if _, err := f.WriteAt(pad, have); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("initialise eeprom: %w", err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("initialise eeprom: %w", err)
		}
	}
	return &File{f: f, size: int64(size)}, nil
}

func (e *File) Size() int { return int(e.size) }

func (e *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > e.size {
		return 0, fmt.Errorf("read %d bytes at %d: %w", len(p), off, ErrOutOfRange)
	}
	n, err := e.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	return n, err
}

// WriteAt writes p and syncs the file so a crash never loses a flash.
func (e *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > e.size {
		return 0, fmt.Errorf("write %d bytes at %d: %w", len(p), off, ErrOutOfRange)
	}
	n, err := e.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	return n, e.f.Sync()
}

// Close releases the lock and closes the file.
func (e *File) Close() error {
	_ = unlock(e.f)
	return e.f.Close()
}
