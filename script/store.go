package script

import (
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultCapacity is the program region size of the reference board.
	DefaultCapacity = 924
	// SmallCapacity fits boards with 1 KiB of SRAM (UNO class).
	SmallCapacity = 398

	// HeaderSize is the length of the EOF header in front of the program.
	HeaderSize = 2
	// NoProgram is the header value of an erased store.
	NoProgram uint16 = 0xFFFF

	headerEOFMask   uint16 = 0x7FFF
	headerNoAutorun uint16 = 0x8000

	// behind the program region: the seed word, then a word the LED setting
	// occupied on boards that drive one. The second word is never touched.
	seedOffset = 0
	extraSize  = 4
)

var (
	ErrOutOfRange  = errors.New("address out of range")
	ErrFlashWindow = errors.New("flash window exceeds store capacity")
)

// Backend is the persistent byte array behind a Store (EEPROM, flash page, file).
type Backend interface {
	io.ReaderAt
	io.WriterAt
}

// Store is the instruction store: a 2-byte EOF header followed by bytecode,
// plus a persistent seed word stored behind the program region.
type Store struct {
	backend  Backend
	capacity int
}

// NewStore wraps backend. The backend must hold capacity+4 bytes.
func NewStore(backend Backend, capacity int) *Store {
	if capacity <= HeaderSize {
		capacity = DefaultCapacity
	}
	return &Store{backend: backend, capacity: capacity}
}

// Capacity returns the size of the program region including the header.
func (s *Store) Capacity() int { return s.capacity }

// BackendSize returns how many bytes a backend must provide for capacity.
func BackendSize(capacity int) int { return capacity + extraSize }

// ReadByte reads one byte of the program region.
func (s *Store) ReadByte(addr uint16) (byte, error) {
	b, err := s.Fetch(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadWord reads a little-endian word of the program region.
func (s *Store) ReadWord(addr uint16) (uint16, error) {
	b, err := s.Fetch(addr, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// Fetch returns n bytes starting at addr. The whole range must lie inside
// the program region.
func (s *Store) Fetch(addr uint16, n int) ([]byte, error) {
	if n < 0 || int(addr)+n > s.capacity {
		return nil, fmt.Errorf("fetch %d bytes at %d: %w", n, addr, ErrOutOfRange)
	}
	b := make([]byte, n)
	if _, err := s.backend.ReadAt(b, int64(addr)); err != nil {
		return nil, fmt.Errorf("fetch %d bytes at %d: %w", n, addr, err)
	}
	return b, nil
}

// Header returns the raw EOF header word.
func (s *Store) Header() (uint16, error) {
	return s.ReadWord(0)
}

// EOF returns the end-of-program address. An erased store reports 0.
func (s *Store) EOF() (uint16, error) {
	h, err := s.Header()
	if err != nil {
		return 0, err
	}
	if h == NoProgram {
		return 0, nil
	}
	return h & headerEOFMask, nil
}

// AutoStart reports whether the header asks for the script to run on boot.
func (s *Store) AutoStart() (bool, error) {
	h, err := s.Header()
	if err != nil {
		return false, err
	}
	return h&headerNoAutorun == 0, nil
}

// Program returns the bytecode between the header and EOF.
func (s *Store) Program() ([]byte, error) {
	eof, err := s.EOF()
	if err != nil {
		return nil, err
	}
	if eof <= HeaderSize {
		return []byte{}, nil
	}
	if int(eof) > s.capacity {
		eof = uint16(s.capacity)
	}
	return s.Fetch(HeaderSize, int(eof)-HeaderSize)
}

// CheckWindow validates a write of count bytes at dest.
func (s *Store) CheckWindow(dest, count int) error {
	if dest < 0 || count < 0 || dest+count > s.capacity {
		return fmt.Errorf("window [%d,%d) of %d: %w", dest, dest+count, s.capacity, ErrFlashWindow)
	}
	return nil
}

// Write commits data at dest. Windows exceeding the program region are
// rejected before anything is written.
func (s *Store) Write(dest int, data []byte) error {
	if err := s.CheckWindow(dest, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := s.backend.WriteAt(data, int64(dest)); err != nil {
		return fmt.Errorf("write %d bytes at %d: %w", len(data), dest, err)
	}
	return nil
}

// Load copies a baked-in image (header included) into the store, touching
// only the bytes that differ. An image starting with an erased header is
// ignored.
func (s *Store) Load(image []byte) error {
	if len(image) < HeaderSize || (image[0] == 0xFF && image[1] == 0xFF) {
		return nil
	}
	n := int(image[0]) | int(image[1]&0x7F)<<8
	if n > len(image) {
		return fmt.Errorf("image header claims %d bytes, have %d: %w", n, len(image), ErrFlashWindow)
	}
	if err := s.CheckWindow(0, n); err != nil {
		return err
	}
	current, err := s.Fetch(0, n)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if current[i] == image[i] {
			continue
		}
		if _, err := s.backend.WriteAt(image[i:i+1], int64(i)); err != nil {
			return fmt.Errorf("load image byte %d: %w", i, err)
		}
	}
	return nil
}

// Erase marks the store as holding no program.
func (s *Store) Erase() error {
	return s.Write(0, []byte{0xFF, 0xFF})
}

// Seed returns the persisted PRNG seed.
func (s *Store) Seed() (uint16, error) {
	var b [2]byte
	if _, err := s.backend.ReadAt(b[:], int64(s.capacity+seedOffset)); err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// SetSeed persists the PRNG seed.
func (s *Store) SetSeed(seed uint16) error {
	b := []byte{byte(seed), byte(seed >> 8)}
	if _, err := s.backend.WriteAt(b, int64(s.capacity+seedOffset)); err != nil {
		return fmt.Errorf("write seed: %w", err)
	}
	return nil
}

// MemBackend is a Backend held in memory.
type MemBackend struct {
	data []byte
}

// NewMemBackend returns an erased (0xFF filled) backend of size bytes.
func NewMemBackend(size int) *MemBackend {
	b := &MemBackend{data: make([]byte, size)}
	for i := range b.data {
		b.data[i] = 0xFF
	}
	return b
}

func (m *MemBackend) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, io.ErrUnexpectedEOF
	}
	return copy(p, m.data[off:]), nil
}

func (m *MemBackend) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, io.ErrShortWrite
	}
	return copy(m.data[off:], p), nil
}

// Bytes exposes the raw backing array.
func (m *MemBackend) Bytes() []byte { return m.data }
