/*
 * Copyright 2026 the turnstile authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for region identification
	RegionMagic = "TURNSHM\x00"

	// Current region format version
	RegionVersion = uint32(1)

	// Region header size (aligned to 64 bytes)
	RegionHeaderSize = 64

	// MinPayloadSize is the smallest payload this provider will allocate.
	MinPayloadSize = 1

	// MaxPayloadSize caps allocations at 64MB; the arbiter hands off one
	// buffer, not a stream, so regions stay small.
	MaxPayloadSize = 64 * 1024 * 1024

	// DefaultPayloadSize matches the original device's 10-int buffer.
	DefaultPayloadSize = 40
)

// Platform-specific functions (implemented in platform-specific files)
var (
	// unmapMemory unmaps a memory-mapped region
	unmapMemory func([]byte) error
)

// RegionHeader is the on-disk/in-memory header at offset 0 of every
// region file. All mutable fields are accessed atomically because both
// processes map the same bytes.
type RegionHeader struct {
	magic       [8]byte // 0x00: "TURNSHM\0"
	version     uint32  // 0x08: region format version
	flags       uint32  // 0x0C: reserved flags
	totalSize   uint64  // 0x10: total file size including header
	payloadOff  uint64  // 0x18: offset to payload bytes
	payloadSize uint64  // 0x20: payload size in bytes
	roundSeq    uint64  // 0x28: hand-off round counter
	creatorPID  uint32  // 0x30: pid of the allocating process
	closed      uint32  // 0x34: closed flag (0 open, 1 closed)
	reserved    [8]byte // 0x38-0x3F: padding to 64B
}

// Magic returns the magic bytes.
func (h *RegionHeader) Magic() [8]byte {
	return h.magic
}

// SetMagic sets the magic bytes.
func (h *RegionHeader) SetMagic(magic [8]byte) {
	h.magic = magic
}

// Version returns the region format version.
func (h *RegionHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// SetVersion sets the region format version.
func (h *RegionHeader) SetVersion(version uint32) {
	atomic.StoreUint32(&h.version, version)
}

// TotalSize returns the total region file size.
func (h *RegionHeader) TotalSize() uint64 {
	return atomic.LoadUint64(&h.totalSize)
}

// SetTotalSize sets the total region file size.
func (h *RegionHeader) SetTotalSize(size uint64) {
	atomic.StoreUint64(&h.totalSize, size)
}

// PayloadOffset returns the offset of the payload bytes.
func (h *RegionHeader) PayloadOffset() uint64 {
	return atomic.LoadUint64(&h.payloadOff)
}

// SetPayloadOffset sets the offset of the payload bytes.
func (h *RegionHeader) SetPayloadOffset(off uint64) {
	atomic.StoreUint64(&h.payloadOff, off)
}

// PayloadSize returns the payload size in bytes.
func (h *RegionHeader) PayloadSize() uint64 {
	return atomic.LoadUint64(&h.payloadSize)
}

// SetPayloadSize sets the payload size in bytes.
func (h *RegionHeader) SetPayloadSize(size uint64) {
	atomic.StoreUint64(&h.payloadSize, size)
}

// RoundSequence returns the hand-off round counter.
func (h *RegionHeader) RoundSequence() uint64 {
	return atomic.LoadUint64(&h.roundSeq)
}

// IncrementRoundSequence atomically increments the round counter and
// returns the new value. The atomic store doubles as the release barrier
// that publishes payload writes to the peer process.
func (h *RegionHeader) IncrementRoundSequence() uint64 {
	return atomic.AddUint64(&h.roundSeq, 1)
}

// CreatorPID returns the pid of the allocating process.
func (h *RegionHeader) CreatorPID() uint32 {
	return atomic.LoadUint32(&h.creatorPID)
}

// SetCreatorPID sets the pid of the allocating process.
func (h *RegionHeader) SetCreatorPID(pid uint32) {
	atomic.StoreUint32(&h.creatorPID, pid)
}

// Closed returns the closed flag.
func (h *RegionHeader) Closed() bool {
	return atomic.LoadUint32(&h.closed) != 0
}

// SetClosed sets the closed flag.
func (h *RegionHeader) SetClosed(closed bool) {
	var val uint32
	if closed {
		val = 1
	}
	atomic.StoreUint32(&h.closed, val)
}

// CalculateRegionLayout calculates the file layout for a payload of the
// given size.
func CalculateRegionLayout(payloadSize uint64) (totalSize, payloadOff uint64, err error) {
	if payloadSize < MinPayloadSize {
		return 0, 0, fmt.Errorf("payload size %d is below minimum %d", payloadSize, MinPayloadSize)
	}
	if payloadSize > MaxPayloadSize {
		return 0, 0, fmt.Errorf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize)
	}

	payloadOff = alignTo64(RegionHeaderSize)
	totalSize = alignTo64(payloadOff + payloadSize)
	return totalSize, payloadOff, nil
}

// alignTo64 aligns a size to a 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// ValidateRegionHeader validates a region header for consistency.
func ValidateRegionHeader(h *RegionHeader) error {
	if h.Magic() != [8]byte{'T', 'U', 'R', 'N', 'S', 'H', 'M', 0} {
		return fmt.Errorf("invalid magic bytes")
	}

	if h.Version() != RegionVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), RegionVersion)
	}

	expectedTotal, expectedOff, err := CalculateRegionLayout(h.PayloadSize())
	if err != nil {
		return fmt.Errorf("layout calculation failed: %w", err)
	}

	if h.TotalSize() != expectedTotal {
		return fmt.Errorf("total size mismatch: got %d, expected %d", h.TotalSize(), expectedTotal)
	}
	if h.PayloadOffset() != expectedOff {
		return fmt.Errorf("payload offset mismatch: got %d, expected %d", h.PayloadOffset(), expectedOff)
	}

	return nil
}

// Segment is a mapped region: the file, the mmap, and a typed view of
// the header.
type Segment struct {
	File *os.File // File descriptor for the region file
	Mem  []byte   // Memory-mapped bytes
	Path string   // File path; doubles as the exportable region token
}

// Header returns a pointer to the region header in the mapped bytes.
func (s *Segment) Header() *RegionHeader {
	return (*RegionHeader)(unsafe.Pointer(&s.Mem[0]))
}

// Payload returns the payload bytes of the region. Both processes see
// the same bytes; callers must hold the hand-off lock while touching them.
func (s *Segment) Payload() []byte {
	h := s.Header()
	off := h.PayloadOffset()
	return s.Mem[off : off+h.PayloadSize()]
}

// Size returns the payload size in bytes.
func (s *Segment) Size() uint64 {
	return s.Header().PayloadSize()
}

// Close unmaps the memory and closes the file. It does not remove the
// backing file; the allocating side does that via Remove at teardown.
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	return firstErr
}

// RemoveRegion removes a region file created with CreateSegment.
func RemoveRegion(name string) error {
	// Try both possible paths
	paths := []string{
		"/dev/shm/turnstile_" + name,
		os.TempDir() + "/turnstile_" + name,
	}

	var lastErr error
	for _, path := range paths {
		if err := os.Remove(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return lastErr
	}
	return os.ErrNotExist
}

// RegionExists reports whether a region file with the given name exists.
func RegionExists(name string) bool {
	paths := []string{
		"/dev/shm/turnstile_" + name,
		os.TempDir() + "/turnstile_" + name,
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
