//go:build linux

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
	"path/filepath"
	"syscall"
)

func init() {
	// Set platform-specific function implementations
	unmapMemory = munmapImpl
}

// CreateSegment allocates a new region with the given payload size. The
// arbiter calls this once at device bring-up.
func CreateSegment(name string, payloadSize uint64) (*Segment, error) {
	path := regionPath(name)

	totalSize, payloadOff, err := CalculateRegionLayout(payloadSize)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}

	// Create the file with exclusive access
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create region file %s: %w", path, err)
	}

	// Ensure cleanup on error
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize region file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap region: %w", err)
	}

	segment := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
	}

	h := segment.Header()
	h.SetMagic([8]byte{'T', 'U', 'R', 'N', 'S', 'H', 'M', 0})
	h.SetVersion(RegionVersion)
	h.SetTotalSize(totalSize)
	h.SetPayloadOffset(payloadOff)
	h.SetPayloadSize(payloadSize)
	h.SetCreatorPID(uint32(os.Getpid()))
	h.SetClosed(false)

	return segment, nil
}

// OpenSegment maps an existing region by its exportable token (the path
// handed out by the control surface).
func OpenSegment(path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open region file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat region file: %w", err)
	}

	size := info.Size()
	if size < RegionHeaderSize {
		file.Close()
		return nil, fmt.Errorf("region file too small: %d bytes", size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap region: %w", err)
	}

	segment := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
	}

	if err := ValidateRegionHeader(segment.Header()); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, fmt.Errorf("invalid region header: %w", err)
	}

	return segment, nil
}

// regionPath generates the file path for a region
func regionPath(name string) string {
	// Prefer /dev/shm (tmpfs) for shared memory on Linux
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", "turnstile_"+name)
	}

	// Fallback to temporary directory
	return filepath.Join(os.TempDir(), "turnstile_"+name)
}

// isDevShmAvailable checks if /dev/shm is available and writable
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	fd := int(file.Fd())

	data, err := syscall.Mmap(fd, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return data, nil
}

// munmapImpl unmaps a memory-mapped region
func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if err := syscall.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}

	return nil
}
