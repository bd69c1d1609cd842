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

package arbiter

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"turnstile/internal/shm"
)

// Device is one arbitration instance: two parity slots, the signal pair
// that passes the turn between them, and the shared region both
// connections map. A single mutex guards the slots, the locked flags and
// all signal state; it is held only for O(1) sections and never across a
// blocking wait.
type Device struct {
	id   string
	name string

	mu      sync.Mutex
	slots   [2]*Conn
	signals [2]*signal
	closed  bool

	seg *shm.Segment
}

// NewDevice brings up a device backed by a freshly allocated region of
// payloadSize bytes. The signal parity 0 waits on is fired immediately
// so that the first attached connection's first Lock succeeds without a
// prior Unlock from parity 1.
func NewDevice(name string, payloadSize uint64) (*Device, error) {
	seg, err := shm.CreateSegment(name, payloadSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
	}

	d := &Device{
		id:   uuid.New().String(),
		name: name,
		seg:  seg,
	}
	d.signals[0] = newSignal(&d.mu, 0)
	d.signals[1] = newSignal(&d.mu, 1)

	// Pre-arm the starting parity's turn.
	d.mu.Lock()
	err = d.signals[0].fireLocked()
	d.mu.Unlock()
	if err != nil {
		seg.Close()
		shm.RemoveRegion(name)
		return nil, fmt.Errorf("pre-signal parity 0: %w", err)
	}

	log.WithField("device", d.id).Debugf("device %q up, region %s", name, seg.Path)

	return d, nil
}

// ID returns the device instance id.
func (d *Device) ID() string {
	return d.id
}

// Name returns the device name the region is keyed by.
func (d *Device) Name() string {
	return d.name
}

// Size returns the payload size of the shared region in bytes.
func (d *Device) Size() uint64 {
	return d.seg.Size()
}

// RegionToken returns the exportable token for the shared region. Every
// call returns a token for the same single region.
func (d *Device) RegionToken() string {
	return d.seg.Path
}

// Attach assigns the first free parity slot to a new connection. It
// fails with ErrNoSlotAvailable when both slots are occupied: the device
// arbitrates between exactly two clients.
func (d *Device) Attach() (*Conn, error) {
	c := &Conn{
		id:  uuid.New().String(),
		dev: d,
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDeviceClosed
	}

	var parity int
	switch {
	case d.slots[0] == nil:
		parity = 0
	case d.slots[1] == nil:
		parity = 1
	default:
		d.mu.Unlock()
		return nil, ErrNoSlotAvailable
	}

	c.parity = parity
	d.slots[parity] = c
	d.mu.Unlock()

	log.WithField("conn", c.id).Debugf("attached with parity %d", parity)

	return c, nil
}

// Detach clears the connection's slot so it can be reused immediately.
// If the departing connection still held the lock, the complementary
// signal is fired on its behalf after the mutex is released; without
// that, the surviving connection's pending or future Lock would wait
// forever. This runs on every detach path, graceful or not.
//
// A connection that departs before ever locking fires nothing. The
// survivor cannot be stranded by that: with exactly two parities, the
// signal it waits on was either pre-fired at bring-up or fired by this
// connection's last Unlock.
func (d *Device) Detach(c *Conn) {
	var forced *signal

	d.mu.Lock()
	if d.slots[0] == c {
		d.slots[0] = nil
		if c.locked {
			forced = d.signals[1]
		}
	} else if d.slots[1] == c {
		d.slots[1] = nil
		if c.locked {
			forced = d.signals[0]
		}
	}
	c.locked = false
	d.mu.Unlock()

	if forced != nil {
		d.forceSignal(forced)
	}

	log.WithField("conn", c.id).Debug("detached")
}

// forceSignal fires a signal on behalf of a connection that departed
// while holding the lock. A no-op if the target is already signaled.
func (d *Device) forceSignal(s *signal) {
	d.mu.Lock()
	d.seg.Header().IncrementRoundSequence()
	err := s.fireLocked()
	d.mu.Unlock()

	if err != nil {
		// The rounds raced with an unlock; the survivor is not blocked.
		log.WithField("device", d.id).Warnf("forced signal on parity %d: %v", s.parity, err)
		return
	}
	log.WithField("device", d.id).Debugf("forced signal on parity %d", s.parity)
}

// AttachedCount returns the number of occupied parity slots.
func (d *Device) AttachedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.slots {
		if c != nil {
			n++
		}
	}
	return n
}

// Close tears the device down, releasing the region. It refuses with
// ErrDeviceBusy while any connection is attached so that teardown is
// never observable as a race against an in-flight request.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	if d.slots[0] != nil || d.slots[1] != nil {
		d.mu.Unlock()
		return ErrDeviceBusy
	}
	d.closed = true
	d.mu.Unlock()

	if err := d.seg.Close(); err != nil {
		return fmt.Errorf("close region: %w", err)
	}
	if err := shm.RemoveRegion(d.name); err != nil {
		return fmt.Errorf("remove region: %w", err)
	}

	log.WithField("device", d.id).Debugf("device %q down", d.name)

	return nil
}

// validateLocked resolves the connection's parity against the registry.
// Callers hold d.mu.
func (d *Device) validateLocked(c *Conn) (int, error) {
	if d.closed {
		return 0, ErrDeviceClosed
	}
	if d.slots[0] == c {
		return 0, nil
	}
	if d.slots[1] == c {
		return 1, nil
	}
	return 0, ErrInvalidConnection
}
