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
	"context"
	"errors"
	"fmt"
)

// Conn is one attached client's view of the device. A connection drives
// a two-state machine: unlocked, then locked after a successful Lock,
// then unlocked again after Unlock or detach. At most one of the two
// connections is locked in any round.
//
// Requests on a connection are expected to arrive one at a time, the way
// the control surface serializes them; the protocol admits at most one
// waiter per signal.
type Conn struct {
	id     string
	dev    *Device
	parity int
	locked bool // guarded by dev.mu
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Parity returns the parity slot assigned at attach time.
func (c *Conn) Parity() (int, error) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	parity, err := c.dev.validateLocked(c)
	if err != nil {
		return 0, err
	}
	return parity, nil
}

// Size returns the payload size of the shared region. Stateless; never
// blocks.
func (c *Conn) Size() uint64 {
	return c.dev.Size()
}

// RegionToken returns the exportable token for the device's region. The
// same region is returned on every call.
func (c *Conn) RegionToken() (string, error) {
	c.dev.mu.Lock()
	_, err := c.dev.validateLocked(c)
	c.dev.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.dev.RegionToken(), nil
}

// Lock blocks until it is this connection's turn, then takes the lock.
// Idempotent: a Lock while already locked returns immediately without
// consuming the signal again.
//
// The wait runs outside the device mutex. After waking, the signal state
// is re-checked under the mutex before the turn is taken; only then is
// the signal re-armed for the next round and the locked flag set.
// Re-arming any earlier would let a fire be consumed twice.
//
// A wait cancelled through ctx returns ErrWaitInterrupted with the
// connection still unlocked; callers are expected to retry.
func (c *Conn) Lock(ctx context.Context) error {
	d := c.dev

	for {
		d.mu.Lock()
		parity, err := d.validateLocked(c)
		if err != nil {
			d.mu.Unlock()
			return err
		}

		if c.locked {
			// Already in the locked state; ignore.
			d.mu.Unlock()
			return nil
		}

		sig := d.signals[parity]
		ch, seq, signaled := sig.waitChLocked()
		if signaled {
			// Our turn: re-arm for the next round and record the hold.
			sig.rearmLocked()
			c.locked = true
			d.mu.Unlock()

			log.WithField("conn", c.id).Debugf("locked parity %d round %d", parity, seq+1)
			return nil
		}
		d.mu.Unlock()

		select {
		case <-ch:
			// Woken; loop to re-check state under the mutex. The fire may
			// have been consumed by nobody else (single waiter), but a
			// re-arm by a raced retry of this same connection makes the
			// snapshot stale, so never trust the wake alone.
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrWaitInterrupted, ctx.Err())
		}
	}
}

// Unlock passes the turn to the other parity. Idempotent: an Unlock
// while already unlocked returns immediately. Firing an already-signaled
// instance is logged and treated as benign; it means the rounds briefly
// raced with a detach, which the forced-signal path already resolved.
func (c *Conn) Unlock() error {
	d := c.dev

	d.mu.Lock()
	parity, err := d.validateLocked(c)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	if !c.locked {
		// Already in the unlocked state; ignore.
		d.mu.Unlock()
		return nil
	}

	// Publish this round's payload writes before the other parity can
	// observe its turn.
	d.seg.Header().IncrementRoundSequence()

	fireErr := d.signals[1-parity].fireLocked()
	c.locked = false
	d.mu.Unlock()

	if fireErr != nil {
		if errors.Is(fireErr, ErrAlreadySignaled) {
			log.WithField("conn", c.id).Warnf("unlock parity %d: %v", parity, fireErr)
			return nil
		}
		return fireErr
	}

	log.WithField("conn", c.id).Debugf("unlocked parity %d", parity)
	return nil
}

// Locked reports whether the connection currently holds the lock.
func (c *Conn) Locked() bool {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.locked
}
