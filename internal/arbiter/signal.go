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

import "sync"

// signal is a single-shot, re-armable event. It moves from unsignaled to
// signaled exactly once per round; re-arming resets it and bumps the
// sequence so rounds stay distinguishable across the signal's lifetime.
//
// All fields are guarded by the device mutex, which the signal holds a
// reference to the way the original fences shared the device spinlock.
// Methods suffixed Locked must be called with that mutex held. Waiting
// happens outside the mutex: callers snapshot the wait channel and
// sequence under the mutex via waitChLocked, block on the channel, then
// re-check state under the mutex after waking.
type signal struct {
	mu     *sync.Mutex // device mutex; guards every field below
	parity int
	seq    uint64

	signaled bool
	ch       chan struct{} // closed on fire; replaced on re-arm
}

// newSignal creates an unsignaled event for the given parity slot.
func newSignal(mu *sync.Mutex, parity int) *signal {
	return &signal{
		mu:     mu,
		parity: parity,
		ch:     make(chan struct{}),
	}
}

// fireLocked moves the signal to the signaled state, waking the waiter
// if one is blocked. Firing an already-signaled instance returns
// ErrAlreadySignaled; callers treat that as benign.
func (s *signal) fireLocked() error {
	if s.signaled {
		return ErrAlreadySignaled
	}
	s.signaled = true
	close(s.ch)
	return nil
}

// rearmLocked resets the signal for the next round. Only the consumer
// that just observed the signaled state may re-arm; re-arming before the
// wake would open a window where one fire is consumed twice.
func (s *signal) rearmLocked() {
	if !s.signaled {
		return
	}
	s.signaled = false
	s.seq++
	s.ch = make(chan struct{})
}

// waitChLocked returns the channel a waiter should block on, the current
// sequence, and whether the signal is already in the signaled state.
// When signaled is true the channel is already closed and a receive
// returns immediately.
func (s *signal) waitChLocked() (<-chan struct{}, uint64, bool) {
	return s.ch, s.seq, s.signaled
}

// sequenceLocked returns the current re-arm sequence.
func (s *signal) sequenceLocked() uint64 {
	return s.seq
}
