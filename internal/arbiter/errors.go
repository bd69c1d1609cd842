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

import "errors"

var (
	// ErrNoSlotAvailable is returned by Attach when both parity slots are
	// occupied. Fatal to that attach attempt, not to the device.
	ErrNoSlotAvailable = errors.New("no parity slot available")

	// ErrInvalidConnection indicates a request from a connection the
	// registry does not recognize, typically one that already detached.
	ErrInvalidConnection = errors.New("invalid connection")

	// ErrWaitInterrupted is returned by Lock when its wait is cancelled
	// externally. The connection remains unlocked; callers may retry.
	ErrWaitInterrupted = errors.New("wait interrupted")

	// ErrAlreadySignaled indicates a fire on a signal that was already
	// in the signaled state. An expected outcome of the detach/unlock
	// overlap; logged, never propagated to control callers.
	ErrAlreadySignaled = errors.New("signal already signaled")

	// ErrAllocationFailed indicates the region provider could not back
	// the device. Fatal to device bring-up.
	ErrAllocationFailed = errors.New("region allocation failed")

	// ErrDeviceBusy is returned by Close while a connection is still
	// attached.
	ErrDeviceBusy = errors.New("device busy")

	// ErrDeviceClosed indicates a request against a device after
	// teardown.
	ErrDeviceClosed = errors.New("device closed")
)
