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

package control

import (
	"errors"
	"fmt"

	"turnstile/internal/arbiter"
)

// StatusFromError maps an engine error to its wire status.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, arbiter.ErrNoSlotAvailable):
		return StatusNoSlotAvailable
	case errors.Is(err, arbiter.ErrInvalidConnection):
		return StatusInvalidConnection
	case errors.Is(err, arbiter.ErrWaitInterrupted):
		return StatusWaitInterrupted
	case errors.Is(err, arbiter.ErrDeviceClosed), errors.Is(err, arbiter.ErrDeviceBusy):
		return StatusDeviceClosed
	default:
		return StatusInternal
	}
}

// ErrorFromStatus maps a wire status back to the engine error the peer
// observed, wrapping the server-supplied message.
func ErrorFromStatus(st Status, msg string) error {
	var base error
	switch st {
	case StatusOK:
		return nil
	case StatusNoSlotAvailable:
		base = arbiter.ErrNoSlotAvailable
	case StatusInvalidConnection:
		base = arbiter.ErrInvalidConnection
	case StatusWaitInterrupted:
		base = arbiter.ErrWaitInterrupted
	case StatusDeviceClosed:
		base = arbiter.ErrDeviceClosed
	default:
		base = errors.New(st.String())
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}
