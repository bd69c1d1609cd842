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
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"turnstile/internal/arbiter"
)

func TestRequestRoundTrip(t *testing.T) {
	ops := []Op{OpQuerySize, OpQueryParity, OpGetRegion, OpLock, OpUnlock}

	var buf bytes.Buffer
	for _, op := range ops {
		if err := WriteRequest(&buf, op); err != nil {
			t.Fatalf("WriteRequest(%s): %v", op, err)
		}
	}
	for _, op := range ops {
		req, err := ReadRequest(&buf)
		if err != nil {
			t.Fatalf("ReadRequest(%s): %v", op, err)
		}
		if req.Op != op {
			t.Errorf("op = %s, want %s", req.Op, op)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("%d trailing bytes after round trip", buf.Len())
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []Response{
		{Op: OpQuerySize, Status: StatusOK, Value: 40},
		{Op: OpQueryParity, Status: StatusOK, Value: 1},
		{Op: OpGetRegion, Status: StatusOK, Token: "/dev/shm/turnstile_dmapp0"},
		{Op: OpLock, Status: StatusOK},
		{Op: OpUnlock, Status: StatusOK},
		{Op: OpLock, Status: StatusWaitInterrupted, Message: "wait interrupted: context canceled"},
		{Op: OpQueryParity, Status: StatusNoSlotAvailable, Message: "no slot available"},
	}

	for _, want := range tests {
		var buf bytes.Buffer
		if err := WriteResponse(&buf, want); err != nil {
			t.Fatalf("WriteResponse(%s/%s): %v", want.Op, want.Status, err)
		}
		got, err := ReadResponse(&buf)
		if err != nil {
			t.Fatalf("ReadResponse(%s/%s): %v", want.Op, want.Status, err)
		}
		if got != want {
			t.Errorf("round trip = %+v, want %+v", got, want)
		}
	}
}

func TestReadRequestRejectsBadMagic(t *testing.T) {
	frame := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint16(frame[0:2], 0xDEAD)
	frame[2] = byte(OpLock)

	if _, err := ReadRequest(bytes.NewReader(frame)); err == nil {
		t.Fatal("accepted frame with bad magic")
	}
}

func TestReadResponseRejectsOversizePayload(t *testing.T) {
	frame := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint16(frame[0:2], FrameMagic)
	frame[2] = byte(OpGetRegion)
	binary.LittleEndian.PutUint32(frame[4:8], MaxFramePayload+1)

	if _, err := ReadResponse(bytes.NewReader(frame)); err == nil {
		t.Fatal("accepted frame exceeding the payload bound")
	}
}

func TestReadRequestShortFrame(t *testing.T) {
	if _, err := ReadRequest(bytes.NewReader([]byte{0x53, 0x54, 0x01})); err == nil {
		t.Fatal("accepted truncated frame header")
	}
}

func TestReadRequestDrainsUnknownPayload(t *testing.T) {
	// A future revision may attach payloads to requests; the server must
	// stay in sync with a client that does.
	var buf bytes.Buffer
	frame := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint16(frame[0:2], FrameMagic)
	frame[2] = byte(OpLock)
	binary.LittleEndian.PutUint32(frame[4:8], 4)
	buf.Write(frame)
	buf.Write([]byte{1, 2, 3, 4})
	if err := WriteRequest(&buf, OpUnlock); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	req, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Op != OpLock {
		t.Errorf("first op = %s, want LOCK", req.Op)
	}
	req, err = ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest after drain: %v", err)
	}
	if req.Op != OpUnlock {
		t.Errorf("second op = %s, want UNLOCK", req.Op)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status Status
	}{
		{arbiter.ErrNoSlotAvailable, StatusNoSlotAvailable},
		{arbiter.ErrInvalidConnection, StatusInvalidConnection},
		{arbiter.ErrWaitInterrupted, StatusWaitInterrupted},
		{arbiter.ErrDeviceClosed, StatusDeviceClosed},
		{errors.New("disk on fire"), StatusInternal},
	}

	for _, tt := range tests {
		if got := StatusFromError(tt.err); got != tt.status {
			t.Errorf("StatusFromError(%v) = %s, want %s", tt.err, got, tt.status)
		}
	}

	// Statuses with a sentinel map back to it so errors.Is works across
	// the wire.
	err := ErrorFromStatus(StatusWaitInterrupted, "wait interrupted: context canceled")
	if !errors.Is(err, arbiter.ErrWaitInterrupted) {
		t.Errorf("ErrorFromStatus(WAIT_INTERRUPTED) = %v, want ErrWaitInterrupted", err)
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("message lost across mapping: %v", err)
	}
}
