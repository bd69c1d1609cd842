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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Control frame layout (8 bytes, little-endian):
// uint16 magic   // 0x5453 "TS"
// uint8  op      // enum Op (echoed back in responses)
// uint8  status  // enum Status; zero in requests
// uint32 length  // payload length in bytes (excludes 8-byte header)
const frameHeaderSize = 8

// FrameMagic identifies turnstile control frames.
const FrameMagic = uint16(0x5453)

// MaxFramePayload bounds control payloads; region tokens and error
// strings are short.
const MaxFramePayload = 4096

// Op identifies a control request.
type Op uint8

const (
	OpQuerySize   Op = 0x01
	OpQueryParity Op = 0x02
	OpGetRegion   Op = 0x03
	OpLock        Op = 0x04
	OpUnlock      Op = 0x05
)

// String returns the op mnemonic.
func (op Op) String() string {
	switch op {
	case OpQuerySize:
		return "QUERY_SIZE"
	case OpQueryParity:
		return "QUERY_PARITY"
	case OpGetRegion:
		return "GET_REGION"
	case OpLock:
		return "LOCK"
	case OpUnlock:
		return "UNLOCK"
	}
	return fmt.Sprintf("OP(%d)", uint8(op))
}

// Status encodes the outcome of a control request.
type Status uint8

const (
	StatusOK                Status = 0x00
	StatusNoSlotAvailable   Status = 0x01
	StatusInvalidConnection Status = 0x02
	StatusWaitInterrupted   Status = 0x03
	StatusDeviceClosed      Status = 0x04
	StatusBadRequest        Status = 0x05
	StatusInternal          Status = 0x06
)

// String returns the status mnemonic.
func (st Status) String() string {
	switch st {
	case StatusOK:
		return "OK"
	case StatusNoSlotAvailable:
		return "NO_SLOT_AVAILABLE"
	case StatusInvalidConnection:
		return "INVALID_CONNECTION"
	case StatusWaitInterrupted:
		return "WAIT_INTERRUPTED"
	case StatusDeviceClosed:
		return "DEVICE_CLOSED"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusInternal:
		return "INTERNAL"
	}
	return fmt.Sprintf("STATUS(%d)", uint8(st))
}

// FrameHeader is the on-wire 8B header.
type FrameHeader struct {
	Magic  uint16
	Op     Op
	Status Status
	Length uint32
}

func encodeFrameHeaderTo(dst *[frameHeaderSize]byte, fh FrameHeader) {
	b := dst[:]
	binary.LittleEndian.PutUint16(b[0:2], fh.Magic)
	b[2] = byte(fh.Op)
	b[3] = byte(fh.Status)
	binary.LittleEndian.PutUint32(b[4:8], fh.Length)
}

func decodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < frameHeaderSize {
		return FrameHeader{}, errors.New("frame header too short")
	}
	var fh FrameHeader
	fh.Magic = binary.LittleEndian.Uint16(b[0:2])
	fh.Op = Op(b[2])
	fh.Status = Status(b[3])
	fh.Length = binary.LittleEndian.Uint32(b[4:8])

	if fh.Magic != FrameMagic {
		return FrameHeader{}, fmt.Errorf("bad frame magic 0x%04x", fh.Magic)
	}
	if fh.Length > MaxFramePayload {
		return FrameHeader{}, fmt.Errorf("frame payload %d exceeds maximum %d", fh.Length, MaxFramePayload)
	}
	return fh, nil
}

// Request is a decoded control request. Requests carry no payload.
type Request struct {
	Op Op
}

// Response is a decoded control response. Value carries numeric results
// (size, parity); Token carries the region token; Message carries the
// error text for non-OK statuses.
type Response struct {
	Op      Op
	Status  Status
	Value   uint64
	Token   string
	Message string
}

// WriteRequest writes one request frame.
func WriteRequest(w io.Writer, op Op) error {
	var hdr [frameHeaderSize]byte
	encodeFrameHeaderTo(&hdr, FrameHeader{Magic: FrameMagic, Op: op})
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write request header: %w", err)
	}
	return nil
}

// ReadRequest reads one request frame. Any payload is drained and
// discarded so a future protocol revision can extend requests without
// desynchronizing old servers.
func ReadRequest(r io.Reader) (Request, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, err
	}
	fh, err := decodeFrameHeader(hdr[:])
	if err != nil {
		return Request{}, err
	}
	if fh.Length > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(fh.Length)); err != nil {
			return Request{}, fmt.Errorf("drain request payload: %w", err)
		}
	}
	return Request{Op: fh.Op}, nil
}

// WriteResponse writes one response frame.
func WriteResponse(w io.Writer, resp Response) error {
	payload := encodeResponsePayload(resp)
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("response payload %d exceeds maximum %d", len(payload), MaxFramePayload)
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	var hdr [frameHeaderSize]byte
	encodeFrameHeaderTo(&hdr, FrameHeader{
		Magic:  FrameMagic,
		Op:     resp.Op,
		Status: resp.Status,
		Length: uint32(len(payload)),
	})
	copy(buf, hdr[:])
	copy(buf[frameHeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// ReadResponse reads one response frame.
func ReadResponse(r io.Reader) (Response, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Response{}, err
	}
	fh, err := decodeFrameHeader(hdr[:])
	if err != nil {
		return Response{}, err
	}

	payload := make([]byte, fh.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Response{}, fmt.Errorf("read response payload: %w", err)
	}

	resp := Response{Op: fh.Op, Status: fh.Status}
	if err := decodeResponsePayload(&resp, payload); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Response payload layout: for StatusOK, QUERY_SIZE and QUERY_PARITY
// carry a uint64 value and GET_REGION carries the token bytes; every
// non-OK status carries the message bytes. LOCK/UNLOCK OK responses are
// empty.

func encodeResponsePayload(resp Response) []byte {
	if resp.Status != StatusOK {
		return []byte(resp.Message)
	}
	switch resp.Op {
	case OpQuerySize, OpQueryParity:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], resp.Value)
		return b[:]
	case OpGetRegion:
		return []byte(resp.Token)
	}
	return nil
}

func decodeResponsePayload(resp *Response, payload []byte) error {
	if resp.Status != StatusOK {
		resp.Message = string(payload)
		return nil
	}
	switch resp.Op {
	case OpQuerySize, OpQueryParity:
		if len(payload) != 8 {
			return fmt.Errorf("%s response payload is %d bytes, want 8", resp.Op, len(payload))
		}
		resp.Value = binary.LittleEndian.Uint64(payload)
	case OpGetRegion:
		if len(payload) == 0 {
			return errors.New("GET_REGION response missing token")
		}
		resp.Token = string(payload)
	}
	return nil
}
