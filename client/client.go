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

// Package client is the user-side handle to a turnstile device: it
// dials the control socket, maps the shared region and drives the
// lock/unlock alternation.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"turnstile/internal/arbiter"
	"turnstile/internal/control"
	"turnstile/internal/shm"
)

var (
	// DefaultConnectTimeout bounds the control socket dial.
	DefaultConnectTimeout = 3 * time.Second
	// DefaultRetryBackoff is slept between Lock retries after an
	// interrupted wait.
	DefaultRetryBackoff = 100 * time.Millisecond
)

var (
	debug = strings.Contains(os.Getenv("DEBUG_TURNSTILE"), "client")

	log logrus.FieldLogger
)

// SetLogger sets the package logger.
func SetLogger(logger logrus.FieldLogger) {
	log = logger
}

func init() {
	logger := logrus.New()
	if debug {
		logger.Level = logrus.DebugLevel
	}
	log = logger.WithField("logger", "turnstile/client")
}

// Client is one attached connection. Its requests are serialized: the
// protocol admits one outstanding request per handle, so concurrent
// calls queue on an internal mutex.
type Client struct {
	mu sync.Mutex
	nc net.Conn

	parity int
	size   uint64
	seg    *shm.Segment
}

// Dial attaches to the daemon on the given control socket. The size and
// parity queries double as the attach handshake: a daemon with both
// slots occupied answers the first request with NO_SLOT_AVAILABLE.
func Dial(socketPath string) (*Client, error) {
	nc, err := net.DialTimeout("unix", socketPath, DefaultConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}

	c := &Client{nc: nc}

	size, err := c.query(control.OpQuerySize)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.size = size

	parity, err := c.query(control.OpQueryParity)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if parity > 1 {
		nc.Close()
		return nil, fmt.Errorf("invalid parity %d", parity)
	}
	c.parity = int(parity)

	log.Debugf("attached: parity %d, region %d bytes", c.parity, c.size)

	return c, nil
}

// Size returns the payload size of the shared region in bytes.
func (c *Client) Size() uint64 {
	return c.size
}

// Parity returns the parity assigned at attach time.
func (c *Client) Parity() int {
	return c.parity
}

// Region maps the shared region into this process and returns its
// payload bytes. The mapping is created once and reused; both attached
// clients see the same bytes. Callers must hold the lock while touching
// them.
func (c *Client) Region() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seg == nil {
		resp, err := c.roundTrip(control.OpGetRegion)
		if err != nil {
			return nil, err
		}
		seg, err := shm.OpenSegment(resp.Token)
		if err != nil {
			return nil, fmt.Errorf("map region: %w", err)
		}
		c.seg = seg
	}
	return c.seg.Payload(), nil
}

// Lock blocks until it is this client's turn. Idempotent. On an
// interrupted wait the daemon reports ErrWaitInterrupted and the
// connection stays unlocked; use LockRetry for the retry policy.
func (c *Client) Lock() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.roundTrip(control.OpLock)
	return err
}

// LockRetry calls Lock, sleeping DefaultRetryBackoff and retrying for as
// long as the daemon reports an interrupted wait and ctx is live. Any
// other failure is returned as is.
func (c *Client) LockRetry(ctx context.Context) error {
	for {
		err := c.Lock()
		if !errors.Is(err, arbiter.ErrWaitInterrupted) {
			return err
		}

		log.Debugf("lock interrupted, retrying: %v", err)
		select {
		case <-time.After(DefaultRetryBackoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", arbiter.ErrWaitInterrupted, ctx.Err())
		}
	}
}

// Unlock passes the turn to the other parity. Idempotent; benign signal
// races are already swallowed on the daemon side.
func (c *Client) Unlock() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.roundTrip(control.OpUnlock)
	return err
}

// Close detaches from the daemon and unmaps the region. Detaching while
// locked is safe: the daemon fires the forced signal on our behalf.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.seg != nil {
		if err := c.seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.seg = nil
	}
	if c.nc != nil {
		if err := c.nc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.nc = nil
	}
	return firstErr
}

// query performs a value-returning request, taking the mutex itself.
func (c *Client) query(op control.Op) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.roundTrip(op)
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// roundTrip writes one request and reads its response. Callers hold
// c.mu.
func (c *Client) roundTrip(op control.Op) (control.Response, error) {
	if c.nc == nil {
		return control.Response{}, errors.New("client closed")
	}

	if err := control.WriteRequest(c.nc, op); err != nil {
		return control.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := control.ReadResponse(c.nc)
	if err != nil {
		return control.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != control.StatusOK {
		return resp, fmt.Errorf("%s: %w", op, control.ErrorFromStatus(resp.Status, resp.Message))
	}
	return resp, nil
}
