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
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"turnstile/internal/arbiter"
)

// Server is the control surface: it listens on a unix socket and
// multiplexes control requests from client handles onto one device
// instance. A socket connect is an attach, a socket close (graceful or
// abrupt) is a detach. Each connection is served by its own goroutine so
// that one connection blocked in LOCK never stalls the other's requests.
type Server struct {
	dev *arbiter.Device
	ln  net.Listener

	path string

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Accepted sockets, so Close can disconnect clients that would
	// otherwise keep their reader blocked in ReadRequest forever.
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer binds the control socket for the given device. A stale
// socket file from a previous run is removed first.
func NewServer(socketPath string, dev *arbiter.Device) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		dev:    dev,
		ln:     ln,
		path:   socketPath,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the socket path the server listens on.
func (s *Server) Addr() string {
	return s.path
}

// Serve accepts connections until the server is closed. It returns nil
// after a clean Close.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(nc)
		}()
	}
}

// Close stops accepting, disconnects every client and waits for their
// serve loops to finish. The device itself is closed by the caller once
// Close returns and all slots are free.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.ln.Close()

		// Closing the sockets fails the blocked reads; each serve loop
		// then drains and runs its deferred detach.
		s.connsMu.Lock()
		for nc := range s.conns {
			nc.Close()
		}
		s.connsMu.Unlock()
	})
	s.wg.Wait()
	return nil
}

// trackConn registers an accepted socket for teardown. It reports false
// when the server is already closing; the socket is then abandoned.
func (s *Server) trackConn(nc net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) untrackConn(nc net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, nc)
	s.connsMu.Unlock()
}

// handleConn serves one client handle for its whole lifetime.
func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()

	if !s.trackConn(nc) {
		return
	}
	defer s.untrackConn(nc)

	conn, err := s.dev.Attach()
	if err != nil {
		// Both slots occupied (or device closing). Reject the handle and
		// let the next attach try again once a slot frees up.
		log.Warnf("attach rejected: %v", err)
		WriteResponse(nc, Response{
			Op:      OpQueryParity,
			Status:  StatusFromError(err),
			Message: err.Error(),
		})
		return
	}
	defer s.dev.Detach(conn)

	clog := log.WithField("conn", conn.ID())
	clog.Debug("client attached")

	// The reader runs apart from the dispatch loop so that a client that
	// disappears mid-LOCK cancels the pending wait: the read side sees
	// EOF, cancels ctx, the wait returns interrupted, and the deferred
	// detach fires the forced signal if the client died holding the lock.
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	reqCh := make(chan Request)
	go func() {
		defer close(reqCh)
		for {
			req, err := ReadRequest(nc)
			if err != nil {
				if !errors.Is(err, io.EOF) && !s.closed.Load() {
					clog.Debugf("read: %v", err)
				}
				cancel()
				return
			}
			select {
			case reqCh <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range reqCh {
		resp := s.dispatch(ctx, conn, req)
		if err := WriteResponse(nc, resp); err != nil {
			clog.Debugf("write: %v", err)
			return
		}
	}

	clog.Debug("client detaching")
}

// dispatch runs one control request against the hand-off engine.
func (s *Server) dispatch(ctx context.Context, conn *arbiter.Conn, req Request) Response {
	resp := Response{Op: req.Op}

	var err error
	switch req.Op {
	case OpQuerySize:
		resp.Value = conn.Size()
	case OpQueryParity:
		var parity int
		parity, err = conn.Parity()
		resp.Value = uint64(parity)
	case OpGetRegion:
		resp.Token, err = conn.RegionToken()
	case OpLock:
		err = conn.Lock(ctx)
	case OpUnlock:
		err = conn.Unlock()
	default:
		resp.Status = StatusBadRequest
		resp.Message = req.Op.String()
		return resp
	}

	if err != nil {
		resp.Status = StatusFromError(err)
		resp.Message = err.Error()
	}
	return resp
}
