/*
 * Copyright 2025 SREDiag Authors
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

// Package ipc implements the client side of the framed call/reply
// protocol spoken with a crypto plugin service over a local socket.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/drm-plugin/internal/logging"
)

var internalLogger = logging.New("ipc", nil)

var (
	// ErrSessionClosed fails calls whose session died before a reply
	// arrived. It marks the remote endpoint gone for that call.
	ErrSessionClosed = errors.New("ipc: session closed")

	// ErrTimeout fails calls that outlive their deadline.
	ErrTimeout = errors.New("ipc: call timed out")

	// ErrTooManyPendingCalls rejects calls beyond MaxPendingCalls.
	ErrTooManyPendingCalls = errors.New("ipc: too many pending calls")
)

// EventHandler receives unsolicited frames pushed by the remote side.
type EventHandler func(method uint16, payload []byte)

// Session is one connection to a plugin service endpoint. All methods
// are safe for concurrent use.
type Session struct {
	conn net.Conn
	conf *Config

	writeMu    sync.Mutex
	nextCallID uint32
	pendingN   int32
	pending    cmap.ConcurrentMap[string, chan *frame]

	events  *queue.Queue
	workers *ants.Pool

	handlerMu sync.RWMutex
	handlers  []EventHandler

	shutdown   uint32
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// Dial connects to a plugin service endpoint, retrying transient
// failures with exponential backoff until DialTimeout elapses.
func Dial(ctx context.Context, network, address string, conf *Config) (*Session, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	var conn net.Conn
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = conf.DialTimeout
	op := func() error {
		var err error
		conn, err = (&net.Dialer{Timeout: conf.DialTimeout}).DialContext(ctx, network, address)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("ipc: dial %s %s: %w", network, address, err)
	}
	return NewSession(conn, conf)
}

// NewSession wraps an established connection. The session owns conn.
func NewSession(conn net.Conn, conf *Config) (*Session, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	workers, err := ants.NewPool(conf.EventWorkers)
	if err != nil {
		return nil, fmt.Errorf("ipc: event worker pool: %w", err)
	}
	s := &Session{
		conn:       conn,
		conf:       conf,
		pending:    cmap.New[chan *frame](),
		events:     queue.New(int64(conf.EventQueueCap)),
		workers:    workers,
		shutdownCh: make(chan struct{}),
	}
	go s.recvLoop()
	go s.dispatchLoop()
	return s, nil
}

// OnEvent registers a handler for unsolicited frames. Handlers run on
// the session's worker pool and must not block indefinitely.
func (s *Session) OnEvent(h EventHandler) {
	s.handlerMu.Lock()
	s.handlers = append(s.handlers, h)
	s.handlerMu.Unlock()
}

// Healthy reports whether the session can still carry calls.
func (s *Session) Healthy() bool {
	return atomic.LoadUint32(&s.shutdown) == 0
}

// HealthCheck adapts Healthy to a healthcheck.Check.
func (s *Session) HealthCheck() error {
	if !s.Healthy() {
		return ErrSessionClosed
	}
	return nil
}

// Call performs one request/reply round trip. A context without a
// deadline gets the configured CallTimeout. A transport failure fails
// only this call; the session is marked unhealthy for later ones.
func (s *Session) Call(ctx context.Context, method uint16, payload []byte) ([]byte, error) {
	if !s.Healthy() {
		return nil, ErrSessionClosed
	}
	if atomic.AddInt32(&s.pendingN, 1) > int32(s.conf.MaxPendingCalls) {
		atomic.AddInt32(&s.pendingN, -1)
		return nil, ErrTooManyPendingCalls
	}
	defer atomic.AddInt32(&s.pendingN, -1)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.conf.CallTimeout)
		defer cancel()
	}

	if s.conf.Tracer != nil {
		var span trace.Span
		ctx, span = s.conf.Tracer.Start(ctx, "ipc.call",
			trace.WithAttributes(attribute.Int("method", int(method))))
		defer span.End()
	}

	callID := atomic.AddUint32(&s.nextCallID, 1)
	key := strconv.FormatUint(uint64(callID), 10)
	replyCh := make(chan *frame, 1)
	s.pending.Set(key, replyCh)
	defer s.pending.Remove(key)

	if err := s.writeFrame(&frame{
		version: ProtoVersion2,
		ftype:   frameTypeRequest,
		method:  method,
		callID:  callID,
		payload: payload,
	}); err != nil {
		s.markDead()
		return nil, fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return nil, ErrSessionClosed
		}
		return reply.payload, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case <-s.shutdownCh:
		return nil, ErrSessionClosed
	}
}

func (s *Session) writeFrame(f *frame) error {
	w := newPayloadWriter()
	defer w.release()
	appendFrame(w.buf, f)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.conf.CallTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(w.buf.B)
	return err
}

func (s *Session) recvLoop() {
	for {
		f, err := readFrame(s.conn, s.conf.MaxFrameSize)
		if err != nil {
			if s.Healthy() {
				internalLogger.Warnf("session recv failed: %v", err)
			}
			s.markDead()
			return
		}
		switch f.ftype {
		case frameTypeReply:
			key := strconv.FormatUint(uint64(f.callID), 10)
			if ch, ok := s.pending.Pop(key); ok {
				ch <- f
			} else {
				internalLogger.Debugf("reply for unknown call %d dropped", f.callID)
			}
		case frameTypeEvent:
			if err := s.events.Put(f); err != nil {
				return
			}
		default:
			internalLogger.Warnf("unexpected frame type %d from remote", f.ftype)
		}
	}
}

func (s *Session) dispatchLoop() {
	for {
		items, err := s.events.Get(1)
		if err != nil {
			// queue disposed on close
			return
		}
		f, ok := items[0].(*frame)
		if !ok {
			continue
		}
		s.handlerMu.RLock()
		handlers := s.handlers
		s.handlerMu.RUnlock()
		for _, h := range handlers {
			h := h
			if err := s.workers.Submit(func() { h(f.method, f.payload) }); err != nil {
				internalLogger.Warnf("event dispatch rejected: %v", err)
			}
		}
	}
}

// markDead flips the session unhealthy and fails every pending call.
func (s *Session) markDead() {
	if !atomic.CompareAndSwapUint32(&s.shutdown, 0, 1) {
		return
	}
	close(s.shutdownCh)
	for _, key := range s.pending.Keys() {
		if ch, ok := s.pending.Pop(key); ok {
			close(ch)
		}
	}
	if err := s.conn.Close(); err != nil {
		internalLogger.Debugf("conn close: %v", err)
	}
	s.events.Dispose()
}

// Close shuts the session down and releases its worker pool.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.markDead()
		s.workers.Release()
	})
	return nil
}
