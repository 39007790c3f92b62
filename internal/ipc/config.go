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

package ipc

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Config tunes a Session.
type Config struct {
	// CallTimeout bounds one call round trip when the caller's context
	// carries no deadline of its own.
	CallTimeout time.Duration

	// DialTimeout bounds the whole dial loop, retries included.
	DialTimeout time.Duration

	// MaxPendingCalls caps in-flight calls on one session.
	MaxPendingCalls int

	// EventQueueCap caps buffered unsolicited event frames.
	EventQueueCap int

	// EventWorkers sizes the worker pool dispatching event handlers.
	EventWorkers int

	// MaxFrameSize rejects frames with larger payloads.
	MaxFrameSize uint32

	// Tracer, when set, wraps every call in a span.
	Tracer trace.Tracer
}

// DefaultConfig returns the recommended session configuration.
func DefaultConfig() *Config {
	return &Config{
		CallTimeout:     5 * time.Second,
		DialTimeout:     10 * time.Second,
		MaxPendingCalls: 1024,
		EventQueueCap:   256,
		EventWorkers:    4,
		MaxFrameSize:    1 << 20,
	}
}

// VerifyConfig checks a Config for usable values.
func VerifyConfig(c *Config) error {
	if c == nil {
		return errors.New("ipc: nil config")
	}
	if c.CallTimeout <= 0 {
		return errors.New("ipc: CallTimeout must be positive")
	}
	if c.DialTimeout <= 0 {
		return errors.New("ipc: DialTimeout must be positive")
	}
	if c.MaxPendingCalls <= 0 {
		return errors.New("ipc: MaxPendingCalls must be positive")
	}
	if c.EventQueueCap <= 0 {
		return errors.New("ipc: EventQueueCap must be positive")
	}
	if c.EventWorkers <= 0 {
		return errors.New("ipc: EventWorkers must be positive")
	}
	if c.MaxFrameSize < minFrameSize {
		return errors.New("ipc: MaxFrameSize too small")
	}
	return nil
}
