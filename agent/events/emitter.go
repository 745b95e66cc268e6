// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler receives an emitted event. Handlers run synchronously on the
// emitting goroutine, so a fast handler keeps the loop fast and a slow
// handler is visible in traces rather than hidden in a queue.
type Handler func(*Event)

// Emitter fans events out to registered handlers in registration
// order. Sequence numbers are assigned under the same lock as the
// fan-out, so handlers observe a strictly increasing Seq with no gaps
// and no reordering even under concurrent Emit calls.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu       sync.Mutex
	handlers []Handler
	seq      uint64

	runID     string
	sessionID string
}

// NewEmitter creates an emitter scoped to one run.
func NewEmitter(runID, sessionID string) *Emitter {
	return &Emitter{runID: runID, sessionID: sessionID}
}

// Subscribe registers a handler. Handlers registered after events have
// been emitted see only subsequent events.
func (e *Emitter) Subscribe(h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Emit publishes an event of the given type and payload to all
// handlers, in order.
func (e *Emitter) Emit(eventType Type, stage string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     e.runID,
		SessionID: e.sessionID,
		Stage:     stage,
		Seq:       e.seq,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, h := range e.handlers {
		h(event)
	}
}
