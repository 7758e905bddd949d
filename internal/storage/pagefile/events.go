/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

package pagefile

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType tags a diagnostic event emitted by this package. Shaped to
// match the audit trail's own Event so downstream consumers of FlyDB's
// diagnostic stream can subscribe to pagefile events without a new wire
// format.
type EventType string

const (
	EventRead       EventType = "pagefile.read"
	EventWrite      EventType = "pagefile.write"
	EventQueue      EventType = "pagefile.queue"
	EventCheckpoint EventType = "pagefile.checkpoint"
	EventRecovery   EventType = "pagefile.recovery"
)

// Status is the outcome recorded on an Event.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Event is one diagnostic occurrence: a checkpoint ran, a recovery scan
// found N confirmed transactions, a page write failed. CorrelationID lets
// a caller tie together every event belonging to one recovery pass or one
// checkpoint.
type Event struct {
	Type          EventType
	Time          time.Time
	Status        Status
	CorrelationID string
	Metadata      map[string]any
}

// NewCorrelationID returns a fresh correlation ID for grouping a related
// sequence of events (one recovery scan, one checkpoint run).
func NewCorrelationID() string {
	return uuid.New().String()
}

// EventSink receives Events as they are emitted. Implementations must
// not block the caller for long; EventBus.Emit calls every registered sink
// synchronously.
type EventSink func(Event)

// EventBus fans a stream of diagnostic Events out to zero or more sinks.
// It is safe for concurrent use; Subscribe and Emit may be called from
// any goroutine.
type EventBus struct {
	mu    sync.RWMutex
	sinks []EventSink
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a sink that receives every future Emit.
func (b *EventBus) Subscribe(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Emit delivers ev to every subscribed sink.
func (b *EventBus) Emit(ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s(ev)
	}
}
