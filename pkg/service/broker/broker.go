/*
Zaparoo Handheld
Copyright (c) 2026 The Zaparoo Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of Zaparoo Handheld.

Zaparoo Handheld is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Zaparoo Handheld is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Zaparoo Handheld.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package broker delivers events from reader goroutines to the one
// subscriber registered for each stream, in publish order, without ever
// blocking the publisher.
package broker

import (
	"context"
	"slices"
	"sync"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// Stream names a logical event channel.
type Stream string

const (
	StreamTags       Stream = "tags"
	StreamConnection Stream = "connection"
	StreamBarcode    Stream = "barcode"
	StreamDiscovery  Stream = "discovery"
	StreamConfig     Stream = "config"
	StreamLink       Stream = "link"
)

// AllStreams lists every stream the readers publish on.
var AllStreams = []Stream{
	StreamTags,
	StreamConnection,
	StreamBarcode,
	StreamDiscovery,
	StreamConfig,
	StreamLink,
}

// DefaultQueueSize bounds the number of undelivered events. When the
// queue is full the oldest event outside the tags stream is dropped, and
// the oldest tag only once every queued event is a tag.
const DefaultQueueSize = 1024

// Sink receives events for a stream. Deliver is always called from the
// broker's delivery goroutine, one event at a time.
type Sink interface {
	Deliver(stream Stream, payload any)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(stream Stream, payload any)

func (f SinkFunc) Deliver(stream Stream, payload any) { f(stream, payload) }

// Publisher is the side of the broker the reader engines see.
type Publisher interface {
	Publish(stream Stream, payload any)
}

type envelope struct {
	payload any
	stream  Stream
}

// Broker holds at most one sink per stream. Sinks are looked up when an
// event is delivered, not when it is published, so an event published
// before a subscriber replaces another goes to the replacement.
type Broker struct {
	sinks   map[Stream]Sink
	signal  chan struct{}
	cancel  context.CancelFunc
	queue   []envelope
	wg      sync.WaitGroup
	maxSize int
	dropped int
	mu      syncutil.Mutex
}

func NewBroker() *Broker {
	return &Broker{
		sinks:   make(map[Stream]Sink),
		signal:  make(chan struct{}, 1),
		maxSize: DefaultQueueSize,
	}
}

// Start runs the delivery goroutine until ctx is done or Stop is called.
// Events published before Start are delivered once it runs.
func (b *Broker) Start(ctx context.Context) {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)
	}()
}

// Stop ends delivery and waits for the delivery goroutine to exit.
// Undelivered events are discarded.
func (b *Broker) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	b.wg.Wait()

	b.mu.Lock()
	if n := len(b.queue); n > 0 {
		log.Debug().Int("count", n).Msg("broker: discarding undelivered events")
	}
	b.queue = nil
	b.mu.Unlock()
}

// Subscribe installs sink on stream, replacing any previous one.
func (b *Broker) Subscribe(stream Stream, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sink == nil {
		delete(b.sinks, stream)
		return
	}
	b.sinks[stream] = sink
	log.Debug().Str("stream", string(stream)).Msg("subscriber registered")
}

// Unsubscribe clears stream. Safe to call when nothing is subscribed.
func (b *Broker) Unsubscribe(stream Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sinks[stream]; ok {
		delete(b.sinks, stream)
		log.Debug().Str("stream", string(stream)).Msg("subscriber removed")
	}
}

// UnsubscribeAll clears every stream.
func (b *Broker) UnsubscribeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = make(map[Stream]Sink)
}

// Subscribed reports whether stream has a sink.
func (b *Broker) Subscribed(stream Stream) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sinks[stream]
	return ok
}

// Publish queues payload for delivery. It never blocks.
func (b *Broker) Publish(stream Stream, payload any) {
	b.mu.Lock()
	if len(b.queue) >= b.maxSize {
		lost := b.dropOldestLocked()
		b.dropped++
		if b.dropped == 1 || b.dropped%100 == 0 {
			log.Warn().
				Int("dropped", b.dropped).
				Str("stream", string(lost)).
				Msg("broker queue full, dropping oldest event")
		}
	}
	b.queue = append(b.queue, envelope{stream: stream, payload: payload})
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// dropOldestLocked removes one queued event to make room and returns its
// stream. Tag readings are kept over status events.
func (b *Broker) dropOldestLocked() Stream {
	i := slices.IndexFunc(b.queue, func(e envelope) bool {
		return e.stream != StreamTags
	})
	if i < 0 {
		i = 0
	}
	lost := b.queue[i].stream
	b.queue = slices.Delete(b.queue, i, i+1)
	return lost
}

// Pending returns the number of events waiting for delivery.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Broker) run(ctx context.Context) {
	for {
		for {
			if ctx.Err() != nil {
				return
			}
			env, sink, ok := b.next()
			if !ok {
				break
			}
			if sink != nil {
				deliver(sink, env)
			}
		}

		select {
		case <-ctx.Done():
			log.Debug().Msg("broker: context cancelled, shutting down")
			return
		case <-b.signal:
		}
	}
}

// next pops the oldest event and resolves its sink.
func (b *Broker) next() (envelope, Sink, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return envelope{}, nil, false
	}
	env := b.queue[0]
	b.queue[0] = envelope{}
	b.queue = b.queue[1:]
	return env, b.sinks[env.stream], true
}

func deliver(sink Sink, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("stream", string(env.stream)).
				Msgf("panic in stream subscriber: %v", r)
		}
	}()
	sink.Deliver(env.stream, env.payload)
}
