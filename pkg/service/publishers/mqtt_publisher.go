// Zaparoo Handheld
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Handheld.
//
// Zaparoo Handheld is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Handheld is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Handheld.  If not, see <http://www.gnu.org/licenses/>.

// Package publishers mirrors event streams to external brokers.
package publishers

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const queueSize = 256

type message struct {
	payload any
	stream  broker.Stream
}

// MQTTPublisher is a broker.Sink that forwards events to an MQTT broker,
// one subtopic per stream. Deliver never blocks on the network.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client
	queue     chan message
	stopCh    chan struct{}
	broker    string
	topic     string
	filter    []string
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func NewMQTTPublisher(brokerAddr, topic string, filter []string) *MQTTPublisher {
	return &MQTTPublisher{
		broker:    brokerAddr,
		topic:     topic,
		filter:    filter,
		newClient: mqtt.NewClient,
		queue:     make(chan message, queueSize),
		stopCh:    make(chan struct{}),
	}
}

func (p *MQTTPublisher) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + p.broker)
	opts.SetClientID("zaparoo-handheld-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Msgf("mqtt publisher: connected to %s", p.broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	p.client = p.newClient(opts)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Info().Msgf("mqtt publisher: publishing to %s (topic: %s)", p.broker, p.topic)
	p.wg.Add(1)
	go p.run()
	return nil
}

func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		if p.client != nil && p.client.IsConnected() {
			log.Debug().Msg("mqtt publisher: disconnecting")
			p.client.Disconnect(250)
		}
	})
}

// Deliver queues an event. Events are dropped when the queue is full.
func (p *MQTTPublisher) Deliver(stream broker.Stream, payload any) {
	if !p.Matches(stream) {
		return
	}
	select {
	case p.queue <- message{stream: stream, payload: payload}:
	default:
		log.Warn().Str("stream", string(stream)).Msg("mqtt publisher: queue full, dropping event")
	}
}

// Matches reports whether stream passes the filter. An empty filter
// matches everything.
func (p *MQTTPublisher) Matches(stream broker.Stream) bool {
	return len(p.filter) == 0 || slices.Contains(p.filter, string(stream))
}

// Topic returns the MQTT topic for stream.
func (p *MQTTPublisher) Topic(stream broker.Stream) string {
	return p.topic + "/" + string(stream)
}

func (p *MQTTPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.queue:
			p.publish(msg)
		}
	}
}

func (p *MQTTPublisher) publish(msg message) {
	payload, err := json.Marshal(msg.payload)
	if err != nil {
		log.Error().Err(err).Msg("mqtt publisher: failed to marshal event")
		return
	}
	token := p.client.Publish(p.Topic(msg.stream), 0, false, payload)
	if token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Msg("mqtt publisher: failed to publish message")
		return
	}
	log.Debug().Msgf("mqtt publisher: published %s event", msg.stream)
}
