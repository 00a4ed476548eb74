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

package service

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/platforms/linux/bluez"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/reader18"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/rs232barcode"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/simulated"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/wakelock"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/publishers"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DaemonHost is the host identity used when the controller runs as a
// standalone daemon rather than inside a host application.
const DaemonHost = driver.StaticHost("daemon")

// MakeDrivers builds the driver set selected in the config. An empty
// driver name leaves that peripheral class unsupported.
func MakeDrivers(cfg *config.Instance, clock clockwork.Clock) Drivers {
	var drivers Drivers

	switch cfg.UHF().Driver {
	case config.DriverReader18:
		drivers.UHF = reader18.Factory(cfg)
	case config.DriverSimulated:
		drivers.UHF = simulated.NewUHFReader().Factory()
	}

	switch cfg.Barcode().Driver {
	case config.DriverSerial:
		d := rs232barcode.NewDriver(cfg, clock)
		drivers.Barcode = d.New
		drivers.Unlocker = d
	case config.DriverSimulated:
		f := &simulated.DecoderFactory{}
		drivers.Barcode = f.New
		drivers.Unlocker = f
	}

	if cfg.BLE().Driver == config.DriverSimulated {
		drivers.BLE = simulated.NewBLEReader(driver.DeviceInfo{
			Name:    "Simulated UHF Sled",
			Address: "00:11:22:33:44:55",
		}).Factory()
	}

	return drivers
}

func startPublishers(cfg *config.Instance, hub *broker.Broker) []*publishers.MQTTPublisher {
	active := make([]*publishers.MQTTPublisher, 0)

	for _, mqttCfg := range cfg.GetMQTTPublishers() {
		// nil means enabled
		if mqttCfg.Enabled != nil && !*mqttCfg.Enabled {
			continue
		}
		topic := mqttCfg.Topic
		if topic == "" {
			topic = config.DefaultMQTTTopic
		}

		log.Info().Msgf("starting MQTT publisher: %s (topic: %s)", mqttCfg.Broker, topic)
		publisher := publishers.NewMQTTPublisher(mqttCfg.Broker, topic, mqttCfg.Filter)
		if err := publisher.Start(); err != nil {
			log.Error().Err(err).Msgf("failed to start MQTT publisher for %s", mqttCfg.Broker)
			continue
		}
		active = append(active, publisher)
	}

	if len(active) > 0 {
		log.Info().Msgf("started %d MQTT publisher(s)", len(active))
		publishers.Fanout(hub, active)
	}
	return active
}

// watchLink publishes the adapter power state on the link stream, once
// at startup and then on every change.
func watchLink(ctx context.Context, monitor *bluez.AdapterMonitor, hub *broker.Broker) {
	enabled, err := monitor.Enabled(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("bluetooth adapter state unavailable")
		return
	}
	hub.Publish(broker.StreamLink, enabled)

	err = monitor.Watch(ctx, func(powered bool) {
		log.Info().Bool("powered", powered).Msg("bluetooth adapter state changed")
		hub.Publish(broker.StreamLink, powered)
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to watch bluetooth adapter")
	}
}

// Start builds a controller from the config, attaches it as the current
// instance and mirrors its event streams to the configured publishers.
func Start(
	cfg *config.Instance,
) (ctrl *Controller, stop func() error, done <-chan struct{}, err error) {
	return start(cfg, wakelock.NewSystemInhibitor("zaparoo-handheld"))
}

func start(
	cfg *config.Instance,
	inhibitor wakelock.Inhibitor,
) (ctrl *Controller, stop func() error, done <-chan struct{}, err error) {
	if cfg == nil {
		return nil, nil, nil, fmt.Errorf("start service: %w", readers.ErrInvalidArgument)
	}

	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewRealClock()

	hub := broker.NewBroker()
	hub.Start(ctx)

	drivers := MakeDrivers(cfg, clock)
	var monitor *bluez.AdapterMonitor
	if drivers.BLE != nil {
		monitor = bluez.NewAdapterMonitor("")
		drivers.Link = monitor
	}

	ctrl = NewController(Options{
		Config:    cfg,
		Hub:       hub,
		Inhibitor: inhibitor,
		Clock:     clock,
		Drivers:   drivers,
	})

	log.Info().Msg("starting publishers")
	active := startPublishers(cfg, hub)

	if monitor != nil {
		go watchLink(ctx, monitor, hub)
	}

	if watchErr := cfg.Watch(ctx, func() {
		helpers.SetDebugLogging(cfg.DebugLogging())
	}); watchErr != nil {
		log.Warn().Err(watchErr).Msg("config hot reload disabled")
	}

	supervisor := &Supervisor{}
	supervisor.Install(ctrl)
	ctrl.OnAttach(DaemonHost)
	log.Info().Str("instance", ctrl.ID()).Msg("session controller attached")

	doneCh := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Info().Msg("service context cancelled, running cleanup")

		ctrl.OnDetach()
		supervisor.Remove(ctrl)
		for _, publisher := range active {
			publisher.Stop()
		}
		if monitor != nil {
			if closeErr := monitor.Close(); closeErr != nil {
				log.Debug().Err(closeErr).Msg("error closing bluetooth monitor")
			}
		}
		hub.Stop()

		log.Info().Msg("service cleanup completed")
		close(doneCh)
	}()

	stop = func() error {
		cancel()
		<-doneCh
		return nil
	}
	return ctrl, stop, doneCh, nil
}
