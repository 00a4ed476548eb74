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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/zaparoo-handheld/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// deviceID is stable per machine without revealing the hostname.
func deviceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(helpers.AppName+"/"+host)).String()
}

func run() error {
	showVersion := flag.Bool("version", false, "print version and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	scan := flag.String(
		"scan",
		autoNone,
		"start scanning on launch: none, uhf, barcode or ble",
	)
	address := flag.String("address", "", "bluetooth reader address for -scan=ble")
	flag.Parse()

	if *showVersion {
		_, _ = fmt.Fprintln(os.Stdout, config.AppVersion)
		return nil
	}

	mode, err := parseAutostart(*scan, *address)
	if err != nil {
		return err
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), helpers.ConfigDir(), config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logWriters := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	reporter, err := telemetry.Init(telemetry.Options{
		Enabled:    cfg.ErrorReporting(),
		DSN:        os.Getenv(telemetry.DSNEnv),
		DeviceID:   deviceID(),
		AppVersion: config.AppVersion,
	})
	switch {
	case errors.Is(err, telemetry.ErrNoDSN):
		_, _ = fmt.Fprintln(os.Stderr, "error reporting enabled but no DSN set")
	case err != nil:
		_, _ = fmt.Fprintf(os.Stderr, "error reporting unavailable: %s\n", err)
	case reporter != nil:
		logWriters = append(logWriters, reporter)
	}
	defer telemetry.Close()

	if err := helpers.InitLogging(helpers.LogDir(), *debug || cfg.DebugLogging(), logWriters); err != nil {
		return fmt.Errorf("error initializing logging: %w", err)
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	log.Info().Msgf("version: %s", config.AppVersion)
	log.Info().Msgf("config: %s", cfg.Path())

	ctrl, stopSvc, done, err := service.Start(cfg)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}
	defer func() {
		if err := stopSvc(); err != nil {
			log.Error().Err(err).Msg("error stopping service")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := autostart(ctx, ctrl, mode); err != nil {
		log.Error().Err(err).Msg("autostart failed")
	}

	log.Info().Msg("started in daemon mode")
	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case <-done:
	}
	return nil
}
