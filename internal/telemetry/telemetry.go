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

// Package telemetry provides opt-in error reporting via Sentry.
// Usernames and Bluetooth addresses are stripped before transmission.
package telemetry

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	flushTimeout = 2 * time.Second
	// DSNEnv overrides the reporting endpoint.
	DSNEnv = "ZAPAROO_HANDHELD_SENTRY_DSN"
)

var ErrNoDSN = errors.New("no sentry dsn configured")

var (
	sentryWriter *sentryzerolog.Writer
	enabled      bool
	closeOnce    sync.Once
	mu           sync.Mutex

	homePathRe = regexp.MustCompile(`(?i)/home/[^/]+/`)
	macAddrRe  = regexp.MustCompile(`(?i)\b[0-9a-f]{2}(?::[0-9a-f]{2}){5}\b`)
)

type Options struct {
	DSN        string
	DeviceID   string
	AppVersion string
	Enabled    bool
}

// Init sets up Sentry and returns a writer to add to the log outputs.
// The writer is nil when reporting is disabled.
func Init(opts Options) (io.Writer, error) {
	if !opts.Enabled {
		log.Debug().Msg("error reporting disabled")
		return nil, nil
	}
	if opts.DSN == "" {
		return nil, ErrNoDSN
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Release:          "zaparoo-handheld@" + opts.AppVersion,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		ServerName:       "",
		MaxBreadcrumbs:   0,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: opts.DeviceID})
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	w, err := sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:          []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout:    flushTimeout,
		WithBreadcrumbs: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry zerolog writer: %w", err)
	}

	mu.Lock()
	sentryWriter = w
	enabled = true
	mu.Unlock()

	log.Info().Msg("error reporting enabled")
	return w, nil
}

// Close flushes pending events and shuts down Sentry. Safe to call
// multiple times.
func Close() {
	if !Enabled() {
		return
	}
	closeOnce.Do(func() {
		_ = sentryWriter.Close()
		sentry.Flush(flushTimeout)
	})
}

func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

func sanitizeEvent(event *sentry.Event) *sentry.Event {
	event.ServerName = ""

	for i := range event.Exception {
		event.Exception[i].Value = sanitize(event.Exception[i].Value)
		if event.Exception[i].Stacktrace == nil {
			continue
		}
		for j := range event.Exception[i].Stacktrace.Frames {
			frame := &event.Exception[i].Stacktrace.Frames[j]
			frame.AbsPath = sanitize(frame.AbsPath)
			frame.Filename = sanitize(frame.Filename)
		}
	}

	event.Message = sanitize(event.Message)
	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = sanitize(s)
		}
	}
	return event
}

// sanitize removes usernames from paths and masks device addresses.
func sanitize(s string) string {
	if s == "" {
		return s
	}
	s = homePathRe.ReplaceAllString(s, "/home/<user>/")
	return macAddrRe.ReplaceAllString(s, "<addr>")
}
